package drafts

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/goph-drafts/internal/model"
)

// debouncer coalesces bursts of save requests for one bucket into a single
// write once the bucket has been quiet for wait.
type debouncer struct {
	wait time.Duration
	base context.Context
	fn   func(ctx context.Context, item *model.ContentItem) error

	mu      sync.Mutex
	timer   *time.Timer
	item    *model.ContentItem // pending target, nil when nothing is scheduled
	running chan struct{}
	stopped bool
}

func newDebouncer(base context.Context, wait time.Duration, fn func(context.Context, *model.ContentItem) error) *debouncer {
	return &debouncer{wait: wait, base: base, fn: fn}
}

// Trigger (re)starts the quiescence timer for item.
func (d *debouncer) Trigger(item *model.ContentItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.item = item
	if d.timer == nil {
		d.timer = time.AfterFunc(d.wait, d.fire)
		return
	}
	d.timer.Reset(d.wait)
}

// Pending reports whether a write is scheduled but not yet started.
func (d *debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.item != nil
}

// Flush runs a scheduled write now and waits for any write already in progress.
func (d *debouncer) Flush(ctx context.Context) error {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	return d.run(ctx)
}

// Cancel drops any scheduled write; later triggers are ignored.
func (d *debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.item = nil
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *debouncer) fire() {
	_ = d.run(d.base)
}

func (d *debouncer) run(ctx context.Context) error {
	for {
		d.mu.Lock()
		if ch := d.running; ch != nil {
			d.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		item := d.item
		if item == nil || d.stopped {
			d.mu.Unlock()
			return nil
		}
		d.item = nil
		done := make(chan struct{})
		d.running = done
		d.mu.Unlock()

		err := d.fn(ctx, item)

		d.mu.Lock()
		d.running = nil
		close(done)
		d.mu.Unlock()
		return err
	}
}
