package drafts

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/goph-drafts/internal/errs"
	"github.com/and161185/goph-drafts/internal/model"
)

// Edit applies fn to a copy of the live draft of key and installs the result.
// fn runs without the coordinator lock, so it may call back into the
// coordinator. If the draft is rotated or abandoned while fn runs, the edit is
// discarded and ErrNotFound returned. The item's id, scope and parent are
// owned by the coordinator and are not taken from fn's result.
func (c *Coordinator) Edit(key string, fn func(*model.ContentItem)) error {
	bucket := BucketFor(key)
	c.mu.Lock()
	rec := c.records[bucket]
	if rec == nil {
		c.mu.Unlock()
		return errs.ErrNotFound
	}
	draft := rec.item.Clone()
	id := draft.ID
	c.mu.Unlock()

	fn(draft)

	c.mu.Lock()
	if c.records[bucket] != rec || rec.item.ID != id {
		c.mu.Unlock()
		return fmt.Errorf("%w: draft %s replaced during edit", errs.ErrNotFound, id)
	}
	draft.ID, draft.Scope, draft.ParentID = rec.item.ID, rec.item.Scope, rec.item.ParentID
	*rec.item = *draft
	c.mu.Unlock()
	c.notify()
	return nil
}

// Save writes the draft of key to the store now. A save already running for
// the bucket makes this call a no-op.
func (c *Coordinator) Save(ctx context.Context, key string) error {
	bucket := BucketFor(key)
	c.mu.Lock()
	rec := c.records[bucket]
	if rec == nil {
		c.mu.Unlock()
		return errs.ErrNotFound
	}
	if rec.saving {
		c.mu.Unlock()
		return nil
	}
	rec.saving = true
	snap := rec.item.Clone()
	c.mu.Unlock()
	c.notify()

	err := c.store.Put(ctx, snap)

	c.mu.Lock()
	rec.saving = false
	c.mu.Unlock()
	c.notify()
	if err != nil {
		return fmt.Errorf("save draft %s: %w", snap.ID, err)
	}
	return nil
}

// SaveDebounced schedules a save of the draft of key once the bucket has been
// quiet for the debounce window.
func (c *Coordinator) SaveDebounced(key string) error {
	bucket := BucketFor(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.records[bucket]
	if rec == nil {
		return errs.ErrNotFound
	}
	d, ok := c.debouncers[bucket]
	if !ok {
		d = newDebouncer(c.base, c.opts.SaveDebounce, c.debouncedSave(bucket))
		c.debouncers[bucket] = d
	}
	d.Trigger(rec.item)
	return nil
}

// debouncedSave writes the latest state of the item that was current when the
// save was scheduled, even if a publish has rotated the bucket since.
func (c *Coordinator) debouncedSave(bucket string) func(context.Context, *model.ContentItem) error {
	return func(ctx context.Context, item *model.ContentItem) error {
		c.mu.Lock()
		snap := item.Clone()
		c.mu.Unlock()
		if err := c.store.Put(ctx, snap); err != nil {
			c.log.Warn("debounced save failed", zap.String("bucket", bucket),
				zap.String("item", snap.ID.String()), zap.Error(err))
			return fmt.Errorf("save draft %s: %w", snap.ID, err)
		}
		return nil
	}
}
