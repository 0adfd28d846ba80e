package drafts

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/goph-drafts/internal/errs"
	"github.com/and161185/goph-drafts/internal/model"
)

// SetReplyTarget changes which parent the draft of key replies to. A nil
// parent detaches the draft.
func (c *Coordinator) SetReplyTarget(key string, parent *model.Parent) error {
	bucket := BucketFor(key)
	c.mu.Lock()
	rec := c.records[bucket]
	if rec == nil {
		c.mu.Unlock()
		return errs.ErrNotFound
	}
	if rec.parent != nil && c.parents[rec.parent.ID] == bucket {
		delete(c.parents, rec.parent.ID)
	}
	rec.parent = cloneParent(parent)
	if parent != nil {
		rec.item.ParentID = parent.ID
		c.parents[parent.ID] = bucket
	} else {
		rec.item.ParentID = uuid.Nil
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// ReplyTarget returns the parent the draft of key replies to.
func (c *Coordinator) ReplyTarget(key string) (*model.Parent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.records[BucketFor(key)]
	if rec == nil || rec.parent == nil {
		return nil, false
	}
	return cloneParent(rec.parent), true
}

// Abandon drops all bookkeeping for the draft of key. An empty draft is also
// removed from the store; removal failures are logged only. Abandoning an
// unknown key is a no-op.
func (c *Coordinator) Abandon(ctx context.Context, key string) error {
	bucket := BucketFor(key)
	c.mu.Lock()
	item, d := c.detachLocked(bucket)
	c.mu.Unlock()
	if item == nil {
		return nil
	}
	if d != nil {
		d.Cancel()
	}
	if item.IsEmpty() {
		c.cleanup(ctx, item, model.RemoveOptions{Drop: true}, "drop abandoned empty draft")
	}
	c.metrics.incAbandoned()
	c.log.Debug("draft abandoned", zap.String("bucket", bucket), zap.String("item", item.ID.String()))
	c.notify()
	return nil
}

// detachLocked removes every trace of bucket from the coordinator's maps and
// returns a copy of its item and its debouncer, if any. c.mu must be held.
func (c *Coordinator) detachLocked(bucket string) (*model.ContentItem, *debouncer) {
	delete(c.phases, bucket)
	rec := c.records[bucket]
	if rec == nil {
		return nil, nil
	}
	id := rec.item.ID
	delete(c.ephemeral, id)
	if t, ok := c.retiring[id]; ok {
		t.Stop()
		delete(c.retiring, id)
	}
	d := c.debouncers[bucket]
	delete(c.debouncers, bucket)
	for pid, b := range c.parents {
		if b == bucket {
			delete(c.parents, pid)
		}
	}
	delete(c.records, bucket)
	return rec.item.Clone(), d
}
