package drafts

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/goph-drafts/internal/errs"
	"github.com/and161185/goph-drafts/internal/model"
)

// Publish rotates the draft of key to a fresh item and attaches the old item
// to its parent as a visible reply. Publishes of one bucket run strictly one
// after another; different buckets publish concurrently.
//
// ctx bounds only the wait for the bucket's queue. Once admitted, the publish
// runs to completion regardless of the caller.
//
// Once the rotation has happened Publish returns nil even if attaching the old
// item fails: the caller keeps a usable fresh draft. Such failures are logged
// and handed to Options.OnPublishError.
func (c *Coordinator) Publish(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", errs.ErrInvalidArgument)
	}
	bucket := BucketFor(key)

	c.mu.Lock()
	if c.records[bucket] == nil {
		c.mu.Unlock()
		return errs.ErrNotFound
	}
	q, ok := c.queues[bucket]
	if !ok {
		q = newPublishQueue()
		c.queues[bucket] = q
	}
	c.mu.Unlock()

	if err := q.acquire(ctx); err != nil {
		return err
	}
	defer q.release()
	return c.publishHead(context.WithoutCancel(ctx), key, bucket)
}

func (c *Coordinator) publishHead(ctx context.Context, key, bucket string) error {
	c.mu.Lock()
	rec := c.records[bucket]
	if rec == nil {
		c.mu.Unlock()
		return errs.ErrNotFound
	}
	if rec.parent == nil {
		c.mu.Unlock()
		return errs.ErrNoReplyTarget
	}
	parent := *rec.parent
	gen := rec.gen
	c.publishing[bucket] = true
	c.mu.Unlock()
	c.notify()

	defer func() {
		c.mu.Lock()
		delete(c.publishing, bucket)
		c.mu.Unlock()
		c.notify()
	}()

	fresh, err := c.persistFresh(ctx, bucket, &parent)
	if err != nil {
		c.metrics.incPublished(publishRotateError)
		return err
	}

	c.mu.Lock()
	rec = c.records[bucket]
	if rec == nil || rec.gen != gen {
		delete(c.ephemeral, fresh.ID)
		c.mu.Unlock()
		c.cleanup(ctx, fresh, model.RemoveOptions{Drop: true}, "drop rotation of abandoned draft")
		return errs.ErrNotFound
	}
	old := rec.item
	rec.item = fresh
	delete(c.ephemeral, fresh.ID)
	c.retireLocked(old.ID)
	d := c.debouncers[bucket]
	c.mu.Unlock()
	c.notify()

	// Pending saves of the old item land before it is attached.
	if d != nil {
		if err := d.Flush(ctx); err != nil {
			c.log.Warn("pending save before publish failed", zap.String("bucket", bucket), zap.Error(err))
		}
	}

	c.mu.Lock()
	snap := old.Clone()
	c.mu.Unlock()

	if err := c.attach(ctx, parent, snap); err != nil {
		err = fmt.Errorf("%w: %w", errs.ErrPublishSync, err)
		c.metrics.incPublished(publishSyncError)
		c.log.Error("publish to parent failed; rotated draft kept",
			zap.String("bucket", bucket), zap.String("item", snap.ID.String()),
			zap.String("parent", parent.ID.String()), zap.Error(err))
		if c.opts.OnPublishError != nil {
			c.opts.OnPublishError(key, err)
		}
		return nil
	}

	if snap.Scope != parent.Scope {
		c.cleanup(ctx, snap, model.RemoveOptions{Scope: snap.Scope}, "remove published draft from private scope")
	}
	c.metrics.incPublished(publishOK)
	c.log.Info("draft published", zap.String("bucket", bucket),
		zap.String("item", snap.ID.String()), zap.String("next", fresh.ID.String()))
	return nil
}

// attach flushes the item's own index, attaches it to parent and makes both
// parent and item queryable.
func (c *Coordinator) attach(ctx context.Context, parent model.Parent, item *model.ContentItem) error {
	if err := c.store.FlushIndex(ctx, item.Scope, item.ID); err != nil {
		return fmt.Errorf("flush draft index: %w", err)
	}
	err := c.store.UpsertReply(ctx, parent, item, model.UpsertOptions{
		TargetScope: parent.Scope,
		Visibility:  c.opts.Visibility,
		Kind:        c.opts.Kind,
	})
	if err != nil {
		return fmt.Errorf("upsert reply: %w", err)
	}

	c.mu.Lock()
	c.lastPublished[parent.ID] = item.ID
	c.mu.Unlock()

	if err := c.store.FlushIndex(ctx, parent.Scope, parent.ID); err != nil {
		return fmt.Errorf("flush parent index: %w", err)
	}
	if err := c.store.FlushIndex(ctx, parent.Scope, item.ID); err != nil {
		return fmt.Errorf("flush reply index: %w", err)
	}
	return nil
}

// retireLocked keeps id visible for the retire window. The timer is not renewable.
func (c *Coordinator) retireLocked(id uuid.UUID) {
	if _, ok := c.retiring[id]; ok {
		return
	}
	c.retiring[id] = time.AfterFunc(c.opts.RetireWindow, func() { c.expire(id) })
}

func (c *Coordinator) expire(id uuid.UUID) {
	c.mu.Lock()
	if _, ok := c.retiring[id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.retiring, id)
	c.mu.Unlock()
	c.notify()
}

// cleanup performs a best-effort removal; failures are logged, never returned.
func (c *Coordinator) cleanup(ctx context.Context, item *model.ContentItem, opts model.RemoveOptions, op string) {
	if err := c.store.Remove(ctx, item, opts); err != nil {
		c.metrics.incCleanupFailure()
		c.log.Warn("cleanup failed", zap.String("op", op),
			zap.String("item", item.ID.String()), zap.Error(fmt.Errorf("%w: %w", errs.ErrCleanup, err)))
	}
}
