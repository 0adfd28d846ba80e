package drafts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/goph-drafts/internal/errs"
	"github.com/and161185/goph-drafts/internal/model"
)

var errNoItem = errors.New("store returned no item")

// EnsureArgs selects the bucket to ensure: an explicit Key, or a ReplyTo parent
// from which a key is generated.
type EnsureArgs struct {
	Key     string
	ReplyTo *model.Parent
}

// Ensure returns the draft of the resolved bucket, creating it if needed.
// Concurrent calls for one bucket share a single store create.
func (c *Coordinator) Ensure(ctx context.Context, args EnsureArgs) (*model.ContentItem, error) {
	key := args.Key
	if key == "" {
		if args.ReplyTo == nil {
			return nil, fmt.Errorf("%w: ensure needs a key or a parent", errs.ErrInvalidArgument)
		}
		key = ParentKey(args.ReplyTo.ID)
	}
	return c.ensureBucket(ctx, BucketFor(key), cloneParent(args.ReplyTo))
}

// EnsureForParent returns the current reply draft for parent. A non-empty key
// naming a bucket other than the one indexed for parent re-points the parent
// to that bucket. Otherwise a previously persisted, unpublished draft is
// recovered from the store before a fresh one is created.
func (c *Coordinator) EnsureForParent(ctx context.Context, parent model.Parent, key string) (*model.ContentItem, error) {
	if parent.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty parent id", errs.ErrInvalidArgument)
	}
	var requested string
	if key != "" {
		requested = BucketFor(key)
	}

	c.mu.Lock()
	current, indexed := c.parents[parent.ID]

	if requested != "" && indexed && requested != current {
		if rec := c.records[requested]; rec != nil {
			c.pointLocked(parent, requested, rec)
			it := rec.item.Clone()
			c.mu.Unlock()
			c.log.Debug("parent re-pointed", zap.String("parent", parent.ID.String()), zap.String("bucket", requested))
			c.notify()
			return it, nil
		}
		c.mu.Unlock()

		it, err := c.share(ctx, &c.bucketFlight, requested, func(ctx context.Context) (*model.ContentItem, error) {
			return c.create(ctx, requested, &parent)
		})
		if err != nil {
			return nil, err
		}
		if cur := c.repoint(parent, requested); cur != nil {
			return cur, nil
		}
		return it, nil
	}

	if indexed {
		if rec := c.records[current]; rec != nil {
			it := rec.item.Clone()
			c.mu.Unlock()
			return it, nil
		}
	}
	if requested == "" {
		if indexed {
			requested = current
		} else {
			requested = BucketFor(ParentKey(parent.ID))
		}
	}
	if rec := c.records[requested]; rec != nil {
		c.pointLocked(parent, requested, rec)
		it := rec.item.Clone()
		c.mu.Unlock()
		c.notify()
		return it, nil
	}
	c.mu.Unlock()

	return c.share(ctx, &c.parentFlight, parent.ID.String(), func(ctx context.Context) (*model.ContentItem, error) {
		return c.recoverOrCreate(ctx, parent, requested)
	})
}

func (c *Coordinator) ensureBucket(ctx context.Context, bucket string, parent *model.Parent) (*model.ContentItem, error) {
	if it := c.lookup(bucket); it != nil {
		return it, nil
	}
	return c.share(ctx, &c.bucketFlight, bucket, func(ctx context.Context) (*model.ContentItem, error) {
		return c.create(ctx, bucket, parent)
	})
}

// share runs fn once per key across concurrent callers. The shared work is
// detached from any single caller's cancellation; each caller still stops
// waiting when its own ctx ends.
func (c *Coordinator) share(ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (*model.ContentItem, error)) (*model.ContentItem, error) {
	work := context.WithoutCancel(ctx)
	ch := g.DoChan(key, func() (any, error) {
		return fn(work)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.ContentItem).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// create persists a fresh draft for bucket. If another path installs a record
// for the bucket while the store call is in flight, that record wins.
func (c *Coordinator) create(ctx context.Context, bucket string, parent *model.Parent) (*model.ContentItem, error) {
	c.mu.Lock()
	if rec := c.records[bucket]; rec != nil {
		it := rec.item.Clone()
		c.mu.Unlock()
		return it, nil
	}
	c.phases[bucket] = PhasePending
	c.mu.Unlock()

	created, err := c.persistFresh(ctx, bucket, parent)

	c.mu.Lock()
	if err != nil {
		if c.records[bucket] == nil {
			c.phases[bucket] = PhaseFailed
		}
		c.mu.Unlock()
		c.notify()
		return nil, err
	}
	if rec := c.records[bucket]; rec != nil {
		delete(c.ephemeral, created.ID)
		it := rec.item.Clone()
		c.mu.Unlock()
		c.log.Debug("lost creation race", zap.String("bucket", bucket),
			zap.String("discarded", created.ID.String()), zap.String("winner", it.ID.String()))
		c.notify()
		return it, nil
	}
	c.installLocked(bucket, created, parent)
	it := created.Clone()
	c.mu.Unlock()

	c.metrics.incCreated()
	c.log.Debug("draft created", zap.String("bucket", bucket), zap.String("item", it.ID.String()))
	c.notify()
	return it, nil
}

// persistFresh creates a new draft through the store. The item is marked
// ephemeral-active before the store call; on failure the mark is rolled back.
// On success the caller owns clearing the mark when it installs the item.
func (c *Coordinator) persistFresh(ctx context.Context, bucket string, parent *model.Parent) (*model.ContentItem, error) {
	draft, err := c.newDraft(parent)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrCreationFailed, err)
	}

	c.mu.Lock()
	c.ephemeral[draft.ID] = bucket
	c.mu.Unlock()
	c.notify()

	created, err := c.store.CreateReply(ctx, parent, draft, model.CreateOptions{Scope: c.opts.PrivateScope})
	if err == nil && created == nil {
		err = errNoItem
	}
	if err != nil {
		c.mu.Lock()
		delete(c.ephemeral, draft.ID)
		c.mu.Unlock()
		c.metrics.incCreationFailure()
		c.log.Warn("draft creation failed", zap.String("bucket", bucket), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", errs.ErrCreationFailed, err)
	}
	if created.ID != draft.ID {
		c.mu.Lock()
		delete(c.ephemeral, draft.ID)
		c.ephemeral[created.ID] = bucket
		c.mu.Unlock()
	}
	return created, nil
}

func (c *Coordinator) newDraft(parent *model.Parent) (*model.ContentItem, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	it := &model.ContentItem{
		ID:         id,
		AuthorKey:  c.opts.AuthorKey,
		Scope:      c.opts.PrivateScope,
		Visibility: model.VisibilityPrivate,
	}
	if parent != nil {
		it.ParentID = parent.ID
	}
	return it, nil
}

// installLocked makes item the record of bucket. c.mu must be held.
func (c *Coordinator) installLocked(bucket string, item *model.ContentItem, parent *model.Parent) {
	c.nextGen++
	rec := &record{item: item, parent: cloneParent(parent), gen: c.nextGen}
	c.records[bucket] = rec
	if parent != nil {
		c.parents[parent.ID] = bucket
	}
	delete(c.ephemeral, item.ID)
	delete(c.phases, bucket)
}

// pointLocked indexes parent to bucket and adopts parent as the record's reply
// target if it has none. c.mu must be held.
func (c *Coordinator) pointLocked(parent model.Parent, bucket string, rec *record) {
	c.parents[parent.ID] = bucket
	if rec.parent == nil {
		rec.parent = cloneParent(&parent)
		rec.item.ParentID = parent.ID
	}
}

// repoint indexes parent to bucket and returns a copy of the bucket's item,
// or nil if the bucket has no record.
func (c *Coordinator) repoint(parent model.Parent, bucket string) *model.ContentItem {
	c.mu.Lock()
	rec := c.records[bucket]
	if rec == nil {
		c.mu.Unlock()
		return nil
	}
	c.pointLocked(parent, bucket, rec)
	it := rec.item.Clone()
	c.mu.Unlock()
	c.notify()
	return it
}

// ensurePointed ensures bucket and indexes parent to it. The record may come
// from a key-only Ensure that never saw parent.
func (c *Coordinator) ensurePointed(ctx context.Context, bucket string, parent model.Parent) (*model.ContentItem, error) {
	it, err := c.ensureBucket(ctx, bucket, &parent)
	if err != nil {
		return nil, err
	}
	if cur := c.repoint(parent, bucket); cur != nil {
		return cur, nil
	}
	return it, nil
}

func (c *Coordinator) recoverOrCreate(ctx context.Context, parent model.Parent, bucket string) (*model.ContentItem, error) {
	found, err := c.recoverDraft(ctx, parent)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return c.ensurePointed(ctx, bucket, parent)
	}

	c.mu.Lock()
	if rec := c.records[bucket]; rec != nil {
		c.pointLocked(parent, bucket, rec)
		it := rec.item.Clone()
		c.mu.Unlock()
		c.notify()
		return it, nil
	}
	if c.ownedLocked(found.ID) {
		c.mu.Unlock()
		return c.ensurePointed(ctx, bucket, parent)
	}
	c.installLocked(bucket, found, &parent)
	it := found.Clone()
	c.mu.Unlock()

	c.metrics.incRecovered()
	c.log.Info("draft recovered", zap.String("bucket", bucket),
		zap.String("parent", parent.ID.String()), zap.String("item", it.ID.String()))
	c.notify()
	return it, nil
}

// recoverDraft finds the most recently modified unpublished draft of this
// author replying to parent. A nil item with a nil error means nothing to recover.
func (c *Coordinator) recoverDraft(ctx context.Context, parent model.Parent) (*model.ContentItem, error) {
	if err := c.waitReady(ctx); err != nil {
		return nil, err
	}
	replies, err := c.store.QueryImmediateReplies(ctx, parent)
	if err != nil {
		c.log.Warn("recovery query failed; creating a fresh draft",
			zap.String("parent", parent.ID.String()), zap.Error(err))
		return nil, nil
	}

	c.mu.Lock()
	skip := c.lastPublished[parent.ID]
	candidates := make([]model.ContentItem, 0, len(replies))
	for _, it := range replies {
		if it.Published || it.Deleted || it.ParentID != parent.ID || it.AuthorKey != c.opts.AuthorKey {
			continue
		}
		if it.ID == skip {
			continue
		}
		if _, ok := c.retiring[it.ID]; ok {
			continue
		}
		if c.ownedLocked(it.ID) {
			continue
		}
		candidates = append(candidates, it)
	}
	c.mu.Unlock()

	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
	})
	opened, err := c.store.OpenWithSameSettings(ctx, &candidates[0])
	if err != nil {
		c.log.Warn("recovered draft could not be opened; creating a fresh draft",
			zap.String("item", candidates[0].ID.String()), zap.Error(err))
		return nil, nil
	}
	return opened, nil
}

// waitReady polls the store until it is ready, for at most ReadyTimeout.
func (c *Coordinator) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ReadyTimeout)
	defer cancel()
	tick := time.NewTicker(c.opts.ReadyPoll)
	defer tick.Stop()
	for {
		err := c.store.Ready(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waited %s: %v", errs.ErrNotReady, c.opts.ReadyTimeout, err)
		case <-tick.C:
		}
	}
}

func (c *Coordinator) ownedLocked(id uuid.UUID) bool {
	for _, rec := range c.records {
		if rec.item.ID == id {
			return true
		}
	}
	return false
}
