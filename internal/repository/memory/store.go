// Package memory contains an in-process implementation of the content store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/and161185/goph-drafts/internal/errs"
	"github.com/and161185/goph-drafts/internal/model"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Store keeps items per scope in memory. Index flushes are recorded but are
// otherwise no-ops: every write is immediately queryable.
type Store struct {
	mu      sync.RWMutex
	scopes  map[string]map[uuid.UUID]*model.ContentItem
	ready   bool
	flushes []Flush
	now     func() time.Time
	log     *zap.Logger
}

// Flush records a FlushIndex call.
type Flush struct {
	Scope  string
	ItemID uuid.UUID
}

// New constructs a ready in-memory store.
func New(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		scopes: make(map[string]map[uuid.UUID]*model.ContentItem),
		ready:  true,
		now:    time.Now,
		log:    log,
	}
}

// SetReady toggles readiness (used to emulate a store still opening).
func (s *Store) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

// SetClock replaces the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Ready returns errs.ErrNotReady until SetReady(true).
func (s *Store) Ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return errs.ErrNotReady
	}
	return nil
}

// CreateReply stores a copy of draft in opts.Scope (or the draft's own scope).
func (s *Store) CreateReply(ctx context.Context, parent *model.Parent, draft *model.ContentItem, opts model.CreateOptions) (*model.ContentItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if draft == nil || draft.ID == uuid.Nil {
		return nil, errs.ErrInvalidArgument
	}
	it := draft.Clone()
	if opts.Scope != "" {
		it.Scope = opts.Scope
	}
	if parent != nil {
		it.ParentID = parent.ID
	}
	it.Ver = 1

	s.mu.Lock()
	defer s.mu.Unlock()
	it.UpdatedAt = s.now()
	s.scope(it.Scope)[it.ID] = it
	s.log.Debug("memory create", zap.String("item", it.ID.String()), zap.String("scope", it.Scope))
	return it.Clone(), nil
}

// QueryImmediateReplies scans every scope for non-deleted items whose parent is parent.ID,
// newest first. An item present in several scopes is reported once, from its latest write.
func (s *Store) QueryImmediateReplies(ctx context.Context, parent model.Parent) ([]model.ContentItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[uuid.UUID]*model.ContentItem)
	for _, items := range s.scopes {
		for id, it := range items {
			if it.Deleted || it.ParentID != parent.ID {
				continue
			}
			if cur, ok := latest[id]; !ok || it.UpdatedAt.After(cur.UpdatedAt) {
				latest[id] = it
			}
		}
	}
	out := make([]model.ContentItem, 0, len(latest))
	for _, it := range latest {
		out = append(out, *it.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// OpenWithSameSettings returns the stored copy of item from its scope.
func (s *Store) OpenWithSameSettings(ctx context.Context, item *model.ContentItem) (*model.ContentItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.scopes[item.Scope][item.ID]
	if !ok || it.Deleted {
		return nil, errs.ErrNotFound
	}
	return it.Clone(), nil
}

// Put overwrites the item in its own scope and bumps its version.
func (s *Store) Put(ctx context.Context, item *model.ContentItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.scopes[item.Scope][item.ID]
	if !ok || cur.Deleted {
		return errs.ErrNotFound
	}
	it := item.Clone()
	it.Ver = cur.Ver + 1
	it.UpdatedAt = s.now()
	s.scopes[item.Scope][item.ID] = it
	return nil
}

// FlushIndex records the call.
func (s *Store) FlushIndex(ctx context.Context, scope string, itemID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.flushes = append(s.flushes, Flush{Scope: scope, ItemID: itemID})
	s.mu.Unlock()
	return nil
}

// UpsertReply writes item into opts.TargetScope as a published reply of parent.
func (s *Store) UpsertReply(ctx context.Context, parent model.Parent, item *model.ContentItem, opts model.UpsertOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := opts.TargetScope
	if target == "" {
		target = parent.Scope
	}
	it := item.Clone()
	it.ParentID = parent.ID
	it.Scope = target
	it.Visibility = opts.Visibility
	it.Kind = opts.Kind
	it.Published = true
	it.Deleted = false

	s.mu.Lock()
	defer s.mu.Unlock()
	it.UpdatedAt = s.now()
	items := s.scope(target)
	if cur, ok := items[it.ID]; ok {
		it.Ver = cur.Ver + 1
	} else {
		it.Ver = item.Ver + 1
	}
	items[it.ID] = it
	return nil
}

// Remove drops or tombstones item in opts.Scope (default: the item's scope).
func (s *Store) Remove(ctx context.Context, item *model.ContentItem, opts model.RemoveOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	scope := opts.Scope
	if scope == "" {
		scope = item.Scope
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.scopes[scope]
	cur, ok := items[item.ID]
	if !ok {
		return errs.ErrNotFound
	}
	if opts.Drop {
		delete(items, item.ID)
		return nil
	}
	cur.Deleted = true
	cur.Ver++
	cur.UpdatedAt = s.now()
	return nil
}

// Lookup returns the stored copy of id in scope, if any.
func (s *Store) Lookup(scope string, id uuid.UUID) (*model.ContentItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.scopes[scope][id]
	if !ok {
		return nil, false
	}
	return it.Clone(), true
}

// Flushes returns a copy of the recorded FlushIndex calls.
func (s *Store) Flushes() []Flush {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Flush(nil), s.flushes...)
}

func (s *Store) scope(name string) map[uuid.UUID]*model.ContentItem {
	items, ok := s.scopes[name]
	if !ok {
		items = make(map[uuid.UUID]*model.ContentItem)
		s.scopes[name] = items
	}
	return items
}
