// Package session maps authenticated authors to their draft coordinators.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/goph-drafts/internal/drafts"
	"github.com/and161185/goph-drafts/internal/errs"
	"github.com/and161185/goph-drafts/internal/repository"
)

// ErrClosed is returned by For after Close.
var ErrClosed = errors.New("session registry closed")

// Registry lazily creates one coordinator per author key over a shared store.
type Registry struct {
	store   repository.ContentStore
	options func(author string) drafts.Options
	metrics *drafts.Metrics
	log     *zap.Logger

	mu     sync.Mutex
	byKey  map[string]*drafts.Coordinator
	closed bool
}

// NewRegistry constructs a registry. options renders per-author coordinator
// options; the registry fills in the logger and metrics.
func NewRegistry(store repository.ContentStore, options func(author string) drafts.Options, metrics *drafts.Metrics, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		store:   store,
		options: options,
		metrics: metrics,
		log:     log,
		byKey:   make(map[string]*drafts.Coordinator),
	}
}

// For returns the coordinator of author, creating it on first use.
func (r *Registry) For(author string) (*drafts.Coordinator, error) {
	if author == "" {
		return nil, errs.ErrUnauthorized
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if c, ok := r.byKey[author]; ok {
		return c, nil
	}
	opts := r.options(author)
	opts.AuthorKey = author
	opts.Logger = r.log
	opts.Metrics = r.metrics
	c := drafts.New(r.store, opts)
	r.byKey[author] = c
	r.log.Info("session opened", zap.String("author", author))
	return c, nil
}

// Authors returns the keys of every open session, sorted.
func (r *Registry) Authors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Close flushes and stops every coordinator concurrently. Further calls to For fail.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	cs := make(map[string]*drafts.Coordinator, len(r.byKey))
	for k, c := range r.byKey {
		cs[k] = c
	}
	clear(r.byKey)
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for author, c := range cs {
		g.Go(func() error {
			if err := c.Close(ctx); err != nil {
				r.log.Warn("session close", zap.String("author", author), zap.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
