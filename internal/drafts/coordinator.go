// Package drafts coordinates the lifecycle of reply drafts: creation with
// dedup and recovery, debounced local saves, publish-and-rotate, a visibility
// grace window for just-published items, and cleanup on abandon.
//
// A Coordinator owns all bookkeeping for one authoring session. Its state is
// guarded by a single mutex; content store calls are always made outside it,
// and every write re-reads the current record before mutating it.
package drafts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/goph-drafts/internal/model"
	"github.com/and161185/goph-drafts/internal/repository"
)

// Defaults for Options.
const (
	DefaultRetireWindow = 5 * time.Second
	DefaultSaveDebounce = 120 * time.Millisecond
	DefaultReadyTimeout = 10 * time.Second
	DefaultReadyPoll    = 25 * time.Millisecond
	DefaultKind         = "reply"
)

// Options configures a Coordinator. Zero values fall back to the defaults above.
type Options struct {
	AuthorKey    string
	PrivateScope string           // scope drafts live in before publish; default "private:"+AuthorKey
	Visibility   model.Visibility // visibility of published replies; default public
	Kind         string           // kind tag of published replies

	RetireWindow time.Duration
	SaveDebounce time.Duration
	ReadyTimeout time.Duration
	ReadyPoll    time.Duration

	Logger  *zap.Logger
	Metrics *Metrics

	// OnPublishError receives attach-to-parent failures that Publish swallows.
	OnPublishError func(key string, err error)
}

func (o Options) withDefaults() Options {
	if o.PrivateScope == "" {
		o.PrivateScope = "private:" + o.AuthorKey
	}
	if o.Visibility == "" {
		o.Visibility = model.VisibilityPublic
	}
	if o.Kind == "" {
		o.Kind = DefaultKind
	}
	if o.RetireWindow <= 0 {
		o.RetireWindow = DefaultRetireWindow
	}
	if o.SaveDebounce <= 0 {
		o.SaveDebounce = DefaultSaveDebounce
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	if o.ReadyPoll <= 0 {
		o.ReadyPoll = DefaultReadyPoll
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Phase is the creation state of a bucket.
type Phase int

const (
	PhaseNone      Phase = iota // nothing known about the bucket
	PhasePending                // creation requested, store has not confirmed
	PhaseCommitted              // a record is installed
	PhaseFailed                 // the last creation attempt failed
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseCommitted:
		return "committed"
	case PhaseFailed:
		return "failed"
	default:
		return "none"
	}
}

type record struct {
	item   *model.ContentItem
	parent *model.Parent
	saving bool
	gen    uint64 // distinguishes a re-ensured bucket from the record it replaced
}

// Coordinator is the draft lifecycle coordinator of one authoring session.
type Coordinator struct {
	store   repository.ContentStore
	opts    Options
	log     *zap.Logger
	metrics *Metrics

	base   context.Context
	cancel context.CancelFunc

	bucketFlight singleflight.Group
	parentFlight singleflight.Group

	mu            sync.Mutex
	records       map[string]*record
	parents       map[uuid.UUID]string
	ephemeral     map[uuid.UUID]string // item id -> bucket, not yet confirmed by the store
	retiring      map[uuid.UUID]*time.Timer
	lastPublished map[uuid.UUID]uuid.UUID // parent id -> item id
	publishing    map[string]bool
	phases        map[string]Phase // pending/failed only; committed is derived from records
	debouncers    map[string]*debouncer
	queues        map[string]*publishQueue // kept across abandon so a re-ensured bucket shares the queue
	nextGen       uint64
	subs          map[int]func()
	nextSub       int
}

// New constructs a coordinator over store.
func New(store repository.ContentStore, opts Options) *Coordinator {
	opts = opts.withDefaults()
	base, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:         store,
		opts:          opts,
		log:           opts.Logger.With(zap.String("author", opts.AuthorKey)),
		metrics:       opts.Metrics,
		base:          base,
		cancel:        cancel,
		records:       make(map[string]*record),
		parents:       make(map[uuid.UUID]string),
		ephemeral:     make(map[uuid.UUID]string),
		retiring:      make(map[uuid.UUID]*time.Timer),
		lastPublished: make(map[uuid.UUID]uuid.UUID),
		publishing:    make(map[string]bool),
		phases:        make(map[string]Phase),
		debouncers:    make(map[string]*debouncer),
		queues:        make(map[string]*publishQueue),
		subs:          make(map[int]func()),
	}
}

// Get returns a copy of the draft for key, or nil.
func (c *Coordinator) Get(key string) *model.ContentItem {
	return c.lookup(BucketFor(key))
}

// GetForParent returns a copy of the current draft replying to parentID, or nil.
func (c *Coordinator) GetForParent(parentID uuid.UUID) *model.ContentItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.parents[parentID]
	if !ok {
		return nil
	}
	if rec := c.records[bucket]; rec != nil {
		return rec.item.Clone()
	}
	return nil
}

func (c *Coordinator) lookup(bucket string) *model.ContentItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec := c.records[bucket]; rec != nil {
		return rec.item.Clone()
	}
	return nil
}

// Phase reports the creation state of the bucket for key.
func (c *Coordinator) Phase(key string) Phase {
	bucket := BucketFor(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.records[bucket] != nil {
		return PhaseCommitted
	}
	return c.phases[bucket]
}

// IsPublishing reports whether a publish for key is running.
func (c *Coordinator) IsPublishing(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publishing[BucketFor(key)]
}

// IsSaving reports whether an immediate save for key is running.
func (c *Coordinator) IsSaving(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.records[BucketFor(key)]
	return rec != nil && rec.saving
}

// ActiveIDs returns ephemeral ∪ persisted ∪ retiring ids, sorted.
func (c *Coordinator) ActiveIDs() []uuid.UUID {
	c.mu.Lock()
	set := c.activeLocked()
	c.mu.Unlock()

	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// IsActive reports whether id is in the active set.
func (c *Coordinator) IsActive(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ephemeral[id]; ok {
		return true
	}
	if _, ok := c.retiring[id]; ok {
		return true
	}
	for _, rec := range c.records {
		if rec.item.ID == id {
			return true
		}
	}
	return false
}

func (c *Coordinator) activeLocked() map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(c.ephemeral)+len(c.records)+len(c.retiring))
	for id := range c.ephemeral {
		set[id] = struct{}{}
	}
	for _, rec := range c.records {
		set[rec.item.ID] = struct{}{}
	}
	for id := range c.retiring {
		set[id] = struct{}{}
	}
	return set
}

// Subscribe registers fn to run after every observable state change.
// fn runs on the goroutine that made the change and must not block.
func (c *Coordinator) Subscribe(fn func()) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// notify must be called without c.mu held.
func (c *Coordinator) notify() {
	c.mu.Lock()
	subs := make([]func(), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	records, active := len(c.records), len(c.activeLocked())
	c.mu.Unlock()

	c.metrics.setSizes(records, active)
	for _, fn := range subs {
		fn()
	}
}

// Close flushes pending debounced saves, then stops every timer the coordinator owns.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	ds := make([]*debouncer, 0, len(c.debouncers))
	for _, d := range c.debouncers {
		ds = append(ds, d)
	}
	c.mu.Unlock()

	var firstErr error
	for _, d := range ds {
		if err := d.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		d.Cancel()
	}

	c.mu.Lock()
	for id, t := range c.retiring {
		t.Stop()
		delete(c.retiring, id)
	}
	c.mu.Unlock()
	c.cancel()
	return firstErr
}

func cloneParent(p *model.Parent) *model.Parent {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
