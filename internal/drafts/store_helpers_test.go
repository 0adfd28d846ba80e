package drafts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/goph-drafts/internal/model"
	"github.com/and161185/goph-drafts/internal/repository"
	"github.com/and161185/goph-drafts/internal/repository/memory"
)

// countingStore wraps the in-memory store with call counters and fault hooks.
type countingStore struct {
	*memory.Store

	mu         sync.Mutex
	creates    int
	puts       int
	upserts    int
	removes    int
	createGate chan struct{}
	gateCreate map[int]chan struct{} // create call number (1-based) -> gate, overrides createGate
	putGate    chan struct{}
	createErr  error
	upsertErr  error
	removeErr  error
	queryErr   error
	upsertWait time.Duration
	inUpsert   int
	maxUpsert  int
}

var _ repository.ContentStore = (*countingStore)(nil)

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	return &countingStore{Store: memory.New(zaptest.NewLogger(t))}
}

func (s *countingStore) CreateReply(ctx context.Context, parent *model.Parent, draft *model.ContentItem, opts model.CreateOptions) (*model.ContentItem, error) {
	s.mu.Lock()
	s.creates++
	gate := s.createGate
	if g, ok := s.gateCreate[s.creates]; ok {
		gate = g
	}
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	err := s.createErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.CreateReply(ctx, parent, draft, opts)
}

func (s *countingStore) Put(ctx context.Context, item *model.ContentItem) error {
	s.mu.Lock()
	s.puts++
	gate := s.putGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return s.Store.Put(ctx, item)
}

func (s *countingStore) QueryImmediateReplies(ctx context.Context, parent model.Parent) ([]model.ContentItem, error) {
	s.mu.Lock()
	err := s.queryErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.QueryImmediateReplies(ctx, parent)
}

func (s *countingStore) UpsertReply(ctx context.Context, parent model.Parent, item *model.ContentItem, opts model.UpsertOptions) error {
	s.mu.Lock()
	s.upserts++
	s.inUpsert++
	if s.inUpsert > s.maxUpsert {
		s.maxUpsert = s.inUpsert
	}
	wait, err := s.upsertWait, s.upsertErr
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inUpsert--
		s.mu.Unlock()
	}()
	if wait > 0 {
		time.Sleep(wait)
	}
	if err != nil {
		return err
	}
	return s.Store.UpsertReply(ctx, parent, item, opts)
}

func (s *countingStore) Remove(ctx context.Context, item *model.ContentItem, opts model.RemoveOptions) error {
	s.mu.Lock()
	s.removes++
	err := s.removeErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Remove(ctx, item, opts)
}

func (s *countingStore) counts() (creates, puts, upserts, removes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates, s.puts, s.upserts, s.removes
}

func (s *countingStore) maxConcurrentUpserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxUpsert
}

func (s *countingStore) createCount() int {
	c, _, _, _ := s.counts()
	return c
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		AuthorKey:    "alice",
		RetireWindow: 50 * time.Millisecond,
		SaveDebounce: 20 * time.Millisecond,
		ReadyTimeout: 200 * time.Millisecond,
		ReadyPoll:    5 * time.Millisecond,
		Logger:       zaptest.NewLogger(t),
	}
}

func newTestCoordinator(t *testing.T, store repository.ContentStore, mutate ...func(*Options)) *Coordinator {
	t.Helper()
	opts := testOptions(t)
	for _, m := range mutate {
		m(&opts)
	}
	c := New(store, opts)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func newParent() model.Parent {
	return model.Parent{ID: uuid.Must(uuid.NewV4()), Scope: "thread"}
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
