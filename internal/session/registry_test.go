package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/goph-drafts/internal/drafts"
	"github.com/and161185/goph-drafts/internal/errs"
	"github.com/and161185/goph-drafts/internal/model"
	"github.com/and161185/goph-drafts/internal/repository/memory"
)

func newRegistry(t *testing.T) (*Registry, *memory.Store) {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := memory.New(log)
	r := NewRegistry(store, func(author string) drafts.Options {
		return drafts.Options{PrivateScope: "mine:" + author, SaveDebounce: time.Hour}
	}, nil, log)
	return r, store
}

func TestRegistry_OneCoordinatorPerAuthor(t *testing.T) {
	r, _ := newRegistry(t)
	defer func() { _ = r.Close(context.Background()) }()

	a1, err := r.For("alice")
	require.NoError(t, err)
	a2, err := r.For("alice")
	require.NoError(t, err)
	b, err := r.For("bob")
	require.NoError(t, err)

	require.Same(t, a1, a2)
	require.NotSame(t, a1, b)
	require.Equal(t, []string{"alice", "bob"}, r.Authors())

	_, err = r.For("")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestRegistry_AuthorOptionsApplied(t *testing.T) {
	r, store := newRegistry(t)
	defer func() { _ = r.Close(context.Background()) }()

	c, err := r.For("alice")
	require.NoError(t, err)
	it, err := c.Ensure(context.Background(), drafts.EnsureArgs{Key: "k"})
	require.NoError(t, err)
	require.Equal(t, "mine:alice", it.Scope)
	require.Equal(t, "alice", it.AuthorKey)

	_, ok := store.Lookup("mine:alice", it.ID)
	require.True(t, ok)
}

func TestRegistry_CloseFlushesAndRejects(t *testing.T) {
	r, store := newRegistry(t)
	c, err := r.For("alice")
	require.NoError(t, err)
	it, err := c.Ensure(context.Background(), drafts.EnsureArgs{Key: "k"})
	require.NoError(t, err)
	require.NoError(t, c.Edit("k", func(ci *model.ContentItem) { ci.Body = []byte("pending") }))
	require.NoError(t, c.SaveDebounced("k"))

	require.NoError(t, r.Close(context.Background()))

	stored, ok := store.Lookup("mine:alice", it.ID)
	require.True(t, ok)
	require.Equal(t, "pending", string(stored.Body))

	_, err = r.For("alice")
	require.ErrorIs(t, err, ErrClosed)
	require.Empty(t, r.Authors())
}
