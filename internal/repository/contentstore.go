// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/goph-drafts/internal/model"
	"github.com/gofrs/uuid/v5"
)

// ContentStore is the document store the draft coordinator delegates persistence to.
type ContentStore interface {
	// Ready returns nil once the store can serve queries.
	Ready(ctx context.Context) error

	// CreateReply persists a new draft, optionally already linked to parent.
	CreateReply(ctx context.Context, parent *model.Parent, draft *model.ContentItem, opts model.CreateOptions) (*model.ContentItem, error)

	// QueryImmediateReplies returns the direct replies (drafts included) of parent.
	QueryImmediateReplies(ctx context.Context, parent model.Parent) ([]model.ContentItem, error)

	// OpenWithSameSettings rehydrates an item reference under the store's current context.
	OpenWithSameSettings(ctx context.Context, item *model.ContentItem) (*model.ContentItem, error)

	// Put writes the current state of an item into its own scope.
	Put(ctx context.Context, item *model.ContentItem) error

	// FlushIndex forces pending index writes in scope to become queryable.
	// itemID == uuid.Nil flushes the whole scope.
	FlushIndex(ctx context.Context, scope string, itemID uuid.UUID) error

	// UpsertReply attaches item to parent as a visible reply.
	UpsertReply(ctx context.Context, parent model.Parent, item *model.ContentItem, opts model.UpsertOptions) error

	// Remove deletes item from a scope.
	Remove(ctx context.Context, item *model.ContentItem, opts model.RemoveOptions) error
}
