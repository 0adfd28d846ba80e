// Package model defines domain entities used by the coordinator and content stores.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Visibility controls who can see a published reply.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// ContentItem is an author-owned content unit: a draft while unpublished, a reply once attached.
type ContentItem struct {
	ID         uuid.UUID  // client-generated PK
	AuthorKey  string     // owner
	ParentID   uuid.UUID  // uuid.Nil when not replying to anything
	Scope      string     // store scope the item currently lives in
	Body       []byte     // opaque authored payload
	ChildCount int        // owned sub-content (attachments, nested elements)
	Visibility Visibility // visibility once published
	Kind       string     // reply kind tag, set on publish
	Published  bool
	Deleted    bool // tombstone flag
	Ver        int64
	UpdatedAt  time.Time
}

// IsEmpty reports whether the item owns no sub-content; empty drafts are not worth keeping.
func (c *ContentItem) IsEmpty() bool {
	return c.ChildCount == 0 && len(c.Body) == 0
}

// Clone returns a deep copy safe to hand to callers.
func (c *ContentItem) Clone() *ContentItem {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Body != nil {
		cp.Body = append([]byte(nil), c.Body...)
	}
	return &cp
}

// Parent identifies the item a draft replies to and the scope its replies live in.
type Parent struct {
	ID    uuid.UUID
	Scope string
}

// CreateOptions controls where a new draft is persisted.
type CreateOptions struct {
	Scope string // private scope the draft lives in until published
}

// UpsertOptions controls how an item is attached to a parent as a visible reply.
type UpsertOptions struct {
	TargetScope string
	Visibility  Visibility
	Kind        string
}

// RemoveOptions controls item removal.
type RemoveOptions struct {
	Scope string // scope to remove from; empty means the item's own scope
	Drop  bool   // delete permanently instead of tombstoning
}
