package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/goph-drafts/internal/errs"
	"github.com/and161185/goph-drafts/internal/model"
	"github.com/and161185/goph-drafts/internal/repository"
)

// IndexChannel is the LISTEN/NOTIFY channel FlushIndex publishes to.
const IndexChannel = "content_index"

// ContentRepo implements repository.ContentStore using PostgreSQL.
type ContentRepo struct{ db *DB }

var _ repository.ContentStore = (*ContentRepo)(nil)

// NewContentRepo constructs a content repository.
func NewContentRepo(db *DB) *ContentRepo { return &ContentRepo{db: db} }

const itemColumns = `id, scope, author_key, COALESCE(parent_id, '00000000-0000-0000-0000-000000000000'::uuid), body, child_count, visibility, kind, published, deleted, ver, updated_at`

// Ready pings the pool.
func (r *ContentRepo) Ready(ctx context.Context) error {
	if err := r.db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrNotReady, err)
	}
	return nil
}

// CreateReply inserts draft into opts.Scope (or the draft's own scope) with version 1.
func (r *ContentRepo) CreateReply(
	ctx context.Context, parent *model.Parent, draft *model.ContentItem, opts model.CreateOptions,
) (*model.ContentItem, error) {
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

	const q = `
INSERT INTO content_items (id, scope, author_key, parent_id, body, child_count, visibility, kind, published, deleted, ver)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, false, 1)
RETURNING ver, updated_at`
	err := r.db.Pool.QueryRow(ctx, q,
		it.ID, it.Scope, it.AuthorKey, nullableID(it.ParentID), it.Body, it.ChildCount, string(it.Visibility), it.Kind,
	).Scan(&it.Ver, &it.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: item %s already exists in %s", errs.ErrInvalidArgument, it.ID, it.Scope)
	}
	if err != nil {
		return nil, err
	}
	it.Published, it.Deleted = false, false
	return it, nil
}

// QueryImmediateReplies returns the latest non-deleted copy of every item
// replying to parent, across scopes, newest first.
func (r *ContentRepo) QueryImmediateReplies(ctx context.Context, parent model.Parent) ([]model.ContentItem, error) {
	const q = `
SELECT ` + itemColumns + `
FROM (
  SELECT DISTINCT ON (id) *
  FROM content_items
  WHERE parent_id=$1 AND NOT deleted
  ORDER BY id, updated_at DESC
) latest
ORDER BY updated_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, parent.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ContentItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// OpenWithSameSettings re-reads item from its own scope.
func (r *ContentRepo) OpenWithSameSettings(ctx context.Context, item *model.ContentItem) (*model.ContentItem, error) {
	const q = `SELECT ` + itemColumns + ` FROM content_items WHERE id=$1 AND scope=$2 AND NOT deleted`
	it, err := scanItem(r.db.Pool.QueryRow(ctx, q, item.ID, item.Scope))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return it, nil
}

// Put overwrites the mutable fields of item in its own scope and bumps its version.
func (r *ContentRepo) Put(ctx context.Context, item *model.ContentItem) error {
	const q = `
UPDATE content_items
SET author_key=$3, parent_id=$4, body=$5, child_count=$6, visibility=$7, kind=$8, ver=ver+1, updated_at=now()
WHERE id=$1 AND scope=$2 AND NOT deleted`
	tag, err := r.db.Pool.Exec(ctx, q,
		item.ID, item.Scope, item.AuthorKey, nullableID(item.ParentID), item.Body, item.ChildCount, string(item.Visibility), item.Kind,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// FlushIndex announces that the item in scope changed. Listeners on
// IndexChannel receive "<scope>/<id>".
func (r *ContentRepo) FlushIndex(ctx context.Context, scope string, itemID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `SELECT pg_notify($1, $2)`, IndexChannel, scope+"/"+itemID.String())
	return err
}

// UpsertReply writes item into the target scope as a published reply of parent.
func (r *ContentRepo) UpsertReply(
	ctx context.Context, parent model.Parent, item *model.ContentItem, opts model.UpsertOptions,
) (err error) {
	target := opts.TargetScope
	if target == "" {
		target = parent.Scope
	}

	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const sel = `SELECT ver FROM content_items WHERE id=$1 AND scope=$2 FOR UPDATE`
	const ins = `
INSERT INTO content_items (id, scope, author_key, parent_id, body, child_count, visibility, kind, published, deleted, ver)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, false, $9)`
	const upd = `
UPDATE content_items
SET author_key=$3, parent_id=$4, body=$5, child_count=$6, visibility=$7, kind=$8, published=true, deleted=false, ver=$9, updated_at=now()
WHERE id=$1 AND scope=$2`

	var curVer int64
	scanErr := tx.QueryRow(ctx, sel, item.ID, target).Scan(&curVer)
	switch {
	case scanErr == nil:
		_, err = tx.Exec(ctx, upd, item.ID, target, item.AuthorKey, parent.ID, item.Body, item.ChildCount,
			string(opts.Visibility), opts.Kind, curVer+1)
	case errors.Is(scanErr, pgx.ErrNoRows):
		_, err = tx.Exec(ctx, ins, item.ID, target, item.AuthorKey, parent.ID, item.Body, item.ChildCount,
			string(opts.Visibility), opts.Kind, item.Ver+1)
	default:
		err = scanErr
	}
	return err
}

// Remove deletes (Drop) or tombstones item in opts.Scope, defaulting to the item's scope.
func (r *ContentRepo) Remove(ctx context.Context, item *model.ContentItem, opts model.RemoveOptions) error {
	scope := opts.Scope
	if scope == "" {
		scope = item.Scope
	}
	q := `UPDATE content_items SET deleted=true, ver=ver+1, updated_at=now() WHERE id=$1 AND scope=$2`
	if opts.Drop {
		q = `DELETE FROM content_items WHERE id=$1 AND scope=$2`
	}
	tag, err := r.db.Pool.Exec(ctx, q, item.ID, scope)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanItem(row pgx.Row) (*model.ContentItem, error) {
	var (
		it  model.ContentItem
		vis string
	)
	err := row.Scan(&it.ID, &it.Scope, &it.AuthorKey, &it.ParentID, &it.Body, &it.ChildCount,
		&vis, &it.Kind, &it.Published, &it.Deleted, &it.Ver, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	it.Visibility = model.Visibility(vis)
	return &it, nil
}

func nullableID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
