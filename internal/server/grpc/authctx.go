package grpcserver

import "context"

type ctxKey string

const authorKey ctxKey = "drafts.author"

// WithAuthor stores the authenticated author key in context.
func WithAuthor(ctx context.Context, author string) context.Context {
	return context.WithValue(ctx, authorKey, author)
}

// AuthorFromCtx fetches the author key from context.
func AuthorFromCtx(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(authorKey).(string)
	return v, ok && v != ""
}
