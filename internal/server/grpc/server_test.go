package grpcserver

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/goph-drafts/internal/convert"
	"github.com/and161185/goph-drafts/internal/errs"
	"github.com/and161185/goph-drafts/internal/model"
)

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

func itemOf(t *testing.T, resp *structpb.Struct) *model.ContentItem {
	t.Helper()
	it, err := convert.FromStructItem(resp.GetFields()["item"].GetStructValue())
	if err != nil {
		t.Fatalf("FromStructItem: %v", err)
	}
	return it
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if st, ok := status.FromError(err); !ok || st.Code() != code {
		t.Fatalf("want %s, got %v", code, err)
	}
}

func TestServer_E2E_DraftLifecycle(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, false)
	cl, stop := startBufGRPC(t, srv)
	defer stop()
	ctx := outgoingAuth(t, "alice")

	parentID := uuid.Must(uuid.NewV4())
	parent := map[string]any{"id": parentID.String(), "scope": "thread"}

	resp, err := cl.Call(ctx, MethodEnsureForParent, mustStruct(t, map[string]any{"parent": parent}))
	if err != nil {
		t.Fatalf("ensure for parent: %v", err)
	}
	first := itemOf(t, resp)
	if first.ParentID != parentID || first.AuthorKey != "alice" {
		t.Fatalf("bad draft: %+v", first)
	}

	resp, err = cl.Call(ctx, MethodGetForParent, mustStruct(t, map[string]any{"parent_id": parentID.String()}))
	if err != nil || itemOf(t, resp).ID != first.ID {
		t.Fatalf("get for parent: %v", err)
	}

	key := "reply:" + parentID.String()
	resp, err = cl.Call(ctx, MethodSave, mustStruct(t, map[string]any{"key": key, "body": "aGVsbG8="}))
	if err != nil || string(itemOf(t, resp).Body) != "hello" {
		t.Fatalf("save: %v", err)
	}
	if got, ok := store.Lookup("private:alice", first.ID); !ok || string(got.Body) != "hello" {
		t.Fatalf("save did not reach the store: %+v", got)
	}

	resp, err = cl.Call(ctx, MethodPublish, mustStruct(t, map[string]any{"key": key}))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	fresh := itemOf(t, resp)
	if fresh.ID == first.ID {
		t.Fatalf("publish must rotate the draft")
	}
	if got, ok := store.Lookup("thread", first.ID); !ok || !got.Published {
		t.Fatalf("published reply missing: %+v", got)
	}

	resp, err = cl.Call(ctx, MethodListActive, nil)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	ids, err := convert.FromIDsResponse(resp)
	if err != nil || len(ids) != 2 {
		t.Fatalf("active ids: %v err=%v", ids, err)
	}

	resp, err = cl.Call(ctx, MethodStatus, mustStruct(t, map[string]any{"key": key}))
	if err != nil || convert.Str(resp, "phase") != "committed" || convert.Str(resp, "item_id") != fresh.ID.String() {
		t.Fatalf("status: %v %v", resp, err)
	}

	resp, err = cl.Call(ctx, MethodDump, nil)
	if err != nil || len(resp.GetFields()["records"].GetListValue().GetValues()) != 1 {
		t.Fatalf("dump: %v %v", resp, err)
	}

	if _, err := cl.Call(ctx, MethodAbandon, mustStruct(t, map[string]any{"key": key})); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	_, err = cl.Call(ctx, MethodGet, mustStruct(t, map[string]any{"key": key}))
	wantCode(t, err, codes.NotFound)
}

func TestServer_E2E_AuthorsAreIsolated(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, false)
	cl, stop := startBufGRPC(t, srv)
	defer stop()

	alice, bob := outgoingAuth(t, "alice"), outgoingAuth(t, "bob")
	req := mustStruct(t, map[string]any{"key": "compose"})

	if _, err := cl.Call(alice, MethodEnsure, req); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	_, err := cl.Call(bob, MethodGet, req)
	wantCode(t, err, codes.NotFound)

	_, err = cl.Call(context.Background(), MethodGet, req)
	wantCode(t, err, codes.Unauthenticated)
}

func TestServer_E2E_SetReplyTargetAndPublishErrors(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, false)
	cl, stop := startBufGRPC(t, srv)
	defer stop()
	ctx := outgoingAuth(t, "alice")
	key := mustStruct(t, map[string]any{"key": "k"})

	_, err := cl.Call(ctx, MethodPublish, key)
	wantCode(t, err, codes.NotFound)

	if _, err := cl.Call(ctx, MethodEnsure, key); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	_, err = cl.Call(ctx, MethodPublish, key)
	wantCode(t, err, codes.FailedPrecondition)

	pid := uuid.Must(uuid.NewV4())
	_, err = cl.Call(ctx, MethodSetReplyTarget, mustStruct(t, map[string]any{
		"key": "k", "parent": map[string]any{"id": pid.String(), "scope": "thread"},
	}))
	if err != nil {
		t.Fatalf("set reply target: %v", err)
	}
	if _, err := cl.Call(ctx, MethodPublish, key); err != nil {
		t.Fatalf("publish after target: %v", err)
	}

	_, err = cl.Call(ctx, MethodSetReplyTarget, mustStruct(t, map[string]any{
		"key": "k", "parent": map[string]any{"id": "nope", "scope": "thread"},
	}))
	wantCode(t, err, codes.InvalidArgument)
}

func TestServer_E2E_SaveDebouncedAndClear(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, true)
	cl, stop := startBufGRPC(t, srv)
	defer stop()
	ctx := outgoingAuth(t, "alice")

	resp, err := cl.Call(ctx, MethodEnsure, mustStruct(t, map[string]any{"key": "k"}))
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	it := itemOf(t, resp)

	_, err = cl.Call(ctx, MethodSaveDebounced, mustStruct(t, map[string]any{"key": "k", "body": "eA==", "child_count": 2}))
	if err != nil {
		t.Fatalf("save debounced: %v", err)
	}
	resp, err = cl.Call(ctx, MethodGet, mustStruct(t, map[string]any{"key": "k"}))
	if err != nil || itemOf(t, resp).ChildCount != 2 {
		t.Fatalf("edit not applied: %v", err)
	}

	if _, err := cl.Call(ctx, MethodClear, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := store.Lookup("private:alice", it.ID); ok {
		t.Fatalf("clear must drop the stored draft")
	}
}

func TestServer_ClearNeedsDevMode(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, false)
	_, err := srv.Clear(WithAuthor(context.Background(), "alice"), &structpb.Struct{})
	wantCode(t, err, codes.PermissionDenied)
}

func TestServer_BadRequests(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, false)
	ctx := WithAuthor(context.Background(), "alice")

	_, err := srv.Ensure(ctx, &structpb.Struct{})
	wantCode(t, err, codes.InvalidArgument)
	_, err = srv.EnsureForParent(ctx, &structpb.Struct{})
	wantCode(t, err, codes.InvalidArgument)
	_, err = srv.GetForParent(ctx, mustStruct(t, map[string]any{"parent_id": "x"}))
	wantCode(t, err, codes.InvalidArgument)
	_, err = srv.Get(ctx, &structpb.Struct{})
	wantCode(t, err, codes.InvalidArgument)
	_, err = srv.Save(ctx, mustStruct(t, map[string]any{"key": "missing"}))
	wantCode(t, err, codes.NotFound)

	if _, err := srv.Ensure(ctx, mustStruct(t, map[string]any{"key": "k"})); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	for _, n := range []any{-1, 1.5, "3"} {
		_, err = srv.Save(ctx, mustStruct(t, map[string]any{"key": "k", "child_count": n}))
		wantCode(t, err, codes.InvalidArgument)
	}
	if _, err := srv.Save(ctx, mustStruct(t, map[string]any{"key": "k", "child_count": 2})); err != nil {
		t.Fatalf("Save with whole child_count: %v", err)
	}

	_, err = srv.Get(context.Background(), mustStruct(t, map[string]any{"key": "k"}))
	wantCode(t, err, codes.Unauthenticated)
}

func Test_toStatus(t *testing.T) {
	t.Parallel()

	cases := map[error]codes.Code{
		errs.ErrNotFound:                 codes.NotFound,
		errs.ErrInvalidArgument:          codes.InvalidArgument,
		errs.ErrNoReplyTarget:            codes.FailedPrecondition,
		errs.ErrNotReady:                 codes.Unavailable,
		errs.ErrCreationFailed:           codes.Aborted,
		errs.ErrUnauthorized:             codes.Unauthenticated,
		context.DeadlineExceeded:         codes.DeadlineExceeded,
		status.Error(codes.Aborted, "x"): codes.Aborted,
	}
	for in, want := range cases {
		if got := status.Code(toStatus(in)); got != want {
			t.Fatalf("%v: want %s, got %s", in, want, got)
		}
	}
}
