package convert

import (
	"strings"
	"testing"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	model "github.com/and161185/goph-drafts/internal/model"
)

func mustUUID(t *testing.T, s string) u.UUID {
	t.Helper()
	id, err := u.FromString(s)
	if err != nil {
		t.Fatalf("bad uuid %q: %v", s, err)
	}
	return id
}

func TestItem_ToFromStruct(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	in := &model.ContentItem{
		ID:         mustUUID(t, "11111111-1111-1111-1111-111111111111"),
		AuthorKey:  "alice",
		ParentID:   mustUUID(t, "22222222-2222-2222-2222-222222222222"),
		Scope:      "private:alice",
		Body:       []byte{0, 1, 2, 'x'},
		ChildCount: 3,
		Visibility: model.VisibilityPublic,
		Kind:       "reply",
		Published:  true,
		Ver:        9,
		UpdatedAt:  ts,
	}
	got, err := FromStructItem(ToStructItem(in))
	if err != nil {
		t.Fatalf("FromStructItem: %v", err)
	}
	if got.ID != in.ID || got.ParentID != in.ParentID || got.AuthorKey != "alice" || got.Scope != in.Scope {
		t.Fatalf("identity mismatch: %+v", got)
	}
	if string(got.Body) != string(in.Body) || got.ChildCount != 3 || got.Ver != 9 {
		t.Fatalf("content mismatch: %+v", got)
	}
	if !got.Published || got.Deleted || got.Kind != "reply" || got.Visibility != model.VisibilityPublic {
		t.Fatalf("flags mismatch: %+v", got)
	}
	if !got.UpdatedAt.Equal(ts) {
		t.Fatalf("timestamp mismatch: %v", got.UpdatedAt)
	}
}

func TestItem_NoParentNoTime(t *testing.T) {
	t.Parallel()

	in := &model.ContentItem{ID: mustUUID(t, "33333333-3333-3333-3333-333333333333")}
	s := ToStructItem(in)
	if Has(s, "parent_id") || Has(s, "updated_at") {
		t.Fatalf("zero parent and time must be omitted")
	}
	got, err := FromStructItem(s)
	if err != nil {
		t.Fatalf("FromStructItem: %v", err)
	}
	if got.ParentID != u.Nil || !got.UpdatedAt.IsZero() || got.Body != nil {
		t.Fatalf("zero fields mismatch: %+v", got)
	}
	if ToStructItem(nil) != nil {
		t.Fatalf("nil item must give nil struct")
	}
}

func TestFromStructItem_Errors(t *testing.T) {
	t.Parallel()

	if _, err := FromStructItem(nil); err == nil {
		t.Fatalf("want error on nil")
	}
	bad, _ := structpb.NewStruct(map[string]any{"id": "not-a-uuid"})
	if _, err := FromStructItem(bad); err == nil || !strings.Contains(err.Error(), "invalid id") {
		t.Fatalf("want invalid id error, got: %v", err)
	}
	badBody, _ := structpb.NewStruct(map[string]any{
		"id":   "44444444-4444-4444-4444-444444444444",
		"body": "%%%",
	})
	if _, err := FromStructItem(badBody); err == nil || !strings.Contains(err.Error(), "invalid body") {
		t.Fatalf("want invalid body error, got: %v", err)
	}
}

func TestParent_ToFromStruct(t *testing.T) {
	t.Parallel()

	p := &model.Parent{ID: mustUUID(t, "55555555-5555-5555-5555-555555555555"), Scope: "thread"}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"parent": structpb.NewStructValue(ToStructParent(p)),
	}}
	got, err := FromStructParent(req, "parent")
	if err != nil || got == nil || *got != *p {
		t.Fatalf("parent mismatch: %+v err=%v", got, err)
	}

	none, err := FromStructParent(&structpb.Struct{}, "parent")
	if err != nil || none != nil {
		t.Fatalf("absent parent must be nil, got %+v err=%v", none, err)
	}
	null, _ := structpb.NewStruct(map[string]any{"parent": nil})
	if got, err := FromStructParent(null, "parent"); err != nil || got != nil {
		t.Fatalf("null parent must be nil, got %+v err=%v", got, err)
	}

	noScope, _ := structpb.NewStruct(map[string]any{"parent": map[string]any{"id": p.ID.String()}})
	if _, err := FromStructParent(noScope, "parent"); err == nil || !strings.Contains(err.Error(), "missing scope") {
		t.Fatalf("want missing scope, got %v", err)
	}
	scalar, _ := structpb.NewStruct(map[string]any{"parent": "x"})
	if _, err := FromStructParent(scalar, "parent"); err == nil {
		t.Fatalf("want error on scalar parent")
	}
}

func TestIDsResponse_RoundTrip(t *testing.T) {
	t.Parallel()

	ids := []u.UUID{
		mustUUID(t, "66666666-6666-6666-6666-666666666666"),
		mustUUID(t, "77777777-7777-7777-7777-777777777777"),
	}
	got, err := FromIDsResponse(IDsResponse(ids))
	if err != nil || len(got) != 2 || got[0] != ids[0] || got[1] != ids[1] {
		t.Fatalf("ids mismatch: %v err=%v", got, err)
	}
	if got, err := FromIDsResponse(IDsResponse(nil)); err != nil || len(got) != 0 {
		t.Fatalf("empty ids: %v err=%v", got, err)
	}
}

func TestFromJSONable(t *testing.T) {
	t.Parallel()

	s, err := FromJSONable(struct {
		Phase string   `json:"phase"`
		IDs   []string `json:"ids"`
	}{Phase: "pending", IDs: []string{"a"}})
	if err != nil {
		t.Fatalf("FromJSONable: %v", err)
	}
	if Str(s, "phase") != "pending" || len(s.GetFields()["ids"].GetListValue().GetValues()) != 1 {
		t.Fatalf("struct mismatch: %v", s)
	}
	if _, err := FromJSONable([]int{1}); err == nil {
		t.Fatalf("want error on non-object")
	}

	out, err := ToJSON(s)
	if err != nil || !strings.Contains(string(out), `"phase"`) {
		t.Fatalf("ToJSON: %s err=%v", out, err)
	}
}
