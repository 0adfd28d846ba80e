// Package convert maps domain values to and from the protobuf Struct payloads
// carried by the drafts gRPC service.
package convert

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	model "github.com/and161185/goph-drafts/internal/model"
)

// --- helpers ---

// Str returns the string field key of s, or "".
func Str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// Has reports whether s carries a non-null field key.
func Has(s *structpb.Struct, key string) bool {
	v, ok := s.GetFields()[key]
	if !ok {
		return false
	}
	_, isNull := v.GetKind().(*structpb.Value_NullValue)
	return !isNull
}

// ID parses the uuid field key of s.
func ID(s *structpb.Struct, key string) (u.UUID, error) {
	raw := Str(s, key)
	if raw == "" {
		return u.Nil, fmt.Errorf("missing %s", key)
	}
	var id u.UUID
	if err := id.UnmarshalText([]byte(raw)); err != nil {
		return u.Nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return id, nil
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// --- Parent ---

// ToStructParent converts a parent reference; nil maps to nil.
func ToStructParent(p *model.Parent) *structpb.Struct {
	if p == nil {
		return nil
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":    structpb.NewStringValue(p.ID.String()),
		"scope": structpb.NewStringValue(p.Scope),
	}}
}

// FromStructParent reads the nested parent object at key. An absent or null
// field yields a nil parent.
func FromStructParent(s *structpb.Struct, key string) (*model.Parent, error) {
	if !Has(s, key) {
		return nil, nil
	}
	ps := s.GetFields()[key].GetStructValue()
	if ps == nil {
		return nil, fmt.Errorf("%s must be an object", key)
	}
	id, err := ID(ps, "id")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	scope := Str(ps, "scope")
	if scope == "" {
		return nil, fmt.Errorf("%s: missing scope", key)
	}
	return &model.Parent{ID: id, Scope: scope}, nil
}

// --- ContentItem ---

// ToStructItem converts a content item. Body is base64 (std) encoded.
func ToStructItem(it *model.ContentItem) *structpb.Struct {
	if it == nil {
		return nil
	}
	f := map[string]*structpb.Value{
		"id":          structpb.NewStringValue(it.ID.String()),
		"author_key":  structpb.NewStringValue(it.AuthorKey),
		"scope":       structpb.NewStringValue(it.Scope),
		"body":        structpb.NewStringValue(base64.StdEncoding.EncodeToString(it.Body)),
		"child_count": structpb.NewNumberValue(float64(it.ChildCount)),
		"visibility":  structpb.NewStringValue(string(it.Visibility)),
		"kind":        structpb.NewStringValue(it.Kind),
		"published":   structpb.NewBoolValue(it.Published),
		"deleted":     structpb.NewBoolValue(it.Deleted),
		"ver":         structpb.NewNumberValue(float64(it.Ver)),
	}
	if it.ParentID != u.Nil {
		f["parent_id"] = structpb.NewStringValue(it.ParentID.String())
	}
	if s := ts(it.UpdatedAt); s != "" {
		f["updated_at"] = structpb.NewStringValue(s)
	}
	return &structpb.Struct{Fields: f}
}

// FromStructItem converts a Struct produced by ToStructItem back to the domain.
func FromStructItem(s *structpb.Struct) (*model.ContentItem, error) {
	if s == nil {
		return nil, fmt.Errorf("nil item")
	}
	id, err := ID(s, "id")
	if err != nil {
		return nil, err
	}
	it := &model.ContentItem{
		ID:         id,
		AuthorKey:  Str(s, "author_key"),
		Scope:      Str(s, "scope"),
		ChildCount: int(s.GetFields()["child_count"].GetNumberValue()),
		Visibility: model.Visibility(Str(s, "visibility")),
		Kind:       Str(s, "kind"),
		Published:  s.GetFields()["published"].GetBoolValue(),
		Deleted:    s.GetFields()["deleted"].GetBoolValue(),
		Ver:        int64(s.GetFields()["ver"].GetNumberValue()),
	}
	if it.Body, err = Body(s, "body"); err != nil {
		return nil, err
	}
	if Has(s, "parent_id") {
		if it.ParentID, err = ID(s, "parent_id"); err != nil {
			return nil, err
		}
	}
	if raw := Str(s, "updated_at"); raw != "" {
		if it.UpdatedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, fmt.Errorf("invalid updated_at: %w", err)
		}
	}
	return it, nil
}

// Body decodes the base64 field key; absent means nil.
func Body(s *structpb.Struct, key string) ([]byte, error) {
	raw := Str(s, key)
	if raw == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// --- responses ---

// ItemResponse wraps an item as {"item": {...}}.
func ItemResponse(it *model.ContentItem) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"item": structpb.NewStructValue(ToStructItem(it)),
	}}
}

// IDsResponse wraps ids as {"ids": [...]}.
func IDsResponse(ids []u.UUID) *structpb.Struct {
	vals := make([]*structpb.Value, 0, len(ids))
	for _, id := range ids {
		vals = append(vals, structpb.NewStringValue(id.String()))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"ids": structpb.NewListValue(&structpb.ListValue{Values: vals}),
	}}
}

// FromIDsResponse is the inverse of IDsResponse.
func FromIDsResponse(s *structpb.Struct) ([]u.UUID, error) {
	vals := s.GetFields()["ids"].GetListValue().GetValues()
	out := make([]u.UUID, 0, len(vals))
	for i, v := range vals {
		id, err := u.FromString(v.GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("ids[%d]: %w", i, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// FromJSONable renders any JSON-encodable value (debug snapshots, status
// records) as a Struct.
func FromJSONable(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", err)
	}
	return out, nil
}

// ToJSON renders s as indented JSON for terminals.
func ToJSON(s *structpb.Struct) ([]byte, error) {
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
}
