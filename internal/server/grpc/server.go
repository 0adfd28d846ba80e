// Package grpcserver exposes the draft coordinator over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/goph-drafts/internal/convert"
	"github.com/and161185/goph-drafts/internal/drafts"
	"github.com/and161185/goph-drafts/internal/errs"
	"github.com/and161185/goph-drafts/internal/model"
	"github.com/and161185/goph-drafts/internal/session"
)

// Sessions resolves an author key to that author's coordinator.
type Sessions interface {
	For(author string) (*drafts.Coordinator, error)
}

// Server wires author sessions into gRPC handlers.
type Server struct {
	sessions Sessions
	signKey  []byte
	dev      bool
	log      *zap.Logger
}

var _ DraftsServer = (*Server)(nil)

// New constructs the drafts gRPC server. dev enables the destructive Clear call.
func New(sessions Sessions, signKey []byte, dev bool, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{sessions: sessions, signKey: signKey, dev: dev, log: log}
}

func (s *Server) coordinator(ctx context.Context) (*drafts.Coordinator, error) {
	author, err := s.authorFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	c, err := s.sessions.For(author)
	if err != nil {
		return nil, toStatus(err)
	}
	return c, nil
}

func requireKey(req *structpb.Struct) (string, error) {
	key := convert.Str(req, "key")
	if key == "" {
		return "", status.Error(codes.InvalidArgument, "empty key")
	}
	return key, nil
}

func empty() *structpb.Struct { return &structpb.Struct{} }

// Ensure returns the draft of {key} or {parent}, creating it if needed.
func (s *Server) Ensure(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.coordinator(ctx)
	if err != nil {
		return nil, err
	}
	parent, err := convert.FromStructParent(req, "parent")
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad parent: %v", err)
	}
	it, err := c.Ensure(ctx, drafts.EnsureArgs{Key: convert.Str(req, "key"), ReplyTo: parent})
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ItemResponse(it), nil
}

// EnsureForParent returns the current reply draft of {parent}, optionally re-pointing it to {key}.
func (s *Server) EnsureForParent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.coordinator(ctx)
	if err != nil {
		return nil, err
	}
	parent, err := convert.FromStructParent(req, "parent")
	if err != nil || parent == nil {
		return nil, status.Error(codes.InvalidArgument, "bad parent")
	}
	it, err := c.EnsureForParent(ctx, *parent, convert.Str(req, "key"))
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ItemResponse(it), nil
}

// Get returns the draft of {key}.
func (s *Server) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.coordinator(ctx)
	if err != nil {
		return nil, err
	}
	key, err := requireKey(req)
	if err != nil {
		return nil, err
	}
	it := c.Get(key)
	if it == nil {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return convert.ItemResponse(it), nil
}

// GetForParent returns the current draft replying to {parent_id}.
func (s *Server) GetForParent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.coordinator(ctx)
	if err != nil {
		return nil, err
	}
	pid, err := convert.ID(req, "parent_id")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "bad parent_id")
	}
	it := c.GetForParent(pid)
	if it == nil {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return convert.ItemResponse(it), nil
}

// SetReplyTarget changes the parent of {key}; a missing {parent} detaches it.
func (s *Server) SetReplyTarget(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.coordinator(ctx)
	if err != nil {
		return nil, err
	}
	key, err := requireKey(req)
	if err != nil {
		return nil, err
	}
	parent, err := convert.FromStructParent(req, "parent")
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad parent: %v", err)
	}
	if err := c.SetReplyTarget(key, parent); err != nil {
		return nil, toStatus(err)
	}
	return empty(), nil
}

// Publish publishes {key} and returns the fresh draft that replaced it.
func (s *Server) Publish(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.coordinator(ctx)
	if err != nil {
		return nil, err
	}
	key, err := requireKey(req)
	if err != nil {
		return nil, err
	}
	if err := c.Publish(ctx, key); err != nil {
		return nil, toStatus(err)
	}
	return convert.ItemResponse(c.Get(key)), nil
}

// edit applies {body} and {child_count}, when present, to the draft of key.
func edit(c *drafts.Coordinator, key string, req *structpb.Struct) error {
	if !convert.Has(req, "body") && !convert.Has(req, "child_count") {
		return nil
	}
	body, err := convert.Body(req, "body")
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "%v", err)
	}
	var children int
	if convert.Has(req, "child_count") {
		if children, err = childCount(req.GetFields()["child_count"]); err != nil {
			return err
		}
	}
	return c.Edit(key, func(it *model.ContentItem) {
		if convert.Has(req, "body") {
			it.Body = body
		}
		if convert.Has(req, "child_count") {
			it.ChildCount = children
		}
	})
}

// childCount accepts only non-negative whole numbers.
func childCount(v *structpb.Value) (int, error) {
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue < 0 || n.NumberValue != math.Trunc(n.NumberValue) || n.NumberValue > math.MaxInt32 {
		return 0, status.Error(codes.InvalidArgument, "child_count must be a non-negative whole number")
	}
	return int(n.NumberValue), nil
}

// Save applies the optional edit and writes the draft of {key} now.
func (s *Server) Save(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.coordinator(ctx)
	if err != nil {
		return nil, err
	}
	key, err := requireKey(req)
	if err != nil {
		return nil, err
	}
	if err := edit(c, key, req); err != nil {
		return nil, toStatus(err)
	}
	if err := c.Save(ctx, key); err != nil {
		return nil, toStatus(err)
	}
	return convert.ItemResponse(c.Get(key)), nil
}

// SaveDebounced applies the optional edit and schedules a coalesced write.
func (s *Server) SaveDebounced(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.coordinator(ctx)
	if err != nil {
		return nil, err
	}
	key, err := requireKey(req)
	if err != nil {
		return nil, err
	}
	if err := edit(c, key, req); err != nil {
		return nil, toStatus(err)
	}
	if err := c.SaveDebounced(key); err != nil {
		return nil, toStatus(err)
	}
	return empty(), nil
}

// Abandon drops the draft of {key}.
func (s *Server) Abandon(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.coordinator(ctx)
	if err != nil {
		return nil, err
	}
	key, err := requireKey(req)
	if err != nil {
		return nil, err
	}
	if err := c.Abandon(ctx, key); err != nil {
		return nil, toStatus(err)
	}
	return empty(), nil
}

// ListActive returns the active id set.
func (s *Server) ListActive(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.coordinator(ctx)
	if err != nil {
		return nil, err
	}
	return convert.IDsResponse(c.ActiveIDs()), nil
}

type keyStatus struct {
	Phase      string `json:"phase"`
	Publishing bool   `json:"publishing"`
	Saving     bool   `json:"saving"`
	ItemID     string `json:"item_id,omitempty"`
}

// Status reports the creation phase and in-flight flags of {key}.
func (s *Server) Status(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.coordinator(ctx)
	if err != nil {
		return nil, err
	}
	key, err := requireKey(req)
	if err != nil {
		return nil, err
	}
	st := keyStatus{
		Phase:      c.Phase(key).String(),
		Publishing: c.IsPublishing(key),
		Saving:     c.IsSaving(key),
	}
	if it := c.Get(key); it != nil {
		st.ItemID = it.ID.String()
	}
	out, err := convert.FromJSONable(st)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "status: %v", err)
	}
	return out, nil
}

// Dump returns the coordinator's debug snapshot.
func (s *Server) Dump(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.coordinator(ctx)
	if err != nil {
		return nil, err
	}
	out, err := convert.FromJSONable(c.Debug().Dump())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "dump: %v", err)
	}
	return out, nil
}

// Clear force-removes {key}, or everything when key is empty. Dev mode only.
func (s *Server) Clear(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if !s.dev {
		return nil, status.Error(codes.PermissionDenied, "clear is available in dev mode only")
	}
	c, err := s.coordinator(ctx)
	if err != nil {
		return nil, err
	}
	c.Debug().Clear(ctx, convert.Str(req, "key"))
	s.log.Warn("drafts cleared", zap.String("key", convert.Str(req, "key")))
	return empty(), nil
}

// toStatus maps domain errors to gRPC status codes. Status errors pass through.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, errs.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrNoReplyTarget):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, errs.ErrNotReady):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, errs.ErrCreationFailed):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "no auth")
	case errors.Is(err, session.ErrClosed):
		return status.Error(codes.Unavailable, "shutting down")
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}
