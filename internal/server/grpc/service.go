package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "drafts.v1.Drafts"

// Method names of the drafts service.
const (
	MethodEnsure          = "Ensure"
	MethodEnsureForParent = "EnsureForParent"
	MethodGet             = "Get"
	MethodGetForParent    = "GetForParent"
	MethodSetReplyTarget  = "SetReplyTarget"
	MethodPublish         = "Publish"
	MethodSave            = "Save"
	MethodSaveDebounced   = "SaveDebounced"
	MethodAbandon         = "Abandon"
	MethodListActive      = "ListActive"
	MethodStatus          = "Status"
	MethodDump            = "Dump"
	MethodClear           = "Clear"
)

// FullMethod returns "/drafts.v1.Drafts/<method>".
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// DraftsServer is the server API of the drafts service. Every method takes and
// returns a google.protobuf.Struct.
type DraftsServer interface {
	Ensure(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EnsureForParent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetForParent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetReplyTarget(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Publish(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Save(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SaveDebounced(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Abandon(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListActive(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Dump(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Clear(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryFn func(DraftsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, fn unaryFn) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(DraftsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(DraftsServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the drafts service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DraftsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodEnsure, DraftsServer.Ensure),
		unary(MethodEnsureForParent, DraftsServer.EnsureForParent),
		unary(MethodGet, DraftsServer.Get),
		unary(MethodGetForParent, DraftsServer.GetForParent),
		unary(MethodSetReplyTarget, DraftsServer.SetReplyTarget),
		unary(MethodPublish, DraftsServer.Publish),
		unary(MethodSave, DraftsServer.Save),
		unary(MethodSaveDebounced, DraftsServer.SaveDebounced),
		unary(MethodAbandon, DraftsServer.Abandon),
		unary(MethodListActive, DraftsServer.ListActive),
		unary(MethodStatus, DraftsServer.Status),
		unary(MethodDump, DraftsServer.Dump),
		unary(MethodClear, DraftsServer.Clear),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "drafts/v1/drafts.proto",
}

// Register registers srv on s.
func Register(s grpc.ServiceRegistrar, srv DraftsServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls the drafts service over cc.
type Client struct{ cc grpc.ClientConnInterface }

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// Call invokes method with req; a nil req sends an empty Struct.
func (c *Client) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
