package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// serviceName is the fully-qualified gRPC service name, kept the way
// protoc-gen-go-grpc would derive it from a runtime.v1.Runtime service
// declaration. No .proto file for it exists in this module; the
// service is defined only by the Go code in this package.
const serviceName = "runtime.v1.Runtime"

// RuntimeClient is the worker-side view of the Runtime service: one
// bidirectional OpenChannel stream plus the unary control RPCs.
type RuntimeClient interface {
	OpenChannel(ctx context.Context, opts ...grpc.CallOption) (Runtime_OpenChannelClient, error)
	GetState(ctx context.Context, in *GetStateRequest, opts ...grpc.CallOption) (*AgentState, error)
	SaveState(ctx context.Context, in *SaveStateRequest, opts ...grpc.CallOption) (*SaveResponse, error)
	AddSubscription(ctx context.Context, in *AddSubscriptionRequest, opts ...grpc.CallOption) (*AddSubscriptionResponse, error)
	RegisterAgent(ctx context.Context, in *RegisterAgentTypeRequest, opts ...grpc.CallOption) (*RegisterAgentTypeResponse, error)
}

type runtimeClient struct {
	cc grpc.ClientConnInterface
}

// NewRuntimeClient wraps a grpc.ClientConn in a RuntimeClient. Callers
// must have dialed with grpc.WithDefaultCallOptions(grpc.ForceCodec(wire.Codec()))
// (see cmd/worker and agents/echo for examples).
func NewRuntimeClient(cc grpc.ClientConnInterface) RuntimeClient {
	return &runtimeClient{cc: cc}
}

func (c *runtimeClient) OpenChannel(ctx context.Context, opts ...grpc.CallOption) (Runtime_OpenChannelClient, error) {
	stream, err := c.cc.NewStream(ctx, &runtimeServiceDesc.Streams[0], serviceName+"/OpenChannel", opts...)
	if err != nil {
		return nil, err
	}
	return &runtimeOpenChannelClient{stream}, nil
}

func (c *runtimeClient) GetState(ctx context.Context, in *GetStateRequest, opts ...grpc.CallOption) (*AgentState, error) {
	out := new(AgentState)
	if err := c.cc.Invoke(ctx, serviceName+"/GetState", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *runtimeClient) SaveState(ctx context.Context, in *SaveStateRequest, opts ...grpc.CallOption) (*SaveResponse, error) {
	out := new(SaveResponse)
	if err := c.cc.Invoke(ctx, serviceName+"/SaveState", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *runtimeClient) AddSubscription(ctx context.Context, in *AddSubscriptionRequest, opts ...grpc.CallOption) (*AddSubscriptionResponse, error) {
	out := new(AddSubscriptionResponse)
	if err := c.cc.Invoke(ctx, serviceName+"/AddSubscription", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *runtimeClient) RegisterAgent(ctx context.Context, in *RegisterAgentTypeRequest, opts ...grpc.CallOption) (*RegisterAgentTypeResponse, error) {
	out := new(RegisterAgentTypeResponse)
	if err := c.cc.Invoke(ctx, serviceName+"/RegisterAgent", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Runtime_OpenChannelClient is the worker-side stream handle.
type Runtime_OpenChannelClient interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
	grpc.ClientStream
}

type runtimeOpenChannelClient struct {
	grpc.ClientStream
}

func (x *runtimeOpenChannelClient) Send(e *Envelope) error {
	return x.ClientStream.SendMsg(e)
}

func (x *runtimeOpenChannelClient) Recv() (*Envelope, error) {
	e := new(Envelope)
	if err := x.ClientStream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

// RuntimeServer is the gateway-side Runtime service implementation
// contract. UnimplementedRuntimeServer embeds default Unimplemented
// behavior so the gateway only needs to override the methods it uses,
// matching protoc-gen-go-grpc's forward-compatibility convention.
type RuntimeServer interface {
	OpenChannel(Runtime_OpenChannelServer) error
	GetState(context.Context, *GetStateRequest) (*AgentState, error)
	SaveState(context.Context, *SaveStateRequest) (*SaveResponse, error)
	AddSubscription(context.Context, *AddSubscriptionRequest) (*AddSubscriptionResponse, error)
	RegisterAgent(context.Context, *RegisterAgentTypeRequest) (*RegisterAgentTypeResponse, error)
	mustEmbedUnimplementedRuntimeServer()
}

// UnimplementedRuntimeServer must be embedded by every RuntimeServer
// implementation.
type UnimplementedRuntimeServer struct{}

func (UnimplementedRuntimeServer) OpenChannel(Runtime_OpenChannelServer) error {
	return status.Error(codes.Unimplemented, "method OpenChannel not implemented")
}

func (UnimplementedRuntimeServer) GetState(context.Context, *GetStateRequest) (*AgentState, error) {
	return nil, status.Error(codes.Unimplemented, "method GetState not implemented")
}

func (UnimplementedRuntimeServer) SaveState(context.Context, *SaveStateRequest) (*SaveResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SaveState not implemented")
}

func (UnimplementedRuntimeServer) AddSubscription(context.Context, *AddSubscriptionRequest) (*AddSubscriptionResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AddSubscription not implemented")
}

func (UnimplementedRuntimeServer) RegisterAgent(context.Context, *RegisterAgentTypeRequest) (*RegisterAgentTypeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RegisterAgent not implemented")
}

func (UnimplementedRuntimeServer) mustEmbedUnimplementedRuntimeServer() {}

// Runtime_OpenChannelServer is the gateway-side stream handle.
type Runtime_OpenChannelServer interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
	grpc.ServerStream
}

type runtimeOpenChannelServer struct {
	grpc.ServerStream
}

func (x *runtimeOpenChannelServer) Send(e *Envelope) error {
	return x.ServerStream.SendMsg(e)
}

func (x *runtimeOpenChannelServer) Recv() (*Envelope, error) {
	e := new(Envelope)
	if err := x.ServerStream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

// RegisterRuntimeServer registers srv with s, the way protoc-gen-go-grpc's
// generated RegisterRuntimeServer would.
func RegisterRuntimeServer(s grpc.ServiceRegistrar, srv RuntimeServer) {
	s.RegisterService(&runtimeServiceDesc, srv)
}

func openChannelHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(RuntimeServer).OpenChannel(&runtimeOpenChannelServer{stream})
}

func getStateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetStateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RuntimeServer).GetState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/GetState"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RuntimeServer).GetState(ctx, req.(*GetStateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func saveStateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SaveStateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RuntimeServer).SaveState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/SaveState"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RuntimeServer).SaveState(ctx, req.(*SaveStateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func addSubscriptionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AddSubscriptionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RuntimeServer).AddSubscription(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/AddSubscription"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RuntimeServer).AddSubscription(ctx, req.(*AddSubscriptionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func registerAgentHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RegisterAgentTypeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RuntimeServer).RegisterAgent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/RegisterAgent"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RuntimeServer).RegisterAgent(ctx, req.(*RegisterAgentTypeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var runtimeServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RuntimeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetState", Handler: getStateHandler},
		{MethodName: "SaveState", Handler: saveStateHandler},
		{MethodName: "AddSubscription", Handler: addSubscriptionHandler},
		{MethodName: "RegisterAgent", Handler: registerAgentHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "OpenChannel",
			Handler:       openChannelHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "runtime/v1/runtime.proto",
}
