// Package busv1 describes the pollbus.v1.Bus gRPC service. Requests and
// responses are google.protobuf.Struct values so clients in any language can
// call it with stock well-known types.
//
//	Send   {"entries":[{"channel":"a","payload":<any>}]} -> {"ids":[1]}
//	Poll   {"channels":["a"],"last":0,"timeout_ms":1000,"filter":""}
//	       -> {"messages":[{"id","channel","payload","created_at"}],"last":1}
//	Stream {"channels":["a"],"last":0,"filter":""} -> stream of message structs
package busv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "pollbus.v1.Bus"

const (
	SendMethod   = "/pollbus.v1.Bus/Send"
	PollMethod   = "/pollbus.v1.Bus/Poll"
	StreamMethod = "/pollbus.v1.Bus/Stream"
)

// BusServer is implemented by the gRPC adapter.
type BusServer interface {
	Send(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Poll(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stream(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

func RegisterBusServer(s grpc.ServiceRegistrar, srv BusServer) {
	s.RegisterService(&BusServiceDesc, srv)
}

var BusServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BusServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Send", Handler: sendHandler},
		{MethodName: "Poll", Handler: pollHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Stream", Handler: streamHandler, ServerStreams: true},
	},
	Metadata: "pollbus/v1/bus.proto",
}

func sendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BusServer).Send(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SendMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BusServer).Send(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func pollHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BusServer).Poll(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PollMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BusServer).Poll(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BusServer).Stream(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// BusClient is the client side of pollbus.v1.Bus.
type BusClient struct {
	cc grpc.ClientConnInterface
}

func NewBusClient(cc grpc.ClientConnInterface) *BusClient { return &BusClient{cc: cc} }

func (c *BusClient) Send(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SendMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BusClient) Poll(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, PollMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BusClient) Stream(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &BusServiceDesc.Streams[0], StreamMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
