package grpcbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	remoteServiceName = "mission.remote.v1.RemoteMission"
	robotServiceName  = "mission.robot.v1.Robot"
)

// Full method names of the remote mission service.
const (
	MethodEstablishSession = "/" + remoteServiceName + "/EstablishSession"
	MethodTick             = "/" + remoteServiceName + "/Tick"
	MethodStop             = "/" + remoteServiceName + "/Stop"
	MethodTeardownSession  = "/" + remoteServiceName + "/TeardownSession"
)

// RemoteServer is the server side of the remote mission service.
//
// EstablishSession receives {node, lease_resources, inputs} and answers
// {session_id}. Tick, Stop and TeardownSession receive {session_id}. Tick
// answers {status, error, outputs} where status is RUNNING, SUCCESS or
// FAILURE.
type RemoteServer interface {
	EstablishSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Tick(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Stop(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	TeardownSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterRemoteServer registers srv with s.
func RegisterRemoteServer(s grpc.ServiceRegistrar, srv RemoteServer) {
	s.RegisterService(&remoteServiceDesc, srv)
}

var remoteServiceDesc = grpc.ServiceDesc{
	ServiceName: remoteServiceName,
	HandlerType: (*RemoteServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "EstablishSession", Handler: handler(RemoteServer.EstablishSession, MethodEstablishSession)},
		{MethodName: "Tick", Handler: handler(RemoteServer.Tick, MethodTick)},
		{MethodName: "Stop", Handler: handler(RemoteServer.Stop, MethodStop)},
		{MethodName: "TeardownSession", Handler: handler(RemoteServer.TeardownSession, MethodTeardownSession)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mission/remote/v1/remote.proto",
}

// handler adapts a Struct-in, Struct-out method to a grpc.MethodHandler.
func handler[S any](call func(S, context.Context, *structpb.Struct) (*structpb.Struct, error), fullMethod string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(S), ctx, req.(*structpb.Struct))
		})
	}
}

// invoke calls a Struct-in, Struct-out method.
func invoke(ctx context.Context, cc grpc.ClientConnInterface, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return out, nil
}

// fromStruct decodes a Struct into out through its JSON form.
func fromStruct(s *structpb.Struct, out any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func sessionRequest(id string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"session_id": structpb.NewStringValue(id),
	}}
}
