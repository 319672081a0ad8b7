package benchpb

import (
	"context"

	"google.golang.org/grpc"
)

// Hand-written service bindings for the two control-plane services. They
// mirror what protoc-gen-go-grpc would emit for:
//
//	service BenchmarkMaster {
//	  rpc CheckIn(ClientInfo) returns (CheckinResponse);
//	}
//	service BenchmarkClient {
//	  rpc Setup(SetupConfig) returns (SetupResponse);
//	  rpc Cleanup(CleanupInfo) returns (CleanupResponse);
//	  rpc Shutdown(ShutdownRequest) returns (ShutdownAck);
//	}

const (
	MasterCheckInMethod  = "/distbench.BenchmarkMaster/CheckIn"
	ClientSetupMethod    = "/distbench.BenchmarkClient/Setup"
	ClientCleanupMethod  = "/distbench.BenchmarkClient/Cleanup"
	ClientShutdownMethod = "/distbench.BenchmarkClient/Shutdown"
)

// MasterServer is the master-side control-plane service.
type MasterServer interface {
	CheckIn(ctx context.Context, in *ClientInfo) (*CheckinResponse, error)
}

func RegisterMasterServer(s grpc.ServiceRegistrar, srv MasterServer) {
	s.RegisterService(&masterServiceDesc, srv)
}

var masterServiceDesc = grpc.ServiceDesc{
	ServiceName: "distbench.BenchmarkMaster",
	HandlerType: (*MasterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckIn", Handler: masterCheckInHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func masterCheckInHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ClientInfo)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MasterServer).CheckIn(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MasterCheckInMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MasterServer).CheckIn(ctx, req.(*ClientInfo))
	}
	return interceptor(ctx, in, info, handler)
}

// MasterClient is the stub used by clients to check in.
type MasterClient struct {
	cc grpc.ClientConnInterface
}

func NewMasterClient(cc grpc.ClientConnInterface) *MasterClient {
	return &MasterClient{cc: cc}
}

func (m *MasterClient) CheckIn(ctx context.Context, in *ClientInfo, opts ...grpc.CallOption) (*CheckinResponse, error) {
	out := new(CheckinResponse)
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	if err := m.cc.Invoke(ctx, MasterCheckInMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ClientServer is the client-side control-plane service.
type ClientServer interface {
	Setup(ctx context.Context, in *SetupConfig) (*SetupResponse, error)
	Cleanup(ctx context.Context, in *CleanupInfo) (*CleanupResponse, error)
	Shutdown(ctx context.Context, in *ShutdownRequest) (*ShutdownAck, error)
}

func RegisterClientServer(s grpc.ServiceRegistrar, srv ClientServer) {
	s.RegisterService(&clientServiceDesc, srv)
}

var clientServiceDesc = grpc.ServiceDesc{
	ServiceName: "distbench.BenchmarkClient",
	HandlerType: (*ClientServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Setup", Handler: clientSetupHandler},
		{MethodName: "Cleanup", Handler: clientCleanupHandler},
		{MethodName: "Shutdown", Handler: clientShutdownHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func clientSetupHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SetupConfig)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClientServer).Setup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ClientSetupMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClientServer).Setup(ctx, req.(*SetupConfig))
	}
	return interceptor(ctx, in, info, handler)
}

func clientCleanupHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CleanupInfo)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClientServer).Cleanup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ClientCleanupMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClientServer).Cleanup(ctx, req.(*CleanupInfo))
	}
	return interceptor(ctx, in, info, handler)
}

func clientShutdownHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ShutdownRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClientServer).Shutdown(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ClientShutdownMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClientServer).Shutdown(ctx, req.(*ShutdownRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// BenchClient is the stub the master uses to drive one checked-in client.
type BenchClient struct {
	cc grpc.ClientConnInterface
}

func NewBenchClient(cc grpc.ClientConnInterface) *BenchClient {
	return &BenchClient{cc: cc}
}

func (m *BenchClient) Setup(ctx context.Context, in *SetupConfig, opts ...grpc.CallOption) (*SetupResponse, error) {
	out := new(SetupResponse)
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	if err := m.cc.Invoke(ctx, ClientSetupMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *BenchClient) Cleanup(ctx context.Context, in *CleanupInfo, opts ...grpc.CallOption) (*CleanupResponse, error) {
	out := new(CleanupResponse)
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	if err := m.cc.Invoke(ctx, ClientCleanupMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *BenchClient) Shutdown(ctx context.Context, in *ShutdownRequest, opts ...grpc.CallOption) (*ShutdownAck, error) {
	out := new(ShutdownAck)
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	if err := m.cc.Invoke(ctx, ClientShutdownMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
