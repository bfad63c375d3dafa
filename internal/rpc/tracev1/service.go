package tracev1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "venuetrace.v1.TraceBackend"

// Method names.
const (
	MethodFetchDailyPublicKey   = "FetchDailyPublicKey"
	MethodFetchIssuerKeys       = "FetchIssuerKeys"
	MethodResolveScanner        = "ResolveScanner"
	MethodSubmitCheckIn         = "SubmitCheckIn"
	MethodSubmitCheckOut        = "SubmitCheckOut"
	MethodSubmitAdditionalData  = "SubmitAdditionalData"
	MethodFetchTraceInfo        = "FetchTraceInfo"
	MethodFetchTraceInfos       = "FetchTraceInfos"
	MethodRegisterUser          = "RegisterUser"
	MethodUpdateUser            = "UpdateUser"
	MethodDeleteUser            = "DeleteUser"
	MethodFetchAccessedTraceIds = "FetchAccessedTraceIds"
)

// FullMethod returns "/<service>/<method>".
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// TraceBackendServer is the server API.
type TraceBackendServer interface {
	FetchDailyPublicKey(context.Context, *Empty) (*DailyKey, error)
	FetchIssuerKeys(context.Context, *IssuerKeysRequest) (*IssuerKeys, error)
	ResolveScanner(context.Context, *ScannerRequest) (*Scanner, error)
	SubmitCheckIn(context.Context, *CheckIn) (*Empty, error)
	SubmitCheckOut(context.Context, *CheckOut) (*Empty, error)
	SubmitAdditionalData(context.Context, *AdditionalData) (*Empty, error)
	FetchTraceInfo(context.Context, *TraceInfoRequest) (*TraceInfo, error)
	FetchTraceInfos(context.Context, *TraceInfosRequest) (*TraceInfos, error)
	RegisterUser(context.Context, *UserData) (*RegisterUserResponse, error)
	UpdateUser(context.Context, *UpdateUserRequest) (*Empty, error)
	DeleteUser(context.Context, *DeleteUserRequest) (*Empty, error)
	FetchAccessedTraceIds(context.Context, *Empty) (*AccessedTraceIds, error)
}

// UnimplementedTraceBackendServer answers every call with codes.Unimplemented.
type UnimplementedTraceBackendServer struct{}

func unimplemented(m string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", m)
}

func (UnimplementedTraceBackendServer) FetchDailyPublicKey(context.Context, *Empty) (*DailyKey, error) {
	return nil, unimplemented(MethodFetchDailyPublicKey)
}
func (UnimplementedTraceBackendServer) FetchIssuerKeys(context.Context, *IssuerKeysRequest) (*IssuerKeys, error) {
	return nil, unimplemented(MethodFetchIssuerKeys)
}
func (UnimplementedTraceBackendServer) ResolveScanner(context.Context, *ScannerRequest) (*Scanner, error) {
	return nil, unimplemented(MethodResolveScanner)
}
func (UnimplementedTraceBackendServer) SubmitCheckIn(context.Context, *CheckIn) (*Empty, error) {
	return nil, unimplemented(MethodSubmitCheckIn)
}
func (UnimplementedTraceBackendServer) SubmitCheckOut(context.Context, *CheckOut) (*Empty, error) {
	return nil, unimplemented(MethodSubmitCheckOut)
}
func (UnimplementedTraceBackendServer) SubmitAdditionalData(context.Context, *AdditionalData) (*Empty, error) {
	return nil, unimplemented(MethodSubmitAdditionalData)
}
func (UnimplementedTraceBackendServer) FetchTraceInfo(context.Context, *TraceInfoRequest) (*TraceInfo, error) {
	return nil, unimplemented(MethodFetchTraceInfo)
}
func (UnimplementedTraceBackendServer) FetchTraceInfos(context.Context, *TraceInfosRequest) (*TraceInfos, error) {
	return nil, unimplemented(MethodFetchTraceInfos)
}
func (UnimplementedTraceBackendServer) RegisterUser(context.Context, *UserData) (*RegisterUserResponse, error) {
	return nil, unimplemented(MethodRegisterUser)
}
func (UnimplementedTraceBackendServer) UpdateUser(context.Context, *UpdateUserRequest) (*Empty, error) {
	return nil, unimplemented(MethodUpdateUser)
}
func (UnimplementedTraceBackendServer) DeleteUser(context.Context, *DeleteUserRequest) (*Empty, error) {
	return nil, unimplemented(MethodDeleteUser)
}
func (UnimplementedTraceBackendServer) FetchAccessedTraceIds(context.Context, *Empty) (*AccessedTraceIds, error) {
	return nil, unimplemented(MethodFetchAccessedTraceIds)
}

// RegisterTraceBackendServer registers srv on s.
func RegisterTraceBackendServer(s grpc.ServiceRegistrar, srv TraceBackendServer) {
	s.RegisterService(&TraceBackend_ServiceDesc, srv)
}

func handler[Req, Resp any](method string, call func(TraceBackendServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return call(srv.(TraceBackendServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(TraceBackendServer), ctx, req.(*Req))
			})
		},
	}
}

// TraceBackend_ServiceDesc describes the service for grpc.ServiceRegistrar.
//
//nolint:revive,stylecheck // generated-code naming
var TraceBackend_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TraceBackendServer)(nil),
	Methods: []grpc.MethodDesc{
		handler(MethodFetchDailyPublicKey, TraceBackendServer.FetchDailyPublicKey),
		handler(MethodFetchIssuerKeys, TraceBackendServer.FetchIssuerKeys),
		handler(MethodResolveScanner, TraceBackendServer.ResolveScanner),
		handler(MethodSubmitCheckIn, TraceBackendServer.SubmitCheckIn),
		handler(MethodSubmitCheckOut, TraceBackendServer.SubmitCheckOut),
		handler(MethodSubmitAdditionalData, TraceBackendServer.SubmitAdditionalData),
		handler(MethodFetchTraceInfo, TraceBackendServer.FetchTraceInfo),
		handler(MethodFetchTraceInfos, TraceBackendServer.FetchTraceInfos),
		handler(MethodRegisterUser, TraceBackendServer.RegisterUser),
		handler(MethodUpdateUser, TraceBackendServer.UpdateUser),
		handler(MethodDeleteUser, TraceBackendServer.DeleteUser),
		handler(MethodFetchAccessedTraceIds, TraceBackendServer.FetchAccessedTraceIds),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "venuetrace/v1/backend.json",
}

// TraceBackendClient is the client API.
type TraceBackendClient interface {
	FetchDailyPublicKey(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*DailyKey, error)
	FetchIssuerKeys(ctx context.Context, in *IssuerKeysRequest, opts ...grpc.CallOption) (*IssuerKeys, error)
	ResolveScanner(ctx context.Context, in *ScannerRequest, opts ...grpc.CallOption) (*Scanner, error)
	SubmitCheckIn(ctx context.Context, in *CheckIn, opts ...grpc.CallOption) (*Empty, error)
	SubmitCheckOut(ctx context.Context, in *CheckOut, opts ...grpc.CallOption) (*Empty, error)
	SubmitAdditionalData(ctx context.Context, in *AdditionalData, opts ...grpc.CallOption) (*Empty, error)
	FetchTraceInfo(ctx context.Context, in *TraceInfoRequest, opts ...grpc.CallOption) (*TraceInfo, error)
	FetchTraceInfos(ctx context.Context, in *TraceInfosRequest, opts ...grpc.CallOption) (*TraceInfos, error)
	RegisterUser(ctx context.Context, in *UserData, opts ...grpc.CallOption) (*RegisterUserResponse, error)
	UpdateUser(ctx context.Context, in *UpdateUserRequest, opts ...grpc.CallOption) (*Empty, error)
	DeleteUser(ctx context.Context, in *DeleteUserRequest, opts ...grpc.CallOption) (*Empty, error)
	FetchAccessedTraceIds(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*AccessedTraceIds, error)
}

type traceBackendClient struct {
	cc grpc.ClientConnInterface
}

// NewTraceBackendClient wraps cc. Every call forces Codec.
func NewTraceBackendClient(cc grpc.ClientConnInterface) TraceBackendClient {
	return &traceBackendClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *traceBackendClient) FetchDailyPublicKey(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*DailyKey, error) {
	return invoke[DailyKey](ctx, c.cc, MethodFetchDailyPublicKey, in, opts)
}
func (c *traceBackendClient) FetchIssuerKeys(ctx context.Context, in *IssuerKeysRequest, opts ...grpc.CallOption) (*IssuerKeys, error) {
	return invoke[IssuerKeys](ctx, c.cc, MethodFetchIssuerKeys, in, opts)
}
func (c *traceBackendClient) ResolveScanner(ctx context.Context, in *ScannerRequest, opts ...grpc.CallOption) (*Scanner, error) {
	return invoke[Scanner](ctx, c.cc, MethodResolveScanner, in, opts)
}
func (c *traceBackendClient) SubmitCheckIn(ctx context.Context, in *CheckIn, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodSubmitCheckIn, in, opts)
}
func (c *traceBackendClient) SubmitCheckOut(ctx context.Context, in *CheckOut, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodSubmitCheckOut, in, opts)
}
func (c *traceBackendClient) SubmitAdditionalData(ctx context.Context, in *AdditionalData, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodSubmitAdditionalData, in, opts)
}
func (c *traceBackendClient) FetchTraceInfo(ctx context.Context, in *TraceInfoRequest, opts ...grpc.CallOption) (*TraceInfo, error) {
	return invoke[TraceInfo](ctx, c.cc, MethodFetchTraceInfo, in, opts)
}
func (c *traceBackendClient) FetchTraceInfos(ctx context.Context, in *TraceInfosRequest, opts ...grpc.CallOption) (*TraceInfos, error) {
	return invoke[TraceInfos](ctx, c.cc, MethodFetchTraceInfos, in, opts)
}
func (c *traceBackendClient) RegisterUser(ctx context.Context, in *UserData, opts ...grpc.CallOption) (*RegisterUserResponse, error) {
	return invoke[RegisterUserResponse](ctx, c.cc, MethodRegisterUser, in, opts)
}
func (c *traceBackendClient) UpdateUser(ctx context.Context, in *UpdateUserRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodUpdateUser, in, opts)
}
func (c *traceBackendClient) DeleteUser(ctx context.Context, in *DeleteUserRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodDeleteUser, in, opts)
}
func (c *traceBackendClient) FetchAccessedTraceIds(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*AccessedTraceIds, error) {
	return invoke[AccessedTraceIds](ctx, c.cc, MethodFetchAccessedTraceIds, in, opts)
}
