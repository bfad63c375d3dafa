// Package grpcserver exposes a trace backend over gRPC.
package grpcserver

import (
	"context"
	"errors"

	"github.com/and161185/venue-trace/internal/backend"
	"github.com/and161185/venue-trace/internal/convert"
	"github.com/and161185/venue-trace/internal/errs"
	pb "github.com/and161185/venue-trace/internal/rpc/tracev1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server adapts a backend.Backend to the wire API.
type Server struct {
	pb.UnimplementedTraceBackendServer
	b backend.Backend
}

// New constructs a gRPC server around b.
func New(b backend.Backend) *Server {
	return &Server{b: b}
}

// NewGRPCServer returns a grpc.Server with srv registered. The trace service
// is served with the JSON codec, selected by content subtype.
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) *grpc.Server {
	gs := grpc.NewServer(opts...)
	pb.RegisterTraceBackendServer(gs, srv)
	return gs
}

// toStatus maps backend errors to gRPC codes.
func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrEventNotValid):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	case errors.Is(err, errs.ErrInvalidArgument):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, errs.ErrSignatureInvalid):
		return status.Error(codes.PermissionDenied, "signature invalid")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}

func badRequest(err error) error {
	return status.Error(codes.InvalidArgument, err.Error())
}

// --- Keys ---

// FetchDailyPublicKey returns the newest daily key.
func (s *Server) FetchDailyPublicKey(ctx context.Context, _ *pb.Empty) (*pb.DailyKey, error) {
	k, err := s.b.FetchDailyPublicKey(ctx)
	if err != nil {
		return nil, toStatus("fetch daily key", err)
	}
	return convert.ToWireDailyKey(k), nil
}

// FetchIssuerKeys returns the signing key of an issuer.
func (s *Server) FetchIssuerKeys(ctx context.Context, req *pb.IssuerKeysRequest) (*pb.IssuerKeys, error) {
	id, err := convert.ParseID("issuerId", req.IssuerId)
	if err != nil {
		return nil, badRequest(err)
	}
	k, err := s.b.FetchIssuerKeys(ctx, id)
	if err != nil {
		return nil, toStatus("fetch issuer keys", err)
	}
	return convert.ToWireIssuerKeys(k), nil
}

// ResolveScanner returns a scanner and its venue key.
func (s *Server) ResolveScanner(ctx context.Context, req *pb.ScannerRequest) (*pb.Scanner, error) {
	id, err := convert.ParseID("scannerId", req.ScannerId)
	if err != nil {
		return nil, badRequest(err)
	}
	sc, err := s.b.ResolveScanner(ctx, id)
	if err != nil {
		return nil, toStatus("resolve scanner", err)
	}
	return convert.ToWireScanner(sc), nil
}

// --- Submissions ---

// SubmitCheckIn registers a check-in.
func (s *Server) SubmitCheckIn(ctx context.Context, req *pb.CheckIn) (*pb.Empty, error) {
	p, err := convert.FromWireCheckIn(req)
	if err != nil {
		return nil, badRequest(err)
	}
	if err := s.b.SubmitCheckIn(ctx, p); err != nil {
		return nil, toStatus("check-in", err)
	}
	return &pb.Empty{}, nil
}

// SubmitCheckOut closes a trace.
func (s *Server) SubmitCheckOut(ctx context.Context, req *pb.CheckOut) (*pb.Empty, error) {
	if req.TraceId == "" {
		return nil, status.Error(codes.InvalidArgument, "empty traceId")
	}
	if err := s.b.SubmitCheckOut(ctx, convert.FromWireCheckOut(req)); err != nil {
		return nil, toStatus("check-out", err)
	}
	return &pb.Empty{}, nil
}

// SubmitAdditionalData stores the venue side channel of a trace.
func (s *Server) SubmitAdditionalData(ctx context.Context, req *pb.AdditionalData) (*pb.Empty, error) {
	if req.TraceId == "" {
		return nil, status.Error(codes.InvalidArgument, "empty traceId")
	}
	if err := s.b.SubmitAdditionalData(ctx, convert.FromWireAdditionalData(req)); err != nil {
		return nil, toStatus("additional data", err)
	}
	return &pb.Empty{}, nil
}

// --- Trace state ---

// FetchTraceInfo returns one trace record.
func (s *Server) FetchTraceInfo(ctx context.Context, req *pb.TraceInfoRequest) (*pb.TraceInfo, error) {
	t, err := s.b.FetchTraceInfo(ctx, req.TraceId)
	if err != nil {
		return nil, toStatus("trace info", err)
	}
	w := convert.ToWireTraceInfo(t)
	return &w, nil
}

// FetchTraceInfos returns the records of the known ids.
func (s *Server) FetchTraceInfos(ctx context.Context, req *pb.TraceInfosRequest) (*pb.TraceInfos, error) {
	ts, err := s.b.FetchTraceInfos(ctx, req.TraceIds)
	if err != nil {
		return nil, toStatus("trace infos", err)
	}
	return convert.ToWireTraceInfos(ts), nil
}

// --- Users ---

// RegisterUser stores a signed contact package and assigns a user id.
func (s *Server) RegisterUser(ctx context.Context, req *pb.UserData) (*pb.RegisterUserResponse, error) {
	id, err := s.b.RegisterUser(ctx, convert.FromWireUserData(req))
	if err != nil {
		return nil, toStatus("register user", err)
	}
	return &pb.RegisterUserResponse{UserId: id.String()}, nil
}

// UpdateUser replaces the contact package of a user.
func (s *Server) UpdateUser(ctx context.Context, req *pb.UpdateUserRequest) (*pb.Empty, error) {
	id, err := convert.ParseID("userId", req.UserId)
	if err != nil {
		return nil, badRequest(err)
	}
	if err := s.b.UpdateUser(ctx, id, convert.FromWireUserData(&req.Data)); err != nil {
		return nil, toStatus("update user", err)
	}
	return &pb.Empty{}, nil
}

// DeleteUser removes a user.
func (s *Server) DeleteUser(ctx context.Context, req *pb.DeleteUserRequest) (*pb.Empty, error) {
	id, err := convert.ParseID("userId", req.UserId)
	if err != nil {
		return nil, badRequest(err)
	}
	if len(req.Signature) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty signature")
	}
	if err := s.b.DeleteUser(ctx, id, req.Signature); err != nil {
		return nil, toStatus("delete user", err)
	}
	return &pb.Empty{}, nil
}

// FetchAccessedTraceIds lists the hashed trace ids health departments accessed.
func (s *Server) FetchAccessedTraceIds(ctx context.Context, _ *pb.Empty) (*pb.AccessedTraceIds, error) {
	as, err := s.b.FetchAccessedTraceIDs(ctx)
	if err != nil {
		return nil, toStatus("accessed trace ids", err)
	}
	return convert.ToWireAccessed(as), nil
}
