// Package grpcclient implements backend.Backend over the trace gRPC API.
package grpcclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/and161185/venue-trace/internal/backend"
	"github.com/and161185/venue-trace/internal/convert"
	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/model"
	pb "github.com/and161185/venue-trace/internal/rpc/tracev1"
	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Client talks to a trace backend.
type Client struct {
	cli pb.TraceBackendClient
}

var _ backend.Backend = (*Client)(nil)

// New wraps an established connection.
func New(cc grpc.ClientConnInterface) *Client {
	return &Client{cli: pb.NewTraceBackendClient(cc)}
}

// TLSOptions selects transport security for Dial.
type TLSOptions struct {
	CACert   string // PEM file; empty uses the system roots
	Insecure bool   // skip certificate verification
	Plain    bool   // no TLS at all
}

// LoadTLS builds transport credentials from opts.
func LoadTLS(opts TLSOptions) (credentials.TransportCredentials, error) {
	switch {
	case opts.Plain:
		return insecure.NewCredentials(), nil
	case opts.Insecure:
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // dev only
	case opts.CACert == "":
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(opts.CACert)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// Dial connects to addr. The caller closes the returned connection.
func Dial(addr string, opts TLSOptions, extra ...grpc.DialOption) (*grpc.ClientConn, *Client, error) {
	creds, err := LoadTLS(opts)
	if err != nil {
		return nil, nil, err
	}
	cc, err := grpc.NewClient(addr, append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, extra...)...)
	if err != nil {
		return nil, nil, err
	}
	return cc, New(cc), nil
}

// fromStatus maps a gRPC status to the package sentinels. Anything that is
// not a definite protocol answer is a network error.
func fromStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	s, ok := status.FromError(err)
	if !ok {
		return errs.Network(op, err)
	}
	switch s.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	case codes.FailedPrecondition:
		return fmt.Errorf("%s: %w: %s", op, errs.ErrEventNotValid, s.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w: %s", op, errs.ErrInvalidArgument, s.Message())
	case codes.PermissionDenied:
		return fmt.Errorf("%s: %w", op, errs.ErrSignatureInvalid)
	default:
		return errs.Network(op, err)
	}
}

func (c *Client) FetchDailyPublicKey(ctx context.Context) (model.DailyKey, error) {
	out, err := c.cli.FetchDailyPublicKey(ctx, &pb.Empty{})
	if err != nil {
		return model.DailyKey{}, fromStatus("fetch daily key", err)
	}
	return convert.FromWireDailyKey(out)
}

func (c *Client) FetchIssuerKeys(ctx context.Context, issuerID uuid.UUID) (model.IssuerKeys, error) {
	out, err := c.cli.FetchIssuerKeys(ctx, &pb.IssuerKeysRequest{IssuerId: issuerID.String()})
	if err != nil {
		return model.IssuerKeys{}, fromStatus("fetch issuer keys", err)
	}
	return convert.FromWireIssuerKeys(out)
}

func (c *Client) ResolveScanner(ctx context.Context, scannerID uuid.UUID) (model.Scanner, error) {
	out, err := c.cli.ResolveScanner(ctx, &pb.ScannerRequest{ScannerId: scannerID.String()})
	if err != nil {
		return model.Scanner{}, fromStatus("resolve scanner", err)
	}
	return convert.FromWireScanner(out)
}

func (c *Client) SubmitCheckIn(ctx context.Context, p model.CheckInPayload) error {
	_, err := c.cli.SubmitCheckIn(ctx, convert.ToWireCheckIn(p))
	return fromStatus("submit check-in", err)
}

func (c *Client) SubmitCheckOut(ctx context.Context, p model.CheckOutPayload) error {
	_, err := c.cli.SubmitCheckOut(ctx, convert.ToWireCheckOut(p))
	return fromStatus("submit check-out", err)
}

func (c *Client) SubmitAdditionalData(ctx context.Context, p model.AdditionalDataPayload) error {
	_, err := c.cli.SubmitAdditionalData(ctx, convert.ToWireAdditionalData(p))
	return fromStatus("submit additional data", err)
}

func (c *Client) FetchTraceInfo(ctx context.Context, traceID string) (model.TraceInfo, error) {
	out, err := c.cli.FetchTraceInfo(ctx, &pb.TraceInfoRequest{TraceId: traceID})
	if err != nil {
		return model.TraceInfo{}, fromStatus("fetch trace info", err)
	}
	return convert.FromWireTraceInfo(*out)
}

func (c *Client) FetchTraceInfos(ctx context.Context, traceIDs []string) ([]model.TraceInfo, error) {
	out, err := c.cli.FetchTraceInfos(ctx, &pb.TraceInfosRequest{TraceIds: traceIDs})
	if err != nil {
		return nil, fromStatus("fetch trace infos", err)
	}
	return convert.FromWireTraceInfos(out)
}

func (c *Client) RegisterUser(ctx context.Context, d model.UserRegistrationData) (uuid.UUID, error) {
	out, err := c.cli.RegisterUser(ctx, convert.ToWireUserData(d))
	if err != nil {
		return uuid.Nil, fromStatus("register user", err)
	}
	return convert.ParseID("userId", out.UserId)
}

func (c *Client) UpdateUser(ctx context.Context, userID uuid.UUID, d model.UserRegistrationData) error {
	_, err := c.cli.UpdateUser(ctx, &pb.UpdateUserRequest{UserId: userID.String(), Data: *convert.ToWireUserData(d)})
	return fromStatus("update user", err)
}

func (c *Client) DeleteUser(ctx context.Context, userID uuid.UUID, signature []byte) error {
	_, err := c.cli.DeleteUser(ctx, &pb.DeleteUserRequest{UserId: userID.String(), Signature: signature})
	return fromStatus("delete user", err)
}

func (c *Client) FetchAccessedTraceIDs(ctx context.Context) ([]model.AccessedHashes, error) {
	out, err := c.cli.FetchAccessedTraceIds(ctx, &pb.Empty{})
	if err != nil {
		return nil, fromStatus("fetch accessed trace ids", err)
	}
	return convert.FromWireAccessed(out)
}
