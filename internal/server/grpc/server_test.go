package grpcserver

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/and161185/venue-trace/internal/backend/grpcclient"
	"github.com/and161185/venue-trace/internal/backend/stub"
	"github.com/and161185/venue-trace/internal/crypto/tracecrypto"
	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/and161185/venue-trace/internal/payload"
	pb "github.com/and161185/venue-trace/internal/rpc/tracev1"
	"github.com/and161185/venue-trace/internal/traceid"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1 << 20

func startBufGRPC(t *testing.T, srv *Server) (*grpc.ClientConn, func()) {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	log := zaptest.NewLogger(t)
	gs := NewGRPCServer(srv, grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log), ClientUnary()))
	go func() { _ = gs.Serve(lis) }()
	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	stop := func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() }
	return cc, stop
}

func newStub(t *testing.T) *stub.Backend {
	t.Helper()
	b, err := stub.New(stub.WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("stub: %v", err)
	}
	return b
}

func newIdentity(t *testing.T) model.UserIdentity {
	t.Helper()
	sk, err := tracecrypto.GenerateSigningKey(rand.Reader)
	if err != nil {
		t.Fatalf("signing key: %v", err)
	}
	secret, err := tracecrypto.Rand(rand.Reader, tracecrypto.SecretLen)
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	return model.UserIdentity{SigningKey: sk, DataSecret: secret}
}

func TestServer_E2E_CheckInFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sb := newStub(t)
	cc, stop := startBufGRPC(t, New(sb))
	defer stop()
	cl := grpcclient.New(cc)
	codec := payload.NewCodec(model.DeviceTypeIOS)

	id := newIdentity(t)
	reg, err := codec.BuildUserRegistrationData(id, model.ContactData{Version: 2, FirstName: "A", LastName: "B", PhoneNumber: "1"})
	if err != nil {
		t.Fatalf("registration data: %v", err)
	}
	id.UserID, err = cl.RegisterUser(ctx, reg)
	if err != nil || id.UserID == uuid.Nil {
		t.Fatalf("register: %v %s", err, id.UserID)
	}

	dk, err := cl.FetchDailyPublicKey(ctx)
	if err != nil {
		t.Fatalf("daily key: %v", err)
	}
	ik, err := cl.FetchIssuerKeys(ctx, dk.IssuerID)
	if err != nil || ik.IssuerID != sb.IssuerID() {
		t.Fatalf("issuer keys: %v %+v", err, ik)
	}

	loc := uuid.Must(uuid.NewV4())
	added, err := sb.AddScanner(ctx, loc)
	if err != nil {
		t.Fatalf("add scanner: %v", err)
	}
	sc, err := cl.ResolveScanner(ctx, added.ScannerID)
	if err != nil || sc.LocationID != loc {
		t.Fatalf("resolve scanner: %v %+v", err, sc)
	}

	eph, err := tracecrypto.GenerateKeyPair(rand.Reader)
	if err != nil {
		t.Fatalf("ephemeral: %v", err)
	}
	tid := traceid.Derive(make([]byte, 32), id.UserID, traceid.MinuteTimestamp(time.Now()))
	q, err := codec.BuildQRCode(payload.QRInput{TraceID: tid, Identity: id, Ephemeral: eph, DailyKey: dk})
	if err != nil {
		t.Fatalf("qr: %v", err)
	}
	p, err := codec.BuildCheckIn(q, sc, nil)
	if err != nil {
		t.Fatalf("check-in payload: %v", err)
	}
	if err := cl.SubmitCheckIn(ctx, p); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if uid, ok := sb.TraceUser(p.TraceID); !ok || uid != id.UserID {
		t.Fatalf("backend recovered wrong user: %s", uid)
	}

	info, err := cl.FetchTraceInfo(ctx, p.TraceID)
	if err != nil || !info.IsCheckedIn() {
		t.Fatalf("trace info: %v %+v", err, info)
	}

	if err := cl.SubmitCheckOut(ctx, payload.BuildCheckOut(p.TraceID, time.Now())); err != nil {
		t.Fatalf("check-out: %v", err)
	}
	if err := cl.SubmitCheckOut(ctx, payload.BuildCheckOut(p.TraceID, time.Now())); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("second check-out: want not found, got %v", err)
	}
	infos, err := cl.FetchTraceInfos(ctx, []string{p.TraceID})
	if err != nil || len(infos) != 1 || infos[0].IsCheckedIn() {
		t.Fatalf("trace infos: %v %+v", err, infos)
	}

	if err := cl.DeleteUser(ctx, id.UserID, []byte{1, 2, 3}); !errors.Is(err, errs.ErrSignatureInvalid) {
		t.Fatalf("bad deletion signature: got %v", err)
	}
	sig, err := codec.SignUserDeletion(id)
	if err != nil {
		t.Fatalf("sign deletion: %v", err)
	}
	if err := cl.DeleteUser(ctx, id.UserID, sig); err != nil {
		t.Fatalf("delete user: %v", err)
	}
}

func TestServer_E2E_ErrorMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sb := newStub(t)
	cc, stop := startBufGRPC(t, New(sb))
	defer stop()
	cl := grpcclient.New(cc)

	if _, err := cl.FetchTraceInfo(ctx, "unknown"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown trace: %v", err)
	}
	if _, err := cl.ResolveScanner(ctx, uuid.Must(uuid.NewV4())); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown scanner: %v", err)
	}
	if err := cl.SubmitCheckOut(ctx, model.CheckOutPayload{}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("empty check-out: %v", err)
	}

	raw := pb.NewTraceBackendClient(cc)
	_, err := raw.ResolveScanner(ctx, &pb.ScannerRequest{ScannerId: "nope"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("bad scanner id: want InvalidArgument, got %v", err)
	}
	_, err = raw.SubmitCheckIn(ctx, &pb.CheckIn{ScannerId: "nope"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("bad check-in: want InvalidArgument, got %v", err)
	}
	acc, err := raw.FetchAccessedTraceIds(ctx, &pb.Empty{})
	if err != nil || len(acc.Entries) != 0 {
		t.Fatalf("accessed: %v %+v", err, acc)
	}
}

func TestToStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want codes.Code
	}{
		{errs.ErrNotFound, codes.NotFound},
		{errs.ErrEventNotValid, codes.FailedPrecondition},
		{errs.ErrInvalidArgument, codes.InvalidArgument},
		{errs.ErrSignatureInvalid, codes.PermissionDenied},
		{errs.ErrRateLimited, codes.ResourceExhausted},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
	}
	for _, c := range cases {
		if got := status.Code(toStatus("op", c.err)); got != c.want {
			t.Fatalf("%v: want %s, got %s", c.err, c.want, got)
		}
	}
}
