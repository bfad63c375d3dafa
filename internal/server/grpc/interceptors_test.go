package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/and161185/venue-trace/internal/backend"
	"github.com/and161185/venue-trace/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

func TestLoggingUnary_Passthrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := context.Background()

	ctx = peer.NewContext(ctx, &peer.Peer{Addr: fakeAddr{}})

	h := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/venuetrace.v1.TraceBackend/Method"}

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s, _ := resp.(string); s != "ok" {
		t.Fatalf("resp mismatch: %v", resp)
	}

	wantErr := errors.New("boom")
	hErr := func(ctx context.Context, req any) (any, error) { return nil, wantErr }
	_, err = ic(ctx, "req", info, hErr)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := RecoverUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/venuetrace.v1.TraceBackend/Panic"}

	panicH := func(ctx context.Context, req any) (any, error) {
		panic("oh no")
	}

	_, err := ic(ctx, "req", info, panicH)
	if err == nil {
		t.Fatalf("expected error from panic")
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestRecoverUnary_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := RecoverUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/venuetrace.v1.TraceBackend/Ok"}

	h := func(ctx context.Context, req any) (any, error) { return 42, nil }

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if resp.(int) != 42 {
		t.Fatalf("resp mismatch: %v", resp)
	}
}

func TestLoggingUnary_DurationFieldDoesNotBlock(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/venuetrace.v1.TraceBackend/Sleep"}
	h := func(ctx context.Context, req any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "done", nil
	}

	start := time.Now()
	resp, err := ic(ctx, "req", info, h)
	if err != nil || resp.(string) != "done" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatalf("duration should reflect handler time")
	}
}

func TestClientUnary_StoresPeerHost(t *testing.T) {
	t.Parallel()

	ic := ClientUnary()
	info := &grpc.UnaryServerInfo{FullMethod: "/venuetrace.v1.TraceBackend/SubmitCheckIn"}

	var got string
	h := func(ctx context.Context, req any) (any, error) {
		got, _ = backend.ClientFromCtx(ctx)
		return nil, nil
	}
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	if _, err := ic(ctx, "req", info, h); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != "127.0.0.1" {
		t.Fatalf("client host: %q", got)
	}

	got = "unset"
	if _, err := ic(context.Background(), "req", info, h); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != "" {
		t.Fatalf("no peer must leave client unset, got %q", got)
	}
}

func TestMetricsUnary_CountsByCode(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	ic := MetricsUnary(metrics.New(reg))
	info := &grpc.UnaryServerInfo{FullMethod: "/venuetrace.v1.TraceBackend/FetchTraceInfo"}

	ok := func(context.Context, any) (any, error) { return "ok", nil }
	nf := func(context.Context, any) (any, error) { return nil, status.Error(codes.NotFound, "nope") }
	for _, h := range []grpc.UnaryHandler{ok, ok, nf} {
		_, _ = ic(context.Background(), "req", info, h)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counts := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "venuetrace_grpc_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "code" {
					counts[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	if counts["OK"] != 2 || counts["NotFound"] != 1 {
		t.Fatalf("counts: %v", counts)
	}

	// nil metrics must not panic
	if _, err := MetricsUnary(nil)(context.Background(), "req", info, ok); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}
