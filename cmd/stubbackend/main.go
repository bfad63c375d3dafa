// Command stubbackend serves an in-memory trace backend over gRPC for local
// development: it issues signed daily keys, resolves scanners and accepts
// check-ins and check-outs.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/venue-trace/internal/backend/stub"
	"github.com/and161185/venue-trace/internal/limiter"
	"github.com/and161185/venue-trace/internal/metrics"
	"github.com/and161185/venue-trace/internal/migrate"
	grpcserver "github.com/and161185/venue-trace/internal/server/grpc"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses flags, prepares the stub backend and serves it until signalled.
func main() {
	// Flags
	addr := flag.String("addr", ":8443", "listen address")
	dsn := flag.String("dsn", "", "PostgreSQL DSN for the submission limiter (empty = in-memory)")
	certFile := flag.String("tls-cert", "cert.pem", "TLS certificate (PEM)")
	keyFile := flag.String("tls-key", "key.pem", "TLS private key (PEM)")
	plaintext := flag.Bool("plaintext", false, "serve without TLS (dev only)")
	dev := flag.Bool("dev", false, "enable server reflection (dev only)")
	rotateEvery := flag.Duration("rotate-every", 24*time.Hour, "daily key rotation interval")
	scanners := flag.Int("scanners", 1, "scanners to create at startup")
	metricsAddr := flag.String("metrics-addr", "", "serve /metrics on this address")
	flag.Parse()

	logger, _ := zap.NewProduction()
	if *dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []stub.Option{stub.WithLogger(logger)}
	if *dsn != "" {
		if _, err := migrate.Up(ctx, *dsn, logger); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		pool, err := pgxpool.New(ctx, *dsn)
		if err != nil {
			logger.Fatal("pgxpool.New", zap.Error(err))
		}
		defer pool.Close()
		opts = append(opts, stub.WithLimiter(limiter.NewPG(pool, 15*time.Minute, 5, 15*time.Minute)))
	}

	b, err := stub.New(opts...)
	if err != nil {
		logger.Fatal("stub backend", zap.Error(err))
	}
	for i := 0; i < *scanners; i++ {
		sc, err := b.AddScanner(ctx, uuid.Must(uuid.NewV4()))
		if err != nil {
			logger.Fatal("add scanner", zap.Error(err))
		}
		logger.Info("scanner ready",
			zap.String("scannerId", sc.ScannerID.String()),
			zap.String("locationId", sc.LocationID.String()))
	}

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	// gRPC server with interceptors
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.MetricsUnary(met),
			grpcserver.ClientUnary(),
		),
	}
	if !*plaintext {
		creds, err := credentials.NewServerTLSFromFile(*certFile, *keyFile)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}
	s := grpcserver.NewGRPCServer(grpcserver.New(b), serverOpts...)

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if *dev {
		reflection.Register(s)
	}

	go rotate(ctx, b, *rotateEvery, logger)

	var metricsSrv *http.Server
	if *metricsAddr != "" {
		metricsSrv = &http.Server{Addr: *metricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	// Listen
	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", *addr), zap.Bool("tls", !*plaintext))
		errCh <- s.Serve(lis)
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		hs.Shutdown()
		// graceful shutdown
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
		if metricsSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = metricsSrv.Shutdown(sctx)
			cancel()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// rotate publishes a new daily key every interval until ctx is done.
func rotate(ctx context.Context, b *stub.Backend, every time.Duration, log *zap.Logger) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := b.RotateDailyKey(ctx); err != nil {
				log.Warn("daily key rotation", zap.Error(err))
			}
		}
	}
}
