// Command gk-drafts-server starts the drafts gRPC server.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/goph-drafts/internal/config"
	"github.com/and161185/goph-drafts/internal/drafts"
	"github.com/and161185/goph-drafts/internal/migrate"
	"github.com/and161185/goph-drafts/internal/repository"
	"github.com/and161185/goph-drafts/internal/repository/memory"
	"github.com/and161185/goph-drafts/internal/repository/postgres"
	grpcserver "github.com/and161185/goph-drafts/internal/server/grpc"
	"github.com/and161185/goph-drafts/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, opens the content store and serves the drafts API.
func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	newLogger := zap.NewProduction
	if cfg.Dev {
		newLogger = zap.NewDevelopment
	}
	logger, _ := newLogger()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store),
	)

	if cfg.JWTKey == "" {
		logger.Fatal("missing jwt signing key (--jwt-key)")
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer closeStore()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := drafts.NewMetrics(reg)
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	sessions := session.NewRegistry(store, cfg.Drafts.Options, metrics, logger)

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.AuthUnary([]byte(cfg.JWTKey)),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else if !cfg.Dev {
		logger.Fatal("plaintext gRPC is allowed in dev mode only (set --tls-cert)")
	}
	s := grpc.NewServer(opts...)

	app := grpcserver.New(sessions, []byte(cfg.JWTKey), cfg.Dev, logger)
	grpcserver.Register(s, app)

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(grpcserver.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLSCert != ""))
		errCh <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		hs.Shutdown()
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
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		closeStore()
		os.Exit(1)
	}

	// Pending debounced saves land before the store goes away.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sessions.Close(shutdownCtx); err != nil {
		logger.Warn("flush drafts on shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	logger.Info("shutdown complete")
}

// openStore builds the configured content store. The returned close func is idempotent.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repository.ContentStore, func(), error) {
	if cfg.Store != config.StorePostgres {
		return memory.New(logger.Named("memory")), func() {}, nil
	}
	if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
		return nil, nil, err
	}
	db, err := postgres.New(ctx, cfg.DSN, cfg.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	closed := false
	return postgres.NewContentRepo(db), func() {
		if !closed {
			closed = true
			db.Close()
		}
	}, nil
}
