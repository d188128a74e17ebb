// Command charforge-server runs the backend: the gRPC API, the HTTP
// verification function, health and metrics.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/charforge/internal/api"
	"github.com/and161185/charforge/internal/cache"
	"github.com/and161185/charforge/internal/config"
	"github.com/and161185/charforge/internal/limiter"
	"github.com/and161185/charforge/internal/metrics"
	"github.com/and161185/charforge/internal/migrate"
	"github.com/and161185/charforge/internal/repository/postgres"
	grpcserver "github.com/and161185/charforge/internal/server/grpc"
	httpserver "github.com/and161185/charforge/internal/server/http"
	"github.com/and161185/charforge/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

func newLogger(cfg *config.Server) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Env == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// main loads configuration, runs migrations and serves gRPC and HTTP until a
// termination signal.
func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "YAML config file (optional)")
	flag.Parse()

	cfg, err := config.LoadServer(*cfgPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.String("http_addr", cfg.HTTPAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Server, logger *zap.Logger) error {
	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	db := &postgres.DB{Pool: pool}

	rdb, err := cache.Connect(ctx, cache.Options{
		Addr:        cfg.Redis.Addr,
		Username:    cfg.Redis.Username,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		MaxRetries:  cfg.Redis.MaxRetries,
		DialTimeout: cfg.Redis.DialTimeout,
		Timeout:     cfg.Redis.Timeout,
	})
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()
	rcache := cache.New(rdb, cfg.Redis.UsageTTL, cfg.Redis.OutcomeTTL)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	signKey := []byte(cfg.JWTKey)
	lim := limiter.NewRedis(rdb, cfg.Limiter.Window, cfg.Limiter.MaxFails, cfg.Limiter.BlockFor)

	authSvc := service.NewAuthService(postgres.NewUserRepo(db), signKey, cfg.AccessTTL, lim)
	usageSvc := service.NewUsageService(postgres.NewUsageRepo(db), cfg.SubscriptionDays, logger,
		service.WithUsageCache(rcache),
		service.WithMetrics(m),
	)
	paySvc := service.NewPaymentService(usageSvc, rcache, logger, m)
	gallerySvc := service.NewGalleryService(postgres.NewGalleryRepo(db))

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.AuthUnary(signKey),
		),
	}
	if cfg.TLSEnabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return err
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled, serving plaintext gRPC")
	}
	gs := grpc.NewServer(opts...)
	api.RegisterCharforgeServer(gs, grpcserver.New(authSvc, usageSvc, paySvc, gallerySvc, cfg.SupportKey, logger))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	if cfg.Dev() {
		// Only the health service has a file descriptor. Charforge is listed
		// but cannot be described, since its messages go over the JSON codec.
		reflection.Register(gs)
	}

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpserver.NewRouter(httpserver.Deps{
			Payments:    paySvc,
			SignKey:     signKey,
			Gatherer:    reg,
			Log:         logger,
			VerifyRate:  rate.Limit(cfg.Verify.RatePerSecond),
			VerifyBurst: cfg.Verify.Burst,
			Ready:       pool.Ping,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", cfg.TLSEnabled()))
		return gs.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpSrv.Shutdown(sctx)

		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-sctx.Done():
			gs.Stop()
		}
		return nil
	})
	return g.Wait()
}
