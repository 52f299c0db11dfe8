// Command sharegate serves shared files over HTTP and the admin API over gRPC.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/sharegate/internal/config"
	"github.com/and161185/sharegate/internal/filestore"
	"github.com/and161185/sharegate/internal/limiter"
	"github.com/and161185/sharegate/internal/migrate"
	"github.com/and161185/sharegate/internal/monitor"
	"github.com/and161185/sharegate/internal/repository"
	"github.com/and161185/sharegate/internal/repository/memory"
	"github.com/and161185/sharegate/internal/repository/postgres"
	"github.com/and161185/sharegate/internal/repository/sqlite"
	grpcserver "github.com/and161185/sharegate/internal/server/grpc"
	httpserver "github.com/and161185/sharegate/internal/server/http"
	"github.com/and161185/sharegate/internal/service"
	"github.com/and161185/sharegate/internal/sweeper"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// repos bundles the storage backends selected by storage.driver.
type repos struct {
	shares    repository.ShareRepository
	ledger    repository.AccessLedger
	blacklist repository.BlacklistRepository
	close     func()
}

func openStorage(ctx context.Context, cfg config.Storage) (*repos, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		if err := migrate.Up(ctx, migrate.DriverPostgres, cfg.DSN); err != nil {
			return nil, err
		}
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return &repos{
			shares:    postgres.NewShareRepo(db),
			ledger:    postgres.NewLedgerRepo(db),
			blacklist: postgres.NewBlacklistRepo(db),
			close:     db.Close,
		}, nil
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := migrate.UpDB(ctx, db.SQL, migrate.DriverSQLite); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &repos{
			shares:    sqlite.NewShareRepo(db),
			ledger:    sqlite.NewLedgerRepo(db),
			blacklist: sqlite.NewBlacklistRepo(db),
			close:     func() { _ = db.Close() },
		}, nil
	default:
		return &repos{
			shares:    memory.NewShareRepo(),
			ledger:    memory.NewLedger(),
			blacklist: memory.NewBlacklistRepo(),
			close:     func() {},
		}, nil
	}
}

// main loads configuration, opens storage and runs both servers until a signal arrives.
func main() {
	cfgPath := flag.String("config", "", "YAML config file (optional)")
	dev := flag.Bool("dev", false, "development mode: console logs, reflection, plaintext gRPC allowed")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}
	if *dev {
		cfg.Dev = true
	}
	if err := cfg.Validate(); err != nil {
		_, _ = os.Stderr.WriteString("invalid config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc", cfg.GRPCAddr),
		zap.String("storage", cfg.Storage.Driver),
	)

	if cfg.JWTKey == "" {
		logger.Fatal("missing jwt signing key (jwt_key / SHAREGATE_JWT_KEY)")
	}

	var creds credentials.TransportCredentials
	switch {
	case cfg.TLS.Enabled():
		creds, err = credentials.NewServerTLSFromFile(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
	case !cfg.Dev:
		logger.Fatal("tls.cert and tls.key are required outside dev mode")
	default:
		logger.Warn("admin API without TLS (dev mode)")
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}
	defer store.close()

	files, err := filestore.NewLocal(cfg.FilesPath)
	if err != nil {
		logger.Fatal("file store", zap.Error(err))
	}

	sec := cfg.Security
	lim := limiter.NewMemory(limiter.Config{
		GlobalLimit:  sec.MaxAccessPerIPPerHour,
		ShareLimit:   sec.MaxAccessPerSharePerIPPerHour,
		Window:       sec.Window(),
		StaleWindows: cfg.Sweep.StaleWindows,
		FailureLimit: sec.MaxPasswordFailures,
		Shards:       sec.Shards,
	}, nil)
	mon := monitor.New(monitor.Config{
		Threshold: sec.SuspiciousActivityThreshold,
		Step:      sec.BlockStep(),
		MaxBlock:  sec.MaxBlock(),
		Shards:    sec.Shards,
	}, nil)

	// Services
	statsSvc := service.NewStatsService(store.shares, store.ledger, nil, service.StatsConfig{
		Weeks:     cfg.Stats.Weeks,
		Window:    sec.Window(),
		Threshold: sec.SuspiciousActivityThreshold,
	})
	security, err := service.NewSecurityCoordinator(service.SecurityDeps{
		Blacklist: store.blacklist,
		Ledger:    store.ledger,
		Limiter:   lim,
		Monitor:   mon,
		Stats:     statsSvc,
		Log:       logger.Named("security"),
	}, service.SecurityConfig{
		AutoBlacklistAfter:    sec.AutoBlacklistAfter,
		AutoBlacklistDuration: time.Duration(sec.AutoBlacklistHours) * time.Hour,
		ReportLookback:        cfg.Stats.ReportLookback,
		TrustedNetworks:       sec.TrustedNetworks,
		Shards:                sec.Shards,
	})
	if err != nil {
		logger.Fatal("security", zap.Error(err))
	}
	n, err := security.Load(ctx)
	if err != nil {
		logger.Fatal("load blacklist", zap.Error(err))
	}
	logger.Info("blacklist loaded", zap.Int("entries", n))

	recorder := service.NewAccessRecorder(service.RecorderDeps{
		Shares:  store.shares,
		Ledger:  store.ledger,
		Limiter: lim,
		Monitor: mon,
		Guard:   security,
		Log:     logger.Named("access"),
	})
	shareSvc := service.NewShareService(store.shares, nil)
	authSvc := service.NewAuthService([]byte(cfg.JWTKey))

	sw := sweeper.New(cfg.Sweep.Interval, logger.Named("sweeper"),
		sweeper.Task{Name: "expired_shares", Run: func(ctx context.Context) (int, error) {
			n, err := store.shares.DeactivateExpired(ctx, time.Now())
			return int(n), err
		}},
		sweeper.Task{Name: "rate_counters", Run: func(context.Context) (int, error) { return lim.Sweep(), nil }},
		sweeper.Task{Name: "suspicious_ips", Run: func(context.Context) (int, error) { return mon.Sweep(), nil }},
		sweeper.Task{Name: "blacklist", Run: security.Sweep},
	)
	sw.Start()
	defer sw.Stop()

	// gRPC server with interceptors
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.RateLimitUnary(cfg.Admin.RPS, cfg.Admin.Burst),
			grpcserver.AuthUnary(authSvc),
		),
	}
	if creds != nil {
		opts = append(opts, grpc.Creds(creds))
	}
	gs := grpc.NewServer(opts...)
	grpcserver.New(grpcserver.Deps{
		Shares:         shareSvc,
		Stats:          statsSvc,
		Security:       security,
		ReportLookback: cfg.Stats.ReportLookback,
	}).Register(gs)

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	if cfg.Dev {
		reflection.Register(gs)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
	web := httpserver.New(recorder, files, logger.Named("http"), httpserver.Options{TrustProxy: cfg.TrustProxy})

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", creds != nil))
		errCh <- gs.Serve(lis)
	}()
	go func() { errCh <- web.Start(cfg.HTTPAddr) }()

	// Wait for stop
	var exitCode int
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exitCode = 1
	}

	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := web.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		gs.Stop()
	}

	security.Wait()
	logger.Info("shutdown complete")
	if exitCode != 0 {
		sw.Stop()
		store.close()
		os.Exit(exitCode)
	}
}
