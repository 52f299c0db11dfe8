package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/and161185/sharegate/internal/clock"
	"github.com/and161185/sharegate/internal/limiter"
	"github.com/and161185/sharegate/internal/monitor"
	"github.com/and161185/sharegate/internal/repository/memory"
	"github.com/and161185/sharegate/internal/service"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1 << 20

func ctxAuth(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(),
		metadata.Pairs("authorization", "Bearer "+token))
}

// fixture runs the admin service over bufconn with the production interceptor chain.
type fixture struct {
	cc       *grpc.ClientConn
	auth     *service.AuthServiceImpl
	shares   *memory.ShareRepo
	ledger   *memory.Ledger
	security *service.SecurityCoordinator
	clk      *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	clk := clock.NewManual(time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC))
	shares, ledger := memory.NewShareRepo(), memory.NewLedger()
	lim := limiter.NewMemory(limiter.Config{GlobalLimit: 100, ShareLimit: 20, Shards: 4}, clk)
	mon := monitor.New(monitor.Config{Shards: 4}, clk)
	stats := service.NewStatsService(shares, ledger, clk, service.StatsConfig{})

	sec, err := service.NewSecurityCoordinator(service.SecurityDeps{
		Blacklist: memory.NewBlacklistRepo(),
		Ledger:    ledger,
		Limiter:   lim,
		Monitor:   mon,
		Stats:     stats,
		Clock:     clk,
		Log:       log,
	}, service.SecurityConfig{Shards: 4})
	require.NoError(t, err)

	f := &fixture{
		auth:     service.NewAuthService([]byte("test-secret")),
		shares:   shares,
		ledger:   ledger,
		security: sec,
		clk:      clk,
	}
	srv := New(Deps{
		Shares:   service.NewShareService(shares, clk),
		Stats:    stats,
		Security: sec,
	})

	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		LoggingUnary(log),
		RateLimitUnary(1000, 1000),
		AuthUnary(f.auth),
	))
	srv.Register(gs)
	healthpb.RegisterHealthServer(gs, health.NewServer())
	go func() { _ = gs.Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	f.cc = cc
	return f
}

// client returns an admin client authenticated as a fresh subject.
func (f *fixture) client(t *testing.T, admin bool) (*Client, uuid.UUID) {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	return f.clientFor(t, id, admin), id
}

func (f *fixture) clientFor(t *testing.T, id uuid.UUID, admin bool) *Client {
	t.Helper()
	tok, _, err := f.auth.IssueToken(id, admin, time.Hour)
	require.NoError(t, err)
	return NewClient(f.cc, tok)
}
