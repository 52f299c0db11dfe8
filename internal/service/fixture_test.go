package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/and161185/sharegate/internal/clock"
	"github.com/and161185/sharegate/internal/limiter"
	"github.com/and161185/sharegate/internal/model"
	"github.com/and161185/sharegate/internal/monitor"
	"github.com/and161185/sharegate/internal/repository"
	"github.com/and161185/sharegate/internal/repository/memory"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Wednesday, so the current week started two days earlier.
var t0 = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type harness struct {
	clk       *clock.Manual
	shares    *memory.ShareRepo
	ledger    *memory.Ledger
	blacklist *memory.BlacklistRepo
	limiter   *limiter.Memory
	monitor   *monitor.Monitor
	stats     *StatsServiceImpl
	security  *SecurityCoordinator
	recorder  *AccessRecorderImpl
	owner     uuid.UUID
}

type harnessOpt func(*SecurityConfig, *RecorderDeps)

func withTrusted(cidrs ...string) harnessOpt {
	return func(c *SecurityConfig, _ *RecorderDeps) { c.TrustedNetworks = cidrs }
}

func withAutoBlacklist(after int) harnessOpt {
	return func(c *SecurityConfig, _ *RecorderDeps) { c.AutoBlacklistAfter = after }
}

func withLedger(l repository.AccessLedger) harnessOpt {
	return func(_ *SecurityConfig, d *RecorderDeps) { d.Ledger = l }
}

// newHarness wires the pipeline with the default limits: 100 per IP,
// 20 per share and IP, threshold 50, 15m block step, 240m max block.
func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	t.Helper()

	h := &harness{
		clk:       clock.NewManual(t0),
		shares:    memory.NewShareRepo(),
		ledger:    memory.NewLedger(),
		blacklist: memory.NewBlacklistRepo(),
		owner:     uuid.Must(uuid.NewV4()),
	}
	log := zaptest.NewLogger(t)
	h.limiter = limiter.NewMemory(limiter.Config{Shards: 8}, h.clk)
	h.monitor = monitor.New(monitor.Config{Shards: 8}, h.clk)
	h.stats = NewStatsService(h.shares, h.ledger, h.clk, StatsConfig{})

	secCfg := SecurityConfig{Shards: 8}
	deps := RecorderDeps{
		Shares:  h.shares,
		Ledger:  h.ledger,
		Limiter: h.limiter,
		Monitor: h.monitor,
		Clock:   h.clk,
		Log:     log,
	}
	for _, o := range opts {
		o(&secCfg, &deps)
	}

	sec, err := NewSecurityCoordinator(SecurityDeps{
		Blacklist: h.blacklist,
		Ledger:    h.ledger,
		Limiter:   h.limiter,
		Monitor:   h.monitor,
		Stats:     h.stats,
		Clock:     h.clk,
		Log:       log,
	}, secCfg)
	require.NoError(t, err)
	h.security = sec
	t.Cleanup(sec.Wait)

	deps.Guard = sec
	h.recorder = NewAccessRecorder(deps)
	return h
}

// wrapShares rebuilds the recorder on top of a wrapper of h.shares.
func (h *harness) wrapShares(t *testing.T, wrap func(*memory.ShareRepo) repository.ShareRepository) {
	t.Helper()
	h.recorder = NewAccessRecorder(RecorderDeps{
		Shares:  wrap(h.shares),
		Ledger:  h.ledger,
		Limiter: h.limiter,
		Monitor: h.monitor,
		Guard:   h.security,
		Clock:   h.clk,
		Log:     zaptest.NewLogger(t),
	})
}

// share stores an active share directly, bypassing ShareService.
func (h *harness) share(t *testing.T, token string, perm model.Permission, maxAccess *int64) {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	require.NoError(t, h.shares.Create(context.Background(), &model.ShareRecord{
		ID:         id,
		Token:      token,
		FileID:     uuid.Must(uuid.NewV4()),
		OwnerID:    h.owner,
		Permission: perm,
		CreatedAt:  h.clk.Now(),
		UpdatedAt:  h.clk.Now(),
		Active:     true,
		MaxAccess:  maxAccess,
	}))
}

func (h *harness) access(t *testing.T, token, ip string, at model.AccessType) model.AuthorizationResult {
	t.Helper()
	res, err := h.recorder.Authorize(context.Background(), AccessRequest{
		Token:     token,
		IP:        ip,
		UserAgent: "test",
		Type:      at,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) count(t *testing.T, token string) int64 {
	t.Helper()
	rec, err := h.shares.FindByToken(context.Background(), token)
	require.NoError(t, err)
	return rec.AccessCount
}

func ptr[T any](v T) *T { return &v }

var errStorage = errors.New("storage unavailable")

// failingLedger rejects every append.
type failingLedger struct{}

var _ repository.AccessLedger = failingLedger{}

func (failingLedger) Append(context.Context, model.AccessEvent) error { return errStorage }
func (failingLedger) ListByToken(context.Context, string, time.Time) ([]model.AccessEvent, error) {
	return nil, errStorage
}
func (failingLedger) ListSince(context.Context, time.Time) ([]model.AccessEvent, error) {
	return nil, errStorage
}

// flakyShares wraps a real repository and overrides selected calls.
type flakyShares struct {
	*memory.ShareRepo
	findErr  error
	incErr   error
	incDelay time.Duration // stands in for a storage round trip
}

func (f *flakyShares) FindByToken(ctx context.Context, token string) (*model.ShareRecord, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.ShareRepo.FindByToken(ctx, token)
}

func (f *flakyShares) IncrementAccessCount(ctx context.Context, token string, now time.Time) (int64, error) {
	time.Sleep(f.incDelay)
	if f.incErr != nil {
		return 0, f.incErr
	}
	return f.ShareRepo.IncrementAccessCount(ctx, token, now)
}
