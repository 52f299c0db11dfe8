package service

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/and161185/sharegate/internal/clock"
	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/iplist"
	"github.com/and161185/sharegate/internal/limiter"
	"github.com/and161185/sharegate/internal/model"
	"github.com/and161185/sharegate/internal/monitor"
	"github.com/and161185/sharegate/internal/repository"
	"github.com/and161185/sharegate/internal/shardmap"
	"go.uber.org/zap"
)

// SecurityConfig holds the response policy.
type SecurityConfig struct {
	AutoBlacklistAfter    int           // suspicious events before an automatic ban; 0 disables
	AutoBlacklistDuration time.Duration // length of an automatic ban
	TrustedNetworks       []string      // IPs and CIDRs that bypass rate limiting and blocking
	ReportLookback        time.Duration // dashboard ledger lookback
	PersistTimeout        time.Duration // bound on blacklist writes made outside a request context
	Shards                int
}

// SecurityDeps are the collaborators of SecurityCoordinator.
type SecurityDeps struct {
	Blacklist repository.BlacklistRepository
	Ledger    repository.AccessLedger
	Limiter   limiter.Limiter
	Monitor   *monitor.Monitor
	Stats     StatsService
	Clock     clock.Clock
	Log       *zap.Logger
}

// SecurityCoordinator owns the blacklist and the trusted networks and answers
// administrative security queries. Lookups never take a global lock: single
// IPs live in a sharded map and networks in an immutable radix tree swapped
// atomically on change.
type SecurityCoordinator struct {
	repo    repository.BlacklistRepository
	ledger  repository.AccessLedger
	limiter limiter.Limiter
	monitor *monitor.Monitor
	stats   StatsService
	clock   clock.Clock
	log     *zap.Logger
	cfg     SecurityConfig

	exact   *shardmap.Map[model.BlacklistEntry]
	netMu   sync.Mutex
	netList map[string]model.BlacklistEntry
	nets    atomic.Pointer[iplist.Set[model.BlacklistEntry]]
	trusted *iplist.Set[string]

	persistMu sync.Mutex // orders automatic ban writes against Unblacklist
	pending   sync.WaitGroup
}

var _ IPGuard = (*SecurityCoordinator)(nil)

// NewSecurityCoordinator validates the trusted networks and subscribes to monitor escalations.
func NewSecurityCoordinator(d SecurityDeps, cfg SecurityConfig) (*SecurityCoordinator, error) {
	trusted, err := iplist.ParseNetworks(cfg.TrustedNetworks)
	if err != nil {
		return nil, fmt.Errorf("trusted networks: %w", err)
	}
	if cfg.AutoBlacklistDuration <= 0 {
		cfg.AutoBlacklistDuration = 24 * time.Hour
	}
	if cfg.ReportLookback <= 0 {
		cfg.ReportLookback = 24 * time.Hour
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 3 * time.Second
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	s := &SecurityCoordinator{
		repo:    d.Blacklist,
		ledger:  d.Ledger,
		limiter: d.Limiter,
		monitor: d.Monitor,
		stats:   d.Stats,
		clock:   d.Clock,
		log:     d.Log,
		cfg:     cfg,
		exact:   shardmap.New[model.BlacklistEntry](cfg.Shards),
		netList: make(map[string]model.BlacklistEntry),
		trusted: trusted,
	}
	s.nets.Store(&iplist.Set[model.BlacklistEntry]{})
	if s.monitor != nil && cfg.AutoBlacklistAfter > 0 {
		s.monitor.Subscribe(s.onEscalation)
	}
	return s, nil
}

func canonicalIP(ip string) (net.IP, string) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, ip
	}
	return parsed, parsed.String()
}

// IsBlacklisted reports whether ip is banned by an exact or network entry.
func (s *SecurityCoordinator) IsBlacklisted(ip string) (bool, model.BlacklistEntry) {
	now := s.clock.Now()
	parsed, key := canonicalIP(ip)

	var hit model.BlacklistEntry
	found := false
	s.exact.View(key, func(e *model.BlacklistEntry) bool {
		if e.Expired(now) {
			return false
		}
		hit, found = *e, true
		return true
	})
	if found {
		return true, hit
	}
	if parsed == nil {
		return false, model.BlacklistEntry{}
	}
	e, ok, err := s.nets.Load().LookupFunc(parsed, func(e model.BlacklistEntry) bool { return !e.Expired(now) })
	if err != nil {
		s.log.Warn("blacklist network lookup", zap.String("ip", ip), zap.Error(err))
		return false, model.BlacklistEntry{}
	}
	return ok, e
}

// IsTrusted reports whether ip belongs to a trusted network.
func (s *SecurityCoordinator) IsTrusted(ip string) bool {
	parsed, _ := canonicalIP(ip)
	return parsed != nil && s.trusted.Contains(parsed)
}

// Blacklist bans an IP or CIDR for durationHours and persists the entry.
func (s *SecurityCoordinator) Blacklist(ctx context.Context, ipOrCIDR string, durationHours int, reason string) (model.BlacklistEntry, error) {
	if durationHours <= 0 {
		return model.BlacklistEntry{}, fmt.Errorf("validation: non-positive duration: %w", errs.ErrInvalidArgument)
	}
	norm, _, err := iplist.Normalize(ipOrCIDR)
	if err != nil {
		return model.BlacklistEntry{}, fmt.Errorf("validation: %v: %w", err, errs.ErrInvalidArgument)
	}
	now := s.clock.Now()
	e := model.BlacklistEntry{
		IP:        norm,
		Reason:    reason,
		ExpiresAt: now.Add(time.Duration(durationHours) * time.Hour),
		CreatedBy: model.BlacklistManual,
		CreatedAt: now,
	}
	if err := s.repo.Upsert(ctx, e); err != nil {
		return model.BlacklistEntry{}, fmt.Errorf("persist blacklist entry: %w", err)
	}
	if err := s.put(e); err != nil {
		return model.BlacklistEntry{}, err
	}
	s.log.Info("blacklisted", zap.String("ip", e.IP), zap.String("reason", reason), zap.Time("until", e.ExpiresAt))
	return e, nil
}

// Unblacklist lifts a ban and grants the IP amnesty from suspicious blocking.
func (s *SecurityCoordinator) Unblacklist(ctx context.Context, ipOrCIDR string) error {
	norm, network, err := iplist.Normalize(ipOrCIDR)
	if err != nil {
		return fmt.Errorf("validation: %v: %w", err, errs.ErrInvalidArgument)
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	had := s.remove(norm, network)
	if err := s.repo.Delete(ctx, norm); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("delete blacklist entry: %w", err)
		}
		if !had {
			return errs.ErrNotFound
		}
	}
	if !network && s.monitor != nil {
		s.monitor.Release(norm)
	}
	s.log.Info("unblacklisted", zap.String("ip", norm))
	return nil
}

func (s *SecurityCoordinator) put(e model.BlacklistEntry) error {
	_, network, err := iplist.Normalize(e.IP)
	if err != nil {
		return err
	}
	if !network {
		s.exact.Store(e.IP, e)
		return nil
	}
	s.netMu.Lock()
	defer s.netMu.Unlock()
	s.netList[e.IP] = e
	return s.rebuildLocked()
}

func (s *SecurityCoordinator) remove(norm string, network bool) bool {
	if !network {
		_, ok := s.exact.Load(norm)
		s.exact.Delete(norm)
		return ok
	}
	s.netMu.Lock()
	defer s.netMu.Unlock()
	if _, ok := s.netList[norm]; !ok {
		return false
	}
	delete(s.netList, norm)
	if err := s.rebuildLocked(); err != nil {
		s.log.Error("rebuild blacklist networks", zap.Error(err))
	}
	return true
}

// rebuildLocked builds a fresh tree from netList; netMu must be held.
func (s *SecurityCoordinator) rebuildLocked() error {
	entries := make([]iplist.Entry[model.BlacklistEntry], 0, len(s.netList))
	for cidr, e := range s.netList {
		entries = append(entries, iplist.Entry[model.BlacklistEntry]{CIDR: cidr, Value: e})
	}
	set, err := iplist.New(entries)
	if err != nil {
		return err
	}
	s.nets.Store(set)
	return nil
}

// onEscalation bans IPs that keep escalating.
func (s *SecurityCoordinator) onEscalation(ev monitor.Event) {
	if ev.Count < s.cfg.AutoBlacklistAfter || s.IsTrusted(ev.IP) {
		return
	}
	if listed, _ := s.IsBlacklisted(ev.IP); listed {
		return
	}
	_, norm := canonicalIP(ev.IP)
	now := s.clock.Now()
	e := model.BlacklistEntry{
		IP:        norm,
		Reason:    fmt.Sprintf("automatic: %d suspicious events, last: %s", ev.Count, ev.Reason),
		ExpiresAt: now.Add(s.cfg.AutoBlacklistDuration),
		CreatedBy: model.BlacklistAutomatic,
		CreatedAt: now,
	}
	if err := s.put(e); err != nil {
		s.log.Warn("auto blacklist", zap.String("ip", ev.IP), zap.Error(err))
		return
	}
	s.log.Warn("auto blacklisted", zap.String("ip", e.IP), zap.Int("suspicious_count", ev.Count), zap.Time("until", e.ExpiresAt))

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.persistAuto(e)
	}()
}

// persistAuto writes an automatic ban unless it was lifted or replaced meanwhile.
func (s *SecurityCoordinator) persistAuto(e model.BlacklistEntry) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	cur, ok := s.exact.Load(e.IP)
	if !ok || cur.CreatedBy != model.BlacklistAutomatic || !cur.CreatedAt.Equal(e.CreatedAt) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()
	if err := s.repo.Upsert(ctx, e); err != nil {
		s.log.Warn("persist auto blacklist entry", zap.String("ip", e.IP), zap.Error(err))
	}
}

// Wait blocks until pending automatic ban writes are done.
func (s *SecurityCoordinator) Wait() { s.pending.Wait() }

// Entries returns the active blacklist, oldest first.
func (s *SecurityCoordinator) Entries() []model.BlacklistEntry {
	now := s.clock.Now()
	var out []model.BlacklistEntry
	s.exact.Range(func(_ string, e model.BlacklistEntry) bool {
		if !e.Expired(now) {
			out = append(out, e)
		}
		return true
	})
	s.netMu.Lock()
	for _, e := range s.netList {
		if !e.Expired(now) {
			out = append(out, e)
		}
	}
	s.netMu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].IP < out[j].IP
	})
	return out
}

// RateLimitStatus reports the global counter of ip.
func (s *SecurityCoordinator) RateLimitStatus(ip string) model.RateLimitStatus {
	_, norm := canonicalIP(ip)
	return s.limiter.Status(norm)
}

// ThreatLevel scores ip from its blacklist, monitor and limiter state.
func (s *SecurityCoordinator) ThreatLevel(ip string) model.IPThreat {
	_, norm := canonicalIP(ip)
	now := s.clock.Now()
	t := model.IPThreat{IP: norm}
	t.Blacklisted, _ = s.IsBlacklisted(norm)
	if st, ok := s.monitor.State(norm); ok {
		t.SuspiciousCount = st.Count
		if st.Blocked(now) {
			t.Blocked = true
			t.BlockedUntil = st.BlockedUntil
		}
	}
	t.CurrentCount = s.limiter.Status(norm).CurrentCount
	t.Level = s.level(t)
	return t
}

func (s *SecurityCoordinator) level(t model.IPThreat) model.ThreatLevel {
	switch {
	case t.Blacklisted:
		return model.ThreatCritical
	case t.SuspiciousCount >= 3, t.Blocked && t.SuspiciousCount >= 2:
		return model.ThreatHigh
	case t.Blocked, t.SuspiciousCount >= 1, t.CurrentCount > 0 && t.CurrentCount >= s.monitor.Threshold()/2:
		return model.ThreatMedium
	default:
		return model.ThreatLow
	}
}

// Dashboard aggregates the security view over the report lookback.
func (s *SecurityCoordinator) Dashboard(ctx context.Context) (model.SecurityDashboard, error) {
	now := s.clock.Now()
	events, err := s.ledger.ListSince(ctx, now.Add(-s.cfg.ReportLookback))
	if err != nil {
		return model.SecurityDashboard{}, fmt.Errorf("list ledger: %w", err)
	}
	reports, err := s.stats.SuspiciousPatterns(ctx, s.cfg.ReportLookback)
	if err != nil {
		return model.SecurityDashboard{}, fmt.Errorf("suspicious patterns: %w", err)
	}

	type agg struct {
		count  int
		shares map[string]struct{}
	}
	byIP := make(map[string]*agg)
	for _, ev := range events {
		a, ok := byIP[ev.IP]
		if !ok {
			a = &agg{shares: make(map[string]struct{})}
			byIP[ev.IP] = a
		}
		a.count++
		a.shares[ev.Token] = struct{}{}
	}
	top := make([]model.IPActivity, 0, len(byIP))
	for ip, a := range byIP {
		top = append(top, model.IPActivity{IP: ip, Count: a.count, Shares: len(a.shares)})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].IP < top[j].IP
	})
	if len(top) > 10 {
		top = top[:10]
	}

	d := model.SecurityDashboard{
		GeneratedAt:      now,
		AccessesLast24h:  len(events),
		UniqueIPsLast24h: len(byIP),
		TopIPs:           top,
		Suspicious:       reports,
		Blacklist:        s.Entries(),
		ThreatCounts:     make(map[model.ThreatLevel]int),
	}
	for _, st := range s.monitor.Snapshot() {
		t := s.ThreatLevel(st.IP)
		d.Blocked = append(d.Blocked, t)
		d.ThreatCounts[t.Level]++
	}
	return d, nil
}

// Load restores active blacklist entries from storage.
func (s *SecurityCoordinator) Load(ctx context.Context) (int, error) {
	entries, err := s.repo.ListActive(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("load blacklist: %w", err)
	}
	for _, e := range entries {
		if err := s.put(e); err != nil {
			s.log.Warn("skip stored blacklist entry", zap.String("ip", e.IP), zap.Error(err))
		}
	}
	return len(entries), nil
}

// Sweep drops expired entries from memory and storage.
func (s *SecurityCoordinator) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now()
	removed := s.exact.DeleteIf(func(_ string, e *model.BlacklistEntry) bool { return e.Expired(now) })

	s.netMu.Lock()
	before := len(s.netList)
	for cidr, e := range s.netList {
		if e.Expired(now) {
			delete(s.netList, cidr)
		}
	}
	if len(s.netList) != before {
		removed += before - len(s.netList)
		if err := s.rebuildLocked(); err != nil {
			s.log.Error("rebuild blacklist networks", zap.Error(err))
		}
	}
	s.netMu.Unlock()

	if _, err := s.repo.PurgeExpired(ctx, now); err != nil {
		return removed, fmt.Errorf("purge blacklist: %w", err)
	}
	return removed, nil
}
