package limiter

import (
	"time"

	"github.com/and161185/sharegate/internal/clock"
	"github.com/and161185/sharegate/internal/model"
	"github.com/and161185/sharegate/internal/shardmap"
)

// Defaults for Config fields left at zero.
const (
	DefaultGlobalLimit  = 100
	DefaultShareLimit   = 20
	DefaultWindow       = time.Hour
	DefaultStaleWindows = 3
	DefaultFailureLimit = 5
)

// Config holds limiter parameters.
type Config struct {
	GlobalLimit  int           // accesses per IP per window across all shares
	ShareLimit   int           // accesses per (share, IP) per window
	Window       time.Duration // counter window length
	StaleWindows int           // Sweep drops counters idle for more than this many windows
	FailureLimit int           // password failures per (share, IP) per window
	Shards       int
}

func (c Config) withDefaults() Config {
	if c.GlobalLimit <= 0 {
		c.GlobalLimit = DefaultGlobalLimit
	}
	if c.ShareLimit <= 0 {
		c.ShareLimit = DefaultShareLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.StaleWindows <= 0 {
		c.StaleWindows = DefaultStaleWindows
	}
	if c.FailureLimit <= 0 {
		c.FailureLimit = DefaultFailureLimit
	}
	return c
}

type window struct {
	start time.Time
	count int
}

// roll resets w when its window has lapsed at now.
func (w *window) roll(now time.Time, length time.Duration) {
	if w.start.IsZero() || now.Sub(w.start) >= length {
		w.start = now
		w.count = 0
	}
}

// Memory is an in-process Limiter backed by sharded maps.
type Memory struct {
	cfg      Config
	clock    clock.Clock
	global   *shardmap.Map[window]
	share    *shardmap.Map[window]
	failures *shardmap.Map[window]
}

var _ Limiter = (*Memory)(nil)

// NewMemory constructs an in-memory limiter.
func NewMemory(cfg Config, c clock.Clock) *Memory {
	cfg = cfg.withDefaults()
	if c == nil {
		c = clock.Real{}
	}
	return &Memory{
		cfg:      cfg,
		clock:    c,
		global:   shardmap.New[window](cfg.Shards),
		share:    shardmap.New[window](cfg.Shards),
		failures: shardmap.New[window](cfg.Shards),
	}
}

func shareKey(token, ip string) string { return token + "\x00" + ip }

// peek returns the live count of key and the time left in its window.
func (l *Memory) peek(m *shardmap.Map[window], key string, now time.Time) (int, time.Duration) {
	var count int
	var left time.Duration
	m.View(key, func(w *window) bool {
		if now.Sub(w.start) >= l.cfg.Window {
			return true
		}
		count = w.count
		left = w.start.Add(l.cfg.Window).Sub(now)
		return true
	})
	return count, left
}

// take increments key under its shard lock unless the window is full. It
// returns the window start of the increment, or a denial.
func (l *Memory) take(m *shardmap.Map[window], key string, limit int, tier Tier, now time.Time) (Decision, time.Time, int) {
	var d Decision
	var start time.Time
	var count int
	m.Update(key, func(w *window) {
		w.roll(now, l.cfg.Window)
		if w.count >= limit {
			d = Decision{Tier: tier, Count: w.count, Limit: limit, RetryAfter: w.start.Add(l.cfg.Window).Sub(now)}
			return
		}
		w.count++
		d = Decision{Allowed: true}
		start, count = w.start, w.count
	})
	return d, start, count
}

// give undoes one increment made in the window that started at start.
func (l *Memory) give(m *shardmap.Map[window], key string, start time.Time) {
	m.View(key, func(w *window) bool {
		if w.start.Equal(start) && w.count > 0 {
			w.count--
		}
		return true
	})
}

// Reserve takes the global tier first, then the per-share tier. A per-share
// denial hands the global slot back.
func (l *Memory) Reserve(token, ip string) (Decision, Reservation) {
	now := l.clock.Now()
	d, gStart, global := l.take(l.global, ip, l.cfg.GlobalLimit, TierGlobal, now)
	if !d.Allowed {
		return d, Reservation{}
	}
	d, sStart, _ := l.take(l.share, shareKey(token, ip), l.cfg.ShareLimit, TierShare, now)
	if !d.Allowed {
		l.give(l.global, ip, gStart)
		return d, Reservation{}
	}
	return d, Reservation{Token: token, IP: ip, Global: global, globalStart: gStart, shareStart: sStart}
}

// Release is a no-op for the zero Reservation and for windows that rolled since.
func (l *Memory) Release(r Reservation) {
	if r.IP == "" {
		return
	}
	l.give(l.global, r.IP, r.globalStart)
	l.give(l.share, shareKey(r.Token, r.IP), r.shareStart)
}

// Failure counts a password failure; the limit is reached on the FailureLimit-th.
func (l *Memory) Failure(token, ip string) bool {
	now := l.clock.Now()
	var n int
	l.failures.Update(shareKey(token, ip), func(w *window) {
		w.roll(now, l.cfg.Window)
		w.count++
		n = w.count
	})
	return n >= l.cfg.FailureLimit
}

// Status reports the global counter of ip without creating it.
func (l *Memory) Status(ip string) model.RateLimitStatus {
	n, left := l.peek(l.global, ip, l.clock.Now())
	if n == 0 {
		left = 0
	}
	return model.RateLimitStatus{
		IP:           ip,
		CurrentCount: n,
		Limit:        l.cfg.GlobalLimit,
		IsLimited:    n >= l.cfg.GlobalLimit,
		ResetIn:      left,
	}
}

// Sweep removes counters whose window started more than StaleWindows windows ago.
func (l *Memory) Sweep() int {
	cutoff := l.clock.Now().Add(-time.Duration(l.cfg.StaleWindows) * l.cfg.Window)
	stale := func(_ string, w *window) bool { return w.start.Before(cutoff) }
	return l.global.DeleteIf(stale) + l.share.DeleteIf(stale) + l.failures.DeleteIf(stale)
}

// Config returns the effective configuration.
func (l *Memory) Config() Config { return l.cfg }
