// Package monitor tracks suspicious client IPs and blocks them progressively.
//
// Each suspicious event against an IP extends its block: the n-th event blocks
// for min(n*step, max). Once a block lapses the IP's state is forgotten
// entirely, so the next event starts again from one.
package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/and161185/sharegate/internal/clock"
	"github.com/and161185/sharegate/internal/shardmap"
)

// Defaults for Config fields left at zero.
const (
	DefaultThreshold = 50
	DefaultStep      = 15 * time.Minute
	DefaultMaxBlock  = 240 * time.Minute
)

// Config holds monitor parameters.
type Config struct {
	Threshold int           // global per-IP count that counts as suspicious
	Step      time.Duration // block added per suspicious event
	MaxBlock  time.Duration // upper bound of a single block
	Shards    int
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Step <= 0 {
		c.Step = DefaultStep
	}
	if c.MaxBlock <= 0 {
		c.MaxBlock = DefaultMaxBlock
	}
	return c
}

// State is the suspicious record of one IP.
type State struct {
	IP           string
	Count        int
	FirstEvent   time.Time
	LastEvent    time.Time
	BlockedUntil time.Time
	LastReason   string
}

// Blocked reports whether the state blocks its IP at now.
func (s State) Blocked(now time.Time) bool {
	return !s.BlockedUntil.IsZero() && now.Before(s.BlockedUntil)
}

// Event is delivered to observers after every escalation.
type Event struct {
	IP           string
	Reason       string
	Count        int
	Block        time.Duration
	BlockedUntil time.Time
}

// Observer reacts to escalations. It runs outside any monitor lock.
type Observer func(Event)

// BlockDuration returns min(n*step, max) for n >= 1 and zero otherwise.
func BlockDuration(n int, step, max time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	if limit := int64(max / step); int64(n) >= limit {
		return max
	}
	d := time.Duration(n) * step
	if d > max {
		return max
	}
	return d
}

// Monitor is safe for concurrent use.
type Monitor struct {
	cfg    Config
	clock  clock.Clock
	states *shardmap.Map[State]

	obsMu     sync.RWMutex
	observers []Observer
}

// New constructs a Monitor.
func New(cfg Config, c clock.Clock) *Monitor {
	cfg = cfg.withDefaults()
	if c == nil {
		c = clock.Real{}
	}
	return &Monitor{cfg: cfg, clock: c, states: shardmap.New[State](cfg.Shards)}
}

// Subscribe registers an observer for escalation events.
func (m *Monitor) Subscribe(o Observer) {
	m.obsMu.Lock()
	m.observers = append(m.observers, o)
	m.obsMu.Unlock()
}

// Threshold returns the configured global count threshold.
func (m *Monitor) Threshold() int { return m.cfg.Threshold }

// ShouldEscalate reports whether a post-increment global count is suspicious.
func (m *Monitor) ShouldEscalate(globalCount int) bool {
	return globalCount >= m.cfg.Threshold
}

// RecordSuspicious escalates ip and returns the resulting event. A state whose
// block has lapsed starts over at count 1.
func (m *Monitor) RecordSuspicious(ip, reason string) Event {
	now := m.clock.Now()
	var ev Event
	m.states.Update(ip, func(s *State) {
		if !s.BlockedUntil.IsZero() && !now.Before(s.BlockedUntil) {
			*s = State{}
		}
		if s.IP == "" {
			s.IP = ip
		}
		s.Count++
		if s.FirstEvent.IsZero() {
			s.FirstEvent = now
		}
		s.LastEvent = now
		s.LastReason = reason
		block := BlockDuration(s.Count, m.cfg.Step, m.cfg.MaxBlock)
		s.BlockedUntil = now.Add(block)
		ev = Event{IP: ip, Reason: reason, Count: s.Count, Block: block, BlockedUntil: s.BlockedUntil}
	})

	m.obsMu.RLock()
	obs := m.observers
	m.obsMu.RUnlock()
	for _, o := range obs {
		o(ev)
	}
	return ev
}

// IsBlocked reports whether ip is blocked and for how long. A lapsed block
// deletes the state.
func (m *Monitor) IsBlocked(ip string) (bool, time.Duration) {
	now := m.clock.Now()
	var blocked bool
	var left time.Duration
	m.states.View(ip, func(s *State) bool {
		if s.BlockedUntil.IsZero() {
			return true
		}
		if !now.Before(s.BlockedUntil) {
			return false
		}
		blocked = true
		left = s.BlockedUntil.Sub(now)
		return true
	})
	return blocked, left
}

// State returns a copy of the state of ip.
func (m *Monitor) State(ip string) (State, bool) {
	return m.states.Load(ip)
}

// Release forgets ip immediately.
func (m *Monitor) Release(ip string) {
	m.states.Delete(ip)
}

// Snapshot returns the states that still block at call time, newest block first.
func (m *Monitor) Snapshot() []State {
	now := m.clock.Now()
	var out []State
	m.states.Range(func(_ string, s State) bool {
		if s.Blocked(now) {
			out = append(out, s)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BlockedUntil.Equal(out[j].BlockedUntil) {
			return out[i].BlockedUntil.After(out[j].BlockedUntil)
		}
		return out[i].IP < out[j].IP
	})
	return out
}

// Sweep drops states whose block has lapsed and returns how many were removed.
func (m *Monitor) Sweep() int {
	now := m.clock.Now()
	return m.states.DeleteIf(func(_ string, s *State) bool {
		return !s.Blocked(now)
	})
}
