package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/and161185/sharegate/internal/clock"
	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/model"
	"github.com/and161185/sharegate/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// StatsService derives statistics and abuse reports from the access ledger.
type StatsService interface {
	// GetAccessStatistics summarizes the accesses of one share.
	GetAccessStatistics(ctx context.Context, token string) (model.AccessStatistics, error)
	// GetOwnedAccessStatistics is GetAccessStatistics restricted to the share owner.
	GetOwnedAccessStatistics(ctx context.Context, ownerID uuid.UUID, token string) (model.AccessStatistics, error)
	// SuspiciousPatterns reports IPs whose per-window access count reached the threshold.
	SuspiciousPatterns(ctx context.Context, lookback time.Duration) ([]model.SuspiciousReport, error)
}

// StatsConfig holds reporting parameters.
type StatsConfig struct {
	Weeks     int           // weekly buckets returned, including the current week
	Window    time.Duration // grouping window of suspicious reports
	Threshold int           // accesses per window that make a group suspicious
}

type StatsServiceImpl struct {
	shares repository.ShareRepository
	ledger repository.AccessLedger
	clock  clock.Clock
	cfg    StatsConfig
}

var _ StatsService = (*StatsServiceImpl)(nil)

// NewStatsService constructs StatsService with defaults for zero config values.
func NewStatsService(shares repository.ShareRepository, ledger repository.AccessLedger, c clock.Clock, cfg StatsConfig) *StatsServiceImpl {
	if cfg.Weeks <= 0 {
		cfg.Weeks = 4
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 50
	}
	if c == nil {
		c = clock.Real{}
	}
	return &StatsServiceImpl{shares: shares, ledger: ledger, clock: c, cfg: cfg}
}

// WeekStart returns Monday 00:00 UTC of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, time.UTC)
}

// GetAccessStatistics returns totals over the whole ledger and weekly buckets
// for the configured number of weeks, oldest first, empty weeks included.
func (s *StatsServiceImpl) GetAccessStatistics(ctx context.Context, token string) (model.AccessStatistics, error) {
	if token == "" {
		return model.AccessStatistics{}, fmt.Errorf("validation: empty token: %w", errs.ErrInvalidArgument)
	}
	if _, err := s.shares.FindByToken(ctx, token); err != nil {
		return model.AccessStatistics{}, err
	}
	events, err := s.ledger.ListByToken(ctx, token, time.Time{})
	if err != nil {
		return model.AccessStatistics{}, err
	}
	return s.summarize(token, events), nil
}

// GetOwnedAccessStatistics hides shares of other owners as not found.
func (s *StatsServiceImpl) GetOwnedAccessStatistics(ctx context.Context, ownerID uuid.UUID, token string) (model.AccessStatistics, error) {
	rec, err := s.shares.FindByToken(ctx, token)
	if err != nil {
		return model.AccessStatistics{}, err
	}
	if rec.OwnerID != ownerID {
		return model.AccessStatistics{}, errs.ErrNotFound
	}
	return s.GetAccessStatistics(ctx, token)
}

func (s *StatsServiceImpl) summarize(token string, events []model.AccessEvent) model.AccessStatistics {
	now := s.clock.Now()
	first := WeekStart(now).AddDate(0, 0, -7*(s.cfg.Weeks-1))
	weekly := make([]model.WeeklyBucket, s.cfg.Weeks)
	for i := range weekly {
		weekly[i].WeekStart = first.AddDate(0, 0, 7*i)
	}

	st := model.AccessStatistics{Token: token, Weekly: weekly}
	dayAgo := now.Add(-24 * time.Hour)
	for _, ev := range events {
		st.Total++
		if ev.Type == model.AccessDownload {
			st.DownloadCount++
		} else {
			st.ViewCount++
		}
		if !ev.At.Before(dayAgo) && !ev.At.After(now) {
			st.Recent24h++
		}
		if ev.At.Before(first) {
			continue
		}
		idx := int(ev.At.Sub(first) / (7 * 24 * time.Hour))
		if idx >= len(weekly) {
			continue
		}
		if ev.Type == model.AccessDownload {
			weekly[idx].Download++
		} else {
			weekly[idx].View++
		}
	}
	return st
}

// SuspiciousPatterns groups ledger events since now-lookback by IP and window.
func (s *StatsServiceImpl) SuspiciousPatterns(ctx context.Context, lookback time.Duration) ([]model.SuspiciousReport, error) {
	if lookback <= 0 {
		return nil, fmt.Errorf("validation: non-positive lookback: %w", errs.ErrInvalidArgument)
	}
	events, err := s.ledger.ListSince(ctx, s.clock.Now().Add(-lookback))
	if err != nil {
		return nil, err
	}
	return GroupSuspicious(events, s.cfg.Window, s.cfg.Threshold), nil
}

// GroupSuspicious reports every (IP, window) group with at least threshold
// events, busiest first.
func GroupSuspicious(events []model.AccessEvent, window time.Duration, threshold int) []model.SuspiciousReport {
	type key struct {
		ip    string
		start time.Time
	}
	type group struct {
		count  int
		shares map[string]struct{}
	}
	groups := make(map[key]*group)
	for _, ev := range events {
		k := key{ip: ev.IP, start: ev.At.UTC().Truncate(window)}
		g, ok := groups[k]
		if !ok {
			g = &group{shares: make(map[string]struct{})}
			groups[k] = g
		}
		g.count++
		g.shares[ev.Token] = struct{}{}
	}

	var out []model.SuspiciousReport
	for k, g := range groups {
		if g.count < threshold {
			continue
		}
		out = append(out, model.SuspiciousReport{
			IP:             k.ip,
			WindowStart:    k.start,
			WindowEnd:      k.start.Add(window),
			Count:          g.count,
			DistinctShares: len(g.shares),
			Description:    fmt.Sprintf("%d accesses to %d shares within %s", g.count, len(g.shares), window),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].IP != out[j].IP {
			return out[i].IP < out[j].IP
		}
		return out[i].WindowStart.Before(out[j].WindowStart)
	})
	return out
}

// isNotFound reports whether err means an entity is absent.
func isNotFound(err error) bool { return errors.Is(err, errs.ErrNotFound) }
