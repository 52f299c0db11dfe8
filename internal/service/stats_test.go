package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func event(token, ip string, at time.Time, typ model.AccessType) model.AccessEvent {
	return model.AccessEvent{ID: uuid.Must(uuid.NewV4()), Token: token, IP: ip, At: at, Type: typ}
}

func TestWeekStart(t *testing.T) {
	t.Parallel()

	monday := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	cases := []time.Time{
		monday,
		time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 18, 23, 59, 59, 0, time.UTC),
		// 01:00 on Monday in UTC+3 is still Sunday in UTC
		time.Date(2026, 10, 19, 1, 0, 0, 0, time.FixedZone("UTC+3", 3*3600)),
	}
	for _, c := range cases {
		require.True(t, WeekStart(c).Equal(monday), "week of %s", c)
	}
	require.True(t, WeekStart(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)).Equal(monday.AddDate(0, 0, 7)))
}

func TestStats_GetAccessStatistics(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.share(t, "tok", model.PermissionDownload, nil)

	for _, ev := range []model.AccessEvent{
		event("tok", "1.1.1.1", t0.Add(-time.Hour), model.AccessView),
		event("tok", "1.1.1.1", t0.Add(-48*time.Hour), model.AccessDownload),
		event("tok", "1.1.1.2", t0.Add(-8*24*time.Hour), model.AccessView),
		event("tok", "1.1.1.2", t0.Add(-40*24*time.Hour), model.AccessView),
		event("other", "1.1.1.2", t0.Add(-time.Hour), model.AccessView),
	} {
		require.NoError(t, h.ledger.Append(ctx, ev))
	}

	st, err := h.stats.GetAccessStatistics(ctx, "tok")
	require.NoError(t, err)
	require.Equal(t, "tok", st.Token)
	require.Equal(t, int64(4), st.Total)
	require.Equal(t, int64(3), st.ViewCount)
	require.Equal(t, int64(1), st.DownloadCount)
	require.Equal(t, int64(1), st.Recent24h)

	require.Len(t, st.Weekly, 4)
	weeks := []time.Time{
		time.Date(2026, 9, 21, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 28, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
	}
	for i, w := range weeks {
		require.True(t, st.Weekly[i].WeekStart.Equal(w), "bucket %d starts %s", i, st.Weekly[i].WeekStart)
	}
	require.Equal(t, model.WeeklyBucket{WeekStart: weeks[0]}, st.Weekly[0])
	require.Equal(t, int64(1), st.Weekly[2].View)
	require.Equal(t, int64(1), st.Weekly[3].View)
	require.Equal(t, int64(1), st.Weekly[3].Download)
}

func TestStats_Errors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.stats.GetAccessStatistics(ctx, "")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = h.stats.GetAccessStatistics(ctx, "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)

	h.share(t, "tok", model.PermissionDownload, nil)
	_, err = h.stats.GetOwnedAccessStatistics(ctx, uuid.Must(uuid.NewV4()), "tok")
	require.ErrorIs(t, err, errs.ErrNotFound)
	st, err := h.stats.GetOwnedAccessStatistics(ctx, h.owner, "tok")
	require.NoError(t, err)
	require.Zero(t, st.Total)

	_, err = h.stats.SuspiciousPatterns(ctx, 0)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestStats_CountsAllowedAccesses(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.share(t, "tok", model.PermissionViewOnly, nil)

	require.True(t, h.access(t, "tok", "198.51.100.70", model.AccessView).Allowed)
	require.True(t, h.access(t, "tok", "198.51.100.71", model.AccessView).Allowed)
	require.False(t, h.access(t, "tok", "198.51.100.71", model.AccessDownload).Allowed)

	st, err := h.stats.GetAccessStatistics(context.Background(), "tok")
	require.NoError(t, err)
	require.Equal(t, int64(2), st.Total)
	require.Equal(t, int64(2), st.Recent24h)
	require.Equal(t, int64(2), st.Weekly[3].View)
}

func TestGroupSuspicious(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	var events []model.AccessEvent
	for i := 0; i < 5; i++ {
		events = append(events, event(fmt.Sprintf("s%d", i%2), "10.0.0.1", base.Add(time.Duration(i)*time.Minute), model.AccessView))
	}
	for i := 0; i < 3; i++ {
		events = append(events, event("s0", "10.0.0.2", base.Add(time.Duration(i)*time.Minute), model.AccessView))
	}
	// same IP, next window
	for i := 0; i < 3; i++ {
		events = append(events, event("s0", "10.0.0.1", base.Add(time.Hour+time.Duration(i)*time.Minute), model.AccessView))
	}
	events = append(events, event("s0", "10.0.0.3", base, model.AccessView))

	got := GroupSuspicious(events, time.Hour, 3)
	require.Len(t, got, 3)

	require.Equal(t, "10.0.0.1", got[0].IP)
	require.Equal(t, 5, got[0].Count)
	require.Equal(t, 2, got[0].DistinctShares)
	require.True(t, got[0].WindowStart.Equal(base))
	require.True(t, got[0].WindowEnd.Equal(base.Add(time.Hour)))
	require.Contains(t, got[0].Description, "5 accesses to 2 shares")

	require.Equal(t, "10.0.0.1", got[1].IP)
	require.Equal(t, 3, got[1].Count)
	require.True(t, got[1].WindowStart.Equal(base.Add(time.Hour)))

	require.Equal(t, "10.0.0.2", got[2].IP)

	require.Empty(t, GroupSuspicious(events, time.Hour, 6))
}

func TestStats_SuspiciousPatterns(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.NoError(t, h.ledger.Append(ctx, event("tok", "10.9.9.9", t0.Add(-30*time.Minute), model.AccessView)))
	}
	require.NoError(t, h.ledger.Append(ctx, event("tok", "10.9.9.8", t0.Add(-30*time.Minute), model.AccessView)))
	for i := 0; i < 60; i++ {
		require.NoError(t, h.ledger.Append(ctx, event("tok", "10.9.9.7", t0.Add(-48*time.Hour), model.AccessView)))
	}

	got, err := h.stats.SuspiciousPatterns(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "10.9.9.9", got[0].IP)
	require.Equal(t, 50, got[0].Count)
}
