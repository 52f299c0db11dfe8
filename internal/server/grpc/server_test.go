package grpcserver

import (
	"context"
	"errors"
	"testing"

	"github.com/and161185/sharegate/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func req(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func requireCode(t *testing.T, want codes.Code, err error) {
	t.Helper()
	st, ok := status.FromError(err)
	require.True(t, ok, "not a status error: %v", err)
	require.Equal(t, want, st.Code(), st.Message())
}

func TestAdmin_ShareLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	owner, _ := f.client(t, false)
	stranger, _ := f.client(t, false)

	created, err := owner.Call(ctx, MethodCreateShare, req(t, map[string]any{
		"file_id":    uuid.Must(uuid.NewV4()).String(),
		"permission": "DOWNLOAD",
		"ttl":        "48h",
		"max_access": 2,
	}))
	require.NoError(t, err)
	m := created.AsMap()
	token, _ := m["token"].(string)
	require.NotEmpty(t, token)
	require.Equal(t, "DOWNLOAD", m["permission"])
	require.Equal(t, "2026-10-16T12:00:00Z", m["expires_at"])
	require.Equal(t, float64(2), m["remaining"])

	list, err := owner.Call(ctx, MethodListShares, nil)
	require.NoError(t, err)
	require.Len(t, list.AsMap()["shares"], 1)

	list, err = stranger.Call(ctx, MethodListShares, nil)
	require.NoError(t, err)
	require.Empty(t, list.AsMap()["shares"])

	for _, at := range []model.AccessType{model.AccessView, model.AccessDownload, model.AccessView} {
		require.NoError(t, f.ledger.Append(ctx, model.AccessEvent{
			ID: uuid.Must(uuid.NewV4()), Token: token, IP: "192.0.2.1", At: f.clk.Now(), Type: at,
		}))
	}
	stats, err := owner.Call(ctx, MethodGetAccessStatistics, req(t, map[string]any{"token": token}))
	require.NoError(t, err)
	sm := stats.AsMap()
	require.Equal(t, float64(3), sm["total"])
	require.Equal(t, float64(2), sm["view_count"])
	require.Equal(t, float64(1), sm["download_count"])

	_, err = stranger.Call(ctx, MethodGetAccessStatistics, req(t, map[string]any{"token": token}))
	requireCode(t, codes.NotFound, err)

	admin, _ := f.client(t, true)
	_, err = admin.Call(ctx, MethodGetAccessStatistics, req(t, map[string]any{"token": token}))
	require.NoError(t, err)

	_, err = stranger.Call(ctx, MethodRevokeShare, req(t, map[string]any{"token": token}))
	requireCode(t, codes.NotFound, err)

	_, err = owner.Call(ctx, MethodRevokeShare, req(t, map[string]any{"token": token}))
	require.NoError(t, err)
	list, err = owner.Call(ctx, MethodListShares, nil)
	require.NoError(t, err)
	require.Empty(t, list.AsMap()["shares"])

	rec, err := f.shares.FindByToken(ctx, token)
	require.NoError(t, err)
	require.False(t, rec.Active, "revoke is a soft delete")
}

func TestAdmin_AuthAndScope(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := NewClient(f.cc, "").Call(ctx, MethodListShares, nil)
	requireCode(t, codes.Unauthenticated, err)

	_, err = NewClient(f.cc, "garbage").Call(ctx, MethodListShares, nil)
	requireCode(t, codes.Unauthenticated, err)

	user, _ := f.client(t, false)
	for _, m := range []string{MethodSecurityDashboard, MethodSuspiciousReports, MethodGetThreatLevel, MethodBlacklist, MethodUnblacklist, MethodGetRateLimitStatus} {
		_, err = user.Call(ctx, m, req(t, map[string]any{"ip": "192.0.2.1", "duration_hours": 1}))
		requireCode(t, codes.PermissionDenied, err)
	}

	// health is reachable without a token
	resp, err := healthpb.NewHealthClient(f.cc).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestAdmin_Security(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	admin, _ := f.client(t, true)

	entry, err := admin.Call(ctx, MethodBlacklist, req(t, map[string]any{
		"ip": "198.51.100.0/24", "duration_hours": 2, "reason": "scanner",
	}))
	require.NoError(t, err)
	em := entry.AsMap()
	require.Equal(t, "198.51.100.0/24", em["ip"])
	require.Equal(t, "manual", em["created_by"])
	require.Equal(t, "2026-10-14T14:00:00Z", em["expires_at"])

	threat, err := admin.Call(ctx, MethodGetThreatLevel, req(t, map[string]any{"ip": "198.51.100.7"}))
	require.NoError(t, err)
	require.Equal(t, "critical", threat.AsMap()["level"])
	require.Equal(t, true, threat.AsMap()["blacklisted"])

	dash, err := admin.Call(ctx, MethodSecurityDashboard, nil)
	require.NoError(t, err)
	require.Len(t, dash.AsMap()["blacklist"], 1)

	_, err = admin.Call(ctx, MethodUnblacklist, req(t, map[string]any{"ip": "198.51.100.0/24"}))
	require.NoError(t, err)
	_, err = admin.Call(ctx, MethodUnblacklist, req(t, map[string]any{"ip": "198.51.100.0/24"}))
	requireCode(t, codes.NotFound, err)

	threat, err = admin.Call(ctx, MethodGetThreatLevel, req(t, map[string]any{"ip": "198.51.100.7"}))
	require.NoError(t, err)
	require.Equal(t, "low", threat.AsMap()["level"])

	rl, err := admin.Call(ctx, MethodGetRateLimitStatus, req(t, map[string]any{"ip": "192.0.2.1"}))
	require.NoError(t, err)
	require.Equal(t, float64(100), rl.AsMap()["limit"])
	require.Equal(t, float64(0), rl.AsMap()["current_count"])

	reports, err := admin.Call(ctx, MethodSuspiciousReports, req(t, map[string]any{"lookback": "6h"}))
	require.NoError(t, err)
	require.Empty(t, reports.AsMap()["reports"])
}

func TestAdmin_InvalidArguments(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	admin, _ := f.client(t, true)

	cases := []struct {
		method string
		in     map[string]any
	}{
		{MethodCreateShare, map[string]any{}},
		{MethodCreateShare, map[string]any{"file_id": uuid.Must(uuid.NewV4()).String(), "permission": "EDIT"}},
		{MethodCreateShare, map[string]any{"file_id": uuid.Must(uuid.NewV4()).String(), "max_access": 0}},
		{MethodRevokeShare, map[string]any{}},
		{MethodGetAccessStatistics, map[string]any{"token": 7}},
		{MethodGetThreatLevel, map[string]any{"ip": "not-an-ip"}},
		{MethodGetRateLimitStatus, map[string]any{}},
		{MethodBlacklist, map[string]any{"ip": "192.0.2.1"}},
		{MethodBlacklist, map[string]any{"ip": "192.0.2.1", "duration_hours": 0}},
		{MethodBlacklist, map[string]any{"ip": "nope", "duration_hours": 1}},
		{MethodUnblacklist, map[string]any{"ip": "nope"}},
		{MethodSuspiciousReports, map[string]any{"lookback": "-1h"}},
	}
	for _, tc := range cases {
		_, err := admin.Call(ctx, tc.method, req(t, tc.in))
		requireCode(t, codes.InvalidArgument, err)
	}
}

func TestToStatus_Unknown(t *testing.T) {
	t.Parallel()
	err := toStatus("list shares", context.DeadlineExceeded)
	requireCode(t, codes.DeadlineExceeded, err)

	err = toStatus("list shares", errStorage)
	requireCode(t, codes.Internal, err)
	require.NotContains(t, err.Error(), "connection refused", "storage errors stay internal")
}

var errStorage = errors.New("dial tcp 10.0.0.5:5432: connection refused")
