package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/model"
	"github.com/gofrs/uuid/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestLedgerRepo_Append(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)
	ev := model.AccessEvent{
		ID:        uuid.Must(uuid.NewV4()),
		Token:     "tok",
		IP:        "10.0.0.1",
		UserAgent: "curl/8",
		At:        time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC),
		Type:      model.AccessDownload,
	}

	mock.ExpectExec(`INSERT INTO access_events \(id, token, ip, user_agent, accessed_at, access_type\)`).
		WithArgs(ev.ID, ev.Token, ev.IP, ev.UserAgent, ev.At, "DOWNLOAD").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Append(context.Background(), ev))

	boom := errors.New("disk full")
	mock.ExpectExec(`INSERT INTO access_events`).
		WithArgs(ev.ID, ev.Token, ev.IP, ev.UserAgent, ev.At, "DOWNLOAD").
		WillReturnError(boom)
	require.ErrorIs(t, r.Append(context.Background(), ev), boom)
}

func TestLedgerRepo_List(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)
	ctx := context.Background()
	since := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "token", "ip", "user_agent", "accessed_at", "access_type"}

	id1, id2 := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	mock.ExpectQuery(`FROM access_events\s+WHERE token=\$1 AND accessed_at >= \$2`).
		WithArgs("tok", since).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(id1, "tok", "1.1.1.1", "ua", since.Add(time.Minute), "VIEW").
			AddRow(id2, "tok", "1.1.1.2", "ua", since.Add(2*time.Minute), "DOWNLOAD"))
	got, err := r.ListByToken(ctx, "tok", since)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, model.AccessView, got[0].Type)
	require.Equal(t, model.AccessDownload, got[1].Type)

	mock.ExpectQuery(`FROM access_events\s+WHERE accessed_at >= \$1`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(id1, "a", "1.1.1.1", "", since, "VIEW"))
	got, err = r.ListSince(ctx, since)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].Token)
}

func TestBlacklistRepo(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewBlacklistRepo(db)
	ctx := context.Background()
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	e := model.BlacklistEntry{
		IP: "10.0.0.0/8", Reason: "abuse", ExpiresAt: now.Add(time.Hour),
		CreatedBy: model.BlacklistManual, CreatedAt: now,
	}

	mock.ExpectExec(`INSERT INTO blacklist .* ON CONFLICT \(ip\) DO UPDATE`).
		WithArgs(e.IP, e.Reason, e.ExpiresAt, "manual", e.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Upsert(ctx, e))

	mock.ExpectQuery(`SELECT ip, reason, expires_at, created_by, created_at FROM blacklist WHERE expires_at > \$1`).
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows([]string{"ip", "reason", "expires_at", "created_by", "created_at"}).
			AddRow(e.IP, e.Reason, e.ExpiresAt, "manual", e.CreatedAt))
	list, err := r.ListActive(ctx, now)
	require.NoError(t, err)
	require.Equal(t, []model.BlacklistEntry{e}, list)

	mock.ExpectExec(`DELETE FROM blacklist WHERE ip=\$1`).
		WithArgs(e.IP).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.Delete(ctx, e.IP))

	mock.ExpectExec(`DELETE FROM blacklist WHERE ip=\$1`).
		WithArgs(e.IP).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.ErrorIs(t, r.Delete(ctx, e.IP), errs.ErrNotFound)

	mock.ExpectExec(`DELETE FROM blacklist WHERE expires_at <= \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	n, err := r.PurgeExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	require.NoError(t, mock.ExpectationsWereMet())
}
