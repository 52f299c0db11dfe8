package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func TestShareRepo_CopiesAreIsolated(t *testing.T) {
	t.Parallel()

	r := NewShareRepo()
	ctx := context.Background()
	capN := int64(2)
	rec := &model.ShareRecord{Token: "t", Active: true, MaxAccess: &capN}
	require.NoError(t, r.Create(ctx, rec))
	require.ErrorIs(t, r.Create(ctx, rec), errs.ErrAlreadyExists)

	capN = 100
	got, err := r.FindByToken(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, int64(2), *got.MaxAccess)

	*got.MaxAccess = 50
	again, _ := r.FindByToken(ctx, "t")
	require.Equal(t, int64(2), *again.MaxAccess)

	again.Active = false
	require.NoError(t, r.Save(ctx, again))
	again, _ = r.FindByToken(ctx, "t")
	require.False(t, again.Active)

	require.ErrorIs(t, r.Save(ctx, &model.ShareRecord{Token: "x"}), errs.ErrNotFound)
	_, err = r.FindByToken(ctx, "x")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestShareRepo_IncrementIsLinearizable(t *testing.T) {
	t.Parallel()

	r := NewShareRepo()
	ctx := context.Background()
	capN := int64(10)
	require.NoError(t, r.Create(ctx, &model.ShareRecord{Token: "t", Active: true, MaxAccess: &capN}))

	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.IncrementAccessCount(ctx, "t", base); err == nil {
				ok.Add(1)
			} else if !errors.Is(err, errs.ErrVersionConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(10), ok.Load())

	_, err := r.IncrementAccessCount(ctx, "missing", base)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestShareRepo_OwnerAndExpiry(t *testing.T) {
	t.Parallel()

	r := NewShareRepo()
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV4())
	exp := base.Add(time.Hour)
	require.NoError(t, r.Create(ctx, &model.ShareRecord{Token: "a", OwnerID: owner, Active: true, CreatedAt: base}))
	require.NoError(t, r.Create(ctx, &model.ShareRecord{Token: "b", OwnerID: owner, Active: true, CreatedAt: base.Add(time.Second), ExpiresAt: &exp}))
	require.NoError(t, r.Create(ctx, &model.ShareRecord{Token: "c", OwnerID: owner, Active: false}))

	list, err := r.FindActiveByOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "b", list[0].Token)

	n, err := r.DeactivateExpired(ctx, exp)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = r.IncrementAccessCount(ctx, "b", exp)
	require.ErrorIs(t, err, errs.ErrVersionConflict)
}

func TestLedger(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, model.AccessEvent{Token: "a", At: base.Add(2 * time.Hour)}))
	require.NoError(t, l.Append(ctx, model.AccessEvent{Token: "a", At: base}))
	require.NoError(t, l.Append(ctx, model.AccessEvent{Token: "b", At: base.Add(time.Hour)}))
	require.Equal(t, 3, l.Len())

	all, err := l.ListSince(ctx, base)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, base, all[0].At)

	a, err := l.ListByToken(ctx, "a", base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, a, 1)
}

func TestBlacklistRepo(t *testing.T) {
	t.Parallel()

	r := NewBlacklistRepo()
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, model.BlacklistEntry{IP: "1.1.1.1", ExpiresAt: base.Add(time.Hour), CreatedAt: base}))
	require.NoError(t, r.Upsert(ctx, model.BlacklistEntry{IP: "2.2.2.2", ExpiresAt: base.Add(time.Minute), CreatedAt: base}))

	list, err := r.ListActive(ctx, base)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "1.1.1.1", list[0].IP)

	n, err := r.PurgeExpired(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, r.Delete(ctx, "1.1.1.1"))
	require.ErrorIs(t, r.Delete(ctx, "1.1.1.1"), errs.ErrNotFound)
}
