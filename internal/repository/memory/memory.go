// Package memory contains in-process implementations of repository interfaces,
// used for development mode and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/model"
	"github.com/and161185/sharegate/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// ShareRepo is a mutex-guarded ShareRepository.
type ShareRepo struct {
	mu     sync.Mutex
	shares map[string]*model.ShareRecord
}

var _ repository.ShareRepository = (*ShareRepo)(nil)

// NewShareRepo constructs an empty share repository.
func NewShareRepo() *ShareRepo {
	return &ShareRepo{shares: make(map[string]*model.ShareRecord)}
}

func cloneShare(r *model.ShareRecord) *model.ShareRecord {
	c := *r
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	if r.MaxAccess != nil {
		n := *r.MaxAccess
		c.MaxAccess = &n
	}
	c.PasswordHash = append([]byte(nil), r.PasswordHash...)
	c.PasswordSalt = append([]byte(nil), r.PasswordSalt...)
	return &c
}

// Create inserts a new share.
func (r *ShareRepo) Create(_ context.Context, rec *model.ShareRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.shares[rec.Token]; ok {
		return errs.ErrAlreadyExists
	}
	r.shares[rec.Token] = cloneShare(rec)
	return nil
}

// FindByToken loads a copy of a share.
func (r *ShareRepo) FindByToken(_ context.Context, token string) (*model.ShareRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.shares[token]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return cloneShare(rec), nil
}

// Save updates active flag, expiry and cap.
func (r *ShareRepo) Save(_ context.Context, rec *model.ShareRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.shares[rec.Token]
	if !ok {
		return errs.ErrNotFound
	}
	upd := cloneShare(rec)
	cur.Active = upd.Active
	cur.ExpiresAt = upd.ExpiresAt
	cur.MaxAccess = upd.MaxAccess
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementAccessCount adds one access if the share is still valid at now.
func (r *ShareRepo) IncrementAccessCount(_ context.Context, token string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.shares[token]
	if !ok {
		return 0, errs.ErrNotFound
	}
	switch {
	case !rec.Active,
		rec.MaxAccess != nil && rec.AccessCount >= *rec.MaxAccess,
		rec.ExpiresAt != nil && !now.Before(*rec.ExpiresAt):
		return 0, fmt.Errorf("share no longer valid: %w", errs.ErrVersionConflict)
	}
	rec.AccessCount++
	rec.UpdatedAt = now
	return rec.AccessCount, nil
}

// FindActiveByOwner lists active shares of an owner, newest first.
func (r *ShareRepo) FindActiveByOwner(_ context.Context, ownerID uuid.UUID) ([]model.ShareRecord, error) {
	r.mu.Lock()
	var out []model.ShareRecord
	for _, rec := range r.shares {
		if rec.OwnerID == ownerID && rec.Active {
			out = append(out, *cloneShare(rec))
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeactivateExpired soft-deletes shares whose expiry has passed.
func (r *ShareRepo) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.shares {
		if rec.Active && rec.ExpiresAt != nil && !now.Before(*rec.ExpiresAt) {
			rec.Active = false
			rec.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// Ledger is an append-only in-memory AccessLedger.
type Ledger struct {
	mu     sync.RWMutex
	events []model.AccessEvent
}

var _ repository.AccessLedger = (*Ledger)(nil)

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger { return &Ledger{} }

// Append stores one event.
func (l *Ledger) Append(_ context.Context, ev model.AccessEvent) error {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return nil
}

// ListByToken returns events of one share since the given time, oldest first.
func (l *Ledger) ListByToken(_ context.Context, token string, since time.Time) ([]model.AccessEvent, error) {
	return l.filter(func(ev model.AccessEvent) bool {
		return ev.Token == token && !ev.At.Before(since)
	}), nil
}

// ListSince returns all events since the given time, oldest first.
func (l *Ledger) ListSince(_ context.Context, since time.Time) ([]model.AccessEvent, error) {
	return l.filter(func(ev model.AccessEvent) bool { return !ev.At.Before(since) }), nil
}

func (l *Ledger) filter(keep func(model.AccessEvent) bool) []model.AccessEvent {
	l.mu.RLock()
	var out []model.AccessEvent
	for _, ev := range l.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	l.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Len returns the number of stored events.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// BlacklistRepo is a mutex-guarded BlacklistRepository.
type BlacklistRepo struct {
	mu      sync.Mutex
	entries map[string]model.BlacklistEntry
}

var _ repository.BlacklistRepository = (*BlacklistRepo)(nil)

// NewBlacklistRepo constructs an empty blacklist repository.
func NewBlacklistRepo() *BlacklistRepo {
	return &BlacklistRepo{entries: make(map[string]model.BlacklistEntry)}
}

// Upsert inserts or replaces the entry for e.IP.
func (r *BlacklistRepo) Upsert(_ context.Context, e model.BlacklistEntry) error {
	r.mu.Lock()
	r.entries[e.IP] = e
	r.mu.Unlock()
	return nil
}

// Delete removes the entry for ip.
func (r *BlacklistRepo) Delete(_ context.Context, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[ip]; !ok {
		return errs.ErrNotFound
	}
	delete(r.entries, ip)
	return nil
}

// ListActive returns entries not expired at now, oldest first.
func (r *BlacklistRepo) ListActive(_ context.Context, now time.Time) ([]model.BlacklistEntry, error) {
	r.mu.Lock()
	var out []model.BlacklistEntry
	for _, e := range r.entries {
		if !e.Expired(now) {
			out = append(out, e)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].IP < out[j].IP
	})
	return out, nil
}

// PurgeExpired removes entries expired at now.
func (r *BlacklistRepo) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for ip, e := range r.entries {
		if e.Expired(now) {
			delete(r.entries, ip)
			n++
		}
	}
	return n, nil
}
