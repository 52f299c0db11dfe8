// Package convert maps domain models to and from the google.protobuf.Struct
// messages of the admin API.
package convert

import (
	"fmt"
	"math"
	"time"

	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/model"
	"github.com/and161185/sharegate/internal/service"
	"github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"
)

// --- helpers ---

func str(s string) *structpb.Value { return structpb.NewStringValue(s) }

func num[T int | int64](n T) *structpb.Value { return structpb.NewNumberValue(float64(n)) }

func boolean(b bool) *structpb.Value { return structpb.NewBoolValue(b) }

// ts renders t as RFC 3339 UTC; the zero time becomes null.
func ts(t time.Time) *structpb.Value {
	if t.IsZero() {
		return structpb.NewNullValue()
	}
	return str(t.UTC().Format(time.RFC3339Nano))
}

func obj(fields map[string]*structpb.Value) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

func list(vs []*structpb.Value) *structpb.Value {
	if vs == nil {
		vs = []*structpb.Value{}
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vs})
}

// Object wraps fields into a message.
func Object(fields map[string]*structpb.Value) *structpb.Struct {
	return &structpb.Struct{Fields: fields}
}

// --- request fields ---

// String returns the string field key, or "" when absent.
func String(s *structpb.Struct, key string) (string, error) {
	v, ok := s.GetFields()[key]
	if !ok || isNull(v) {
		return "", nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%s: want string: %w", key, errs.ErrInvalidArgument)
	}
	return sv.StringValue, nil
}

// Int returns the integral number field key; ok is false when absent.
func Int(s *structpb.Struct, key string) (n int64, ok bool, err error) {
	v, present := s.GetFields()[key]
	if !present || isNull(v) {
		return 0, false, nil
	}
	nv, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum || nv.NumberValue != math.Trunc(nv.NumberValue) || math.Abs(nv.NumberValue) > 1<<53 {
		return 0, false, fmt.Errorf("%s: want integer: %w", key, errs.ErrInvalidArgument)
	}
	return int64(nv.NumberValue), true, nil
}

// Duration parses a Go duration string such as "36h"; absent means zero.
func Duration(s *structpb.Struct, key string) (time.Duration, error) {
	raw, err := String(s, key)
	if err != nil || raw == "" {
		return 0, err
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %v: %w", key, err, errs.ErrInvalidArgument)
	}
	return d, nil
}

// UUID parses a required uuid field.
func UUID(s *structpb.Struct, key string) (uuid.UUID, error) {
	raw, err := String(s, key)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: invalid uuid: %w", key, errs.ErrInvalidArgument)
	}
	return id, nil
}

func isNull(v *structpb.Value) bool {
	_, ok := v.GetKind().(*structpb.Value_NullValue)
	return ok || v.GetKind() == nil
}

// --- shares ---

// ShareSpecFromStruct reads a CreateShare request. The owner always comes from
// the authenticated caller, never from the message.
func ShareSpecFromStruct(in *structpb.Struct, owner uuid.UUID) (service.ShareSpec, error) {
	fileID, err := UUID(in, "file_id")
	if err != nil {
		return service.ShareSpec{}, err
	}
	perm, err := String(in, "permission")
	if err != nil {
		return service.ShareSpec{}, err
	}
	if perm == "" {
		perm = string(model.PermissionViewOnly)
	}
	ttl, err := Duration(in, "ttl")
	if err != nil {
		return service.ShareSpec{}, err
	}
	password, err := String(in, "password")
	if err != nil {
		return service.ShareSpec{}, err
	}
	spec := service.ShareSpec{
		OwnerID:    owner,
		FileID:     fileID,
		Permission: model.Permission(perm),
		TTL:        ttl,
		Password:   password,
	}
	maxAccess, ok, err := Int(in, "max_access")
	if err != nil {
		return service.ShareSpec{}, err
	}
	if ok {
		spec.MaxAccess = &maxAccess
	}
	return spec, nil
}

func shareValue(r model.ShareRecord) *structpb.Value {
	f := map[string]*structpb.Value{
		"token":        str(r.Token),
		"file_id":      str(r.FileID.String()),
		"owner_id":     str(r.OwnerID.String()),
		"permission":   str(string(r.Permission)),
		"created_at":   ts(r.CreatedAt),
		"active":       boolean(r.Active),
		"access_count": num(r.AccessCount),
		"remaining":    num(r.RemainingAccesses()),
		"password":     boolean(r.HasPassword()),
		"expires_at":   structpb.NewNullValue(),
		"max_access":   structpb.NewNullValue(),
	}
	if r.ExpiresAt != nil {
		f["expires_at"] = ts(*r.ExpiresAt)
	}
	if r.MaxAccess != nil {
		f["max_access"] = num(*r.MaxAccess)
	}
	return obj(f)
}

// ShareToStruct renders a share without its password material.
func ShareToStruct(r model.ShareRecord) *structpb.Struct {
	return shareValue(r).GetStructValue()
}

// SharesToStruct renders {"shares": [...]}.
func SharesToStruct(rs []model.ShareRecord) *structpb.Struct {
	out := make([]*structpb.Value, 0, len(rs))
	for _, r := range rs {
		out = append(out, shareValue(r))
	}
	return Object(map[string]*structpb.Value{"shares": list(out)})
}

// --- statistics ---

// StatsToStruct renders access statistics with weekly buckets oldest first.
func StatsToStruct(st model.AccessStatistics) *structpb.Struct {
	weeks := make([]*structpb.Value, 0, len(st.Weekly))
	for _, w := range st.Weekly {
		weeks = append(weeks, obj(map[string]*structpb.Value{
			"week_start": ts(w.WeekStart),
			"view":       num(w.View),
			"download":   num(w.Download),
		}))
	}
	return Object(map[string]*structpb.Value{
		"token":          str(st.Token),
		"total":          num(st.Total),
		"view_count":     num(st.ViewCount),
		"download_count": num(st.DownloadCount),
		"recent_24h":     num(st.Recent24h),
		"weekly":         list(weeks),
	})
}

// RateLimitToStruct renders the global counter of one IP.
func RateLimitToStruct(st model.RateLimitStatus) *structpb.Struct {
	return Object(map[string]*structpb.Value{
		"ip":               str(st.IP),
		"current_count":    num(st.CurrentCount),
		"limit":            num(st.Limit),
		"is_limited":       boolean(st.IsLimited),
		"reset_in_seconds": num(int64(st.ResetIn.Round(time.Second) / time.Second)),
	})
}

// --- security ---

func threatValue(t model.IPThreat) *structpb.Value {
	return obj(map[string]*structpb.Value{
		"ip":               str(t.IP),
		"level":            str(string(t.Level)),
		"suspicious_count": num(t.SuspiciousCount),
		"blocked":          boolean(t.Blocked),
		"blocked_until":    ts(t.BlockedUntil),
		"blacklisted":      boolean(t.Blacklisted),
		"current_count":    num(t.CurrentCount),
	})
}

// ThreatToStruct renders a threat assessment.
func ThreatToStruct(t model.IPThreat) *structpb.Struct {
	return threatValue(t).GetStructValue()
}

func entryValue(e model.BlacklistEntry) *structpb.Value {
	return obj(map[string]*structpb.Value{
		"ip":         str(e.IP),
		"reason":     str(e.Reason),
		"expires_at": ts(e.ExpiresAt),
		"created_by": str(string(e.CreatedBy)),
		"created_at": ts(e.CreatedAt),
	})
}

// BlacklistEntryToStruct renders one blacklist entry.
func BlacklistEntryToStruct(e model.BlacklistEntry) *structpb.Struct {
	return entryValue(e).GetStructValue()
}

func reportValues(rs []model.SuspiciousReport) []*structpb.Value {
	out := make([]*structpb.Value, 0, len(rs))
	for _, r := range rs {
		out = append(out, obj(map[string]*structpb.Value{
			"ip":              str(r.IP),
			"window_start":    ts(r.WindowStart),
			"window_end":      ts(r.WindowEnd),
			"count":           num(r.Count),
			"distinct_shares": num(r.DistinctShares),
			"description":     str(r.Description),
		}))
	}
	return out
}

// ReportsToStruct renders {"reports": [...]}.
func ReportsToStruct(rs []model.SuspiciousReport) *structpb.Struct {
	return Object(map[string]*structpb.Value{"reports": list(reportValues(rs))})
}

// DashboardToStruct renders the security dashboard.
func DashboardToStruct(d model.SecurityDashboard) *structpb.Struct {
	top := make([]*structpb.Value, 0, len(d.TopIPs))
	for _, a := range d.TopIPs {
		top = append(top, obj(map[string]*structpb.Value{
			"ip":     str(a.IP),
			"count":  num(a.Count),
			"shares": num(a.Shares),
		}))
	}
	blacklist := make([]*structpb.Value, 0, len(d.Blacklist))
	for _, e := range d.Blacklist {
		blacklist = append(blacklist, entryValue(e))
	}
	blocked := make([]*structpb.Value, 0, len(d.Blocked))
	for _, t := range d.Blocked {
		blocked = append(blocked, threatValue(t))
	}
	counts := make(map[string]*structpb.Value, 4)
	for _, lvl := range []model.ThreatLevel{model.ThreatLow, model.ThreatMedium, model.ThreatHigh, model.ThreatCritical} {
		counts[string(lvl)] = num(d.ThreatCounts[lvl])
	}
	return Object(map[string]*structpb.Value{
		"generated_at":        ts(d.GeneratedAt),
		"accesses_last_24h":   num(d.AccessesLast24h),
		"unique_ips_last_24h": num(d.UniqueIPsLast24h),
		"top_ips":             list(top),
		"suspicious":          list(reportValues(d.Suspicious)),
		"blacklist":           list(blacklist),
		"blocked":             list(blocked),
		"threat_counts":       obj(counts),
	})
}
