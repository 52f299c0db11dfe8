package model

import "time"

// WeeklyBucket counts accesses by type for one week starting Monday 00:00 UTC.
type WeeklyBucket struct {
	WeekStart time.Time
	View      int64
	Download  int64
}

// AccessStatistics is derived from the ledger at query time.
type AccessStatistics struct {
	Token         string
	Total         int64
	ViewCount     int64
	DownloadCount int64
	Recent24h     int64
	Weekly        []WeeklyBucket // oldest first
}

// RateLimitStatus reports the global counter of one IP.
type RateLimitStatus struct {
	IP           string
	CurrentCount int
	Limit        int
	IsLimited    bool
	ResetIn      time.Duration
}

// BlacklistSource tells who created a blacklist entry.
type BlacklistSource string

const (
	BlacklistManual    BlacklistSource = "manual"
	BlacklistAutomatic BlacklistSource = "automatic"
)

// BlacklistEntry bans a single IP or a CIDR range until ExpiresAt.
type BlacklistEntry struct {
	IP        string // normalized IP or CIDR
	Reason    string
	ExpiresAt time.Time
	CreatedBy BlacklistSource
	CreatedAt time.Time
}

// Expired reports whether the entry no longer applies at now.
func (e BlacklistEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// SuspiciousReport describes one IP/window grouping of the ledger above the threshold.
type SuspiciousReport struct {
	IP             string
	WindowStart    time.Time
	WindowEnd      time.Time
	Count          int
	DistinctShares int
	Description    string
}

// ThreatLevel is a coarse score of how dangerous an IP currently looks.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// IPThreat is the threat assessment of one IP and the inputs behind it.
type IPThreat struct {
	IP              string
	Level           ThreatLevel
	SuspiciousCount int
	Blocked         bool
	BlockedUntil    time.Time
	Blacklisted     bool
	CurrentCount    int
}

// IPActivity counts ledger accesses of one IP.
type IPActivity struct {
	IP     string
	Count  int
	Shares int
}

// SecurityDashboard aggregates the security view over the last 24 hours.
type SecurityDashboard struct {
	GeneratedAt      time.Time
	AccessesLast24h  int
	UniqueIPsLast24h int
	TopIPs           []IPActivity
	Suspicious       []SuspiciousReport
	Blacklist        []BlacklistEntry
	Blocked          []IPThreat
	ThreatCounts     map[ThreatLevel]int
}
