// Package limiter defines interfaces and implementations for share access rate limiting.
package limiter

import (
	"time"

	"github.com/and161185/sharegate/internal/model"
)

// Tier names the counter that rejected a request.
type Tier string

const (
	TierNone   Tier = ""
	TierGlobal Tier = "global"
	TierShare  Tier = "share"
)

// Decision is the result of a rate limit check.
type Decision struct {
	Allowed    bool
	Tier       Tier          // tier that denied; empty when allowed
	Count      int           // current count of the denying tier
	Limit      int           // limit of the denying tier
	RetryAfter time.Duration // time until the denying window resets
}

// Reservation is one access held against both tiers. The zero value holds nothing.
type Reservation struct {
	Token  string
	IP     string
	Global int // post-increment global count of IP

	globalStart time.Time
	shareStart  time.Time
}

// Limiter controls anonymous share accesses per client IP.
type Limiter interface {
	// Reserve admits one access by ip against token if it fits both tiers,
	// counting it in the same step. A denied call counts nothing.
	Reserve(token, ip string) (Decision, Reservation)
	// Release returns a reservation whose access did not happen.
	Release(r Reservation)
	// Failure counts a failed password attempt on token from ip and reports
	// whether the failure limit of the window is reached.
	Failure(token, ip string) bool
	// Status reports the global counter of ip.
	Status(ip string) model.RateLimitStatus
	// Sweep drops counters whose window lapsed long ago and returns how many were removed.
	Sweep() int
}
