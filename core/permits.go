package core

import (
	"time"
)

const (
	// DefaultMaxBurstSeconds is used when a limiter is built with maxBurstSeconds == 0
	DefaultMaxBurstSeconds = 60

	// minExpirySeconds keeps abandoned state around long enough to survive short idle gaps
	minExpirySeconds = 120
)

// Permits is the token bucket record persisted in the shared store, one per limiter key.
// All times are epoch milliseconds.
type Permits struct {
	MaxPermits           int64 `json:"max_permits"`             // Upper bound on banked permits
	StoredPermits        int64 `json:"stored_permits"`          // Permits currently banked
	IntervalMillis       int64 `json:"interval_millis"`         // Time to generate one permit
	NextFreeTicketMillis int64 `json:"next_free_ticket_millis"` // Earliest instant new demand is served without waiting
}

// NewPermits creates the default state for a key seen for the first time.
// The bucket starts with one second worth of permits, not a full burst.
func NewPermits(permitsPerSecond, maxBurstSeconds, nowMillis int64) *Permits {
	if maxBurstSeconds == 0 {
		maxBurstSeconds = DefaultMaxBurstSeconds
	}
	return &Permits{
		MaxPermits:           SaturatedMul(permitsPerSecond, maxBurstSeconds),
		StoredPermits:        permitsPerSecond,
		IntervalMillis:       time.Second.Milliseconds() / permitsPerSecond,
		NextFreeTicketMillis: nowMillis,
	}
}

// Refill lazily credits the permits generated since NextFreeTicketMillis.
// Returns false without touching the state when now is not past the next free ticket.
func (p *Permits) Refill(nowMillis int64) bool {
	if nowMillis <= p.NextFreeTicketMillis {
		return false
	}

	generated := (nowMillis - p.NextFreeTicketMillis) / p.IntervalMillis
	p.StoredPermits = min(p.MaxPermits, SaturatedAdd(p.StoredPermits, generated))
	p.NextFreeTicketMillis = nowMillis
	return true
}

// ExpirySeconds returns the store TTL for this record. It must outlive the farthest
// reservation already committed.
func (p *Permits) ExpirySeconds(nowMillis int64) int64 {
	ahead := max(p.NextFreeTicketMillis, nowMillis) - nowMillis
	return SaturatedAdd(minExpirySeconds, ahead/time.Second.Milliseconds())
}

// Expiry is ExpirySeconds as a time.Duration.
func (p *Permits) Expiry(nowMillis int64) time.Duration {
	return MillisToDuration(SaturatedMul(p.ExpirySeconds(nowMillis), time.Second.Milliseconds()))
}

// Reserve commits a reservation of tokens and returns how long, in milliseconds,
// the caller has to wait before consuming them. Never negative.
func (p *Permits) Reserve(tokens, nowMillis int64) int64 {
	p.Refill(nowMillis)

	spend := min(tokens, p.StoredPermits)
	owed := tokens - spend
	waitMillis := SaturatedMul(owed, p.IntervalMillis)

	p.NextFreeTicketMillis = SaturatedAdd(p.NextFreeTicketMillis, waitMillis)
	p.StoredPermits -= spend

	return max(0, p.NextFreeTicketMillis-nowMillis)
}

// EarliestAvailable reports the wait Reserve would return for tokens, without
// committing anything. The receiver is a value so the stored record is never touched.
func (p Permits) EarliestAvailable(tokens, nowMillis int64) int64 {
	p.Refill(nowMillis)

	spend := min(tokens, p.StoredPermits)
	owed := tokens - spend
	waitMillis := SaturatedMul(owed, p.IntervalMillis)

	return SaturatedAdd(p.NextFreeTicketMillis-nowMillis, waitMillis)
}
