package gate

import (
	"sync"
	"time"
)

// DefaultRateCeiling is the per-tenant hourly budget for unattended actions.
const DefaultRateCeiling = 50

// Reservation is the outcome of one rate-limit attempt.
type Reservation struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts unattended actions per tenant in fixed hour windows.
// Check-and-increment is one critical section: two concurrent requests can
// never both pass on the last slot of the budget.
type Limiter struct {
	mu        sync.Mutex
	ceiling   int
	buckets   map[string]*rateBucket
	lastSweep time.Time
}

type rateBucket struct {
	windowStart time.Time
	count       int
}

// NewLimiter creates a limiter with the given hourly ceiling per tenant.
func NewLimiter(ceiling int) *Limiter {
	if ceiling <= 0 {
		ceiling = DefaultRateCeiling
	}
	return &Limiter{
		ceiling: ceiling,
		buckets: make(map[string]*rateBucket),
	}
}

// TryConsume attempts to consume one slot of the tenant's budget for the hour
// window containing now. Denied attempts do not consume budget.
func (l *Limiter) TryConsume(tenant string, now time.Time) Reservation {
	window := now.UTC().Truncate(time.Hour)
	resetAt := window.Add(time.Hour)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(window)

	b, ok := l.buckets[tenant]
	if !ok || b.windowStart.Before(window) {
		b = &rateBucket{windowStart: window}
		l.buckets[tenant] = b
	}

	if b.count >= l.ceiling {
		return Reservation{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}
	b.count++
	return Reservation{Allowed: true, Remaining: l.ceiling - b.count, ResetAt: resetAt}
}

// sweep lazily evicts buckets older than two windows to bound memory.
func (l *Limiter) sweep(window time.Time) {
	if window.Sub(l.lastSweep) < time.Hour {
		return
	}
	l.lastSweep = window
	cutoff := window.Add(-2 * time.Hour)
	for tenant, b := range l.buckets {
		if b.windowStart.Before(cutoff) {
			delete(l.buckets, tenant)
		}
	}
}
