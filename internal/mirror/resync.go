package mirror

import (
	"time"

	"golang.org/x/time/rate"
)

// DefaultResyncCooldown is the minimum spacing between resync requests.
const DefaultResyncCooldown = 1500 * time.Millisecond

// ResyncLimiter allows at most one resync request per cooldown window.
type ResyncLimiter struct {
	limiter  *rate.Limiter
	cooldown time.Duration
	now      func() time.Time
}

// NewResyncLimiter creates a limiter. A nil clock uses time.Now; a
// non-positive cooldown disables limiting.
func NewResyncLimiter(cooldown time.Duration, now func() time.Time) *ResyncLimiter {
	if now == nil {
		now = time.Now
	}
	l := &ResyncLimiter{cooldown: cooldown, now: now}
	l.Reset()
	return l
}

// Reset reopens the window, forgetting any earlier request.
func (l *ResyncLimiter) Reset() {
	limit := rate.Inf
	if l.cooldown > 0 {
		limit = rate.Every(l.cooldown)
	}
	l.limiter = rate.NewLimiter(limit, 1)
}

// Allow consumes the window if it is open.
func (l *ResyncLimiter) Allow() bool {
	return l.limiter.AllowN(l.now(), 1)
}
