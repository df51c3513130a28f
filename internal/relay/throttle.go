package relay

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle decides how long to wait before publishing the event at index
// (0-based) of a sequence.
type Throttle interface {
	Reserve(index int) time.Duration
}

// FixedThrottle publishes the first Batch events immediately and waits Delay
// before each later one.
type FixedThrottle struct {
	Batch int
	Delay time.Duration
}

// DefaultThrottle lets four events through, then waits 10s before each.
var DefaultThrottle = FixedThrottle{Batch: 4, Delay: 10 * time.Second}

// Reserve implements Throttle.
func (f FixedThrottle) Reserve(index int) time.Duration {
	if index < f.Batch {
		return 0
	}
	return f.Delay
}

// NoThrottle never waits.
type NoThrottle struct{}

// Reserve implements Throttle.
func (NoThrottle) Reserve(int) time.Duration { return 0 }

// RateThrottle is a token bucket: burst events go out at once, then one
// event per 1/r seconds.
type RateThrottle struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	now     func() time.Time
}

// NewRateThrottle creates a token bucket throttle. now may be nil.
func NewRateThrottle(r rate.Limit, burst int, now func() time.Time) *RateThrottle {
	if now == nil {
		now = time.Now
	}
	return &RateThrottle{
		limiter: rate.NewLimiter(r, burst),
		now:     now,
	}
}

// Reserve implements Throttle. The reservation is always honored; the
// caller is expected to sleep for the returned duration.
func (t *RateThrottle) Reserve(int) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	res := t.limiter.ReserveN(now, 1)
	if !res.OK() {
		return 0
	}
	return res.DelayFrom(now)
}
