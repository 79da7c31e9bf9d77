// Package ledger implements the attempt-throttling side of the engine: a
// per-key sliding-window request limiter and the rolling account-lockout
// rule evaluated over recorded login attempts.
package ledger

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RouteClass names one budgeted operation family.
type RouteClass string

const (
	RouteLogin    RouteClass = "login"
	RouteRegister RouteClass = "register"
	RouteReset    RouteClass = "reset"
)

// Budget is a sliding-window allowance for one route class.
type Budget struct {
	Max    int
	Window time.Duration
	Burst  int
}

const sweepInterval = 5 * time.Minute

// Limiter keeps one token bucket per (route, key). Buckets refill
// continuously, giving wall-clock sliding windows rather than fixed
// calendar buckets. Idle buckets are swept periodically so ephemeral keys
// do not accumulate.
type Limiter struct {
	budgets map[RouteClass]Budget
	buckets sync.Map // string -> *bucket

	mu        sync.Mutex
	lastSweep time.Time
}

type bucket struct {
	lim   *rate.Limiter
	burst int
}

// NewLimiter builds a Limiter for the given budgets. Unknown routes are
// always allowed.
func NewLimiter(budgets map[RouteClass]Budget) *Limiter {
	return &Limiter{
		budgets:   budgets,
		lastSweep: time.Now(),
	}
}

// Allow consumes one request for (route, key). When the budget is
// exhausted it returns ok=false and a retry-after hint of at least one
// second.
func (l *Limiter) Allow(route RouteClass, key string) (retryAfter time.Duration, ok bool) {
	budget, found := l.budgets[route]
	if !found || budget.Max <= 0 || key == "" {
		return 0, true
	}

	l.maybeSweep()

	b := l.bucketFor(route, key, budget)
	if b.lim.Allow() {
		return 0, true
	}

	// Peek at when the next token lands without consuming the reservation.
	reservation := b.lim.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	if delay < time.Second {
		delay = time.Second
	}
	return delay, false
}

func (l *Limiter) bucketFor(route RouteClass, key string, budget Budget) *bucket {
	composite := string(route) + ":" + key
	if existing, loaded := l.buckets.Load(composite); loaded {
		return existing.(*bucket)
	}

	burst := budget.Burst
	if burst <= 0 {
		burst = budget.Max
	}
	perSecond := float64(budget.Max) / budget.Window.Seconds()
	fresh := &bucket{
		lim:   rate.NewLimiter(rate.Limit(perSecond), burst),
		burst: burst,
	}
	actual, _ := l.buckets.LoadOrStore(composite, fresh)
	return actual.(*bucket)
}

// maybeSweep drops buckets whose token balance is full again: a full bucket
// has been idle for at least a whole window.
func (l *Limiter) maybeSweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastSweep) < sweepInterval {
		return
	}
	l.lastSweep = time.Now()

	l.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		if b.lim.Tokens() >= float64(b.burst) {
			l.buckets.Delete(key)
		}
		return true
	})
}
