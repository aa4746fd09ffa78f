package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorTTL is how long an idle sender's bucket survives before
// opportunistic cleanup reclaims it.
const visitorTTL = 5 * time.Minute

// visitor holds one sender's token bucket and its last activity time.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a per-sender token-bucket rate limiter. Buckets are
// created on demand and idle buckets are evicted during lookups so
// memory stays bounded. Safe for concurrent use.
type Limiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
	sweepN   uint64
}

// NewLimiter constructs a limiter replenishing rps tokens per second
// with the given burst size.
func NewLimiter(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
}

// Allow reports whether the sender identified by key may submit one
// more message now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now

	// Sweep idle buckets every 256th lookup.
	l.sweepN++
	if l.sweepN%256 == 0 {
		for k, other := range l.visitors {
			if now.Sub(other.lastSeen) > visitorTTL {
				delete(l.visitors, k)
			}
		}
	}

	return v.limiter.Allow()
}
