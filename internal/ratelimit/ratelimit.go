package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket refilled at rate tokens per second up to burst.
type Limiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	return newLimiter(rate, burst, time.Now)
}

func newLimiter(rate float64, burst int, now func() time.Time) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: now(),
		now:        now,
	}
}

// Allow takes one token if available.
func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN takes n tokens if all of them are available.
func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}
	return false
}

func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
}

type sharedLimiter struct {
	limiter *Limiter
	refs    int
}

// ClientLimiters hands out one limiter per user so that every connection of
// the same user draws from the same bucket.
type ClientLimiters struct {
	limiters map[string]*sharedLimiter
	rate     float64
	burst    int
	mu       sync.Mutex
}

func NewClientLimiters(rate float64, burst int) *ClientLimiters {
	return &ClientLimiters{
		limiters: make(map[string]*sharedLimiter),
		rate:     rate,
		burst:    burst,
	}
}

// Acquire returns the user's limiter, creating it on first use. Every call
// must be paired with Release.
func (cl *ClientLimiters) Acquire(userID string) *Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	s, ok := cl.limiters[userID]
	if !ok {
		s = &sharedLimiter{limiter: NewLimiter(cl.rate, cl.burst)}
		cl.limiters[userID] = s
	}
	s.refs++
	return s.limiter
}

// Release drops one reference; the limiter is forgotten with the last one.
func (cl *ClientLimiters) Release(userID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	s, ok := cl.limiters[userID]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(cl.limiters, userID)
	}
}

// Len returns the number of users holding a limiter.
func (cl *ClientLimiters) Len() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.limiters)
}
