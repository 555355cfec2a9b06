package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Shaper smooths outbound sends to a platform's allowed rate. Unlike the
// windowed rules, callers wait for a token rather than fail.
type Shaper struct {
	limiter *rate.Limiter
}

// NewShaper allows perSecond sends with the given burst.
func NewShaper(perSecond float64, burst int) *Shaper {
	if burst < 1 {
		burst = 1
	}
	return &Shaper{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a send slot is available or ctx is done.
func (s *Shaper) Wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

// Allow reports whether a send slot is available right now.
func (s *Shaper) Allow() bool {
	return s.limiter.Allow()
}

// VisitorLimiter hands out a token-bucket limiter per remote IP for the
// HTTP-wide request limit. Idle visitors are dropped by a background sweep.
type VisitorLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	perSec   rate.Limit
	burst    int
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewVisitorLimiter allows perSecond requests with the given burst per IP.
func NewVisitorLimiter(perSecond float64, burst int) *VisitorLimiter {
	v := &VisitorLimiter{
		visitors: make(map[string]*visitor),
		perSec:   rate.Limit(perSecond),
		burst:    burst,
		ttl:      3 * time.Minute,
		stop:     make(chan struct{}),
	}
	go v.cleanupLoop()
	return v
}

// Allow reports whether ip may make a request now.
func (v *VisitorLimiter) Allow(ip string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	vis, ok := v.visitors[ip]
	if !ok {
		vis = &visitor{limiter: rate.NewLimiter(v.perSec, v.burst)}
		v.visitors[ip] = vis
	}
	vis.lastSeen = time.Now()
	return vis.limiter.Allow()
}

func (v *VisitorLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-v.stop:
			return
		case <-ticker.C:
			v.mu.Lock()
			cutoff := time.Now().Add(-v.ttl)
			for ip, vis := range v.visitors {
				if vis.lastSeen.Before(cutoff) {
					delete(v.visitors, ip)
				}
			}
			v.mu.Unlock()
		}
	}
}

// Close stops the cleanup sweep.
func (v *VisitorLimiter) Close() {
	v.stopOnce.Do(func() { close(v.stop) })
}
