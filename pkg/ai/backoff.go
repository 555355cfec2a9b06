package ai

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// RetryPolicy bounds the gateway's retry loop for retriable provider
// failures.
type RetryPolicy struct {
	BaseMs       int64
	MaxMs        int64
	MaxJitterMs  int64
	MaxAttempts  int
	MaxTotalWait time.Duration
}

// DefaultRetryPolicy returns the standard gateway policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseMs:       500,
		MaxMs:        8000,
		MaxJitterMs:  250,
		MaxAttempts:  3,
		MaxTotalWait: 30 * time.Second,
	}
}

// backoff returns the delay before the given attempt (0-based): exponential
// base*2^attempt capped at MaxMs, plus deterministic jitter derived from a
// stable seed so replays of the same call wait the same way.
func (p RetryPolicy) backoff(seed string, attempt int) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}
	delay := p.BaseMs * factor
	if delay > p.MaxMs {
		delay = p.MaxMs
	}
	return time.Duration(delay+p.jitter(seed, attempt)) * time.Millisecond
}

// jitter is a PRF of (seed, attempt) in [0, MaxJitterMs).
func (p RetryPolicy) jitter(seed string, attempt int) int64 {
	if p.MaxJitterMs <= 0 {
		return 0
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", seed, attempt)))
	basis := binary.BigEndian.Uint64(sum[:8])
	return int64(basis % uint64(p.MaxJitterMs))
}
