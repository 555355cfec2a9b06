package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDeterministic(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, p.backoff("seed-a", 1), p.backoff("seed-a", 1))
	assert.NotEqual(t, p.backoff("seed-a", 1), p.backoff("seed-b", 1))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := RetryPolicy{BaseMs: 500, MaxMs: 2000, MaxJitterMs: 0, MaxAttempts: 10}

	assert.Equal(t, 500*time.Millisecond, p.backoff("s", 0))
	assert.Equal(t, 1000*time.Millisecond, p.backoff("s", 1))
	assert.Equal(t, 2000*time.Millisecond, p.backoff("s", 2))
	// Capped from here on.
	assert.Equal(t, 2000*time.Millisecond, p.backoff("s", 3))
	assert.Equal(t, 2000*time.Millisecond, p.backoff("s", 40))
}

func TestJitterBounded(t *testing.T) {
	p := RetryPolicy{BaseMs: 100, MaxMs: 100, MaxJitterMs: 50}
	for attempt := 0; attempt < 20; attempt++ {
		d := p.backoff("bound", attempt)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 150*time.Millisecond)
	}
}
