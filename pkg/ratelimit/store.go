package ratelimit

import (
	"context"
	"sync"
	"time"
)

// CounterStore holds windowed counters. A counter expires at its window end;
// expired counters read as zero.
type CounterStore interface {
	// Incr adds one, starting the window on the first hit of an empty or
	// expired counter. Returns the new count and the window's reset time.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
	// Peek reads the counter without touching it.
	Peek(ctx context.Context, key string) (int64, time.Time, error)
}

type memCounter struct {
	count   int64
	resetAt time.Time
}

// MemoryCounterStore is the in-process store. A background sweep drops
// expired counters so idle keys do not accumulate.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memCounter
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryCounterStore starts the cleanup sweep and returns the store.
func NewMemoryCounterStore() *MemoryCounterStore {
	s := &MemoryCounterStore{
		counters: make(map[string]*memCounter),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// WithClock overrides the time source for tests.
func (s *MemoryCounterStore) WithClock(now func() time.Time) *MemoryCounterStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *MemoryCounterStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || !c.resetAt.After(now) {
		c = &memCounter{resetAt: now.Add(window)}
		s.counters[key] = c
	}
	c.count++
	return c.count, c.resetAt, nil
}

func (s *MemoryCounterStore) Peek(_ context.Context, key string) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !c.resetAt.After(s.now()) {
		return 0, time.Time{}, nil
	}
	return c.count, c.resetAt, nil
}

func (s *MemoryCounterStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for key, c := range s.counters {
				if !c.resetAt.After(now) {
					delete(s.counters, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Close stops the cleanup sweep.
func (s *MemoryCounterStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}
