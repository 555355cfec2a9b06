package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrDuplicateSequence is returned when an append collides with an
	// existing sequence number.
	ErrDuplicateSequence = errors.New("audit: duplicate sequence")
)

// Filter selects entries for queries and exports. Zero values match all.
type Filter struct {
	Level   Level
	Event   string
	UserID  string
	From    int64 // unix millis, inclusive
	To      int64 // unix millis, inclusive
	FromSeq uint64
	ToSeq   uint64
	Limit   int
}

func (f Filter) matches(e *Entry) bool {
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.Event != "" && e.Event != f.Event {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.From > 0 && e.Timestamp < f.From {
		return false
	}
	if f.To > 0 && e.Timestamp > f.To {
		return false
	}
	if f.FromSeq > 0 && e.Sequence < f.FromSeq {
		return false
	}
	if f.ToSeq > 0 && e.Sequence > f.ToSeq {
		return false
	}
	return true
}

// Storage persists chain entries. Implementations must make Append atomic:
// either the full entry is durable or nothing is.
type Storage interface {
	// Append stores one entry. Sequence numbers are unique.
	Append(ctx context.Context, e *Entry) error
	// Latest returns the highest-sequence entry, or nil on an empty chain.
	Latest(ctx context.Context) (*Entry, error)
	// Walk streams entries with fromSeq <= sequence <= toSeq in ascending
	// sequence order. toSeq 0 means no upper bound.
	Walk(ctx context.Context, fromSeq, toSeq uint64, fn func(*Entry) error) error
	// Query returns matching entries in ascending sequence order.
	Query(ctx context.Context, f Filter) ([]*Entry, error)
	// Count returns the number of stored entries.
	Count(ctx context.Context) (uint64, error)
}

// MemoryStorage keeps the chain in process memory. Used by tests and as the
// fallback when no database is configured.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries []*Entry
	bySeq   map[uint64]int
}

// NewMemoryStorage returns an empty in-memory backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{bySeq: make(map[uint64]int)}
}

func (s *MemoryStorage) Append(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bySeq[e.Sequence]; exists {
		return ErrDuplicateSequence
	}
	cp := e.clone()
	s.bySeq[e.Sequence] = len(s.entries)
	s.entries = append(s.entries, cp)
	return nil
}

func (s *MemoryStorage) Latest(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	best := s.entries[0]
	for _, e := range s.entries[1:] {
		if e.Sequence > best.Sequence {
			best = e
		}
	}
	return best.clone(), nil
}

func (s *MemoryStorage) Walk(_ context.Context, fromSeq, toSeq uint64, fn func(*Entry) error) error {
	s.mu.RLock()
	ordered := make([]*Entry, len(s.entries))
	copy(ordered, s.entries)
	s.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })
	for _, e := range ordered {
		if e.Sequence < fromSeq {
			continue
		}
		if toSeq > 0 && e.Sequence > toSeq {
			break
		}
		if err := fn(e.clone()); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStorage) Query(_ context.Context, f Filter) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0)
	for _, e := range s.entries {
		if f.matches(e) {
			out = append(out, e.clone())
			if f.Limit > 0 && len(out) >= f.Limit {
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *MemoryStorage) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.entries)), nil
}

// Tamper overwrites a stored entry's message in place. Test hook: real
// storage never mutates, but tamper detection needs a way to simulate an
// attacker editing the backing store.
func (s *MemoryStorage) Tamper(sequence uint64, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.bySeq[sequence]
	if !ok {
		return false
	}
	s.entries[idx].Message = message
	return true
}
