package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/ids"
)

// Event is the caller-supplied portion of an audit record.
type Event struct {
	Event         string
	Level         Level
	Message       string
	UserID        string
	CorrelationID string
	Metadata      map[string]any
}

// VerifyResult reports the outcome of a chain verification pass.
type VerifyResult struct {
	Valid                bool   `json:"valid"`
	EntriesChecked       int    `json:"entriesChecked"`
	FirstInvalidSequence uint64 `json:"firstInvalidSequence,omitempty"`
	Error                string `json:"error,omitempty"`
}

// Chain is the single-writer audit chain. Record calls are serialized; the
// head (hash, sequence) is cached so each append reads no prior entries.
type Chain struct {
	mu      sync.Mutex
	storage Storage
	key     []byte
	now     func() time.Time
	logger  *slog.Logger

	headHash string
	headSeq  uint64
}

// Option configures a Chain.
type Option func(*Chain)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// NewChain loads the chain head from storage so sequencing and linking
// continue unbroken across restarts.
func NewChain(ctx context.Context, storage Storage, signingKey []byte, opts ...Option) (*Chain, error) {
	c := &Chain{
		storage: storage,
		key:     signingKey,
		now:     time.Now,
		logger:  slog.Default().With("component", "audit"),

		headHash: ZeroHash,
	}
	for _, opt := range opts {
		opt(c)
	}

	latest, err := storage.Latest(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "audit: load chain head", err)
	}
	if latest != nil {
		c.headHash = latest.Hash
		c.headSeq = latest.Sequence
	}
	return c, nil
}

// Record appends one entry. On storage failure the chain state is unchanged
// and the error carries kind storage_unavailable; the append is atomic, so
// there is no partial write to observe.
func (c *Chain) Record(ctx context.Context, ev Event) (*Entry, error) {
	if ev.Event == "" {
		return nil, fault.New(fault.KindInvalidInput, "audit: event tag required")
	}
	if ev.Level == "" {
		ev.Level = LevelInfo
	}
	if !ev.Level.Valid() {
		return nil, fault.Errorf(fault.KindInvalidInput, "audit: unknown level %q", ev.Level)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &Entry{
		ID:            ids.New(),
		Sequence:      c.headSeq + 1,
		Timestamp:     c.now().UnixMilli(),
		Event:         ev.Event,
		Level:         ev.Level,
		Message:       ev.Message,
		UserID:        ev.UserID,
		CorrelationID: ev.CorrelationID,
		Metadata:      ev.Metadata,
		PreviousHash:  c.headHash,
	}

	hash, err := computeHash(entry)
	if err != nil {
		return nil, fmt.Errorf("audit: hash entry: %w", err)
	}
	entry.Hash = hash
	entry.Signature = sign(hash, c.key)

	if err := c.storage.Append(ctx, entry); err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "audit: append entry", err)
	}

	c.headHash = entry.Hash
	c.headSeq = entry.Sequence
	return entry.clone(), nil
}

// Head returns the current chain head hash and sequence.
func (c *Chain) Head() (string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headHash, c.headSeq
}

// Verify streams entries from storage in sequence order, recomputing each
// hash, re-verifying its signature, and checking linkage. It snapshots the
// maximum sequence up front, so records appended during the pass are checked
// by the next run. fromSeq/toSeq of 0 mean chain start/snapshot head.
//
// Verification reads storage, never the in-memory head: storage is
// authoritative for what the chain contains.
func (c *Chain) Verify(ctx context.Context, fromSeq, toSeq uint64) (VerifyResult, error) {
	c.mu.Lock()
	snapshot := c.headSeq
	c.mu.Unlock()

	if toSeq == 0 || toSeq > snapshot {
		toSeq = snapshot
	}
	if fromSeq == 0 {
		fromSeq = 1
	}
	if toSeq < fromSeq {
		return VerifyResult{Valid: true}, nil
	}

	// Seed linkage for a mid-chain start from the predecessor.
	expectedPrev := ZeroHash
	if fromSeq > 1 {
		err := c.storage.Walk(ctx, fromSeq-1, fromSeq-1, func(e *Entry) error {
			expectedPrev = e.Hash
			return nil
		})
		if err != nil {
			return VerifyResult{}, fault.Wrap(fault.KindStorageUnavailable, "audit: read predecessor", err)
		}
	}

	res := VerifyResult{Valid: true}
	expectedSeq := fromSeq
	err := c.storage.Walk(ctx, fromSeq, toSeq, func(e *Entry) error {
		res.EntriesChecked++

		if e.Sequence != expectedSeq {
			return c.broken(&res, expectedSeq, "Chain link broken: expected sequence %d, found %d", expectedSeq, e.Sequence)
		}
		if e.PreviousHash != expectedPrev {
			return c.broken(&res, e.Sequence, "Chain link broken: previousHash mismatch at sequence %d", e.Sequence)
		}

		recomputed, err := computeHash(e)
		if err != nil {
			return fmt.Errorf("audit: rehash sequence %d: %w", e.Sequence, err)
		}
		if !verifySignature(recomputed, e.Signature, c.key) {
			return c.broken(&res, e.Sequence, "Signature verification failed at sequence %d", e.Sequence)
		}
		if recomputed != e.Hash {
			return c.broken(&res, e.Sequence, "Chain link broken: stored hash does not match content at sequence %d", e.Sequence)
		}

		expectedPrev = e.Hash
		expectedSeq++
		return nil
	})
	if err != nil {
		if err == errHalt {
			return res, nil
		}
		return VerifyResult{}, fault.Wrap(fault.KindStorageUnavailable, "audit: walk entries", err)
	}

	if res.Valid && uint64(res.EntriesChecked) != toSeq-fromSeq+1 {
		res.Valid = false
		res.FirstInvalidSequence = fromSeq + uint64(res.EntriesChecked)
		res.Error = fmt.Sprintf("Chain link broken: missing entries after sequence %d", fromSeq+uint64(res.EntriesChecked)-1)
	}
	return res, nil
}

// errHalt stops the storage walk once the first bad entry is found.
var errHalt = fmt.Errorf("audit: verification halted")

func (c *Chain) broken(res *VerifyResult, seq uint64, format string, args ...any) error {
	res.Valid = false
	res.FirstInvalidSequence = seq
	res.Error = fmt.Sprintf(format, args...)
	c.logger.Warn("chain verification failed", "sequence", seq, "error", res.Error)
	return errHalt
}
