package auth

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

// NonceStore records refresh-token nonces that have been spent. Consume is
// first-wins: exactly one caller gets true for a given nonce.
type NonceStore interface {
	Consume(ctx context.Context, nonce string, expiresAt time.Time) (bool, error)
}

// SQLNonceStore keeps consumed nonces in a table so rotation survives
// restarts. Expired rows are swept opportunistically on each consume.
type SQLNonceStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLNonceStore(ctx context.Context, db *sql.DB) (*SQLNonceStore, error) {
	s := &SQLNonceStore{db: db, now: time.Now}
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS consumed_nonces (
			nonce      TEXT PRIMARY KEY,
			expires_at BIGINT NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("auth: migrate consumed_nonces: %w", err)
	}
	return s, nil
}

func (s *SQLNonceStore) Consume(ctx context.Context, nonce string, expiresAt time.Time) (bool, error) {
	now := s.now()
	// Rows for tokens past their natural expiry can never be replayed
	// through token validation, so they are safe to drop.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM consumed_nonces WHERE expires_at < $1`, now.UnixMilli(),
	); err != nil {
		return false, fault.Wrap(fault.KindStorageUnavailable, "sweep nonces", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO consumed_nonces (nonce, expires_at) VALUES ($1, $2)
		 ON CONFLICT (nonce) DO NOTHING`,
		nonce, expiresAt.UnixMilli(),
	)
	if err != nil {
		return false, fault.Wrap(fault.KindStorageUnavailable, "consume nonce", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fault.Wrap(fault.KindStorageUnavailable, "consume nonce", err)
	}
	return n == 1, nil
}

// MemoryNonceStore is the in-process fallback used by tests and by
// deployments without a database.
type MemoryNonceStore struct {
	mu       sync.Mutex
	consumed map[string]time.Time
	now      func() time.Time
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{consumed: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryNonceStore) Consume(_ context.Context, nonce string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for n, exp := range s.consumed {
		if exp.Before(now) {
			delete(s.consumed, n)
		}
	}
	if _, seen := s.consumed[nonce]; seen {
		return false, nil
	}
	s.consumed[nonce] = expiresAt
	return true, nil
}
