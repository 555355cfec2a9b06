package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/ids"
)

const keyPrefixLen = 8

// APIKeyStore persists API keys. Only the SHA-256 of the secret is stored;
// the plaintext is returned once at creation and never again.
type APIKeyStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewAPIKeyStore creates the table if needed and returns the store.
func NewAPIKeyStore(ctx context.Context, db *sql.DB) (*APIKeyStore, error) {
	s := &APIKeyStore{db: db, now: time.Now}
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			prefix       TEXT NOT NULL,
			key_hash     TEXT NOT NULL UNIQUE,
			role         TEXT NOT NULL,
			created_at   BIGINT NOT NULL,
			last_used_at BIGINT
		)`); err != nil {
		return nil, fmt.Errorf("auth: migrate api_keys: %w", err)
	}
	return s, nil
}

// hashKey is the stored form of a key secret.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Create mints a new key with the given name and role. The returned
// CreatedKey.Key is the only copy of the plaintext.
func (s *APIKeyStore) Create(ctx context.Context, name, role string) (*CreatedKey, error) {
	if name == "" {
		return nil, fault.New(fault.KindInvalidInput, "api key name must not be empty")
	}
	if role == "" {
		return nil, fault.New(fault.KindInvalidInput, "api key role must not be empty")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fault.Wrap(fault.KindInternal, "generate api key", err)
	}
	plaintext := "sk-" + hex.EncodeToString(raw)

	created := s.now()
	key := APIKey{
		ID:        ids.New(),
		Name:      name,
		Prefix:    plaintext[:keyPrefixLen],
		Role:      role,
		CreatedAt: created,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, prefix, key_hash, role, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.Name, key.Prefix, hashKey(plaintext), key.Role, created.UnixMilli(),
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "insert api key", err)
	}
	return &CreatedKey{APIKey: key, Key: plaintext}, nil
}

// Verify resolves a presented plaintext key to its principal and stamps
// last_used_at. Unknown keys fail unauthenticated.
func (s *APIKeyStore) Verify(ctx context.Context, plaintext string) (Principal, error) {
	hashed := hashKey(plaintext)
	var (
		id   string
		role string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, role FROM api_keys WHERE key_hash = $1`, hashed,
	).Scan(&id, &role)
	if err == sql.ErrNoRows {
		return Principal{}, fault.New(fault.KindUnauthenticated, "invalid API key")
	}
	if err != nil {
		return Principal{}, fault.Wrap(fault.KindStorageUnavailable, "lookup api key", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`,
		s.now().UnixMilli(), id,
	); err != nil {
		return Principal{}, fault.Wrap(fault.KindStorageUnavailable, "stamp api key", err)
	}
	return Principal{ID: id, Role: role, Method: MethodAPIKey}, nil
}

// List returns all keys, newest first, without secrets.
func (s *APIKeyStore) List(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, prefix, role, created_at, last_used_at
		 FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "list api keys", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var (
			k         APIKey
			createdMs int64
			lastUsed  sql.NullInt64
		)
		if err := rows.Scan(&k.ID, &k.Name, &k.Prefix, &k.Role, &createdMs, &lastUsed); err != nil {
			return nil, fault.Wrap(fault.KindStorageUnavailable, "scan api key", err)
		}
		k.CreatedAt = time.UnixMilli(createdMs)
		if lastUsed.Valid {
			t := time.UnixMilli(lastUsed.Int64)
			k.LastUsedAt = &t
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Delete removes a key by id.
func (s *APIKeyStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "delete api key", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fault.New(fault.KindNotFound, "api key not found")
	}
	return nil
}
