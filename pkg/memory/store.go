package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

// flaggedKey is the meta row holding the persisted flagged-id set.
const flaggedKey = "consolidation:flaggedIds"

// Store persists memories, knowledge, and engine metadata. The SQL sticks to
// $N placeholders and portable DDL so both Postgres and SQLite drivers work.
type Store struct {
	db *sql.DB
}

// NewStore creates the tables if needed and returns the store.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id               TEXT PRIMARY KEY,
			personality_id   TEXT,
			type             TEXT NOT NULL,
			content          TEXT NOT NULL,
			source           TEXT,
			importance       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			access_count     BIGINT NOT NULL DEFAULT 0,
			last_accessed_at BIGINT,
			expires_at       BIGINT,
			context          TEXT,
			embedding        TEXT,
			created_at       BIGINT NOT NULL,
			updated_at       BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_personality ON memories(personality_id)`,
		`CREATE TABLE IF NOT EXISTS knowledge (
			id         TEXT PRIMARY KEY,
			category   TEXT,
			title      TEXT NOT NULL,
			content    TEXT NOT NULL,
			source     TEXT,
			metadata   TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("memory: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) InsertMemory(ctx context.Context, m *Memory) error {
	contextJSON, err := encodeJSON(m.Context)
	if err != nil {
		return fmt.Errorf("memory: marshal context: %w", err)
	}
	embeddingJSON, err := encodeJSON(m.Embedding)
	if err != nil {
		return fmt.Errorf("memory: marshal embedding: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories
		 (id, personality_id, type, content, source, importance, access_count, last_accessed_at, expires_at, context, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, nullString(m.PersonalityID), string(m.Type), m.Content, nullString(m.Source),
		m.Importance, m.AccessCount, nullInt(m.LastAccessedAt), nullInt(m.ExpiresAt),
		contextJSON, embeddingJSON, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "memory: insert", err)
	}
	return nil
}

func (s *Store) UpdateMemory(ctx context.Context, m *Memory) error {
	contextJSON, err := encodeJSON(m.Context)
	if err != nil {
		return fmt.Errorf("memory: marshal context: %w", err)
	}
	embeddingJSON, err := encodeJSON(m.Embedding)
	if err != nil {
		return fmt.Errorf("memory: marshal embedding: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET personality_id = $2, type = $3, content = $4, source = $5,
		 importance = $6, access_count = $7, last_accessed_at = $8, expires_at = $9,
		 context = $10, embedding = $11, updated_at = $12
		 WHERE id = $1`,
		m.ID, nullString(m.PersonalityID), string(m.Type), m.Content, nullString(m.Source),
		m.Importance, m.AccessCount, nullInt(m.LastAccessedAt), nullInt(m.ExpiresAt),
		contextJSON, embeddingJSON, m.UpdatedAt,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "memory: update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Errorf(fault.KindNotFound, "memory: no memory %s", m.ID)
	}
	return nil
}

func (s *Store) GetMemory(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, memoryCols+` FROM memories WHERE id = $1`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, fault.Errorf(fault.KindNotFound, "memory: no memory %s", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "memory: get", err)
	}
	return m, nil
}

// MemoryFilter narrows ListMemories.
type MemoryFilter struct {
	Type          Type
	PersonalityID string
	Limit         int
}

func (s *Store) ListMemories(ctx context.Context, f MemoryFilter) ([]*Memory, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Type != "" {
		conds = append(conds, "type = "+arg(string(f.Type)))
	}
	if f.PersonalityID != "" {
		conds = append(conds, "personality_id = "+arg(f.PersonalityID))
	}

	query := memoryCols + ` FROM memories`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "memory: list", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: list scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "memory: delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Errorf(fault.KindNotFound, "memory: no memory %s", id)
	}
	return nil
}

func (s *Store) CountMemories(ctx context.Context) (int, map[Type]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM memories GROUP BY type`)
	if err != nil {
		return 0, nil, fault.Wrap(fault.KindStorageUnavailable, "memory: count", err)
	}
	defer rows.Close()

	total := 0
	byType := make(map[Type]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return 0, nil, fmt.Errorf("memory: count scan: %w", err)
		}
		byType[Type(t)] = n
		total += n
	}
	return total, byType, rows.Err()
}

func (s *Store) InsertKnowledge(ctx context.Context, k *Knowledge) error {
	metaJSON, err := encodeJSON(k.Metadata)
	if err != nil {
		return fmt.Errorf("memory: marshal knowledge metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO knowledge (id, category, title, content, source, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		k.ID, nullString(k.Category), k.Title, k.Content, nullString(k.Source),
		metaJSON, k.CreatedAt, k.UpdatedAt,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "memory: insert knowledge", err)
	}
	return nil
}

func (s *Store) ListKnowledge(ctx context.Context, limit int) ([]*Knowledge, error) {
	query := `SELECT id, category, title, content, source, metadata, created_at, updated_at
	          FROM knowledge ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "memory: list knowledge", err)
	}
	defer rows.Close()

	var out []*Knowledge
	for rows.Next() {
		var k Knowledge
		var category, source, metadata sql.NullString
		if err := rows.Scan(&k.ID, &category, &k.Title, &k.Content, &source, &metadata, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("memory: knowledge scan: %w", err)
		}
		k.Category = category.String
		k.Source = source.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &k.Metadata); err != nil {
				return nil, fmt.Errorf("memory: decode knowledge metadata: %w", err)
			}
		}
		out = append(out, &k)
	}
	return out, rows.Err()
}

func (s *Store) CountKnowledge(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge`).Scan(&n); err != nil {
		return 0, fault.Wrap(fault.KindStorageUnavailable, "memory: count knowledge", err)
	}
	return n, nil
}

// FlaggedIDs returns the persisted flagged set.
func (s *Store) FlaggedIDs(ctx context.Context) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = $1`, flaggedKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "memory: load flagged set", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("memory: decode flagged set: %w", err)
	}
	return ids, nil
}

// AddFlagged adds id to the flagged set if not already present.
func (s *Store) AddFlagged(ctx context.Context, id string) error {
	ids, err := s.FlaggedIDs(ctx)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return s.saveFlagged(ctx, append(ids, id))
}

// RemoveFlagged drops the given ids from the flagged set, leaving any ids
// flagged since the caller's snapshot in place.
func (s *Store) RemoveFlagged(ctx context.Context, remove []string) error {
	ids, err := s.FlaggedIDs(ctx)
	if err != nil {
		return err
	}
	drop := make(map[string]bool, len(remove))
	for _, id := range remove {
		drop[id] = true
	}
	kept := ids[:0]
	for _, id := range ids {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	return s.saveFlagged(ctx, kept)
}

func (s *Store) saveFlagged(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("memory: encode flagged set: %w", err)
	}
	return s.SetMeta(ctx, flaggedKey, string(raw))
}

// SetMeta upserts one meta row.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = $2`,
		key, value,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "memory: set meta", err)
	}
	return nil
}

const memoryCols = `SELECT id, personality_id, type, content, source, importance, access_count, last_accessed_at, expires_at, context, embedding, created_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanMemory(row scannable) (*Memory, error) {
	var m Memory
	var typ string
	var personalityID, source, contextJSON, embeddingJSON sql.NullString
	var lastAccessed, expires sql.NullInt64

	err := row.Scan(&m.ID, &personalityID, &typ, &m.Content, &source, &m.Importance,
		&m.AccessCount, &lastAccessed, &expires, &contextJSON, &embeddingJSON,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	m.Type = Type(typ)
	m.PersonalityID = personalityID.String
	m.Source = source.String
	m.LastAccessedAt = lastAccessed.Int64
	m.ExpiresAt = expires.Int64
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &m.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &m.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}
	return &m, nil
}

func encodeJSON(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	case []float32:
		if val == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
