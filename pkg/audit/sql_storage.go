package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SQLStorage persists the chain in an audit_entries table. The SQL sticks to
// $N placeholders and portable DDL so both Postgres and SQLite drivers work.
type SQLStorage struct {
	db *sql.DB
}

// NewSQLStorage creates the table if needed and returns the store.
func NewSQLStorage(ctx context.Context, db *sql.DB) (*SQLStorage, error) {
	s := &SQLStorage{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStorage) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id             TEXT PRIMARY KEY,
			sequence       BIGINT NOT NULL UNIQUE,
			timestamp      BIGINT NOT NULL,
			event          TEXT NOT NULL,
			level          TEXT NOT NULL,
			message        TEXT NOT NULL,
			user_id        TEXT,
			correlation_id TEXT,
			metadata       TEXT,
			previous_hash  TEXT NOT NULL,
			hash           TEXT NOT NULL,
			signature      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_event ON audit_entries(event)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_user ON audit_entries(user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("audit: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStorage) Append(ctx context.Context, e *Entry) error {
	var metadata any
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("audit: marshal metadata: %w", err)
		}
		metadata = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries
		 (id, sequence, timestamp, event, level, message, user_id, correlation_id, metadata, previous_hash, hash, signature)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.Sequence, e.Timestamp, e.Event, string(e.Level), e.Message,
		nullable(e.UserID), nullable(e.CorrelationID), metadata,
		e.PreviousHash, e.Hash, e.Signature,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return ErrDuplicateSequence
		}
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

func (s *SQLStorage) Latest(ctx context.Context) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		selectCols+` FROM audit_entries ORDER BY sequence DESC LIMIT 1`)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: load latest: %w", err)
	}
	return e, nil
}

func (s *SQLStorage) Walk(ctx context.Context, fromSeq, toSeq uint64, fn func(*Entry) error) error {
	query := selectCols + ` FROM audit_entries WHERE sequence >= $1`
	args := []any{fromSeq}
	if toSeq > 0 {
		query += ` AND sequence <= $2`
		args = append(args, toSeq)
	}
	query += ` ORDER BY sequence ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("audit: walk: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("audit: walk scan: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLStorage) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Level != "" {
		conds = append(conds, "level = "+arg(string(f.Level)))
	}
	if f.Event != "" {
		conds = append(conds, "event = "+arg(f.Event))
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = "+arg(f.UserID))
	}
	if f.From > 0 {
		conds = append(conds, "timestamp >= "+arg(f.From))
	}
	if f.To > 0 {
		conds = append(conds, "timestamp <= "+arg(f.To))
	}
	if f.FromSeq > 0 {
		conds = append(conds, "sequence >= "+arg(f.FromSeq))
	}
	if f.ToSeq > 0 {
		conds = append(conds, "sequence <= "+arg(f.ToSeq))
	}

	query := selectCols + ` FROM audit_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY sequence ASC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: query scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStorage) Count(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("audit: count: %w", err)
	}
	return n, nil
}

const selectCols = `SELECT id, sequence, timestamp, event, level, message, user_id, correlation_id, metadata, previous_hash, hash, signature`

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*Entry, error) {
	var e Entry
	var level string
	var userID, correlationID, metadata sql.NullString

	err := row.Scan(&e.ID, &e.Sequence, &e.Timestamp, &e.Event, &level, &e.Message,
		&userID, &correlationID, &metadata, &e.PreviousHash, &e.Hash, &e.Signature)
	if err != nil {
		return nil, err
	}

	e.Level = Level(level)
	e.UserID = userID.String
	e.CorrelationID = correlationID.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
