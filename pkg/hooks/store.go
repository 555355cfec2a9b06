package hooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

// Extension is a persisted extension record.
type Extension struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// PersistedHook is one hook slot an extension declared in its manifest.
type PersistedHook struct {
	ID          string    `json:"id"`
	ExtensionID string    `json:"extensionId"`
	Point       Point     `json:"point"`
	Priority    int       `json:"priority"`
	Semantics   Semantics `json:"semantics"`
}

// Store persists extensions, their declared hooks, and webhook
// subscriptions.
type Store struct {
	db *sql.DB
}

func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS extensions (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			version     TEXT NOT NULL,
			description TEXT,
			enabled     INTEGER NOT NULL DEFAULT 1,
			created_at  BIGINT NOT NULL,
			updated_at  BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS extension_hooks (
			id           TEXT PRIMARY KEY,
			extension_id TEXT NOT NULL,
			point        TEXT NOT NULL,
			priority     INTEGER NOT NULL DEFAULT 0,
			semantics    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS webhooks (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			url        TEXT NOT NULL,
			secret     TEXT,
			events     TEXT,
			enabled    INTEGER NOT NULL DEFAULT 1,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("hooks: migrate: %w", err)
		}
	}
	return nil
}

// UpsertExtension inserts or refreshes an extension by name.
func (s *Store) UpsertExtension(ctx context.Context, ext *Extension) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extensions (id, name, version, description, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (name) DO UPDATE SET version = $3, description = $4, updated_at = $7`,
		ext.ID, ext.Name, ext.Version, nullable(ext.Description),
		boolInt(ext.Enabled), ext.CreatedAt, ext.UpdatedAt,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "hooks: upsert extension", err)
	}
	return nil
}

func (s *Store) GetExtensionByName(ctx context.Context, name string) (*Extension, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, description, enabled, created_at, updated_at
		 FROM extensions WHERE name = $1`, name)
	return scanExtension(row)
}

func (s *Store) ListExtensions(ctx context.Context) ([]*Extension, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, version, description, enabled, created_at, updated_at
		 FROM extensions ORDER BY name ASC`)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "hooks: list extensions", err)
	}
	defer rows.Close()

	var out []*Extension
	for rows.Next() {
		ext, err := scanExtension(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ext)
	}
	return out, rows.Err()
}

func (s *Store) DeleteExtension(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM extensions WHERE id = $1`, id)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "hooks: delete extension", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Errorf(fault.KindNotFound, "hooks: no extension %s", id)
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM extension_hooks WHERE extension_id = $1`, id)
	return nil
}

// ReplaceHooks swaps an extension's declared hook slots.
func (s *Store) ReplaceHooks(ctx context.Context, extensionID string, hooks []PersistedHook) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM extension_hooks WHERE extension_id = $1`, extensionID); err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "hooks: clear hooks", err)
	}
	for _, h := range hooks {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO extension_hooks (id, extension_id, point, priority, semantics)
			 VALUES ($1, $2, $3, $4, $5)`,
			h.ID, extensionID, string(h.Point), h.Priority, string(h.Semantics))
		if err != nil {
			return fault.Wrap(fault.KindStorageUnavailable, "hooks: insert hook", err)
		}
	}
	return nil
}

// ListHooks returns every persisted hook slot, for startup
// re-materialization.
func (s *Store) ListHooks(ctx context.Context) ([]PersistedHook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, extension_id, point, priority, semantics FROM extension_hooks`)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "hooks: list hooks", err)
	}
	defer rows.Close()

	var out []PersistedHook
	for rows.Next() {
		var h PersistedHook
		var point, sem string
		if err := rows.Scan(&h.ID, &h.ExtensionID, &point, &h.Priority, &sem); err != nil {
			return nil, fmt.Errorf("hooks: hook scan: %w", err)
		}
		h.Point = Point(point)
		h.Semantics = Semantics(sem)
		out = append(out, h)
	}
	return out, rows.Err()
}

// SaveWebhook inserts or replaces a webhook subscription.
func (s *Store) SaveWebhook(ctx context.Context, w *Webhook) error {
	events, err := json.Marshal(w.Events)
	if err != nil {
		return fault.Wrap(fault.KindInternal, "hooks: encode events", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO webhooks (id, name, url, secret, events, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET name = $2, url = $3, secret = $4, events = $5,
		   enabled = $6, updated_at = $8`,
		w.ID, w.Name, w.URL, nullable(w.Secret), string(events),
		boolInt(w.Enabled), w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "hooks: save webhook", err)
	}
	return nil
}

func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "hooks: delete webhook", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Errorf(fault.KindNotFound, "hooks: no webhook %s", id)
	}
	return nil
}

func (s *Store) ListWebhooks(ctx context.Context) ([]*Webhook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url, secret, events, enabled, created_at, updated_at
		 FROM webhooks ORDER BY name ASC`)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "hooks: list webhooks", err)
	}
	defer rows.Close()

	var out []*Webhook
	for rows.Next() {
		var w Webhook
		var secret, events sql.NullString
		var enabled int
		if err := rows.Scan(&w.ID, &w.Name, &w.URL, &secret, &events, &enabled,
			&w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("hooks: webhook scan: %w", err)
		}
		w.Secret = secret.String
		w.Enabled = enabled != 0
		if events.Valid && events.String != "" {
			if err := json.Unmarshal([]byte(events.String), &w.Events); err != nil {
				return nil, fmt.Errorf("hooks: decode events: %w", err)
			}
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

func scanExtension(row interface{ Scan(...any) error }) (*Extension, error) {
	var ext Extension
	var description sql.NullString
	var enabled int
	err := row.Scan(&ext.ID, &ext.Name, &ext.Version, &description, &enabled,
		&ext.CreatedAt, &ext.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.KindNotFound, "hooks: extension not found")
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "hooks: extension scan", err)
	}
	ext.Description = description.String
	ext.Enabled = enabled != 0
	return &ext, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
