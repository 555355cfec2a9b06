package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

// Store persists integrations and their message history. Config maps are
// sealed with the cipher before they touch the database.
type Store struct {
	db     *sql.DB
	cipher *Cipher
}

func NewStore(ctx context.Context, db *sql.DB, cipher *Cipher) (*Store, error) {
	s := &Store{db: db, cipher: cipher}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS integrations (
			id            TEXT PRIMARY KEY,
			platform      TEXT NOT NULL,
			display_name  TEXT NOT NULL,
			enabled       INTEGER NOT NULL DEFAULT 0,
			status        TEXT NOT NULL,
			config        TEXT,
			message_count BIGINT NOT NULL DEFAULT 0,
			created_at    BIGINT NOT NULL,
			updated_at    BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id                  TEXT PRIMARY KEY,
			integration_id      TEXT NOT NULL,
			platform            TEXT NOT NULL,
			direction           TEXT NOT NULL,
			sender_id           TEXT,
			sender_name         TEXT,
			chat_id             TEXT,
			text                TEXT,
			attachments         TEXT,
			platform_message_id TEXT,
			metadata            TEXT,
			timestamp           BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_integration ON messages(integration_id, timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("integration: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, integ *Integration) error {
	blob, err := s.cipher.EncryptConfig(integ.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO integrations (id, platform, display_name, enabled, status, config, message_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		integ.ID, integ.Platform, integ.DisplayName, boolInt(integ.Enabled),
		string(integ.Status), nullable(blob), integ.MessageCount, integ.CreatedAt, integ.UpdatedAt,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "integration: insert", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, integ *Integration) error {
	blob, err := s.cipher.EncryptConfig(integ.Config)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE integrations SET display_name = $2, enabled = $3, status = $4, config = $5, updated_at = $6
		 WHERE id = $1`,
		integ.ID, integ.DisplayName, boolInt(integ.Enabled), string(integ.Status),
		nullable(blob), integ.UpdatedAt,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "integration: update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Errorf(fault.KindNotFound, "integration: no integration %s", integ.ID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Integration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, platform, display_name, enabled, status, config, message_count, created_at, updated_at
		 FROM integrations WHERE id = $1`, id)
	integ, err := s.scan(row)
	if err == sql.ErrNoRows {
		return nil, fault.Errorf(fault.KindNotFound, "integration: no integration %s", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "integration: get", err)
	}
	return integ, nil
}

func (s *Store) List(ctx context.Context) ([]*Integration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, platform, display_name, enabled, status, config, message_count, created_at, updated_at
		 FROM integrations ORDER BY created_at ASC`)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "integration: list", err)
	}
	defer rows.Close()

	var out []*Integration
	for rows.Next() {
		integ, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("integration: list scan: %w", err)
		}
		out = append(out, integ)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM integrations WHERE id = $1`, id)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "integration: delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Errorf(fault.KindNotFound, "integration: no integration %s", id)
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM messages WHERE integration_id = $1`, id)
	return nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status Status, updatedAt int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE integrations SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), updatedAt)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "integration: set status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Errorf(fault.KindNotFound, "integration: no integration %s", id)
	}
	return nil
}

// InsertMessage persists a unified message and bumps the integration's
// message counter.
func (s *Store) InsertMessage(ctx context.Context, msg *UnifiedMessage) error {
	attachments, err := encodeJSON(msg.Attachments)
	if err != nil {
		return fault.Wrap(fault.KindInternal, "integration: encode attachments", err)
	}
	metadata, err := encodeJSON(msg.Metadata)
	if err != nil {
		return fault.Wrap(fault.KindInternal, "integration: encode metadata", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, integration_id, platform, direction, sender_id, sender_name,
		                       chat_id, text, attachments, platform_message_id, metadata, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		msg.ID, msg.IntegrationID, msg.Platform, msg.Direction,
		nullable(msg.SenderID), nullable(msg.SenderName), nullable(msg.ChatID),
		nullable(msg.Text), nullable(attachments), nullable(msg.PlatformMessageID),
		nullable(metadata), msg.Timestamp,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "integration: insert message", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE integrations SET message_count = message_count + 1 WHERE id = $1`, msg.IntegrationID)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "integration: bump message count", err)
	}
	return nil
}

// Messages returns an integration's history, newest first.
func (s *Store) Messages(ctx context.Context, integrationID string, limit int) ([]*UnifiedMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, integration_id, platform, direction, sender_id, sender_name,
		        chat_id, text, attachments, platform_message_id, metadata, timestamp
		 FROM messages WHERE integration_id = $1 ORDER BY timestamp DESC LIMIT $2`,
		integrationID, limit)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "integration: messages", err)
	}
	defer rows.Close()

	var out []*UnifiedMessage
	for rows.Next() {
		var m UnifiedMessage
		var senderID, senderName, chatID, text, attachments, platformMsgID, metadata sql.NullString
		err := rows.Scan(&m.ID, &m.IntegrationID, &m.Platform, &m.Direction,
			&senderID, &senderName, &chatID, &text, &attachments, &platformMsgID,
			&metadata, &m.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("integration: message scan: %w", err)
		}
		m.SenderID = senderID.String
		m.SenderName = senderName.String
		m.ChatID = chatID.String
		m.Text = text.String
		m.PlatformMessageID = platformMsgID.String
		if attachments.Valid {
			if err := json.Unmarshal([]byte(attachments.String), &m.Attachments); err != nil {
				return nil, fmt.Errorf("integration: decode attachments: %w", err)
			}
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("integration: decode metadata: %w", err)
			}
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *Store) scan(row interface{ Scan(...any) error }) (*Integration, error) {
	var integ Integration
	var enabled int
	var status string
	var config sql.NullString

	err := row.Scan(&integ.ID, &integ.Platform, &integ.DisplayName, &enabled,
		&status, &config, &integ.MessageCount, &integ.CreatedAt, &integ.UpdatedAt)
	if err != nil {
		return nil, err
	}
	integ.Enabled = enabled != 0
	integ.Status = Status(status)
	if config.Valid {
		integ.Config, err = s.cipher.DecryptConfig(config.String)
		if err != nil {
			return nil, err
		}
	}
	return &integ, nil
}

func encodeJSON(v any) (string, error) {
	switch val := v.(type) {
	case []Attachment:
		if len(val) == 0 {
			return "", nil
		}
	case map[string]string:
		if len(val) == 0 {
			return "", nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
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
