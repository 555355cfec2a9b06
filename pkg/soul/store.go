package soul

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

const onboardingKey = "onboarding:completedAt"

// Store persists personalities, skills, and onboarding state.
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
		`CREATE TABLE IF NOT EXISTS personalities (
			id                    TEXT PRIMARY KEY,
			name                  TEXT NOT NULL,
			description           TEXT,
			system_prompt         TEXT,
			voice                 TEXT,
			selected_integrations TEXT,
			active                INTEGER NOT NULL DEFAULT 0,
			created_at            BIGINT NOT NULL,
			updated_at            BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS skills (
			id             TEXT PRIMARY KEY,
			personality_id TEXT,
			name           TEXT NOT NULL,
			description    TEXT,
			instructions   TEXT NOT NULL,
			status         TEXT NOT NULL,
			enabled        INTEGER NOT NULL DEFAULT 0,
			created_at     BIGINT NOT NULL,
			updated_at     BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("soul: migrate: %w", err)
		}
	}
	return nil
}

const personalityCols = `SELECT id, name, description, system_prompt, voice, selected_integrations, active, created_at, updated_at`

func (s *Store) InsertPersonality(ctx context.Context, p *Personality) error {
	selected, err := encodeList(p.SelectedIntegrations)
	if err != nil {
		return fault.Wrap(fault.KindInternal, "soul: encode integrations", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO personalities (id, name, description, system_prompt, voice, selected_integrations, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Name, nullable(p.Description), nullable(p.SystemPrompt),
		nullable(p.Voice), nullable(selected), boolInt(p.Active), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "soul: insert personality", err)
	}
	return nil
}

func (s *Store) UpdatePersonality(ctx context.Context, p *Personality) error {
	selected, err := encodeList(p.SelectedIntegrations)
	if err != nil {
		return fault.Wrap(fault.KindInternal, "soul: encode integrations", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE personalities SET name = $2, description = $3, system_prompt = $4, voice = $5,
		 selected_integrations = $6, updated_at = $7 WHERE id = $1`,
		p.ID, p.Name, nullable(p.Description), nullable(p.SystemPrompt),
		nullable(p.Voice), nullable(selected), p.UpdatedAt,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "soul: update personality", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Errorf(fault.KindNotFound, "soul: no personality %s", p.ID)
	}
	return nil
}

func (s *Store) GetPersonality(ctx context.Context, id string) (*Personality, error) {
	row := s.db.QueryRowContext(ctx, personalityCols+` FROM personalities WHERE id = $1`, id)
	p, err := scanPersonality(row)
	if err == sql.ErrNoRows {
		return nil, fault.Errorf(fault.KindNotFound, "soul: no personality %s", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "soul: get personality", err)
	}
	return p, nil
}

func (s *Store) ActivePersonality(ctx context.Context) (*Personality, error) {
	row := s.db.QueryRowContext(ctx, personalityCols+` FROM personalities WHERE active = 1`)
	p, err := scanPersonality(row)
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.KindNotFound, "soul: no active personality")
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "soul: active personality", err)
	}
	return p, nil
}

func (s *Store) ListPersonalities(ctx context.Context) ([]*Personality, error) {
	rows, err := s.db.QueryContext(ctx, personalityCols+` FROM personalities ORDER BY created_at ASC`)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "soul: list personalities", err)
	}
	defer rows.Close()

	var out []*Personality
	for rows.Next() {
		p, err := scanPersonality(rows)
		if err != nil {
			return nil, fmt.Errorf("soul: personality scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePersonality(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM personalities WHERE id = $1`, id)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "soul: delete personality", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Errorf(fault.KindNotFound, "soul: no personality %s", id)
	}
	return nil
}

// SetActive flips the single active flag to the given personality inside
// one transaction so readers never observe zero or two active rows.
func (s *Store) SetActive(ctx context.Context, id string, updatedAt int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "soul: begin activate", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE personalities SET active = 1, updated_at = $2 WHERE id = $1`, id, updatedAt)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "soul: activate", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Errorf(fault.KindNotFound, "soul: no personality %s", id)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE personalities SET active = 0, updated_at = $2 WHERE id != $1 AND active = 1`,
		id, updatedAt); err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "soul: deactivate others", err)
	}
	if err := tx.Commit(); err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "soul: commit activate", err)
	}
	return nil
}

const skillCols = `SELECT id, personality_id, name, description, instructions, status, enabled, created_at, updated_at`

func (s *Store) InsertSkill(ctx context.Context, sk *Skill) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skills (id, personality_id, name, description, instructions, status, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sk.ID, nullable(sk.PersonalityID), sk.Name, nullable(sk.Description),
		sk.Instructions, string(sk.Status), boolInt(sk.Enabled), sk.CreatedAt, sk.UpdatedAt,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "soul: insert skill", err)
	}
	return nil
}

func (s *Store) UpdateSkill(ctx context.Context, sk *Skill) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE skills SET name = $2, description = $3, instructions = $4, status = $5, enabled = $6, updated_at = $7
		 WHERE id = $1`,
		sk.ID, sk.Name, nullable(sk.Description), sk.Instructions,
		string(sk.Status), boolInt(sk.Enabled), sk.UpdatedAt,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "soul: update skill", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Errorf(fault.KindNotFound, "soul: no skill %s", sk.ID)
	}
	return nil
}

func (s *Store) GetSkill(ctx context.Context, id string) (*Skill, error) {
	row := s.db.QueryRowContext(ctx, skillCols+` FROM skills WHERE id = $1`, id)
	sk, err := scanSkill(row)
	if err == sql.ErrNoRows {
		return nil, fault.Errorf(fault.KindNotFound, "soul: no skill %s", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "soul: get skill", err)
	}
	return sk, nil
}

func (s *Store) ListSkills(ctx context.Context) ([]*Skill, error) {
	rows, err := s.db.QueryContext(ctx, skillCols+` FROM skills ORDER BY created_at ASC`)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "soul: list skills", err)
	}
	defer rows.Close()

	var out []*Skill
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("soul: skill scan: %w", err)
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

// EnabledSkills returns enabled, approved skills in scope for a
// personality: global skills plus those scoped to it.
func (s *Store) EnabledSkills(ctx context.Context, personalityID string) ([]*Skill, error) {
	rows, err := s.db.QueryContext(ctx,
		skillCols+` FROM skills
		 WHERE enabled = 1 AND status = $1 AND (personality_id IS NULL OR personality_id = $2)
		 ORDER BY created_at ASC`,
		string(SkillApproved), personalityID)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "soul: enabled skills", err)
	}
	defer rows.Close()

	var out []*Skill
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("soul: skill scan: %w", err)
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSkill(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM skills WHERE id = $1`, id)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "soul: delete skill", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Errorf(fault.KindNotFound, "soul: no skill %s", id)
	}
	return nil
}

func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fault.Wrap(fault.KindStorageUnavailable, "soul: get meta", err)
	}
	return value, nil
}

func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = $2`, key, value)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "soul: set meta", err)
	}
	return nil
}

func scanPersonality(row interface{ Scan(...any) error }) (*Personality, error) {
	var p Personality
	var description, systemPrompt, voice, selected sql.NullString
	var active int
	err := row.Scan(&p.ID, &p.Name, &description, &systemPrompt, &voice,
		&selected, &active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Description = description.String
	p.SystemPrompt = systemPrompt.String
	p.Voice = voice.String
	p.Active = active != 0
	if selected.Valid && selected.String != "" {
		if err := json.Unmarshal([]byte(selected.String), &p.SelectedIntegrations); err != nil {
			return nil, fmt.Errorf("decode selected integrations: %w", err)
		}
	}
	return &p, nil
}

func scanSkill(row interface{ Scan(...any) error }) (*Skill, error) {
	var sk Skill
	var personalityID, description sql.NullString
	var status string
	var enabled int
	err := row.Scan(&sk.ID, &personalityID, &sk.Name, &description,
		&sk.Instructions, &status, &enabled, &sk.CreatedAt, &sk.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sk.PersonalityID = personalityID.String
	sk.Description = description.String
	sk.Status = SkillStatus(status)
	sk.Enabled = enabled != 0
	return &sk, nil
}

func encodeList(list []string) (string, error) {
	if len(list) == 0 {
		return "", nil
	}
	b, err := json.Marshal(list)
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
