package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/ids"
)

// Store persists roles. The engine reads through it on every check; role
// counts are small, so no cache sits in front.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates the roles table if needed and seeds the built-in roles.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS roles (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			is_builtin   INTEGER NOT NULL DEFAULT 0,
			permissions  TEXT NOT NULL,
			inherit_from TEXT,
			created_at   BIGINT NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("rbac: migrate roles: %w", err)
	}
	for _, role := range BuiltinRoles() {
		if err := s.seed(ctx, role); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// seed inserts a built-in role unless a row with its id already exists.
func (s *Store) seed(ctx context.Context, role Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("rbac: marshal permissions: %w", err)
	}
	inherit, err := json.Marshal(role.InheritFrom)
	if err != nil {
		return fmt.Errorf("rbac: marshal inheritance: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO roles (id, name, is_builtin, permissions, inherit_from, created_at)
		 VALUES ($1, $2, 1, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		role.ID, role.Name, string(perms), string(inherit), s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("rbac: seed role %s: %w", role.ID, err)
	}
	return nil
}

// Create validates and stores a custom role. Inherited roles must exist, and
// the resulting inheritance graph must stay acyclic.
func (s *Store) Create(ctx context.Context, name string, permissions []Permission, inheritFrom []string) (*Role, error) {
	if name == "" {
		return nil, fault.New(fault.KindInvalidInput, "role name must not be empty")
	}
	for _, p := range permissions {
		if p.Resource == "" || p.Action == "" {
			return nil, fault.New(fault.KindInvalidInput, "permission resource and action are required")
		}
	}

	role := Role{
		ID:          ids.New(),
		Name:        name,
		Permissions: permissions,
		InheritFrom: inheritFrom,
		CreatedAt:   s.now(),
	}

	existing, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Role, len(existing)+1)
	for i := range existing {
		byID[existing[i].ID] = &existing[i]
	}
	for _, parent := range inheritFrom {
		if _, ok := byID[parent]; !ok {
			return nil, fault.Errorf(fault.KindInvalidInput, "inherited role %q does not exist", parent)
		}
	}
	byID[role.ID] = &role
	if cyclic(byID, role.ID) {
		return nil, fault.New(fault.KindInvalidInput, "role inheritance would form a cycle")
	}

	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return nil, fmt.Errorf("rbac: marshal permissions: %w", err)
	}
	inherit, err := json.Marshal(role.InheritFrom)
	if err != nil {
		return nil, fmt.Errorf("rbac: marshal inheritance: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (id, name, is_builtin, permissions, inherit_from, created_at)
		 VALUES ($1, $2, 0, $3, $4, $5)`,
		role.ID, role.Name, string(perms), string(inherit), role.CreatedAt.UnixMilli(),
	); err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "insert role", err)
	}
	return &role, nil
}

// cyclic walks the inheritance graph from start looking for a way back.
func cyclic(byID map[string]*Role, start string) bool {
	var walk func(id string, path map[string]bool) bool
	walk = func(id string, path map[string]bool) bool {
		if path[id] {
			return true
		}
		role, ok := byID[id]
		if !ok {
			return false
		}
		path[id] = true
		for _, parent := range role.InheritFrom {
			if walk(parent, path) {
				return true
			}
		}
		delete(path, id)
		return false
	}
	return walk(start, make(map[string]bool))
}

// Get returns a role by id or name. Built-in roles use their name as id.
func (s *Store) Get(ctx context.Context, id string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, is_builtin, permissions, inherit_from, created_at
		 FROM roles WHERE id = $1 OR name = $1`, id)
	role, err := scanRole(row)
	if err == sql.ErrNoRows {
		return nil, fault.Errorf(fault.KindNotFound, "role %q not found", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "load role", err)
	}
	return role, nil
}

// List returns all roles.
func (s *Store) List(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, is_builtin, permissions, inherit_from, created_at
		 FROM roles ORDER BY created_at`)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "list roles", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fault.Wrap(fault.KindStorageUnavailable, "scan role", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// Delete removes a custom role. Built-in roles are protected.
func (s *Store) Delete(ctx context.Context, id string) error {
	role, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if role.IsBuiltin {
		return fault.Errorf(fault.KindInvalidInput, "built-in role %q cannot be deleted", role.ID)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, role.ID); err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "delete role", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (*Role, error) {
	var (
		role       Role
		builtin    int
		permsJSON  string
		inheritRaw sql.NullString
		createdMs  int64
	)
	if err := row.Scan(&role.ID, &role.Name, &builtin, &permsJSON, &inheritRaw, &createdMs); err != nil {
		return nil, err
	}
	role.IsBuiltin = builtin == 1
	role.CreatedAt = time.UnixMilli(createdMs)
	if err := json.Unmarshal([]byte(permsJSON), &role.Permissions); err != nil {
		return nil, fmt.Errorf("rbac: decode permissions for %s: %w", role.ID, err)
	}
	if inheritRaw.Valid && inheritRaw.String != "" {
		if err := json.Unmarshal([]byte(inheritRaw.String), &role.InheritFrom); err != nil {
			return nil, fmt.Errorf("rbac: decode inheritance for %s: %w", role.ID, err)
		}
	}
	return &role, nil
}
