package task

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

// Store persists tasks and their tool-call history.
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
		`CREATE TABLE IF NOT EXISTS tasks (
			id          TEXT PRIMARY KEY,
			type        TEXT NOT NULL,
			name        TEXT NOT NULL,
			description TEXT,
			input       TEXT,
			status      TEXT NOT NULL,
			result      TEXT,
			error       TEXT,
			created_at  BIGINT NOT NULL,
			updated_at  BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE TABLE IF NOT EXISTS task_tool_calls (
			id        TEXT PRIMARY KEY,
			task_id   TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			tool_args TEXT NOT NULL,
			outcome   TEXT,
			called_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_tool_calls_task ON task_tool_calls(task_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("task: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, t *Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, type, name, description, input, status, result, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.Type, t.Name, nullable(t.Description), nullable(t.Input),
		string(t.Status), nullable(t.Result), nullable(t.Error), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "task: insert", err)
	}
	return nil
}

// UpdateState transitions status and records result or error.
func (s *Store) UpdateState(ctx context.Context, id string, status Status, result, errMsg string, updatedAt int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $2, result = $3, error = $4, updated_at = $5 WHERE id = $1`,
		id, string(status), nullable(result), nullable(errMsg), updatedAt,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "task: update state", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Errorf(fault.KindNotFound, "task: no task %s", id)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, taskCols+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fault.Errorf(fault.KindNotFound, "task: no task %s", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "task: get", err)
	}
	return t, nil
}

// Filter narrows List.
type Filter struct {
	Status Status
	Type   string
	Limit  int
}

func (s *Store) List(ctx context.Context, f Filter) ([]*Task, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Status != "" {
		conds = append(conds, "status = "+arg(string(f.Status)))
	}
	if f.Type != "" {
		conds = append(conds, "type = "+arg(f.Type))
	}

	query := taskCols + ` FROM tasks`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "task: list", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("task: list scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendToolCall persists one history entry under the task.
func (s *Store) AppendToolCall(ctx context.Context, taskID, callID string, rec ToolCallRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_tool_calls (id, task_id, tool_name, tool_args, outcome, called_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		callID, taskID, rec.ToolName, rec.ToolArgs, nullable(rec.Outcome), rec.CalledAt,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "task: append tool call", err)
	}
	return nil
}

// ToolCalls returns the task's history in call order.
func (s *Store) ToolCalls(ctx context.Context, taskID string) ([]ToolCallRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_name, tool_args, outcome, called_at FROM task_tool_calls
		 WHERE task_id = $1 ORDER BY called_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "task: load tool calls", err)
	}
	defer rows.Close()

	var out []ToolCallRecord
	for rows.Next() {
		var rec ToolCallRecord
		var outcome sql.NullString
		if err := rows.Scan(&rec.ToolName, &rec.ToolArgs, &outcome, &rec.CalledAt); err != nil {
			return nil, fmt.Errorf("task: tool call scan: %w", err)
		}
		rec.Outcome = outcome.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

const taskCols = `SELECT id, type, name, description, input, status, result, error, created_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*Task, error) {
	var t Task
	var status string
	var description, input, result, errMsg sql.NullString

	err := row.Scan(&t.ID, &t.Type, &t.Name, &description, &input, &status,
		&result, &errMsg, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.Description = description.String
	t.Input = input.String
	t.Result = result.String
	t.Error = errMsg.String
	return &t, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
