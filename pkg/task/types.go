// Package task runs submitted work on a bounded worker pool with a
// self-repairing loop guard: stuck executions (timeouts or repeated
// identical tool calls) get a recovery prompt injected before the next
// model turn.
package task

import (
	"context"

	"github.com/secureyeoman/secureyeoman/pkg/audit"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Task is one unit of submitted work.
type Task struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Input       string `json:"input,omitempty"`
	Status      Status `json:"status"`
	Result      string `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// ExecContext identifies who a task runs as.
type ExecContext struct {
	UserID        string `json:"userId"`
	Role          string `json:"role"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// ToolCallRecord is one entry of a task's tool-call history. Args are the
// canonical JSON of the call arguments.
type ToolCallRecord struct {
	ToolName string `json:"toolName"`
	ToolArgs string `json:"toolArgs"`
	Outcome  string `json:"outcome"`
	CalledAt int64  `json:"calledAt"`
}

// Auditor is the slice of the audit chain the task package needs.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event) (*audit.Entry, error)
}

// Handler executes one task. The guard is pre-wired to the task; handlers
// report tool calls through it and consult CheckStuck between turns.
type Handler func(ctx context.Context, t *Task, execCtx ExecContext, guard *LoopGuard) (result string, err error)
