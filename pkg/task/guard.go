package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/secureyeoman/secureyeoman/pkg/canonical"
)

// StuckType classifies why a loop is stuck.
type StuckType string

const (
	StuckTimeout    StuckType = "timeout"
	StuckRepetition StuckType = "repetition"
)

// StuckReason describes a stuck detection, with the last tool call for
// recovery-prompt composition.
type StuckReason struct {
	Type        StuckType `json:"type"`
	Detail      string    `json:"detail"`
	LastTool    string    `json:"lastTool,omitempty"`
	LastOutcome string    `json:"lastOutcome,omitempty"`
}

// LoopGuard watches one task's execution loop. History is single-writer:
// the executing goroutine records calls, but CheckStuck may be read from
// elsewhere, so access is still locked.
type LoopGuard struct {
	mu        sync.Mutex
	startedAt time.Time
	history   []ToolCallRecord

	timeout             time.Duration
	repetitionThreshold int
	now                 func() time.Time
}

// GuardOption configures a LoopGuard.
type GuardOption func(*LoopGuard)

// WithGuardTimeout overrides the stuck timeout (default 30 s).
func WithGuardTimeout(d time.Duration) GuardOption {
	return func(g *LoopGuard) { g.timeout = d }
}

// WithRepetitionThreshold overrides how many identical trailing calls count
// as looping (default 2).
func WithRepetitionThreshold(n int) GuardOption {
	return func(g *LoopGuard) { g.repetitionThreshold = n }
}

// WithGuardClock overrides the time source for tests.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *LoopGuard) { g.now = now }
}

// NewLoopGuard returns a guard with its clock started.
func NewLoopGuard(opts ...GuardOption) *LoopGuard {
	g := &LoopGuard{
		timeout:             30 * time.Second,
		repetitionThreshold: 2,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.startedAt = g.now()
	return g
}

// RecordToolCall appends one call to the history. Args are canonicalized so
// semantically identical maps compare equal.
func (g *LoopGuard) RecordToolCall(name string, args map[string]any, outcome string) error {
	argsJSON, err := canonical.String(args)
	if err != nil {
		return fmt.Errorf("task: canonicalize tool args: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = append(g.history, ToolCallRecord{
		ToolName: name,
		ToolArgs: argsJSON,
		Outcome:  outcome,
		CalledAt: g.now().UnixMilli(),
	})
	return nil
}

// History returns a copy of the recorded calls.
func (g *LoopGuard) History() []ToolCallRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ToolCallRecord, len(g.history))
	copy(out, g.history)
	return out
}

// CheckStuck reports whether the loop has timed out or is repeating the
// same tool call. Returns nil when healthy.
func (g *LoopGuard) CheckStuck() *StuckReason {
	g.mu.Lock()
	defer g.mu.Unlock()

	elapsed := g.now().Sub(g.startedAt)
	if elapsed >= g.timeout {
		reason := &StuckReason{
			Type:   StuckTimeout,
			Detail: fmt.Sprintf("execution exceeded %s (elapsed %s)", g.timeout, elapsed.Round(time.Millisecond)),
		}
		if n := len(g.history); n > 0 {
			reason.LastTool = g.history[n-1].ToolName
			reason.LastOutcome = g.history[n-1].Outcome
		}
		return reason
	}

	n := len(g.history)
	if n < g.repetitionThreshold {
		return nil
	}
	last := g.history[n-1]
	for i := n - g.repetitionThreshold; i < n; i++ {
		if g.history[i].ToolName != last.ToolName || g.history[i].ToolArgs != last.ToolArgs {
			return nil
		}
	}
	return &StuckReason{
		Type: StuckRepetition,
		Detail: fmt.Sprintf("%s called %d consecutive times with identical arguments",
			last.ToolName, g.repetitionThreshold),
		LastTool:    last.ToolName,
		LastOutcome: last.Outcome,
	}
}

// RecoveryPrompt composes the extra turn injected before the next model
// call after a stuck detection.
func (g *LoopGuard) RecoveryPrompt(reason *StuckReason) string {
	if reason == nil {
		return ""
	}
	verb := "stalled"
	if reason.Type == StuckRepetition {
		verb = "looping"
	}
	prompt := fmt.Sprintf("Previous attempt was %s: %s", verb, reason.Detail)
	if reason.LastTool != "" {
		prompt += fmt.Sprintf("; last tool: %s -> %s", reason.LastTool, reason.LastOutcome)
	}
	return prompt + ". Try a different approach or decompose the problem."
}

// Reset clears the history and restarts the clock.
func (g *LoopGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = nil
	g.startedAt = g.now()
}
