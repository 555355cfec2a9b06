package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepetitionDetection(t *testing.T) {
	g := NewLoopGuard(WithRepetitionThreshold(2))

	require.NoError(t, g.RecordToolCall("search", map[string]any{"q": "x"}, "error"))
	assert.Nil(t, g.CheckStuck(), "one call is not a loop")

	require.NoError(t, g.RecordToolCall("search", map[string]any{"q": "x"}, "error"))
	reason := g.CheckStuck()
	require.NotNil(t, reason)
	assert.Equal(t, StuckRepetition, reason.Type)
	assert.Contains(t, reason.Detail, "search")
	assert.Contains(t, reason.Detail, "2 consecutive")

	prompt := g.RecoveryPrompt(reason)
	assert.Contains(t, prompt, "looping")
	assert.Contains(t, prompt, "search")
	assert.Contains(t, prompt, "error")
	assert.Contains(t, prompt, "Try a different approach")
}

func TestRepetitionNeedsIdenticalArgs(t *testing.T) {
	g := NewLoopGuard(WithRepetitionThreshold(2))

	require.NoError(t, g.RecordToolCall("search", map[string]any{"q": "x"}, "error"))
	require.NoError(t, g.RecordToolCall("search", map[string]any{"q": "y"}, "error"))
	assert.Nil(t, g.CheckStuck(), "different arguments break the run")

	// Key order must not matter once canonicalized.
	require.NoError(t, g.RecordToolCall("fetch", map[string]any{"a": 1, "b": 2}, "ok"))
	require.NoError(t, g.RecordToolCall("fetch", map[string]any{"b": 2, "a": 1}, "ok"))
	reason := g.CheckStuck()
	require.NotNil(t, reason)
	assert.Equal(t, StuckRepetition, reason.Type)
}

func TestTimeoutDetection(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	g := NewLoopGuard(WithGuardTimeout(30*time.Second), WithGuardClock(clock))

	require.NoError(t, g.RecordToolCall("search", map[string]any{"q": "x"}, "pending"))
	assert.Nil(t, g.CheckStuck())

	now = now.Add(31 * time.Second)
	reason := g.CheckStuck()
	require.NotNil(t, reason)
	assert.Equal(t, StuckTimeout, reason.Type)
	assert.Equal(t, "search", reason.LastTool)

	prompt := g.RecoveryPrompt(reason)
	assert.Contains(t, prompt, "stalled")
	assert.Contains(t, prompt, "Try a different approach")
}

func TestResetClearsState(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	g := NewLoopGuard(WithGuardTimeout(30*time.Second), WithGuardClock(clock), WithRepetitionThreshold(2))

	require.NoError(t, g.RecordToolCall("search", map[string]any{"q": "x"}, "error"))
	require.NoError(t, g.RecordToolCall("search", map[string]any{"q": "x"}, "error"))
	now = now.Add(time.Minute)
	require.NotNil(t, g.CheckStuck())

	g.Reset()
	assert.Nil(t, g.CheckStuck())
	assert.Empty(t, g.History())
}

func TestRecoveryPromptNilReason(t *testing.T) {
	g := NewLoopGuard()
	assert.Empty(t, g.RecoveryPrompt(nil))
}
