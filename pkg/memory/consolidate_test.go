package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAssistant returns a fixed completion.
type stubAssistant struct {
	response string
	prompts  []string
}

func (s *stubAssistant) Complete(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.response, nil
}

func nearDuplicateEngine(t *testing.T) (*Engine, *Store, string, string) {
	t.Helper()
	embedder := &stubEmbedder{
		dim: 4,
		vectors: map[string][]float32{
			"keep": {1, 0, 0, 0},
			"drop": {0.92, 0.3919, 0, 0},
		},
		fallback: []float32{0, 0, 0, 1},
	}
	engine, store, _ := newTestEngine(t, embedder)
	ctx := context.Background()

	keep, err := engine.Save(ctx, SaveInput{Content: "keep", Importance: 0.9})
	require.NoError(t, err)
	drop, err := engine.Save(ctx, SaveInput{Content: "drop", Importance: 0.2})
	require.NoError(t, err)
	require.Equal(t, CheckFlagged, drop.QuickCheck)

	return engine, store, keep.Memory.ID, drop.Memory.ID
}

func TestMatchesMinute(t *testing.T) {
	engine, _, _ := newTestEngine(t, NewLocalEmbedder(0))
	c, err := NewConsolidator(engine, nil, "0 3 * * *")
	require.NoError(t, err)

	at := func(hour, minute int) time.Time {
		return time.Date(2025, 6, 1, hour, minute, 30, 0, time.Local)
	}
	assert.True(t, c.matchesMinute(at(3, 0)))
	assert.False(t, c.matchesMinute(at(3, 1)))
	assert.False(t, c.matchesMinute(at(2, 59)))
	assert.False(t, c.matchesMinute(at(15, 0)))

	require.NoError(t, c.SetSchedule("*/5 * * * *"))
	assert.True(t, c.matchesMinute(at(10, 5)))
	assert.False(t, c.matchesMinute(at(10, 6)))
}

func TestBadScheduleRejected(t *testing.T) {
	engine, _, _ := newTestEngine(t, NewLocalEmbedder(0))
	_, err := NewConsolidator(engine, nil, "not a schedule")
	assert.Error(t, err)
}

func TestThresholdFallbackKeepsHigherImportance(t *testing.T) {
	engine, store, keepID, dropID := nearDuplicateEngine(t)
	c, err := NewConsolidator(engine, nil, "0 3 * * *")
	require.NoError(t, err)
	ctx := context.Background()

	report, err := c.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Actions[ActionReplace])
	assert.Equal(t, 1, report.Executed)

	_, err = store.GetMemory(ctx, keepID)
	assert.NoError(t, err)
	_, err = store.GetMemory(ctx, dropID)
	assert.Error(t, err)

	flagged, err := store.FlaggedIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, flagged)
}

func TestDryRunChangesNothing(t *testing.T) {
	engine, store, keepID, dropID := nearDuplicateEngine(t)
	c, err := NewConsolidator(engine, nil, "0 3 * * *")
	require.NoError(t, err)
	ctx := context.Background()

	report, err := c.Run(ctx, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Actions[ActionReplace])
	assert.Equal(t, 0, report.Executed)

	_, err = store.GetMemory(ctx, keepID)
	assert.NoError(t, err)
	_, err = store.GetMemory(ctx, dropID)
	assert.NoError(t, err)

	flagged, err := store.FlaggedIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, flagged, 1, "dry run leaves the flagged set alone")
}

func TestAssistantMergeActions(t *testing.T) {
	engine, store, keepID, dropID := nearDuplicateEngine(t)
	ctx := context.Background()

	assistant := &stubAssistant{response: "Here is my analysis:\n```json\n[" +
		`{"type":"MERGE","sourceIds":["` + keepID + `","` + dropID + `"],"mergedContent":"merged fact","reason":"duplicates"}` +
		"]\n```"}
	c, err := NewConsolidator(engine, assistant, "0 3 * * *")
	require.NoError(t, err)

	report, err := c.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Actions[ActionMerge])
	assert.Equal(t, 1, report.Executed)
	require.Len(t, assistant.prompts, 1)
	assert.Contains(t, assistant.prompts[0], keepID)

	_, err = store.GetMemory(ctx, keepID)
	assert.Error(t, err)
	_, err = store.GetMemory(ctx, dropID)
	assert.Error(t, err)

	memories, err := store.ListMemories(ctx, MemoryFilter{})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "merged fact", memories[0].Content)
	assert.InDelta(t, 0.9, memories[0].Importance, 1e-9)
}

func TestParseActionsDefensive(t *testing.T) {
	known := map[string]bool{"a": true, "b": true}

	t.Run("fenced with prose", func(t *testing.T) {
		raw := "Sure! Here you go:\n```json\n[{\"type\":\"SKIP\",\"sourceIds\":[\"a\"]}]\n```\nLet me know."
		actions := parseActions(raw, known)
		require.Len(t, actions, 1)
		assert.Equal(t, ActionSkip, actions[0].Type)
	})

	t.Run("malformed items dropped", func(t *testing.T) {
		raw := `[{"type":"REPLACE","sourceIds":["a","b"]},{"type":"EXPLODE","sourceIds":["a"]},{"type":"MERGE"}]`
		actions := parseActions(raw, known)
		require.Len(t, actions, 1)
		assert.Equal(t, ActionReplace, actions[0].Type)
	})

	t.Run("unknown ids dropped", func(t *testing.T) {
		raw := `[{"type":"REPLACE","sourceIds":["a","ghost"]}]`
		assert.Empty(t, parseActions(raw, known))
	})

	t.Run("no array at all", func(t *testing.T) {
		assert.Empty(t, parseActions("I could not decide.", known))
	})
}

func TestRunTimeout(t *testing.T) {
	engine, _, _, _ := nearDuplicateEngine(t)
	c, err := NewConsolidator(engine, &slowAssistant{}, "0 3 * * *", WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, err = c.Run(context.Background(), false)
	assert.Error(t, err)
}

// slowAssistant blocks until the context is cancelled.
type slowAssistant struct{}

func (s *slowAssistant) Complete(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
