package ai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureyeoman/secureyeoman/pkg/database"
)

func newTestTracker(t *testing.T, limit int64, now time.Time) *UsageTracker {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tracker, err := NewUsageTracker(context.Background(), db, limit,
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return tracker
}

func TestCheckLimitBoundary(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.Local)
	tracker := newTestTracker(t, 100, now)
	ctx := context.Background()

	check, err := tracker.CheckLimit(ctx)
	require.NoError(t, err)
	assert.True(t, check.Allowed)

	require.NoError(t, tracker.Record(ctx, UsageRecord{
		Provider: "fake", Model: "fake-1",
		Usage: Usage{InputTokens: 40, OutputTokens: 20},
	}))
	check, err = tracker.CheckLimit(ctx)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Equal(t, int64(60), check.TokensUsedToday)

	// This record pushes cumulative past the ceiling; the next check closes.
	require.NoError(t, tracker.Record(ctx, UsageRecord{
		Provider: "fake", Model: "fake-1",
		Usage: Usage{InputTokens: 30, OutputTokens: 20},
	}))
	check, err = tracker.CheckLimit(ctx)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, int64(110), check.TokensUsedToday)
}

func TestUnlimitedWhenNoCeiling(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.Local)
	tracker := newTestTracker(t, 0, now)
	ctx := context.Background()

	require.NoError(t, tracker.Record(ctx, UsageRecord{
		Provider: "fake", Model: "fake-1",
		Usage: Usage{InputTokens: 1_000_000},
	}))
	check, err := tracker.CheckLimit(ctx)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
}

func TestSummarizeWindows(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.Local)
	tracker := newTestTracker(t, 0, now)
	ctx := context.Background()

	yesterday := time.Date(2025, 6, 14, 10, 0, 0, 0, time.Local).UnixMilli()
	lastMonth := time.Date(2025, 5, 20, 10, 0, 0, 0, time.Local).UnixMilli()

	require.NoError(t, tracker.Record(ctx, UsageRecord{
		Provider: "anthropic", Model: "claude-haiku-3-5-20241022",
		Usage: Usage{InputTokens: 100, OutputTokens: 50}, CostUSD: 0.01,
	}))
	require.NoError(t, tracker.Record(ctx, UsageRecord{
		Provider: "anthropic", Model: "claude-haiku-3-5-20241022",
		Usage: Usage{InputTokens: 200, OutputTokens: 100}, CostUSD: 0.02,
		Timestamp: yesterday,
	}))
	require.NoError(t, tracker.Record(ctx, UsageRecord{
		Provider: "openai", Model: "gpt-4o-mini",
		Usage: Usage{InputTokens: 300, OutputTokens: 100}, CostUSD: 0.03,
		Timestamp: lastMonth,
	}))
	require.NoError(t, tracker.RecordError(ctx, "openai", "gpt-4o-mini"))

	s, err := tracker.Summarize(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(150), s.TokensUsedToday)
	assert.InDelta(t, 0.01, s.CostUSDToday, 1e-12)
	assert.InDelta(t, 0.03, s.CostUSDMonth, 1e-12, "month window includes yesterday, not last month")
	assert.Equal(t, int64(3), s.TotalCalls)
	assert.Equal(t, int64(1), s.TotalErrors)

	anthropic := s.ByProvider["anthropic"]
	assert.Equal(t, int64(2), anthropic.Calls)
	assert.Equal(t, int64(300), anthropic.InputTokens)

	openai := s.ByProvider["openai"]
	assert.Equal(t, int64(1), openai.Calls)
	assert.Equal(t, int64(1), openai.Errors)

	mini := s.ByModel["gpt-4o-mini"]
	assert.Equal(t, int64(1), mini.Calls)
	assert.Equal(t, int64(1), mini.Errors)
}

func TestSetDailyLimitRuntime(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.Local)
	tracker := newTestTracker(t, 0, now)
	ctx := context.Background()

	require.NoError(t, tracker.Record(ctx, UsageRecord{
		Provider: "fake", Model: "fake-1",
		Usage: Usage{InputTokens: 500},
	}))

	check, err := tracker.CheckLimit(ctx)
	require.NoError(t, err)
	assert.True(t, check.Allowed)

	tracker.SetDailyLimit(400)
	check, err = tracker.CheckLimit(ctx)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
}
