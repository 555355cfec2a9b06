package ai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureyeoman/secureyeoman/pkg/database"
	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

// fakeProvider returns scripted outcomes in order, repeating the last one.
type fakeProvider struct {
	name     string
	outcomes []func() (*ChatResponse, error)
	calls    int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	i := f.calls
	f.calls++
	if i >= len(f.outcomes) {
		i = len(f.outcomes) - 1
	}
	return f.outcomes[i]()
}

func okResponse() (*ChatResponse, error) {
	return &ChatResponse{
		Content: "done",
		Usage:   Usage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

func failWith(kind fault.Kind) func() (*ChatResponse, error) {
	return func() (*ChatResponse, error) {
		return nil, fault.New(kind, "ai: scripted failure")
	}
}

func newTestGateway(t *testing.T, provider Provider, dailyLimit int64) (*Gateway, *UsageTracker, *[]time.Duration) {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tracker, err := NewUsageTracker(context.Background(), db, dailyLimit)
	require.NoError(t, err)

	catalog := NewCatalogWithModels([]ModelSpec{
		{Provider: provider.Name(), Model: "fake-1", Tier: TierFast, InputPerM: 1, OutputPerM: 2},
	}, map[string]bool{provider.Name(): true})

	var sleeps []time.Duration
	g := NewGateway(catalog, tracker, WithSleeper(func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}))
	g.RegisterProvider(provider)
	return g, tracker, &sleeps
}

func TestChatRetriesTransientFailures(t *testing.T) {
	provider := &fakeProvider{name: "fake", outcomes: []func() (*ChatResponse, error){
		failWith(fault.KindRateLimit),
		failWith(fault.KindNetwork),
		okResponse,
	}}
	g, tracker, sleeps := newTestGateway(t, provider, 0)

	resp, err := g.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, 3, provider.calls)
	assert.Len(t, *sleeps, 2)
	assert.Greater(t, (*sleeps)[1], (*sleeps)[0], "backoff grows per attempt")

	summary, err := tracker.Summarize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.TotalCalls)
	assert.Equal(t, int64(150), summary.TokensUsedToday)
	assert.InDelta(t, (100*1.0+50*2.0)/1e6, summary.CostUSDToday, 1e-12)
}

func TestChatDoesNotRetryAuthentication(t *testing.T) {
	provider := &fakeProvider{name: "fake", outcomes: []func() (*ChatResponse, error){
		failWith(fault.KindAuthentication),
	}}
	g, tracker, sleeps := newTestGateway(t, provider, 0)

	_, err := g.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindAuthentication))
	assert.Equal(t, 1, provider.calls)
	assert.Empty(t, *sleeps)

	summary, err := tracker.Summarize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.TotalErrors)
}

func TestChatRejectsOverDailyBudget(t *testing.T) {
	provider := &fakeProvider{name: "fake", outcomes: []func() (*ChatResponse, error){okResponse}}
	g, tracker, _ := newTestGateway(t, provider, 120)
	ctx := context.Background()

	_, err := g.Chat(ctx, ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls)

	// 150 tokens recorded, over the 120 ceiling: the gate closes before
	// dispatch.
	_, err = g.Chat(ctx, ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindTokenLimit))
	assert.Equal(t, 1, provider.calls)

	check, err := tracker.CheckLimit(ctx)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, int64(150), check.TokensUsedToday)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	provider := &fakeProvider{name: "fake", outcomes: []func() (*ChatResponse, error){
		failWith(fault.KindNetwork),
	}}
	g, _, _ := newTestGateway(t, provider, 0)
	g.retry = RetryPolicy{BaseMs: 1, MaxMs: 1, MaxAttempts: 1, MaxTotalWait: time.Second}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := g.Chat(ctx, ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		require.Error(t, err)
	}
	assert.Equal(t, 5, provider.calls)

	_, err := g.Chat(ctx, ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindProviderUnavailable))
	assert.Equal(t, 5, provider.calls, "open breaker short-circuits")
}

func TestSetDefaultValidation(t *testing.T) {
	provider := &fakeProvider{name: "fake", outcomes: []func() (*ChatResponse, error){okResponse}}
	g, _, _ := newTestGateway(t, provider, 0)

	p, m := g.Default()
	assert.Equal(t, "fake", p)
	assert.Equal(t, "fake-1", m)

	assert.Error(t, g.SetDefault("ghost", ""))
	assert.Error(t, g.SetDefault("fake", "no-such-model"))
	assert.NoError(t, g.SetDefault("fake", "fake-1"))
}

func TestResolveUnknownModel(t *testing.T) {
	provider := &fakeProvider{name: "fake", outcomes: []func() (*ChatResponse, error){okResponse}}
	g, _, _ := newTestGateway(t, provider, 0)

	_, err := g.Chat(context.Background(), ChatRequest{
		Model:    "imaginary-model",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
}
