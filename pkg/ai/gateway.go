package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

// Gateway fronts all providers: it enforces the daily token budget, retries
// transient failures with deterministic backoff, trips a per-provider
// circuit breaker, and accounts every call.
type Gateway struct {
	catalog *Catalog
	usage   *UsageTracker
	retry   RetryPolicy
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time

	mu              sync.RWMutex
	providers       map[string]Provider
	breakers        map[string]*gobreaker.CircuitBreaker
	defaultProvider string
	defaultModel    string
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) GatewayOption {
	return func(g *Gateway) { g.retry = p }
}

// WithSleeper overrides the backoff sleep for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) GatewayOption {
	return func(g *Gateway) { g.sleep = sleep }
}

// NewGateway builds a gateway over the catalog and usage tracker.
func NewGateway(catalog *Catalog, usage *UsageTracker, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		catalog:   catalog,
		usage:     usage,
		retry:     DefaultRetryPolicy(),
		logger:    slog.Default().With("component", "ai"),
		sleep:     sleepContext,
		now:       time.Now,
		providers: make(map[string]Provider),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RegisterProvider adds a backend and its breaker. The first registration
// becomes the default provider.
func (g *Gateway) RegisterProvider(p Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	name := p.Name()
	g.providers[name] = p
	g.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("provider breaker state change", "provider", name, "from", from.String(), "to", to.String())
		},
	})
	if g.defaultProvider == "" {
		g.defaultProvider = name
		for _, m := range g.catalog.All() {
			if m.Provider == name {
				g.defaultModel = m.Model
				break
			}
		}
	}
}

// Providers lists registered backend names.
func (g *Gateway) Providers() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.providers))
	for name := range g.providers {
		out = append(out, name)
	}
	return out
}

// SetDefault switches the default provider and model.
func (g *Gateway) SetDefault(provider, model string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.providers[provider]; !ok {
		return fault.Errorf(fault.KindInvalidInput, "ai: provider %q not registered", provider)
	}
	if model != "" {
		spec, ok := g.catalog.Lookup(model)
		if !ok {
			return fault.Errorf(fault.KindInvalidInput, "ai: unknown model %q", model)
		}
		if spec.Provider != provider {
			return fault.Errorf(fault.KindInvalidInput, "ai: model %q belongs to provider %q", model, spec.Provider)
		}
	}
	g.defaultProvider = provider
	g.defaultModel = model
	return nil
}

// ClearDefault resets the default to the first registered provider's first
// catalog model.
func (g *Gateway) ClearDefault() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.defaultModel = ""
	for _, m := range g.catalog.All() {
		if m.Provider == g.defaultProvider {
			g.defaultModel = m.Model
			break
		}
	}
}

// Default returns the current default provider and model.
func (g *Gateway) Default() (string, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.defaultProvider, g.defaultModel
}

// Chat dispatches the request with budget enforcement and retry. The last
// provider error surfaces with its kind when retries are exhausted.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	check, err := g.usage.CheckLimit(ctx)
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		return nil, fault.Errorf(fault.KindTokenLimit,
			"ai: daily token budget exhausted (%d of %d)", check.TokensUsedToday, check.LimitPerDay)
	}

	providerName, model, err := g.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	req.Model = model

	g.mu.RLock()
	provider := g.providers[providerName]
	breaker := g.breakers[providerName]
	g.mu.RUnlock()
	if provider == nil {
		return nil, fault.Errorf(fault.KindProviderUnavailable, "ai: provider %q not registered", providerName)
	}

	seed := fmt.Sprintf("%s:%s:%d", providerName, model, g.now().UnixNano())
	start := g.now()
	var lastErr error
	var totalWait time.Duration

	for attempt := 0; attempt < g.retry.MaxAttempts; attempt++ {
		result, err := breaker.Execute(func() (any, error) {
			return provider.Chat(ctx, req)
		})
		if err == nil {
			resp := result.(*ChatResponse)
			latency := g.now().Sub(start).Milliseconds()
			rec := UsageRecord{
				Provider:  providerName,
				Model:     model,
				Usage:     resp.Usage,
				CostUSD:   g.catalog.CostUSD(model, resp.Usage.InputTokens, resp.Usage.OutputTokens),
				LatencyMs: latency,
			}
			if err := g.usage.Record(ctx, rec); err != nil {
				g.logger.Warn("usage record failed", "provider", providerName, "error", err)
			}
			return resp, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fault.Wrap(fault.KindProviderUnavailable, fmt.Sprintf("ai: %s circuit open", providerName), err)
		}
		lastErr = err

		kind := fault.KindOf(err)
		if !fault.Retriable(kind) || attempt+1 >= g.retry.MaxAttempts {
			break
		}
		delay := g.retry.backoff(seed, attempt)
		if totalWait+delay > g.retry.MaxTotalWait {
			break
		}
		totalWait += delay
		g.logger.Debug("retrying provider call", "provider", providerName, "attempt", attempt+1, "kind", kind, "delay", delay)
		if err := g.sleep(ctx, delay); err != nil {
			lastErr = fault.Wrap(fault.KindTimeout, "ai: retry wait cancelled", err)
			break
		}
	}

	if err := g.usage.RecordError(ctx, providerName, model); err != nil {
		g.logger.Warn("usage error record failed", "provider", providerName, "error", err)
	}
	return nil, lastErr
}

// Complete is the single-prompt convenience used by memory consolidation.
func (g *Gateway) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.Chat(ctx, ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// resolve maps a requested model (or empty for the default) to its provider.
func (g *Gateway) resolve(model string) (string, string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if model == "" {
		if g.defaultProvider == "" {
			return "", "", fault.New(fault.KindProviderUnavailable, "ai: no providers registered")
		}
		if g.defaultModel == "" {
			return "", "", fault.New(fault.KindInvalidInput, "ai: no default model configured")
		}
		return g.defaultProvider, g.defaultModel, nil
	}
	spec, ok := g.catalog.Lookup(model)
	if !ok {
		return "", "", fault.Errorf(fault.KindInvalidInput, "ai: unknown model %q", model)
	}
	return spec.Provider, spec.Model, nil
}
