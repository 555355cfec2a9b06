package ai

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/ids"
)

// UsageRecord is one persisted provider call.
type UsageRecord struct {
	Provider  string  `json:"provider"`
	Model     string  `json:"model"`
	Usage     Usage   `json:"usage"`
	CostUSD   float64 `json:"costUsd"`
	LatencyMs int64   `json:"latencyMs,omitempty"`
	Success   bool    `json:"success"`
	Timestamp int64   `json:"timestamp"`
}

// ProviderUsage aggregates calls for one provider or model.
type ProviderUsage struct {
	Calls        int64   `json:"calls"`
	Errors       int64   `json:"errors"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// Summary is the aggregate view served by GET /model/usage.
type Summary struct {
	TokensUsedToday int64                    `json:"tokensUsedToday"`
	CostUSDToday    float64                  `json:"costUsdToday"`
	CostUSDMonth    float64                  `json:"costUsdMonth"`
	TotalCalls      int64                    `json:"totalCalls"`
	TotalErrors     int64                    `json:"totalErrors"`
	ByProvider      map[string]ProviderUsage `json:"byProvider"`
	ByModel         map[string]ProviderUsage `json:"byModel"`
	LimitPerDay     int64                    `json:"limitPerDay,omitempty"`
}

// LimitCheck is the daily-budget gate result.
type LimitCheck struct {
	Allowed         bool  `json:"allowed"`
	TokensUsedToday int64 `json:"tokensUsedToday"`
	LimitPerDay     int64 `json:"limitPerDay,omitempty"`
}

// UsageTracker persists per-call usage and serves windowed aggregates.
// "Today" is since local midnight; "month" since the first of the month.
type UsageTracker struct {
	db *sql.DB

	mu         sync.Mutex
	dailyLimit int64
	now        func() time.Time
}

// TrackerOption configures a UsageTracker.
type TrackerOption func(*UsageTracker)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *UsageTracker) { t.now = now }
}

// NewUsageTracker creates the usage_records table if needed. dailyLimit of 0
// means unlimited.
func NewUsageTracker(ctx context.Context, db *sql.DB, dailyLimit int64, opts ...TrackerOption) (*UsageTracker, error) {
	t := &UsageTracker{db: db, dailyLimit: dailyLimit, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS usage_records (
			id            TEXT PRIMARY KEY,
			provider      TEXT NOT NULL,
			model         TEXT NOT NULL,
			input_tokens  BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			cached_tokens BIGINT NOT NULL DEFAULT 0,
			cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
			latency_ms    BIGINT,
			success       INTEGER NOT NULL DEFAULT 1,
			timestamp     BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_records_timestamp ON usage_records(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_records_provider ON usage_records(provider)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("ai: migrate usage: %w", err)
		}
	}
	return t, nil
}

// SetDailyLimit changes the token ceiling at runtime (0 disables it).
func (t *UsageTracker) SetDailyLimit(limit int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dailyLimit = limit
}

// Record persists one successful call.
func (t *UsageTracker) Record(ctx context.Context, rec UsageRecord) error {
	return t.insert(ctx, rec, true)
}

// RecordError persists a failed call for error-rate accounting.
func (t *UsageTracker) RecordError(ctx context.Context, provider, model string) error {
	return t.insert(ctx, UsageRecord{Provider: provider, Model: model}, false)
}

func (t *UsageTracker) insert(ctx context.Context, rec UsageRecord, success bool) error {
	if rec.Timestamp == 0 {
		t.mu.Lock()
		rec.Timestamp = t.now().UnixMilli()
		t.mu.Unlock()
	}
	ok := 0
	if success {
		ok = 1
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records
		 (id, provider, model, input_tokens, output_tokens, cached_tokens, cost_usd, latency_ms, success, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ids.New(), rec.Provider, rec.Model, rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Usage.CachedTokens,
		rec.CostUSD, rec.LatencyMs, ok, rec.Timestamp,
	)
	if err != nil {
		return fault.Wrap(fault.KindStorageUnavailable, "ai: insert usage record", err)
	}
	return nil
}

// windows returns (startOfToday, startOfMonth) in unix milliseconds.
func (t *UsageTracker) windows() (int64, int64) {
	t.mu.Lock()
	now := t.now()
	t.mu.Unlock()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return day.UnixMilli(), month.UnixMilli()
}

// CheckLimit reports whether another chat may dispatch under the daily token
// ceiling. Reaching the ceiling closes the gate.
func (t *UsageTracker) CheckLimit(ctx context.Context) (LimitCheck, error) {
	dayStart, _ := t.windows()
	var tokens sql.NullInt64
	err := t.db.QueryRowContext(ctx,
		`SELECT SUM(input_tokens + output_tokens) FROM usage_records WHERE timestamp >= $1`,
		dayStart,
	).Scan(&tokens)
	if err != nil {
		return LimitCheck{}, fault.Wrap(fault.KindStorageUnavailable, "ai: query daily tokens", err)
	}

	t.mu.Lock()
	limit := t.dailyLimit
	t.mu.Unlock()

	check := LimitCheck{
		Allowed:         limit == 0 || tokens.Int64 < limit,
		TokensUsedToday: tokens.Int64,
		LimitPerDay:     limit,
	}
	return check, nil
}

// Summarize builds the aggregate view.
func (t *UsageTracker) Summarize(ctx context.Context) (*Summary, error) {
	dayStart, monthStart := t.windows()

	s := &Summary{
		ByProvider: make(map[string]ProviderUsage),
		ByModel:    make(map[string]ProviderUsage),
	}
	t.mu.Lock()
	s.LimitPerDay = t.dailyLimit
	t.mu.Unlock()

	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(input_tokens + output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM usage_records WHERE timestamp >= $1 AND success = 1`,
		dayStart,
	).Scan(&s.TokensUsedToday, &s.CostUSDToday)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "ai: query daily usage", err)
	}

	err = t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM usage_records WHERE timestamp >= $1 AND success = 1`,
		monthStart,
	).Scan(&s.CostUSDMonth)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "ai: query monthly usage", err)
	}

	rows, err := t.db.QueryContext(ctx,
		`SELECT provider, model, success, COUNT(*),
		        COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM usage_records GROUP BY provider, model, success`)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorageUnavailable, "ai: query usage breakdown", err)
	}
	defer rows.Close()

	for rows.Next() {
		var provider, model string
		var success int
		var calls, in, out int64
		var cost float64
		if err := rows.Scan(&provider, &model, &success, &calls, &in, &out, &cost); err != nil {
			return nil, fmt.Errorf("ai: usage scan: %w", err)
		}
		p := s.ByProvider[provider]
		m := s.ByModel[model]
		if success == 1 {
			s.TotalCalls += calls
			p.Calls += calls
			p.InputTokens += in
			p.OutputTokens += out
			p.CostUSD += cost
			m.Calls += calls
			m.InputTokens += in
			m.OutputTokens += out
			m.CostUSD += cost
		} else {
			s.TotalErrors += calls
			p.Errors += calls
			m.Errors += calls
		}
		s.ByProvider[provider] = p
		s.ByModel[model] = m
	}
	return s, rows.Err()
}
