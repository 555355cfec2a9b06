package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/ids"
	"github.com/secureyeoman/secureyeoman/pkg/vector"
)

// Assistant is the optional AI hook for deep consolidation. When nil, the
// consolidator falls back to threshold rules.
type Assistant interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ActionType enumerates what deep consolidation may do to a memory group.
type ActionType string

const (
	ActionMerge        ActionType = "MERGE"
	ActionReplace      ActionType = "REPLACE"
	ActionKeepSeparate ActionType = "KEEP_SEPARATE"
	ActionUpdate       ActionType = "UPDATE"
	ActionSkip         ActionType = "SKIP"
)

// Action is one consolidation decision. For REPLACE the first source id is
// the survivor; for MERGE all sources collapse into a new record.
type Action struct {
	Type          ActionType     `json:"type"`
	SourceIDs     []string       `json:"sourceIds"`
	MergedContent string         `json:"mergedContent,omitempty"`
	UpdateData    map[string]any `json:"updateData,omitempty"`
	Reason        string         `json:"reason,omitempty"`
}

// Report summarizes one consolidation run.
type Report struct {
	DryRun     bool               `json:"dryRun"`
	Candidates int                `json:"candidates"`
	Actions    map[ActionType]int `json:"actions"`
	Executed   int                `json:"executed"`
	DurationMs int64              `json:"durationMs"`
}

// cronParser accepts standard 5-field expressions (minute granularity).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Consolidator runs scheduled deep consolidation over flagged and recent
// memories. A 60 s ticker checks the cron schedule once per minute; each run
// races a configurable timeout.
type Consolidator struct {
	engine    *Engine
	assistant Assistant
	logger    *slog.Logger

	mu       sync.Mutex
	schedule cron.Schedule
	expr     string

	timeout   time.Duration
	batchSize int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ConsolidatorOption configures a Consolidator.
type ConsolidatorOption func(*Consolidator)

// WithTimeout overrides the per-run timeout (default 120 s).
func WithTimeout(d time.Duration) ConsolidatorOption {
	return func(c *Consolidator) { c.timeout = d }
}

// WithBatchSize caps the recent-memory sample per run (default 50).
func WithBatchSize(n int) ConsolidatorOption {
	return func(c *Consolidator) { c.batchSize = n }
}

// NewConsolidator parses the 5-field cron expression and returns the
// consolidator. assistant may be nil.
func NewConsolidator(engine *Engine, assistant Assistant, schedule string, opts ...ConsolidatorOption) (*Consolidator, error) {
	parsed, err := cronParser.Parse(schedule)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidInput, fmt.Sprintf("memory: bad schedule %q", schedule), err)
	}
	c := &Consolidator{
		engine:    engine,
		assistant: assistant,
		logger:    slog.Default().With("component", "consolidation"),
		schedule:  parsed,
		expr:      schedule,
		timeout:   120 * time.Second,
		batchSize: 50,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetSchedule swaps the cron expression at runtime.
func (c *Consolidator) SetSchedule(expr string) error {
	parsed, err := cronParser.Parse(expr)
	if err != nil {
		return fault.Wrap(fault.KindInvalidInput, fmt.Sprintf("memory: bad schedule %q", expr), err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedule = parsed
	c.expr = expr
	return nil
}

// Schedule returns the active cron expression.
func (c *Consolidator) Schedule() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expr
}

// matchesMinute reports whether the schedule fires at t. A minute matches
// when the next firing after one second before t is t itself, truncated to
// minutes.
func (c *Consolidator) matchesMinute(t time.Time) bool {
	c.mu.Lock()
	schedule := c.schedule
	c.mu.Unlock()

	minute := t.Truncate(time.Minute)
	return schedule.Next(minute.Add(-time.Second)).Equal(minute)
}

// Start launches the minute checker. Stop shuts it down.
func (c *Consolidator) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case now := <-ticker.C:
				if !c.matchesMinute(now) {
					continue
				}
				report, err := c.Run(context.Background(), false)
				if err != nil {
					c.logger.Error("scheduled consolidation failed", "error", err)
					continue
				}
				c.logger.Info("scheduled consolidation done",
					"candidates", report.Candidates, "executed", report.Executed)
			}
		}
	}()
}

// Stop halts the scheduler and waits for it to exit.
func (c *Consolidator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Run performs one deep-consolidation pass, raced against the timeout. On
// timeout the run fails and no state is cleared.
func (c *Consolidator) Run(ctx context.Context, dryRun bool) (*Report, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		report *Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := c.run(runCtx, dryRun)
		done <- outcome{report, err}
	}()

	select {
	case <-runCtx.Done():
		return nil, fault.Wrap(fault.KindTimeout, "memory: consolidation run", runCtx.Err())
	case out := <-done:
		return out.report, out.err
	}
}

// candidate pairs a memory with its close neighbours.
type candidate struct {
	memory     *Memory
	neighbours []neighbour
}

type neighbour struct {
	memory     *Memory
	similarity float32
}

func (c *Consolidator) run(ctx context.Context, dryRun bool) (*Report, error) {
	start := time.Now()

	// Snapshot the flagged set up front: ids flagged during the run stay
	// queued for the next one.
	snapshot, err := c.engine.store.FlaggedIDs(ctx)
	if err != nil {
		return nil, err
	}

	candidates, err := c.collectCandidates(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	var actions []Action
	if c.assistant != nil && len(candidates) > 0 {
		actions, err = c.askAssistant(ctx, candidates)
		if err != nil {
			c.logger.Warn("assistant consolidation failed, falling back to thresholds", "error", err)
			actions = c.thresholdActions(candidates)
		}
	} else {
		actions = c.thresholdActions(candidates)
	}

	report := &Report{
		DryRun:     dryRun,
		Candidates: len(candidates),
		Actions:    make(map[ActionType]int),
	}
	for _, a := range actions {
		report.Actions[a.Type]++
		if dryRun {
			continue
		}
		if err := c.execute(ctx, a); err != nil {
			c.logger.Warn("consolidation action failed", "type", a.Type, "sources", a.SourceIDs, "error", err)
			continue
		}
		report.Executed++
	}

	if !dryRun && len(snapshot) > 0 {
		if err := c.engine.store.RemoveFlagged(ctx, snapshot); err != nil {
			return nil, err
		}
	}
	report.DurationMs = time.Since(start).Milliseconds()
	return report, nil
}

// collectCandidates loads the snapshot ids plus a recent sample, joined with
// their flag-threshold neighbourhoods.
func (c *Consolidator) collectCandidates(ctx context.Context, snapshot []string) ([]candidate, error) {
	seen := make(map[string]bool)
	var memories []*Memory

	for _, id := range snapshot {
		m, err := c.engine.store.GetMemory(ctx, id)
		if err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				continue
			}
			return nil, err
		}
		seen[m.ID] = true
		memories = append(memories, m)
	}

	recent, err := c.engine.store.ListMemories(ctx, MemoryFilter{Limit: c.batchSize})
	if err != nil {
		return nil, err
	}
	for _, m := range recent {
		if len(memories) >= c.batchSize {
			break
		}
		if !seen[m.ID] {
			seen[m.ID] = true
			memories = append(memories, m)
		}
	}

	var out []candidate
	for _, m := range memories {
		if len(m.Embedding) == 0 {
			continue
		}
		hits, err := c.engine.index.Search(m.Embedding, 6, c.engine.thresholds.Flag)
		if err != nil {
			return nil, fault.Wrap(fault.KindStorageUnavailable, "memory: neighbour search", err)
		}
		var ns []neighbour
		for _, h := range hits {
			if h.ID == m.ID {
				continue
			}
			nm, err := c.engine.store.GetMemory(ctx, h.ID)
			if err != nil {
				if fault.IsKind(err, fault.KindNotFound) {
					continue
				}
				return nil, err
			}
			ns = append(ns, neighbour{memory: nm, similarity: h.Similarity})
		}
		if len(ns) > 0 {
			out = append(out, candidate{memory: m, neighbours: ns})
		}
	}
	return out, nil
}

// thresholdActions is the no-AI fallback: any candidate with a neighbour at
// or above the replace threshold collapses to the higher-importance record.
func (c *Consolidator) thresholdActions(candidates []candidate) []Action {
	handled := make(map[string]bool)
	var actions []Action
	for _, cand := range candidates {
		if handled[cand.memory.ID] {
			continue
		}
		for _, n := range cand.neighbours {
			if n.similarity < c.engine.thresholds.Replace || handled[n.memory.ID] {
				continue
			}
			keep, drop := cand.memory, n.memory
			if drop.Importance > keep.Importance {
				keep, drop = drop, keep
			}
			actions = append(actions, Action{
				Type:      ActionReplace,
				SourceIDs: []string{keep.ID, drop.ID},
				Reason:    fmt.Sprintf("near-duplicate at similarity %.3f", n.similarity),
			})
			handled[keep.ID] = true
			handled[drop.ID] = true
			break
		}
	}
	return actions
}

// askAssistant builds the structured prompt and parses the model's JSON
// action array.
func (c *Consolidator) askAssistant(ctx context.Context, candidates []candidate) ([]Action, error) {
	prompt := buildConsolidationPrompt(candidates)
	raw, err := c.assistant.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool)
	for _, cand := range candidates {
		known[cand.memory.ID] = true
		for _, n := range cand.neighbours {
			known[n.memory.ID] = true
		}
	}
	return parseActions(raw, known), nil
}

func buildConsolidationPrompt(candidates []candidate) string {
	var b strings.Builder
	b.WriteString("You are consolidating an agent's long-term memory. ")
	b.WriteString("For each group below decide one action: MERGE (combine into mergedContent), ")
	b.WriteString("REPLACE (keep the first sourceId, drop the rest), UPDATE (patch the first sourceId via updateData), ")
	b.WriteString("KEEP_SEPARATE, or SKIP.\n\n")
	for i, cand := range candidates {
		fmt.Fprintf(&b, "Group %d:\n", i+1)
		fmt.Fprintf(&b, "- id=%s importance=%.2f content=%q\n", cand.memory.ID, cand.memory.Importance, cand.memory.Content)
		for _, n := range cand.neighbours {
			fmt.Fprintf(&b, "- id=%s importance=%.2f similarity=%.3f content=%q\n",
				n.memory.ID, n.memory.Importance, n.similarity, n.memory.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString(`Respond with only a JSON array of actions: `)
	b.WriteString(`[{"type":"MERGE|REPLACE|KEEP_SEPARATE|UPDATE|SKIP","sourceIds":["..."],"mergedContent":"...","updateData":{},"reason":"..."}]`)
	return b.String()
}

// parseActions tolerates code fences, surrounding prose, and malformed
// items; anything unusable is dropped.
func parseActions(raw string, known map[string]bool) []Action {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end <= start {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &items); err != nil {
		return nil
	}

	var actions []Action
	for _, item := range items {
		var a Action
		if err := json.Unmarshal(item, &a); err != nil {
			continue
		}
		switch a.Type {
		case ActionMerge, ActionReplace, ActionKeepSeparate, ActionUpdate, ActionSkip:
		default:
			continue
		}
		if a.Type != ActionKeepSeparate && a.Type != ActionSkip && len(a.SourceIDs) == 0 {
			continue
		}
		valid := true
		for _, id := range a.SourceIDs {
			if !known[id] {
				valid = false
				break
			}
		}
		if !valid {
			continue
		}
		actions = append(actions, a)
	}
	return actions
}

func (c *Consolidator) execute(ctx context.Context, a Action) error {
	switch a.Type {
	case ActionKeepSeparate, ActionSkip:
		return nil

	case ActionReplace:
		if len(a.SourceIDs) < 2 {
			return nil
		}
		for _, id := range a.SourceIDs[1:] {
			if err := c.engine.Delete(ctx, id); err != nil && !fault.IsKind(err, fault.KindNotFound) {
				return err
			}
		}
		return nil

	case ActionMerge:
		if len(a.SourceIDs) < 2 {
			return nil
		}
		sources := make([]*Memory, 0, len(a.SourceIDs))
		for _, id := range a.SourceIDs {
			m, err := c.engine.store.GetMemory(ctx, id)
			if err != nil {
				if fault.IsKind(err, fault.KindNotFound) {
					continue
				}
				return err
			}
			sources = append(sources, m)
		}
		if len(sources) < 2 {
			return nil
		}

		content := a.MergedContent
		if content == "" {
			parts := make([]string, len(sources))
			for i, m := range sources {
				parts[i] = m.Content
			}
			content = strings.Join(parts, "\n")
		}
		importance := sources[0].Importance
		for _, m := range sources[1:] {
			if m.Importance > importance {
				importance = m.Importance
			}
		}

		embedding, err := c.engine.embedder.Embed(ctx, content)
		if err != nil {
			return err
		}
		embedding = vector.Normalize(embedding)
		now := c.engine.now().UnixMilli()
		merged := &Memory{
			ID:            ids.New(),
			PersonalityID: sources[0].PersonalityID,
			Type:          sources[0].Type,
			Content:       content,
			Source:        "consolidation",
			Importance:    importance,
			Embedding:     embedding,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := c.engine.store.InsertMemory(ctx, merged); err != nil {
			return err
		}
		if err := c.engine.index.Insert(merged.ID, merged.Embedding); err != nil {
			return fault.Wrap(fault.KindStorageUnavailable, "memory: index merged", err)
		}
		for _, m := range sources {
			if err := c.engine.Delete(ctx, m.ID); err != nil && !fault.IsKind(err, fault.KindNotFound) {
				return err
			}
		}
		return nil

	case ActionUpdate:
		patch := UpdatePatch{}
		if v, ok := a.UpdateData["content"].(string); ok && v != "" {
			patch.Content = &v
		}
		if v, ok := a.UpdateData["importance"].(float64); ok {
			patch.Importance = &v
		}
		if patch.empty() {
			return nil
		}
		_, err := c.engine.Update(ctx, a.SourceIDs[0], patch)
		if err != nil && fault.IsKind(err, fault.KindNotFound) {
			return nil
		}
		return err
	}
	return nil
}
