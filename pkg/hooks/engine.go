package hooks

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/ids"
)

// Semantics is what the engine does with a handler's return value.
type Semantics string

const (
	// SemanticsObserve handlers see the payload; returned data is ignored.
	SemanticsObserve Semantics = "observe"
	// SemanticsTransform handlers may replace the payload for later handlers.
	SemanticsTransform Semantics = "transform"
	// SemanticsVeto handlers may stop the dispatch entirely.
	SemanticsVeto Semantics = "veto"
)

// HookContext is the payload passed through a dispatch.
type HookContext struct {
	Point Point          `json:"point"`
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// HandlerOutput is what a handler hands back to the engine.
type HandlerOutput struct {
	Transformed map[string]any
	Veto        bool
	VetoReason  string
}

// Handler is one hook callback. Handlers run in the emitter's goroutine.
type Handler func(ctx context.Context, hc HookContext) (HandlerOutput, error)

// RegisterOptions qualify a registration.
type RegisterOptions struct {
	Priority    int
	Semantics   Semantics
	ExtensionID string
}

// EmitResult summarizes one dispatch.
type EmitResult struct {
	Vetoed      bool
	VetoReason  string
	Transformed map[string]any
	Errors      []error
}

type registration struct {
	id          string
	point       Point
	priority    int
	semantics   Semantics
	extensionID string
	placeholder bool
	handler     Handler
}

// Engine owns the hook table and dispatch loop.
type Engine struct {
	logger     *slog.Logger
	dispatcher *WebhookDispatcher
	now        func() time.Time

	mu    sync.Mutex
	hooks map[Point][]*registration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithWebhookDispatcher attaches the outbound webhook fan-out.
func WithWebhookDispatcher(d *WebhookDispatcher) EngineOption {
	return func(e *Engine) { e.dispatcher = d }
}

// WithEngineClock overrides the time source for tests.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		logger: slog.Default().With("component", "hooks"),
		now:    time.Now,
		hooks:  make(map[Point][]*registration),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterHook adds a handler at a point and returns the registration id.
// A code registration for an extension replaces that extension's
// placeholder at the same point.
func (e *Engine) RegisterHook(point Point, handler Handler, opts RegisterOptions) (string, error) {
	if !point.Valid() {
		return "", fault.Errorf(fault.KindInvalidInput, "hooks: unknown point %q", point)
	}
	if handler == nil {
		return "", fault.New(fault.KindInvalidInput, "hooks: nil handler")
	}
	sem := opts.Semantics
	if sem == "" {
		sem = SemanticsObserve
	}
	switch sem {
	case SemanticsObserve, SemanticsTransform, SemanticsVeto:
	default:
		return "", fault.Errorf(fault.KindInvalidInput, "hooks: unknown semantics %q", sem)
	}

	reg := &registration{
		id:          ids.New(),
		point:       point,
		priority:    opts.Priority,
		semantics:   sem,
		extensionID: opts.ExtensionID,
		handler:     handler,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if opts.ExtensionID != "" {
		e.dropLocked(point, func(r *registration) bool {
			return r.placeholder && r.extensionID == opts.ExtensionID
		})
	}
	e.insertLocked(reg)
	return reg.id, nil
}

// RegisterPlaceholder holds an extension's persisted hook slot until real
// code claims it. Placeholders observe and do nothing.
func (e *Engine) RegisterPlaceholder(point Point, priority int, sem Semantics, extensionID string) string {
	reg := &registration{
		id:          ids.New(),
		point:       point,
		priority:    priority,
		semantics:   sem,
		extensionID: extensionID,
		placeholder: true,
		handler: func(context.Context, HookContext) (HandlerOutput, error) {
			return HandlerOutput{}, nil
		},
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.insertLocked(reg)
	return reg.id
}

// RemoveHook removes one registration by id.
func (e *Engine) RemoveHook(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := false
	for point := range e.hooks {
		n := e.dropLocked(point, func(r *registration) bool { return r.id == id })
		removed = removed || n > 0
	}
	return removed
}

// RemoveExtension clears every hook an extension registered.
func (e *Engine) RemoveExtension(extensionID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for point := range e.hooks {
		total += e.dropLocked(point, func(r *registration) bool { return r.extensionID == extensionID })
	}
	return total
}

// HookCount reports registrations at a point.
func (e *Engine) HookCount(point Point) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.hooks[point])
}

// Emit dispatches to every handler at the point in ascending priority.
// Handler errors are collected and never abort the loop; a veto stops
// later handlers. Outbound webhooks fire after the loop either way.
func (e *Engine) Emit(ctx context.Context, point Point, hc HookContext) EmitResult {
	hc.Point = point

	e.mu.Lock()
	regs := make([]*registration, len(e.hooks[point]))
	copy(regs, e.hooks[point])
	e.mu.Unlock()

	result := EmitResult{Transformed: hc.Data}
	currentData := hc.Data

	for _, reg := range regs {
		out, err := reg.handler(ctx, HookContext{Point: point, Event: hc.Event, Data: currentData})
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		switch reg.semantics {
		case SemanticsTransform:
			if out.Transformed != nil {
				currentData = out.Transformed
			}
		case SemanticsVeto:
			if out.Veto {
				result.Vetoed = true
				result.VetoReason = out.VetoReason
				result.Transformed = currentData
				e.dispatch(point, hc.Event, currentData)
				return result
			}
		}
	}

	result.Transformed = currentData
	e.dispatch(point, hc.Event, currentData)
	return result
}

// EmitAsync dispatches without waiting, for fire-and-forget callers.
func (e *Engine) EmitAsync(point string, data map[string]any) {
	p := Point(point)
	if !p.Valid() {
		e.logger.Warn("emit on unknown hook point", "point", point)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		res := e.Emit(ctx, p, HookContext{Event: string(p), Data: data})
		for _, err := range res.Errors {
			e.logger.Warn("hook handler failed", "point", point, "error", err)
		}
	}()
}

func (e *Engine) dispatch(point Point, event string, data map[string]any) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.Dispatch(point, event, data, e.now())
}

// insertLocked keeps the slice sorted by priority, stable for equal
// priorities.
func (e *Engine) insertLocked(reg *registration) {
	regs := append(e.hooks[reg.point], reg)
	sort.SliceStable(regs, func(i, j int) bool { return regs[i].priority < regs[j].priority })
	e.hooks[reg.point] = regs
}

func (e *Engine) dropLocked(point Point, match func(*registration) bool) int {
	regs := e.hooks[point]
	kept := regs[:0]
	dropped := 0
	for _, r := range regs {
		if match(r) {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	e.hooks[point] = kept
	return dropped
}
