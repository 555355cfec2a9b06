package integration

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/secureyeoman/secureyeoman/pkg/audit"
	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/task"
)

// errorReplyText is what the end user sees on any failure; the detailed
// kind goes to the audit chain instead.
const errorReplyText = "I encountered an error processing your message"

const taskTypeQuery = "query"

// Submitter is the slice of the task executor the router needs.
type Submitter interface {
	Submit(ctx context.Context, in task.SubmitInput, execCtx task.ExecContext) (*task.Task, error)
}

// Router owns the adapter registry and the inbound/outbound message flow.
type Router struct {
	store         *Store
	tasks         Submitter
	personalities PersonalityResolver
	auditor       Auditor
	hooks         HookEmitter
	tts           Synthesizer
	logger        *slog.Logger
	now           func() time.Time

	mu sync.Mutex
	// adapters and limiters are keyed by integration id; pending maps a
	// task id back to the message that spawned it.
	adapters map[string]Adapter
	limiters map[string]*rate.Limiter
	pending  map[string]*UnifiedMessage
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithHooks attaches the extension hook dispatcher.
func WithHooks(h HookEmitter) RouterOption {
	return func(r *Router) { r.hooks = h }
}

// WithSynthesizer enables TTS replies for voice-capable platforms.
func WithSynthesizer(s Synthesizer) RouterOption {
	return func(r *Router) { r.tts = s }
}

// WithRouterClock overrides the time source for tests.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

func NewRouter(store *Store, tasks Submitter, personalities PersonalityResolver, auditor Auditor, opts ...RouterOption) *Router {
	r := &Router{
		store:         store,
		tasks:         tasks,
		personalities: personalities,
		auditor:       auditor,
		logger:        slog.Default().With("component", "integration"),
		now:           time.Now,
		adapters:      make(map[string]Adapter),
		limiters:      make(map[string]*rate.Limiter),
		pending:       make(map[string]*UnifiedMessage),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterAdapter wires an initialized adapter for an integration and
// provisions its outbound rate limiter.
func (r *Router) RegisterAdapter(integrationID string, a Adapter) {
	burst := int(a.RatePerSecond())
	if burst < 1 {
		burst = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[integrationID] = a
	r.limiters[integrationID] = rate.NewLimiter(rate.Limit(a.RatePerSecond()), burst)
}

// UnregisterAdapter drops the adapter, typically on integration delete.
func (r *Router) UnregisterAdapter(integrationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, integrationID)
	delete(r.limiters, integrationID)
}

// Adapter returns the registered adapter for an integration.
func (r *Router) Adapter(integrationID string) (Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adapters[integrationID]
	return a, ok
}

// ServeWebhook is the ingress path behind /webhooks/{platform}/{id}.
// Signature verification happens here, before any parsing, and a failure
// is both a 401 and an audit entry.
func (r *Router) ServeWebhook(ctx context.Context, integrationID string, body []byte, signature string) error {
	adapter, ok := r.Adapter(integrationID)
	if !ok {
		return fault.Errorf(fault.KindNotFound, "integration: no adapter for %s", integrationID)
	}
	if !adapter.VerifyWebhook(body, signature) {
		r.recordAudit(ctx, audit.Event{
			Event:    "webhook_signature_invalid",
			Level:    audit.LevelWarn,
			Message:  "webhook signature rejected",
			Metadata: map[string]any{"integrationId": integrationID, "platform": adapter.Platform()},
		})
		return fault.New(fault.KindUnauthenticated, "integration: webhook signature invalid")
	}
	return adapter.HandleWebhook(ctx, body, nil)
}

// HandleInbound runs the normalized-message pipeline: hook fan-out,
// persist, personality gating, then task dispatch.
func (r *Router) HandleInbound(ctx context.Context, msg *UnifiedMessage) error {
	if r.hooks != nil {
		r.hooks.EmitAsync("message.inbound", map[string]any{
			"messageId":     msg.ID,
			"integrationId": msg.IntegrationID,
			"platform":      msg.Platform,
			"senderId":      msg.SenderID,
			"text":          msg.Text,
		})
	}

	if err := r.store.InsertMessage(ctx, msg); err != nil {
		return err
	}
	if msg.Text == "" {
		return nil
	}

	persona, err := r.personalities.Active(ctx)
	if err != nil {
		r.logger.Warn("active personality lookup failed", "error", err)
		persona = &ActivePersonality{}
	}
	if len(persona.SelectedIntegrations) > 0 && !contains(persona.SelectedIntegrations, msg.IntegrationID) {
		r.logger.Info("message dropped, integration not selected by active personality",
			"integrationId", msg.IntegrationID, "messageId", msg.ID)
		return nil
	}

	execCtx := task.ExecContext{
		UserID:        msg.Platform + ":" + msg.SenderID,
		Role:          "operator",
		CorrelationID: msg.ID,
	}
	t, err := r.tasks.Submit(ctx, task.SubmitInput{
		Type:        taskTypeQuery,
		Name:        "inbound message",
		Description: "message from " + msg.Platform,
		Input:       msg.Text,
	}, execCtx)
	if err != nil {
		r.replyError(ctx, msg, err)
		return err
	}

	r.mu.Lock()
	r.pending[t.ID] = msg
	r.mu.Unlock()
	return nil
}

// HandleTaskComplete relays an executor completion back to the platform
// that originated the task. Register it with the executor's OnComplete.
func (r *Router) HandleTaskComplete(t *task.Task) {
	r.mu.Lock()
	msg, ok := r.pending[t.ID]
	delete(r.pending, t.ID)
	r.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if t.Status != task.StatusCompleted {
		r.replyError(ctx, msg, fault.Errorf(fault.KindInternal, "task %s: %s", t.Status, t.Error))
		return
	}

	out := OutboundMessage{
		IntegrationID:    msg.IntegrationID,
		ChatID:           msg.ChatID,
		Text:             t.Result,
		TaskID:           t.ID,
		ReplyToMessageID: msg.PlatformMessageID,
	}
	r.attachAudio(ctx, msg.Platform, &out)

	if err := r.Send(ctx, out); err != nil {
		r.logger.Error("reply send failed", "integrationId", msg.IntegrationID, "taskId", t.ID, "error", err)
		r.recordAudit(ctx, audit.Event{
			Event:         "integration_send_failed",
			Level:         audit.LevelWarn,
			Message:       "reply delivery failed",
			CorrelationID: msg.ID,
			Metadata:      map[string]any{"integrationId": msg.IntegrationID, "kind": string(fault.KindOf(err))},
		})
	}
}

// attachAudio synthesizes TTS when the active personality's voice is in
// the platform's allowed set.
func (r *Router) attachAudio(ctx context.Context, platform string, out *OutboundMessage) {
	if r.tts == nil {
		return
	}
	persona, err := r.personalities.Active(ctx)
	if err != nil || persona.Voice == "" {
		return
	}
	if !contains(r.tts.AllowedVoices(platform), persona.Voice) {
		return
	}
	audio, format, err := r.tts.Synthesize(ctx, out.Text, persona.Voice)
	if err != nil {
		r.logger.Warn("tts synthesis failed", "voice", persona.Voice, "error", err)
		return
	}
	out.AudioBase64 = audio
	out.AudioFormat = format
}

// Send shapes the outbound message to the platform rate and delivers it.
func (r *Router) Send(ctx context.Context, out OutboundMessage) error {
	r.mu.Lock()
	adapter := r.adapters[out.IntegrationID]
	limiter := r.limiters[out.IntegrationID]
	r.mu.Unlock()
	if adapter == nil {
		return fault.Errorf(fault.KindNotFound, "integration: no adapter for %s", out.IntegrationID)
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fault.Wrap(fault.KindTimeout, "integration: rate wait", err)
		}
	}
	if err := adapter.SendMessage(ctx, out); err != nil {
		return err
	}
	return r.store.InsertMessage(ctx, &UnifiedMessage{
		ID:            out.TaskID + ":reply",
		IntegrationID: out.IntegrationID,
		Platform:      adapter.Platform(),
		Direction:     DirectionOutbound,
		ChatID:        out.ChatID,
		Text:          out.Text,
		Timestamp:     r.now().UnixMilli(),
	})
}

// replyError delivers the canned failure text and records the real kind.
func (r *Router) replyError(ctx context.Context, msg *UnifiedMessage, cause error) {
	r.recordAudit(ctx, audit.Event{
		Event:         "integration_error",
		Level:         audit.LevelWarn,
		Message:       "inbound processing failed",
		UserID:        msg.Platform + ":" + msg.SenderID,
		CorrelationID: msg.ID,
		Metadata: map[string]any{
			"integrationId": msg.IntegrationID,
			"kind":          string(fault.KindOf(cause)),
		},
	})
	err := r.Send(ctx, OutboundMessage{
		IntegrationID:    msg.IntegrationID,
		ChatID:           msg.ChatID,
		Text:             errorReplyText,
		ReplyToMessageID: msg.PlatformMessageID,
	})
	if err != nil {
		r.logger.Error("error reply delivery failed", "integrationId", msg.IntegrationID, "error", err)
	}
}

func (r *Router) recordAudit(ctx context.Context, ev audit.Event) {
	if r.auditor == nil {
		return
	}
	if _, err := r.auditor.Record(ctx, ev); err != nil {
		r.logger.Warn("audit record failed", "event", ev.Event, "error", err)
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
