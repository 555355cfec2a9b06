package hooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Webhook is one outbound subscription. Events hold hook points or
// families ("task" matches every task.* point); empty means all.
type Webhook struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	Secret    string   `json:"secret,omitempty"`
	Events    []string `json:"events,omitempty"`
	Enabled   bool     `json:"enabled"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
}

func (w *Webhook) subscribed(point Point) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, ev := range w.Events {
		if ev == string(point) || ev == point.Family() {
			return true
		}
	}
	return false
}

// webhookPayload is the wire shape delivered to subscribers.
type webhookPayload struct {
	HookPoint string         `json:"hookPoint"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

// WebhookDispatcher fans dispatches out to subscribed webhooks. Delivery
// is fire-and-forget: failures are logged at warn and never affect the
// in-process outcome.
type WebhookDispatcher struct {
	client  *http.Client
	logger  *slog.Logger
	allow   bool
	timeout time.Duration

	mu       sync.Mutex
	webhooks map[string]*Webhook
	wg       sync.WaitGroup
}

// DispatcherOption configures a WebhookDispatcher.
type DispatcherOption func(*WebhookDispatcher)

// WithDispatchTimeout overrides the per-call timeout (default 5 s).
func WithDispatchTimeout(d time.Duration) DispatcherOption {
	return func(w *WebhookDispatcher) { w.timeout = d }
}

// WithHTTPClient overrides the HTTP client for tests.
func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(w *WebhookDispatcher) { w.client = c }
}

// NewWebhookDispatcher builds the dispatcher. allowWebhooks false keeps
// every delivery suppressed regardless of subscriptions.
func NewWebhookDispatcher(allowWebhooks bool, opts ...DispatcherOption) *WebhookDispatcher {
	d := &WebhookDispatcher{
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   slog.Default().With("component", "hooks"),
		allow:    allowWebhooks,
		timeout:  5 * time.Second,
		webhooks: make(map[string]*Webhook),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetWebhook adds or replaces a subscription.
func (d *WebhookDispatcher) SetWebhook(w *Webhook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *w
	d.webhooks[w.ID] = &cp
}

// RemoveWebhook drops a subscription.
func (d *WebhookDispatcher) RemoveWebhook(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.webhooks, id)
}

// Webhooks returns the current subscriptions.
func (d *WebhookDispatcher) Webhooks() []*Webhook {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Webhook, 0, len(d.webhooks))
	for _, w := range d.webhooks {
		cp := *w
		out = append(out, &cp)
	}
	return out
}

// Dispatch delivers the event to every enabled, subscribed webhook.
func (d *WebhookDispatcher) Dispatch(point Point, event string, data map[string]any, at time.Time) {
	if !d.allow {
		return
	}
	d.mu.Lock()
	var targets []*Webhook
	for _, w := range d.webhooks {
		if w.Enabled && w.subscribed(point) {
			cp := *w
			targets = append(targets, &cp)
		}
	}
	d.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	body, err := json.Marshal(webhookPayload{
		HookPoint: string(point),
		Event:     event,
		Data:      data,
		Timestamp: at.UnixMilli(),
	})
	if err != nil {
		d.logger.Warn("webhook payload marshal failed", "point", point, "error", err)
		return
	}

	for _, w := range targets {
		d.wg.Add(1)
		go func(w *Webhook) {
			defer d.wg.Done()
			d.deliver(w, body)
		}(w)
	}
}

// Drain waits for in-flight deliveries, for shutdown and tests.
func (d *WebhookDispatcher) Drain() { d.wg.Wait() }

func (d *WebhookDispatcher) deliver(w *Webhook, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		d.logger.Warn("webhook request build failed", "webhook", w.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Friday-Event", "extension-hook")
	if w.Secret != "" {
		mac := hmac.New(sha256.New, []byte(w.Secret))
		mac.Write(body)
		req.Header.Set("X-Friday-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("webhook delivery failed", "webhook", w.ID, "url", w.URL, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		d.logger.Warn("webhook delivery rejected", "webhook", w.ID, "status", resp.StatusCode)
	}
}
