// Package integration normalizes inbound platform events into unified
// messages, enforces personality-scoped access, dispatches them to the
// task executor, and relays responses back through the originating
// platform. Integration config is encrypted at rest and redacted on read.
package integration

import (
	"context"
	"net/http"

	"github.com/secureyeoman/secureyeoman/pkg/audit"
)

// Status is an integration's connection state.
type Status string

const (
	StatusPending      Status = "pending"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Integration is one configured platform connection.
type Integration struct {
	ID           string            `json:"id"`
	Platform     string            `json:"platform"`
	DisplayName  string            `json:"displayName"`
	Enabled      bool              `json:"enabled"`
	Status       Status            `json:"status"`
	Config       map[string]string `json:"config,omitempty"`
	MessageCount int64             `json:"messageCount"`
	CreatedAt    int64             `json:"createdAt"`
	UpdatedAt    int64             `json:"updatedAt"`
}

// sensitiveConfigKeys are masked when an integration is read back.
var sensitiveConfigKeys = map[string]bool{
	"token":         true,
	"apiKey":        true,
	"secret":        true,
	"webhookSecret": true,
	"channelSecret": true,
	"accessToken":   true,
	"password":      true,
}

// Redacted returns a copy safe to return to clients. Sensitive config
// values are replaced with a mask, never omitted, so the client can see
// which keys are set.
func (i *Integration) Redacted() *Integration {
	out := *i
	if i.Config != nil {
		out.Config = make(map[string]string, len(i.Config))
		for k, v := range i.Config {
			if sensitiveConfigKeys[k] && v != "" {
				out.Config[k] = "********"
			} else {
				out.Config[k] = v
			}
		}
	}
	return &out
}

// Direction of a unified message.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Attachment is a media reference carried by a message.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
	Name string `json:"name,omitempty"`
}

// UnifiedMessage is the platform-agnostic message shape.
type UnifiedMessage struct {
	ID                string            `json:"id"`
	IntegrationID     string            `json:"integrationId"`
	Platform          string            `json:"platform"`
	Direction         string            `json:"direction"`
	SenderID          string            `json:"senderId"`
	SenderName        string            `json:"senderName,omitempty"`
	ChatID            string            `json:"chatId,omitempty"`
	Text              string            `json:"text"`
	Attachments       []Attachment      `json:"attachments,omitempty"`
	PlatformMessageID string            `json:"platformMessageId,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Timestamp         int64             `json:"timestamp"`
}

// OutboundMessage is a reply sent back through an integration.
type OutboundMessage struct {
	IntegrationID    string `json:"integrationId"`
	ChatID           string `json:"chatId,omitempty"`
	Text             string `json:"text"`
	TaskID           string `json:"taskId,omitempty"`
	ReplyToMessageID string `json:"replyToMessageId,omitempty"`
	AudioBase64      string `json:"audioBase64,omitempty"`
	AudioFormat      string `json:"audioFormat,omitempty"`
}

// Adapter is the capability set every platform connector implements.
type Adapter interface {
	Platform() string
	Init(ctx context.Context, integ *Integration) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SendMessage(ctx context.Context, msg OutboundMessage) error
	IsHealthy() bool
	WebhookPath() string
	VerifyWebhook(body []byte, signature string) bool
	HandleWebhook(ctx context.Context, body []byte, header http.Header) error
	TestConnection(ctx context.Context) error

	// RatePerSecond is the platform's outbound message budget.
	RatePerSecond() float64
}

// ActivePersonality is the slice of the persona layer the router needs.
type ActivePersonality struct {
	Voice                string
	SelectedIntegrations []string
}

// PersonalityResolver yields the currently active personality.
type PersonalityResolver interface {
	Active(ctx context.Context) (*ActivePersonality, error)
}

// Synthesizer turns reply text into speech for voice-capable platforms.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (audioBase64, format string, err error)
	AllowedVoices(platform string) []string
}

// HookEmitter fans events out to registered extension hooks.
type HookEmitter interface {
	EmitAsync(point string, data map[string]any)
}

// Auditor is the slice of the audit chain this package needs.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event) (*audit.Entry, error)
}
