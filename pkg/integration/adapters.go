package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/ids"
)

// Inbound receives normalized messages from adapters.
type Inbound interface {
	HandleInbound(ctx context.Context, msg *UnifiedMessage) error
}

// platformSpec is the per-platform variation table: signature scheme,
// outbound rate, and event parsing. Adapters share one implementation
// instead of a type per platform.
type platformSpec struct {
	name      string
	rate      float64
	sigHeader string
	verify    func(secret string, body []byte, sig string) bool
	secretKey string
	parse     func(integ *Integration, body []byte) (*UnifiedMessage, bool)
}

var platformSpecs = map[string]platformSpec{
	"github": {
		name: "github", rate: 5, sigHeader: "X-Hub-Signature-256",
		verify: VerifyHMACHex, secretKey: "webhookSecret", parse: parseGithub,
	},
	"gitlab": {
		name: "gitlab", rate: 5, sigHeader: "X-Gitlab-Token",
		verify:    func(secret string, _ []byte, sig string) bool { return VerifySharedToken(secret, sig) },
		secretKey: "webhookSecret", parse: parseGitlab,
	},
	"jira": {
		name: "jira", rate: 5, sigHeader: "X-Hub-Signature-256",
		verify: VerifyHMACHex, secretKey: "webhookSecret", parse: parseJira,
	},
	"azure": {
		name: "azure", rate: 5, sigHeader: "X-Webhook-Token",
		verify:    func(secret string, _ []byte, sig string) bool { return VerifySharedToken(secret, sig) },
		secretKey: "webhookSecret", parse: parseAzure,
	},
	"line": {
		name: "line", rate: 30, sigHeader: "X-Line-Signature",
		verify: VerifyHMACBase64, secretKey: "channelSecret", parse: parseLine,
	},
	"custom": {
		name: "custom", rate: 10, sigHeader: "X-Signature",
		verify: VerifyHMACHex, secretKey: "webhookSecret", parse: parseCustom,
	},
}

// Platforms lists the supported platform ids.
func Platforms() []string {
	out := make([]string, 0, len(platformSpecs))
	for name := range platformSpecs {
		out = append(out, name)
	}
	return out
}

// WebhookAdapter connects one integration record to its platform spec.
type WebhookAdapter struct {
	spec    platformSpec
	integ   *Integration
	inbound Inbound
	client  *http.Client
	healthy atomic.Bool
}

// NewAdapter builds the adapter for a platform. Unknown platforms are
// rejected so a typo in an integration record surfaces at create time.
func NewAdapter(platform string, inbound Inbound) (*WebhookAdapter, error) {
	spec, ok := platformSpecs[platform]
	if !ok {
		return nil, fault.Errorf(fault.KindInvalidInput, "integration: unsupported platform %q", platform)
	}
	return &WebhookAdapter{
		spec:    spec,
		inbound: inbound,
		client:  &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (a *WebhookAdapter) Platform() string       { return a.spec.name }
func (a *WebhookAdapter) RatePerSecond() float64 { return a.spec.rate }

func (a *WebhookAdapter) Init(_ context.Context, integ *Integration) error {
	if integ.Platform != a.spec.name {
		return fault.Errorf(fault.KindInvalidInput, "integration: adapter is %s, record is %s",
			a.spec.name, integ.Platform)
	}
	a.integ = integ
	return nil
}

func (a *WebhookAdapter) Start(context.Context) error {
	a.healthy.Store(true)
	return nil
}

func (a *WebhookAdapter) Stop(context.Context) error {
	a.healthy.Store(false)
	return nil
}

func (a *WebhookAdapter) IsHealthy() bool { return a.healthy.Load() }

func (a *WebhookAdapter) WebhookPath() string {
	return fmt.Sprintf("/webhooks/%s/%s", a.spec.name, a.integ.ID)
}

// SignatureHeader names the header carrying this platform's signature.
func (a *WebhookAdapter) SignatureHeader() string { return a.spec.sigHeader }

func (a *WebhookAdapter) VerifyWebhook(body []byte, signature string) bool {
	secret := a.integ.Config[a.spec.secretKey]
	if secret == "" {
		return false
	}
	return a.spec.verify(secret, body, signature)
}

// HandleWebhook normalizes the platform event and forwards it. Events the
// platform sends that carry no user message (pings, reactions) are
// dropped silently.
func (a *WebhookAdapter) HandleWebhook(ctx context.Context, body []byte, _ http.Header) error {
	msg, ok := a.spec.parse(a.integ, body)
	if !ok {
		return nil
	}
	msg.ID = ids.New()
	msg.IntegrationID = a.integ.ID
	msg.Platform = a.spec.name
	msg.Direction = DirectionInbound
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	return a.inbound.HandleInbound(ctx, msg)
}

// SendMessage posts the reply to the integration's configured reply
// endpoint. Line uses its reply API with the channel token; everything
// else receives the outbound message JSON at config["replyUrl"].
func (a *WebhookAdapter) SendMessage(ctx context.Context, msg OutboundMessage) error {
	var url string
	var payload any
	headers := map[string]string{"Content-Type": "application/json"}

	if a.spec.name == "line" {
		url = "https://api.line.me/v2/bot/message/reply"
		headers["Authorization"] = "Bearer " + a.integ.Config["accessToken"]
		payload = map[string]any{
			"replyToken": msg.ReplyToMessageID,
			"messages":   []map[string]string{{"type": "text", "text": msg.Text}},
		}
	} else {
		url = a.integ.Config["replyUrl"]
		if url == "" {
			return fault.New(fault.KindPreconditionFailed, "integration: no replyUrl configured")
		}
		payload = msg
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fault.Wrap(fault.KindInternal, "integration: marshal outbound", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fault.Wrap(fault.KindInternal, "integration: build request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fault.Wrap(fault.KindNetwork, "integration: send", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fault.Errorf(fault.KindProviderUnavailable, "integration: send returned %d", resp.StatusCode)
	}
	return nil
}

// TestConnection verifies the adapter can reach its platform. For
// webhook-driven platforms this checks the reply endpoint is configured.
func (a *WebhookAdapter) TestConnection(context.Context) error {
	if a.spec.name == "line" {
		if a.integ.Config["accessToken"] == "" {
			return fault.New(fault.KindPreconditionFailed, "integration: accessToken not configured")
		}
		return nil
	}
	if a.integ.Config["replyUrl"] == "" {
		return fault.New(fault.KindPreconditionFailed, "integration: replyUrl not configured")
	}
	return nil
}

func parseGithub(_ *Integration, body []byte) (*UnifiedMessage, bool) {
	var event struct {
		Action  string `json:"action"`
		Comment struct {
			ID   int64  `json:"id"`
			Body string `json:"body"`
		} `json:"comment"`
		Issue struct {
			Number int64  `json:"number"`
			Title  string `json:"title"`
		} `json:"issue"`
		Sender struct {
			Login string `json:"login"`
			ID    int64  `json:"id"`
		} `json:"sender"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(body, &event); err != nil || event.Comment.Body == "" {
		return nil, false
	}
	return &UnifiedMessage{
		SenderID:          fmt.Sprintf("%d", event.Sender.ID),
		SenderName:        event.Sender.Login,
		ChatID:            event.Repository.FullName,
		Text:              event.Comment.Body,
		PlatformMessageID: fmt.Sprintf("%d", event.Comment.ID),
		Metadata: map[string]string{
			"action": event.Action,
			"issue":  fmt.Sprintf("%d", event.Issue.Number),
		},
	}, true
}

func parseGitlab(_ *Integration, body []byte) (*UnifiedMessage, bool) {
	var event struct {
		ObjectKind string `json:"object_kind"`
		User       struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
		ObjectAttributes struct {
			ID   int64  `json:"id"`
			Note string `json:"note"`
		} `json:"object_attributes"`
		Project struct {
			PathWithNamespace string `json:"path_with_namespace"`
		} `json:"project"`
	}
	if err := json.Unmarshal(body, &event); err != nil || event.ObjectAttributes.Note == "" {
		return nil, false
	}
	return &UnifiedMessage{
		SenderID:          fmt.Sprintf("%d", event.User.ID),
		SenderName:        event.User.Username,
		ChatID:            event.Project.PathWithNamespace,
		Text:              event.ObjectAttributes.Note,
		PlatformMessageID: fmt.Sprintf("%d", event.ObjectAttributes.ID),
		Metadata:          map[string]string{"objectKind": event.ObjectKind},
	}, true
}

func parseJira(_ *Integration, body []byte) (*UnifiedMessage, bool) {
	var event struct {
		WebhookEvent string `json:"webhookEvent"`
		Comment      struct {
			ID     string `json:"id"`
			Body   string `json:"body"`
			Author struct {
				AccountID   string `json:"accountId"`
				DisplayName string `json:"displayName"`
			} `json:"author"`
		} `json:"comment"`
		Issue struct {
			Key string `json:"key"`
		} `json:"issue"`
	}
	if err := json.Unmarshal(body, &event); err != nil || event.Comment.Body == "" {
		return nil, false
	}
	return &UnifiedMessage{
		SenderID:          event.Comment.Author.AccountID,
		SenderName:        event.Comment.Author.DisplayName,
		ChatID:            event.Issue.Key,
		Text:              event.Comment.Body,
		PlatformMessageID: event.Comment.ID,
		Metadata:          map[string]string{"webhookEvent": event.WebhookEvent},
	}, true
}

func parseAzure(_ *Integration, body []byte) (*UnifiedMessage, bool) {
	var event struct {
		EventType string `json:"eventType"`
		Message   struct {
			Text string `json:"text"`
		} `json:"message"`
		Resource struct {
			ID        int64 `json:"id"`
			CreatedBy struct {
				ID          string `json:"id"`
				DisplayName string `json:"displayName"`
			} `json:"createdBy"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &event); err != nil || event.Message.Text == "" {
		return nil, false
	}
	return &UnifiedMessage{
		SenderID:          event.Resource.CreatedBy.ID,
		SenderName:        event.Resource.CreatedBy.DisplayName,
		Text:              event.Message.Text,
		PlatformMessageID: fmt.Sprintf("%d", event.Resource.ID),
		Metadata:          map[string]string{"eventType": event.EventType},
	}, true
}

func parseLine(_ *Integration, body []byte) (*UnifiedMessage, bool) {
	var event struct {
		Events []struct {
			Type       string `json:"type"`
			ReplyToken string `json:"replyToken"`
			Timestamp  int64  `json:"timestamp"`
			Source     struct {
				UserID string `json:"userId"`
			} `json:"source"`
			Message struct {
				ID   string `json:"id"`
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"message"`
		} `json:"events"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, false
	}
	for _, ev := range event.Events {
		if ev.Type != "message" || ev.Message.Type != "text" {
			continue
		}
		return &UnifiedMessage{
			SenderID:          ev.Source.UserID,
			ChatID:            ev.Source.UserID,
			Text:              ev.Message.Text,
			PlatformMessageID: ev.ReplyToken,
			Timestamp:         ev.Timestamp,
			Metadata:          map[string]string{"messageId": ev.Message.ID},
		}, true
	}
	return nil, false
}

func parseCustom(_ *Integration, body []byte) (*UnifiedMessage, bool) {
	var event struct {
		SenderID   string            `json:"senderId"`
		SenderName string            `json:"senderName"`
		ChatID     string            `json:"chatId"`
		Text       string            `json:"text"`
		MessageID  string            `json:"messageId"`
		Metadata   map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(body, &event); err != nil || event.Text == "" {
		return nil, false
	}
	return &UnifiedMessage{
		SenderID:          event.SenderID,
		SenderName:        event.SenderName,
		ChatID:            event.ChatID,
		Text:              event.Text,
		PlatformMessageID: event.MessageID,
		Metadata:          event.Metadata,
	}, true
}
