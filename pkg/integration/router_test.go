package integration

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureyeoman/secureyeoman/pkg/audit"
	"github.com/secureyeoman/secureyeoman/pkg/database"
	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/task"
)

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Record(_ context.Context, ev audit.Event) (*audit.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return &audit.Entry{}, nil
}

func (r *recordingAuditor) has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Event == name {
			return true
		}
	}
	return false
}

type fakeSubmitter struct {
	mu      sync.Mutex
	inputs  []task.SubmitInput
	ctxs    []task.ExecContext
	nextID  string
	failure error
}

func (f *fakeSubmitter) Submit(_ context.Context, in task.SubmitInput, execCtx task.ExecContext) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure != nil {
		return nil, f.failure
	}
	f.inputs = append(f.inputs, in)
	f.ctxs = append(f.ctxs, execCtx)
	return &task.Task{ID: f.nextID, Type: in.Type, Status: task.StatusQueued}, nil
}

type fakePersona struct {
	active ActivePersonality
}

func (f *fakePersona) Active(context.Context) (*ActivePersonality, error) {
	out := f.active
	return &out, nil
}

type fakeAdapter struct {
	mu       sync.Mutex
	platform string
	sent     []OutboundMessage
	verify   bool
	inbound  Inbound
	integ    *Integration
}

func (f *fakeAdapter) Platform() string                                         { return f.platform }
func (f *fakeAdapter) Init(_ context.Context, i *Integration) error             { f.integ = i; return nil }
func (f *fakeAdapter) Start(context.Context) error                              { return nil }
func (f *fakeAdapter) Stop(context.Context) error                               { return nil }
func (f *fakeAdapter) IsHealthy() bool                                          { return true }
func (f *fakeAdapter) WebhookPath() string                                      { return "/webhooks/fake/x" }
func (f *fakeAdapter) VerifyWebhook([]byte, string) bool                        { return f.verify }
func (f *fakeAdapter) HandleWebhook(context.Context, []byte, http.Header) error { return nil }
func (f *fakeAdapter) TestConnection(context.Context) error                     { return nil }
func (f *fakeAdapter) RatePerSecond() float64                                   { return 100 }

func (f *fakeAdapter) SendMessage(_ context.Context, msg OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeAdapter) lastSent() (OutboundMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return OutboundMessage{}, false
	}
	return f.sent[len(f.sent)-1], true
}

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cipher, err := NewCipher("test-encryption-passphrase")
	require.NoError(t, err)
	store, err := NewStore(context.Background(), db, cipher)
	require.NoError(t, err)
	return store, db
}

func seedIntegration(t *testing.T, store *Store, id, platform string) *Integration {
	t.Helper()
	integ := &Integration{
		ID: id, Platform: platform, DisplayName: platform + " test",
		Enabled: true, Status: StatusConnected,
		Config:    map[string]string{"webhookSecret": "s3cret", "replyUrl": "https://example.test/reply"},
		CreatedAt: time.Now().UnixMilli(), UpdatedAt: time.Now().UnixMilli(),
	}
	require.NoError(t, store.Insert(context.Background(), integ))
	return integ
}

func TestConfigEncryptedAtRest(t *testing.T) {
	store, db := newTestStore(t)
	seedIntegration(t, store, "i1", "github")

	var raw sql.NullString
	require.NoError(t, db.QueryRow(`SELECT config FROM integrations WHERE id = 'i1'`).Scan(&raw))
	require.True(t, raw.Valid)
	assert.NotContains(t, raw.String, "s3cret")

	got, err := store.Get(context.Background(), "i1")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got.Config["webhookSecret"])
}

func TestServeWebhookSignature(t *testing.T) {
	store, _ := newTestStore(t)
	integ := seedIntegration(t, store, "i1", "github")
	auditor := &recordingAuditor{}
	submitter := &fakeSubmitter{nextID: "t1"}
	router := NewRouter(store, submitter, &fakePersona{}, auditor)

	adapter, err := NewAdapter("github", router)
	require.NoError(t, err)
	require.NoError(t, adapter.Init(context.Background(), integ))
	router.RegisterAdapter(integ.ID, adapter)

	body := []byte(`{"action":"created","comment":{"id":7,"body":"hello"},"sender":{"login":"mira","id":42},"repository":{"full_name":"acme/repo"}}`)

	err = router.ServeWebhook(context.Background(), "i1", body, "sha256=deadbeef")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindUnauthenticated))
	assert.Equal(t, http.StatusUnauthorized, fault.HTTPStatus(fault.KindOf(err)))
	assert.True(t, auditor.has("webhook_signature_invalid"))

	require.NoError(t, router.ServeWebhook(context.Background(), "i1", body, signHex("s3cret", body)))

	submitter.mu.Lock()
	defer submitter.mu.Unlock()
	require.Len(t, submitter.inputs, 1)
	assert.Equal(t, "hello", submitter.inputs[0].Input)
	assert.Equal(t, "github:42", submitter.ctxs[0].UserID)
	assert.Equal(t, "operator", submitter.ctxs[0].Role)
	assert.NotEmpty(t, submitter.ctxs[0].CorrelationID)
}

func TestHandleInboundPersonalityGate(t *testing.T) {
	store, _ := newTestStore(t)
	seedIntegration(t, store, "i1", "custom")
	submitter := &fakeSubmitter{nextID: "t1"}
	persona := &fakePersona{active: ActivePersonality{SelectedIntegrations: []string{"other"}}}
	router := NewRouter(store, submitter, persona, &recordingAuditor{})

	msg := &UnifiedMessage{
		ID: "m1", IntegrationID: "i1", Platform: "custom",
		Direction: DirectionInbound, SenderID: "u1", Text: "hi",
		Timestamp: time.Now().UnixMilli(),
	}
	require.NoError(t, router.HandleInbound(context.Background(), msg))

	submitter.mu.Lock()
	assert.Empty(t, submitter.inputs, "unselected integration must not dispatch")
	submitter.mu.Unlock()

	// Message is still persisted before the gate.
	msgs, err := store.Messages(context.Background(), "i1", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestHandleInboundSkipsEmptyText(t *testing.T) {
	store, _ := newTestStore(t)
	seedIntegration(t, store, "i1", "custom")
	submitter := &fakeSubmitter{nextID: "t1"}
	router := NewRouter(store, submitter, &fakePersona{}, &recordingAuditor{})

	msg := &UnifiedMessage{
		ID: "m1", IntegrationID: "i1", Platform: "custom",
		Direction: DirectionInbound, SenderID: "u1",
		Timestamp: time.Now().UnixMilli(),
	}
	require.NoError(t, router.HandleInbound(context.Background(), msg))

	submitter.mu.Lock()
	assert.Empty(t, submitter.inputs)
	submitter.mu.Unlock()
}

func TestTaskCompletionRepliesThroughOrigin(t *testing.T) {
	store, _ := newTestStore(t)
	seedIntegration(t, store, "i1", "custom")
	submitter := &fakeSubmitter{nextID: "t1"}
	router := NewRouter(store, submitter, &fakePersona{}, &recordingAuditor{})
	adapter := &fakeAdapter{platform: "custom", verify: true}
	router.RegisterAdapter("i1", adapter)

	msg := &UnifiedMessage{
		ID: "m1", IntegrationID: "i1", Platform: "custom",
		Direction: DirectionInbound, SenderID: "u1", ChatID: "c1",
		Text: "what is up", PlatformMessageID: "pm-9",
		Timestamp: time.Now().UnixMilli(),
	}
	require.NoError(t, router.HandleInbound(context.Background(), msg))

	router.HandleTaskComplete(&task.Task{ID: "t1", Status: task.StatusCompleted, Result: "not much"})

	sent, ok := adapter.lastSent()
	require.True(t, ok)
	assert.Equal(t, "not much", sent.Text)
	assert.Equal(t, "t1", sent.TaskID)
	assert.Equal(t, "pm-9", sent.ReplyToMessageID)

	// A second completion for the same task is a no-op.
	router.HandleTaskComplete(&task.Task{ID: "t1", Status: task.StatusCompleted, Result: "again"})
	adapter.mu.Lock()
	assert.Len(t, adapter.sent, 1)
	adapter.mu.Unlock()
}

func TestErrorPathSendsCannedReply(t *testing.T) {
	store, _ := newTestStore(t)
	seedIntegration(t, store, "i1", "custom")
	submitter := &fakeSubmitter{failure: fault.New(fault.KindRateLimited, "queue full")}
	auditor := &recordingAuditor{}
	router := NewRouter(store, submitter, &fakePersona{}, auditor)
	adapter := &fakeAdapter{platform: "custom", verify: true}
	router.RegisterAdapter("i1", adapter)

	msg := &UnifiedMessage{
		ID: "m1", IntegrationID: "i1", Platform: "custom",
		Direction: DirectionInbound, SenderID: "u1", Text: "hi",
		Timestamp: time.Now().UnixMilli(),
	}
	err := router.HandleInbound(context.Background(), msg)
	require.Error(t, err)

	sent, ok := adapter.lastSent()
	require.True(t, ok)
	assert.Equal(t, "I encountered an error processing your message", sent.Text)
	assert.True(t, auditor.has("integration_error"))

	// The detailed kind never reaches the user.
	assert.NotContains(t, sent.Text, "rate")
}

func TestFailedTaskSendsCannedReply(t *testing.T) {
	store, _ := newTestStore(t)
	seedIntegration(t, store, "i1", "custom")
	submitter := &fakeSubmitter{nextID: "t1"}
	auditor := &recordingAuditor{}
	router := NewRouter(store, submitter, &fakePersona{}, auditor)
	adapter := &fakeAdapter{platform: "custom", verify: true}
	router.RegisterAdapter("i1", adapter)

	msg := &UnifiedMessage{
		ID: "m1", IntegrationID: "i1", Platform: "custom",
		Direction: DirectionInbound, SenderID: "u1", Text: "hi",
		Timestamp: time.Now().UnixMilli(),
	}
	require.NoError(t, router.HandleInbound(context.Background(), msg))

	router.HandleTaskComplete(&task.Task{ID: "t1", Status: task.StatusFailed, Error: "provider exploded"})

	sent, ok := adapter.lastSent()
	require.True(t, ok)
	assert.Equal(t, "I encountered an error processing your message", sent.Text)
	assert.True(t, auditor.has("integration_error"))
}

func TestAdapterParseTable(t *testing.T) {
	integ := &Integration{ID: "i1", Platform: "line", Config: map[string]string{"channelSecret": "cs"}}

	msg, ok := parseLine(integ, []byte(`{"events":[{"type":"message","replyToken":"rt","timestamp":123,"source":{"userId":"U1"},"message":{"id":"m1","type":"text","text":"hello"}}]}`))
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "U1", msg.SenderID)
	assert.Equal(t, "rt", msg.PlatformMessageID)

	_, ok = parseLine(integ, []byte(`{"events":[{"type":"follow"}]}`))
	assert.False(t, ok, "non-message events drop")

	_, ok = parseCustom(integ, []byte(`{"senderId":"u","text":""}`))
	assert.False(t, ok, "empty text drops")

	_, ok = parseGithub(integ, []byte(`{"zen":"ping"}`))
	assert.False(t, ok, "ping events drop")
}

func TestNewAdapterRejectsUnknownPlatform(t *testing.T) {
	_, err := NewAdapter("carrier-pigeon", nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
}
