package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/ratelimit"
)

const testPassword = "correct-horse-battery"

func newLoginService(t *testing.T) (*Service, *recordingAuditor) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	store := NewMemoryCounterStoreForTest(t)
	limiter := ratelimit.NewLimiter(store)

	rec := &recordingAuditor{}
	tokens, err := NewTokenService(testSecret, NewMemoryNonceStore(), rec)
	require.NoError(t, err)
	return NewService(string(hash), tokens, limiter, rec), rec
}

// NewMemoryCounterStoreForTest builds a counter store that is torn down
// with the test.
func NewMemoryCounterStoreForTest(t *testing.T) *ratelimit.MemoryCounterStore {
	t.Helper()
	store := ratelimit.NewMemoryCounterStore()
	t.Cleanup(store.Close)
	return store
}

func TestLoginSuccess(t *testing.T) {
	svc, rec := newLoginService(t)

	pair, err := svc.Login(context.Background(), testPassword, "203.0.113.7")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)

	ev := rec.find("auth_success")
	require.NotNil(t, ev)
	assert.Equal(t, AdminID, ev.UserID)
	assert.Equal(t, "203.0.113.7", ev.Metadata["ip"])
}

func TestLoginWrongPassword(t *testing.T) {
	svc, rec := newLoginService(t)

	_, err := svc.Login(context.Background(), "nope", "203.0.113.7")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindUnauthenticated))
	assert.Contains(t, err.Error(), "invalid_credentials")

	ev := rec.find("auth_failure")
	require.NotNil(t, ev)
	assert.Equal(t, "203.0.113.7", ev.Metadata["ip"])
}

func TestLoginLockoutAfterFiveFailures(t *testing.T) {
	svc, rec := newLoginService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Login(ctx, "wrong", "198.51.100.1")
		require.Error(t, err)
		require.True(t, fault.IsKind(err, fault.KindUnauthenticated), "attempt %d", i+1)
	}

	// Even the right password is refused once the window is spent, and the
	// rejection happens before any password verification.
	_, err := svc.Login(ctx, testPassword, "198.51.100.1")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindRateLimited))

	var rateLimited int
	for _, ev := range rec.events {
		if ev.Event == "rate_limited" {
			rateLimited++
		}
	}
	assert.Equal(t, 1, rateLimited, "one rejected attempt records one entry")
}

func TestLoginLockoutIsPerIP(t *testing.T) {
	svc, _ := newLoginService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = svc.Login(ctx, "wrong", "198.51.100.2")
	}

	_, err := svc.Login(ctx, testPassword, "198.51.100.3")
	require.NoError(t, err, "another IP still has a fresh window")
}

func TestLoginSuccessDoesNotConsumeWindow(t *testing.T) {
	svc, _ := newLoginService(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = svc.Login(ctx, "wrong", "198.51.100.4")
	}
	for i := 0; i < 3; i++ {
		_, err := svc.Login(ctx, testPassword, "198.51.100.4")
		require.NoError(t, err, "successful logins must not count toward the limit")
	}
}
