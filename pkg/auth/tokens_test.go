package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureyeoman/secureyeoman/pkg/audit"
)

var testSecret = []byte("unit-test-token-secret")

// recordingAuditor captures events without a real chain.
type recordingAuditor struct {
	events []audit.Event
}

func (r *recordingAuditor) Record(_ context.Context, ev audit.Event) (*audit.Entry, error) {
	r.events = append(r.events, ev)
	return &audit.Entry{Event: ev.Event}, nil
}

func (r *recordingAuditor) find(event string) *audit.Event {
	for i := range r.events {
		if r.events[i].Event == event {
			return &r.events[i]
		}
	}
	return nil
}

func newTokenService(t *testing.T, opts ...TokenOption) (*TokenService, *recordingAuditor) {
	t.Helper()
	rec := &recordingAuditor{}
	svc, err := NewTokenService(testSecret, NewMemoryNonceStore(), rec, opts...)
	require.NoError(t, err)
	return svc, rec
}

func TestIssueAndIntrospect(t *testing.T) {
	svc, _ := newTokenService(t)

	pair, err := svc.IssuePair(Principal{ID: AdminID, Role: AdminRole, Method: MethodPassword})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	p, err := svc.Introspect(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, AdminID, p.ID)
	assert.Equal(t, AdminRole, p.Role)
	assert.Equal(t, MethodToken, p.Method)
}

func TestIntrospectRejectsRefreshToken(t *testing.T) {
	svc, _ := newTokenService(t)

	pair, err := svc.IssuePair(Principal{ID: AdminID, Role: AdminRole})
	require.NoError(t, err)

	_, err = svc.Introspect(pair.RefreshToken)
	require.Error(t, err, "a refresh token must not pass as an access token")
}

func TestIntrospectRejectsGarbage(t *testing.T) {
	svc, _ := newTokenService(t)

	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := svc.Introspect(tok)
		assert.Error(t, err, "token %q", tok)
	}
}

func TestIntrospectRejectsForeignSignature(t *testing.T) {
	svc, _ := newTokenService(t)
	other, err := NewTokenService([]byte("a-different-secret-entirely"), NewMemoryNonceStore(), nil)
	require.NoError(t, err)

	pair, err := other.IssuePair(Principal{ID: AdminID, Role: AdminRole})
	require.NoError(t, err)

	_, err = svc.Introspect(pair.AccessToken)
	require.Error(t, err)
}

func TestIntrospectRejectsExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTokenService(t, WithTokenClock(func() time.Time { return now }))

	pair, err := svc.IssuePair(Principal{ID: AdminID, Role: AdminRole})
	require.NoError(t, err)

	now = now.Add(DefaultAccessTTL + time.Minute)
	_, err = svc.Introspect(pair.AccessToken)
	require.Error(t, err, "access token past exp must fail")
}

func TestRefreshRotates(t *testing.T) {
	svc, _ := newTokenService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(Principal{ID: AdminID, Role: AdminRole})
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	p, err := svc.Introspect(next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, AdminID, p.ID)
}

func TestRefreshReplayDetected(t *testing.T) {
	svc, rec := newTokenService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(Principal{ID: AdminID, Role: AdminRole})
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err, "second use of the same refresh token must fail")

	reuse := rec.find("token_reuse")
	require.NotNil(t, reuse, "replay must be audited")
	assert.Equal(t, audit.LevelError, reuse.Level)
	assert.Equal(t, AdminID, reuse.UserID)
}

func TestLogoutRevokesBothTokens(t *testing.T) {
	svc, rec := newTokenService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(Principal{ID: AdminID, Role: AdminRole})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, pair.AccessToken, pair.RefreshToken))

	_, err = svc.Introspect(pair.AccessToken)
	require.Error(t, err, "access token must be dead after logout")
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err, "refresh token must be dead after logout")

	assert.NotNil(t, rec.find("logout"))
}

func TestTokensAreThreePartJWTs(t *testing.T) {
	svc, _ := newTokenService(t)

	pair, err := svc.IssuePair(Principal{ID: AdminID, Role: AdminRole})
	require.NoError(t, err)
	assert.Len(t, strings.Split(pair.AccessToken, "."), 3)
	assert.Len(t, strings.Split(pair.RefreshToken, "."), 3)
}

func TestEmptySecretRejected(t *testing.T) {
	_, err := NewTokenService(nil, NewMemoryNonceStore(), nil)
	require.Error(t, err)
}

func TestBlacklistExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBlacklist(4)
	b.now = func() time.Time { return now }

	b.Revoke("n1", now.Add(time.Hour))
	assert.True(t, b.Revoked("n1"))

	now = now.Add(2 * time.Hour)
	assert.False(t, b.Revoked("n1"), "expired revocations age out")
}

func TestBlacklistBounded(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBlacklist(2)
	b.now = func() time.Time { return now }

	b.Revoke("n1", now.Add(time.Minute))
	b.Revoke("n2", now.Add(time.Hour))
	b.Revoke("n3", now.Add(time.Hour))

	assert.False(t, b.Revoked("n1"), "soonest-to-expire entry is evicted at capacity")
	assert.True(t, b.Revoked("n2"))
	assert.True(t, b.Revoked("n3"))
}
