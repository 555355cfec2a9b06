package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/secureyeoman/secureyeoman/pkg/audit"
	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/ids"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	// DefaultAccessTTL is how long an access token lives.
	DefaultAccessTTL = time.Hour
	// DefaultRefreshTTL bounds how long a session can be renewed.
	DefaultRefreshTTL = 24 * time.Hour
)

// Claims is the JWT payload for both token types.
type Claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Nonce string `json:"nonce"`
	Type  string `json:"typ"`
}

// Auditor is the slice of the audit chain the auth package needs.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event) (*audit.Entry, error)
}

// TokenService issues and validates HS256 bearer tokens. Refresh tokens are
// single-use: the nonce of a spent refresh token is persisted, and replaying
// one is treated as credential theft.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	nonces     NonceStore
	blacklist  *Blacklist
	auditor    Auditor
	now        func() time.Time
	logger     *slog.Logger
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithTokenTTLs overrides the default token lifetimes.
func WithTokenTTLs(access, refresh time.Duration) TokenOption {
	return func(s *TokenService) {
		if access > 0 {
			s.accessTTL = access
		}
		if refresh > 0 {
			s.refreshTTL = refresh
		}
	}
}

// WithTokenClock overrides the time source for tests.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService wires the signing secret, nonce persistence, and audit
// sink. The secret must not be empty.
func NewTokenService(secret []byte, nonces NonceStore, auditor Auditor, opts ...TokenOption) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "token secret must not be empty")
	}
	s := &TokenService{
		secret:     secret,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		nonces:     nonces,
		blacklist:  NewBlacklist(0),
		auditor:    auditor,
		now:        time.Now,
		logger:     slog.Default().With("component", "auth"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssuePair mints an access + refresh token pair for the principal.
func (s *TokenService) IssuePair(p Principal) (TokenPair, error) {
	now := s.now()
	accessExp := now.Add(s.accessTTL)

	access, err := s.sign(p, tokenTypeAccess, now, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(p, tokenTypeRefresh, now, now.Add(s.refreshTTL))
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExp.UnixMilli(),
	}, nil
}

func (s *TokenService) sign(p Principal, typ string, now, expires time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Role:  p.Role,
		Nonce: ids.New(),
		Type:  typ,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "sign token", err)
	}
	return signed, nil
}

// parse validates signature, expiry, and expected type.
func (s *TokenService) parse(tokenStr, wantType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fault.Errorf(fault.KindUnauthenticated, "unexpected signing method %v", t.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return nil, fault.New(fault.KindUnauthenticated, "invalid or expired token")
	}
	if claims.Type != wantType {
		return nil, fault.Errorf(fault.KindUnauthenticated, "token is not a %s token", wantType)
	}
	if claims.Subject == "" || claims.Nonce == "" {
		return nil, fault.New(fault.KindUnauthenticated, "token missing subject or nonce")
	}
	return claims, nil
}

// Introspect validates an access token and returns its principal.
func (s *TokenService) Introspect(tokenStr string) (Principal, error) {
	claims, err := s.parse(tokenStr, tokenTypeAccess)
	if err != nil {
		return Principal{}, err
	}
	if s.blacklist.Revoked(claims.Nonce) {
		return Principal{}, fault.New(fault.KindUnauthenticated, "token revoked")
	}
	return Principal{ID: claims.Subject, Role: claims.Role, Method: MethodToken}, nil
}

// Refresh exchanges a refresh token for a fresh pair, spending its nonce.
// A replayed refresh token is recorded as token_reuse at error level.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.parse(refreshToken, tokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	if s.blacklist.Revoked(claims.Nonce) {
		return TokenPair{}, fault.New(fault.KindUnauthenticated, "token revoked")
	}

	first, err := s.nonces.Consume(ctx, claims.Nonce, claims.ExpiresAt.Time)
	if err != nil {
		return TokenPair{}, err
	}
	if !first {
		s.record(ctx, audit.Event{
			Event:   "token_reuse",
			Level:   audit.LevelError,
			Message: "refresh token replayed after rotation",
			UserID:  claims.Subject,
		})
		return TokenPair{}, fault.New(fault.KindUnauthenticated, "refresh token already used")
	}

	return s.IssuePair(Principal{ID: claims.Subject, Role: claims.Role, Method: MethodToken})
}

// Logout invalidates both tokens of a session until their natural expiry.
func (s *TokenService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	access, err := s.parse(accessToken, tokenTypeAccess)
	if err != nil {
		return err
	}
	s.blacklist.Revoke(access.Nonce, access.ExpiresAt.Time)

	if refreshToken != "" {
		if refresh, err := s.parse(refreshToken, tokenTypeRefresh); err == nil {
			s.blacklist.Revoke(refresh.Nonce, refresh.ExpiresAt.Time)
			if _, err := s.nonces.Consume(ctx, refresh.Nonce, refresh.ExpiresAt.Time); err != nil {
				s.logger.Warn("consume refresh nonce on logout", "error", err)
			}
		}
	}

	s.record(ctx, audit.Event{
		Event:   "logout",
		Level:   audit.LevelInfo,
		Message: "session terminated",
		UserID:  access.Subject,
	})
	return nil
}

func (s *TokenService) record(ctx context.Context, ev audit.Event) {
	if s.auditor == nil {
		return
	}
	if _, err := s.auditor.Record(ctx, ev); err != nil {
		s.logger.Error("audit record failed", "event", ev.Event, "error", err)
	}
}
