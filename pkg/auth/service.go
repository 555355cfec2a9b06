package auth

import (
	"context"
	"log/slog"

	"github.com/secureyeoman/secureyeoman/pkg/audit"
	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/ratelimit"
)

// Service is the admin login flow: rate-limit gate, bcrypt verification,
// token issuance, with every outcome audited.
type Service struct {
	adminHash string
	tokens    *TokenService
	limiter   *ratelimit.Limiter
	auditor   Auditor
	logger    *slog.Logger
}

// NewService wires the stored admin bcrypt hash, token service, and the
// limiter carrying the auth_attempts rule.
func NewService(adminHash string, tokens *TokenService, limiter *ratelimit.Limiter, auditor Auditor) *Service {
	return &Service{
		adminHash: adminHash,
		tokens:    tokens,
		limiter:   limiter,
		auditor:   auditor,
		logger:    slog.Default().With("component", "auth"),
	}
}

// Tokens exposes the underlying token service for refresh and logout.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Login verifies the admin password from the given client IP.
//
// The window is peeked before any password work: an exhausted window fails
// rate_limited without leaking whether the password was right. Only failed
// attempts consume the window.
func (s *Service) Login(ctx context.Context, password, clientIP string) (TokenPair, error) {
	d, err := s.limiter.Check(ctx, ratelimit.RuleAuthAttempts, clientIP)
	if err != nil {
		return TokenPair{}, fault.Wrap(fault.KindInternal, "rate limit check", err)
	}
	if !d.Allowed {
		s.record(ctx, audit.Event{
			Event:    "rate_limited",
			Level:    audit.LevelWarn,
			Message:  "login attempts exhausted",
			Metadata: map[string]any{"ip": clientIP, "rule": ratelimit.RuleAuthAttempts},
		})
		return TokenPair{}, fault.New(fault.KindRateLimited, "too many login attempts")
	}

	if !verifyPassword(s.adminHash, password) {
		if _, err := s.limiter.Hit(ctx, ratelimit.RuleAuthAttempts, clientIP); err != nil {
			s.logger.Error("rate limit hit failed", "error", err)
		}
		s.record(ctx, audit.Event{
			Event:    "auth_failure",
			Level:    audit.LevelWarn,
			Message:  "admin login failed",
			Metadata: map[string]any{"ip": clientIP},
		})
		return TokenPair{}, fault.New(fault.KindUnauthenticated, "invalid_credentials")
	}

	s.record(ctx, audit.Event{
		Event:    "auth_success",
		Level:    audit.LevelInfo,
		Message:  "admin login",
		UserID:   AdminID,
		Metadata: map[string]any{"ip": clientIP},
	})
	return s.tokens.IssuePair(Principal{ID: AdminID, Role: AdminRole, Method: MethodPassword})
}

func (s *Service) record(ctx context.Context, ev audit.Event) {
	if s.auditor == nil {
		return
	}
	if _, err := s.auditor.Record(ctx, ev); err != nil {
		s.logger.Error("audit record failed", "event", ev.Event, "error", err)
	}
}
