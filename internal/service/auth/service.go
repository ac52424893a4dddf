// Package auth issues and checks the bearer tokens that identify callers.
// Logging users in is handled elsewhere; this service only trusts tokens
// signed with its secret.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/juju/clock"

	"github.com/PumpeDie/teamup/internal/domain"
	jwtpkg "github.com/PumpeDie/teamup/pkg/jwt"
)

// Service handles token workflows.
type Service struct {
	secret string
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger
}

// Token is an issued access token.
type Token struct {
	AccessToken string        `json:"access_token"`
	ExpiresIn   time.Duration `json:"expires_in"`
}

// New constructs a Service.
func New(secret string, ttl time.Duration, clk clock.Clock, logger *slog.Logger) Service {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Service{secret: secret, ttl: ttl, clock: clk, logger: logger}
}

// Issue signs a token for userID, optionally scoped to a team.
func (s Service) Issue(userID, teamID string) (Token, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Token{}, domain.Errorf(domain.CodeInvalidInput, "user id required")
	}
	access, err := jwtpkg.GenerateTokenAt(userID, teamID, s.secret, s.ttl, s.clock.Now())
	if err != nil {
		return Token{}, err
	}
	s.logger.Info("token issued", "user_id", userID, "ttl", s.ttl)
	return Token{AccessToken: access, ExpiresIn: s.ttl}, nil
}

// Authorize validates a bearer token and returns its claims.
func (s Service) Authorize(ctx context.Context, token string) (*jwtpkg.Claims, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, domain.Wrap(domain.CodeNotAuthenticated, "token required", errors.New("empty token"))
	}
	claims, err := jwtpkg.ParseAt(trimmed, s.secret, s.clock.Now())
	if err != nil {
		return nil, domain.Wrap(domain.CodeNotAuthenticated, "invalid token", err)
	}
	return claims, nil
}
