// Package auth carries the authenticated caller through a request context.
package auth

import (
	"context"
	"strings"

	"github.com/PumpeDie/teamup/internal/domain"
)

type contextKey string

const contextKeyUser contextKey = "teamup-caller"

// WithUser returns a context identifying userID as the caller.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUser, userID)
}

// UserFromContext returns the caller id, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKeyUser).(string)
	if !ok || strings.TrimSpace(userID) == "" {
		return "", false
	}
	return userID, true
}

// RequireUser returns the caller id or a not_authenticated error.
func RequireUser(ctx context.Context) (string, error) {
	userID, ok := UserFromContext(ctx)
	if !ok {
		return "", domain.ErrNotAuthenticated
	}
	return userID, nil
}
