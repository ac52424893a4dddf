package auth

import (
	"context"
	"testing"

	"github.com/PumpeDie/teamup/internal/domain"
)

func TestRequireUser(t *testing.T) {
	if _, err := RequireUser(context.Background()); !domain.IsCode(err, domain.CodeNotAuthenticated) {
		t.Fatalf("expected not_authenticated, got %v", err)
	}
	if _, err := RequireUser(WithUser(context.Background(), "  ")); err == nil {
		t.Fatalf("blank user id should not authenticate")
	}
	userID, err := RequireUser(WithUser(context.Background(), "u1"))
	if err != nil || userID != "u1" {
		t.Fatalf("RequireUser = %q, %v", userID, err)
	}
}
