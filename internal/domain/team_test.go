package domain

import (
	"errors"
	"fmt"
	"slices"
	"testing"
)

func TestTeamNormalizeRestoresInvariants(t *testing.T) {
	team := Team{
		ID:        "t1",
		CreatorID: "u1",
		AdminIDs:  []string{"u3", "u3", ""},
		MemberIDs: []string{"u2", "u2", "u4"},
	}
	team.Normalize()

	if !slices.Equal(team.MemberIDs, []string{"u1", "u2", "u4"}) {
		t.Fatalf("unexpected members: %v", team.MemberIDs)
	}
	// u3 is not a member so it cannot stay admin.
	if !slices.Equal(team.AdminIDs, []string{"u1"}) {
		t.Fatalf("unexpected admins: %v", team.AdminIDs)
	}
}

func TestTeamCloneIsDeep(t *testing.T) {
	team := Team{CreatorID: "u1", AdminIDs: []string{"u1"}, MemberIDs: []string{"u1"}}
	clone := team.Clone()
	clone.MemberIDs[0] = "changed"
	if team.MemberIDs[0] != "u1" {
		t.Fatalf("clone shares member slice with original")
	}
}

func TestErrorCodeHelpers(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("send message: %w", RemoteFailure("write message", cause))

	if !IsCode(err, CodeRemoteFailure) {
		t.Fatalf("expected remote failure code, got %q", CodeOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not preserved")
	}
	if CodeOf(cause) != "" {
		t.Fatalf("plain error should carry no code")
	}
	if got := RemoteFailure("again", ErrTeamNotFound); got != ErrTeamNotFound {
		t.Fatalf("coded error should pass through RemoteFailure unchanged")
	}
}
