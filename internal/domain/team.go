package domain

import "slices"

// Team is the unit of authorization scope. Membership lists have set
// semantics: no duplicates, order is join order.
type Team struct {
	ID        string   `json:"teamId"`
	Name      string   `json:"teamName"`
	CreatorID string   `json:"creatorId"`
	AdminIDs  []string `json:"adminIds"`
	MemberIDs []string `json:"memberIds"`
}

// Clone returns a deep copy so callers can derive new snapshots without
// touching the original.
func (t Team) Clone() Team {
	t.AdminIDs = slices.Clone(t.AdminIDs)
	t.MemberIDs = slices.Clone(t.MemberIDs)
	return t
}

// HasMember reports whether userID is in MemberIDs.
func (t Team) HasMember(userID string) bool {
	return userID != "" && slices.Contains(t.MemberIDs, userID)
}

// HasAdmin reports whether userID is in AdminIDs.
func (t Team) HasAdmin(userID string) bool {
	return userID != "" && slices.Contains(t.AdminIDs, userID)
}

// Normalize drops duplicate and empty ids and restores the creator
// invariants on records written by older or foreign clients.
func (t *Team) Normalize() {
	t.MemberIDs = dedupe(t.MemberIDs)
	t.AdminIDs = dedupe(t.AdminIDs)
	if t.CreatorID == "" {
		return
	}
	if !slices.Contains(t.MemberIDs, t.CreatorID) {
		t.MemberIDs = append([]string{t.CreatorID}, t.MemberIDs...)
	}
	if !slices.Contains(t.AdminIDs, t.CreatorID) {
		t.AdminIDs = append([]string{t.CreatorID}, t.AdminIDs...)
	}
	admins := t.AdminIDs[:0]
	for _, id := range t.AdminIDs {
		if slices.Contains(t.MemberIDs, id) {
			admins = append(admins, id)
		}
	}
	t.AdminIDs = admins
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Role is the classification of a user against a team.
type Role string

const (
	RoleCreator   Role = "creator"
	RoleAdmin     Role = "admin"
	RoleMember    Role = "member"
	RoleNonMember Role = "non_member"
)

// MemberDetail pairs a member with a display name for listings.
type MemberDetail struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// UnknownUserName is shown when a member has no readable profile.
const UnknownUserName = "Unknown user"
