// Package role answers permission questions about a team snapshot and
// derives new snapshots for membership changes. It performs no I/O.
//
// Every predicate is total: a nil team means the team is unknown and the
// answer is always false.
package role

import (
	"strings"

	"github.com/PumpeDie/teamup/internal/domain"
)

// MinTeamNameLength is the shortest accepted team name after trimming.
const MinTeamNameLength = 3

// Classify derives the role of userID in team.
func Classify(team *domain.Team, userID string) domain.Role {
	switch {
	case team == nil || userID == "":
		return domain.RoleNonMember
	case userID == team.CreatorID:
		return domain.RoleCreator
	case team.HasAdmin(userID):
		return domain.RoleAdmin
	case team.HasMember(userID):
		return domain.RoleMember
	default:
		return domain.RoleNonMember
	}
}

// IsMember reports whether userID belongs to team in any role.
func IsMember(team *domain.Team, userID string) bool {
	return Classify(team, userID) != domain.RoleNonMember
}

// IsAdmin reports whether userID is the creator or an admin of team.
func IsAdmin(team *domain.Team, userID string) bool {
	r := Classify(team, userID)
	return r == domain.RoleCreator || r == domain.RoleAdmin
}

func CanRename(team *domain.Team, userID string) bool {
	return Classify(team, userID) == domain.RoleCreator
}

func CanDelete(team *domain.Team, userID string) bool {
	return Classify(team, userID) == domain.RoleCreator
}

func CanPromote(team *domain.Team, actorID, targetID string) bool {
	return Classify(team, actorID) == domain.RoleCreator &&
		team.HasMember(targetID) &&
		!team.HasAdmin(targetID)
}

func CanDemote(team *domain.Team, actorID, targetID string) bool {
	return Classify(team, actorID) == domain.RoleCreator &&
		team.HasAdmin(targetID) &&
		targetID != team.CreatorID
}

// CanRemove lets the creator remove anyone but themselves and an admin
// remove plain members only.
func CanRemove(team *domain.Team, actorID, targetID string) bool {
	if team == nil || targetID == team.CreatorID {
		return false
	}
	if !team.HasMember(targetID) {
		return false
	}
	switch Classify(team, actorID) {
	case domain.RoleCreator:
		return true
	case domain.RoleAdmin:
		return !team.HasAdmin(targetID)
	default:
		return false
	}
}

// CanLeave is true for admins and plain members; the creator must delete
// the team instead.
func CanLeave(team *domain.Team, userID string) bool {
	r := Classify(team, userID)
	return r == domain.RoleAdmin || r == domain.RoleMember
}

// ValidTeamName applies the naming rule shared by create and rename.
func ValidTeamName(name string) bool {
	return len([]rune(strings.TrimSpace(name))) >= MinTeamNameLength
}
