package role

import (
	"slices"
	"strings"

	"github.com/PumpeDie/teamup/internal/domain"
)

// Rejection explains why a transition was refused.
type Rejection string

const (
	NotAuthorized Rejection = "not_authorized"
	NotAMember    Rejection = "not_a_member"
	AlreadyAdmin  Rejection = "already_admin"
	NotAdmin      Rejection = "not_admin"
	IsCreator     Rejection = "is_creator"
	TeamNotFound  Rejection = "team_not_found"
	InvalidName   Rejection = "invalid_name"
)

var rejectionMessages = map[Rejection]string{
	NotAuthorized: "not allowed to perform this action on the team",
	NotAMember:    "user is not a member of the team",
	AlreadyAdmin:  "user is already an admin",
	NotAdmin:      "user is not an admin",
	IsCreator:     "the team creator cannot be demoted, removed or leave",
	TeamNotFound:  "team not found",
	InvalidName:   "team name must have at least 3 characters",
}

func (r Rejection) Error() string {
	if msg, ok := rejectionMessages[r]; ok {
		return msg
	}
	return string(r)
}

// Code maps the rejection onto the service error taxonomy.
func (r Rejection) Code() domain.Code {
	switch r {
	case NotAMember, TeamNotFound:
		return domain.CodeNotFound
	case AlreadyAdmin, NotAdmin:
		return domain.CodeAlreadyInState
	case InvalidName:
		return domain.CodeInvalidInput
	default:
		return domain.CodeNotAuthorized
	}
}

// AsError converts the rejection into a *domain.Error that still matches
// errors.Is(err, r).
func (r Rejection) AsError() *domain.Error {
	return &domain.Error{Code: r.Code(), Message: r.Error(), Err: r}
}

// New builds the initial snapshot of a team created by creatorID.
func New(teamID, name, creatorID string) (domain.Team, error) {
	if !ValidTeamName(name) {
		return domain.Team{}, InvalidName
	}
	if creatorID == "" {
		return domain.Team{}, NotAuthorized
	}
	return domain.Team{
		ID:        teamID,
		Name:      strings.TrimSpace(name),
		CreatorID: creatorID,
		AdminIDs:  []string{creatorID},
		MemberIDs: []string{creatorID},
	}, nil
}

// Join adds userID as a plain member. Joining twice is not an error and
// returns an unchanged copy.
func Join(team *domain.Team, userID string) (domain.Team, error) {
	if team == nil {
		return domain.Team{}, TeamNotFound
	}
	if userID == "" {
		return domain.Team{}, NotAuthorized
	}
	next := team.Clone()
	if next.HasMember(userID) {
		return next, nil
	}
	next.MemberIDs = append(next.MemberIDs, userID)
	return next, nil
}

// Leave removes userID from the member and admin lists.
func Leave(team *domain.Team, userID string) (domain.Team, error) {
	if team == nil {
		return domain.Team{}, TeamNotFound
	}
	if userID != "" && userID == team.CreatorID {
		return domain.Team{}, IsCreator
	}
	if !CanLeave(team, userID) {
		return domain.Team{}, NotAMember
	}
	return without(team, userID), nil
}

// Rename sets a new team name; only the creator may do it.
func Rename(team *domain.Team, actorID, name string) (domain.Team, error) {
	if team == nil {
		return domain.Team{}, TeamNotFound
	}
	if !CanRename(team, actorID) {
		return domain.Team{}, NotAuthorized
	}
	if !ValidTeamName(name) {
		return domain.Team{}, InvalidName
	}
	next := team.Clone()
	next.Name = strings.TrimSpace(name)
	return next, nil
}

// Promote grants admin to targetID.
func Promote(team *domain.Team, actorID, targetID string) (domain.Team, error) {
	switch {
	case team == nil:
		return domain.Team{}, TeamNotFound
	case Classify(team, actorID) != domain.RoleCreator:
		return domain.Team{}, NotAuthorized
	case !team.HasMember(targetID):
		return domain.Team{}, NotAMember
	case team.HasAdmin(targetID):
		return domain.Team{}, AlreadyAdmin
	}
	next := team.Clone()
	next.AdminIDs = append(next.AdminIDs, targetID)
	return next, nil
}

// Demote revokes admin from targetID. The creator is never demoted.
func Demote(team *domain.Team, actorID, targetID string) (domain.Team, error) {
	switch {
	case team == nil:
		return domain.Team{}, TeamNotFound
	case Classify(team, actorID) != domain.RoleCreator:
		return domain.Team{}, NotAuthorized
	case targetID == team.CreatorID:
		return domain.Team{}, IsCreator
	case !team.HasMember(targetID):
		return domain.Team{}, NotAMember
	case !team.HasAdmin(targetID):
		return domain.Team{}, NotAdmin
	}
	next := team.Clone()
	next.AdminIDs = slices.DeleteFunc(next.AdminIDs, func(id string) bool { return id == targetID })
	return next, nil
}

// Remove excludes targetID from the team, dropping any admin grant with it.
func Remove(team *domain.Team, actorID, targetID string) (domain.Team, error) {
	switch {
	case team == nil:
		return domain.Team{}, TeamNotFound
	case targetID == team.CreatorID:
		return domain.Team{}, IsCreator
	case !IsAdmin(team, actorID):
		return domain.Team{}, NotAuthorized
	case !team.HasMember(targetID):
		return domain.Team{}, NotAMember
	case !CanRemove(team, actorID, targetID):
		return domain.Team{}, NotAuthorized
	}
	return without(team, targetID), nil
}

func without(team *domain.Team, userID string) domain.Team {
	next := team.Clone()
	drop := func(id string) bool { return id == userID }
	next.MemberIDs = slices.DeleteFunc(next.MemberIDs, drop)
	next.AdminIDs = slices.DeleteFunc(next.AdminIDs, drop)
	return next
}

// CheckInvariants reports whether team satisfies creator ∈ admins ⊆ members
// with no duplicate ids.
func CheckInvariants(team domain.Team) bool {
	if team.CreatorID == "" || !team.HasAdmin(team.CreatorID) {
		return false
	}
	seen := make(map[string]struct{}, len(team.MemberIDs))
	for _, id := range team.MemberIDs {
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
	}
	admins := make(map[string]struct{}, len(team.AdminIDs))
	for _, id := range team.AdminIDs {
		if _, ok := seen[id]; !ok {
			return false
		}
		if _, dup := admins[id]; dup {
			return false
		}
		admins[id] = struct{}{}
	}
	return true
}
