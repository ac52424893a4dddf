package team

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"log/slog"

	"github.com/PumpeDie/teamup/internal/auth"
	"github.com/PumpeDie/teamup/internal/directory"
	"github.com/PumpeDie/teamup/internal/domain"
	"github.com/PumpeDie/teamup/internal/remote"
	"github.com/PumpeDie/teamup/internal/role"
	"github.com/PumpeDie/teamup/internal/stream"
)

// Service handles team membership workflows.
type Service struct {
	store   remote.Store
	dir     directory.Directory
	logger  *slog.Logger
	metrics *stream.Metrics
}

// New constructs a Service.
func New(store remote.Store, dir directory.Directory, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{store: store, dir: dir, logger: logger}
}

// WithStreamMetrics returns a copy that records metrics for WatchTeam.
func (s Service) WithStreamMetrics(m *stream.Metrics) Service {
	s.metrics = m
	return s
}

var errNoCreator = errors.New("team record has no creator")

// Path returns the store path of a team record.
func Path(teamID string) string {
	return remote.Join("teams", teamID)
}

// ValidateID rejects team ids that cannot address a team record.
func ValidateID(teamID string) error {
	if err := remote.ValidateKey(teamID); err != nil {
		return domain.Wrap(domain.CodeInvalidInput, "invalid team id", err)
	}
	return nil
}

// Decode reads a stored team record, falling back to key for the id.
func Decode(key string, raw json.RawMessage) (domain.Team, error) {
	team, err := remote.DecodeJSON[domain.Team](key, raw)
	if err != nil {
		return domain.Team{}, domain.Wrap(domain.CodeDecodeFailure, fmt.Sprintf("decode team %s", key), err)
	}
	if team.ID == "" {
		team.ID = key
	}
	if team.CreatorID == "" {
		return domain.Team{}, domain.Wrap(domain.CodeDecodeFailure, fmt.Sprintf("decode team %s", key), errNoCreator)
	}
	team.Normalize()
	return team, nil
}

// Create registers a new team owned by the caller.
func (s Service) Create(ctx context.Context, name string) (domain.Team, error) {
	callerID, err := auth.RequireUser(ctx)
	if err != nil {
		return domain.Team{}, err
	}
	if !role.ValidTeamName(name) {
		return domain.Team{}, role.InvalidName.AsError()
	}
	teamID := s.store.NewKey("teams")
	team, err := role.New(teamID, name, callerID)
	if err != nil {
		return domain.Team{}, toError("create team", err)
	}
	if err := s.store.Set(ctx, Path(teamID), team); err != nil {
		return domain.Team{}, domain.RemoteFailure("create team", err)
	}
	s.logger.Info("team created", "team_id", teamID, "creator_id", callerID)
	return team, nil
}

// Join adds the caller to a team. Joining a team twice succeeds without
// changes.
func (s Service) Join(ctx context.Context, teamID string) (domain.Team, error) {
	callerID, err := s.precheck(ctx, teamID)
	if err != nil {
		return domain.Team{}, err
	}
	team, err := s.mutate(ctx, teamID, "join team", func(t *domain.Team) (domain.Team, error) {
		return role.Join(t, callerID)
	})
	if err != nil {
		return domain.Team{}, err
	}
	s.logger.Info("team joined", "team_id", teamID, "user_id", callerID)
	return team, nil
}

// Rename changes the team name; creator only.
func (s Service) Rename(ctx context.Context, teamID, name string) (domain.Team, error) {
	callerID, err := s.precheck(ctx, teamID)
	if err != nil {
		return domain.Team{}, err
	}
	if !role.ValidTeamName(name) {
		return domain.Team{}, role.InvalidName.AsError()
	}
	team, err := s.mutate(ctx, teamID, "rename team", func(t *domain.Team) (domain.Team, error) {
		return role.Rename(t, callerID, name)
	})
	if err != nil {
		return domain.Team{}, err
	}
	s.logger.Info("team renamed", "team_id", teamID, "name", team.Name)
	return team, nil
}

// Leave removes the caller from a team. The creator cannot leave.
func (s Service) Leave(ctx context.Context, teamID string) (domain.Team, error) {
	callerID, err := s.precheck(ctx, teamID)
	if err != nil {
		return domain.Team{}, err
	}
	team, err := s.mutate(ctx, teamID, "leave team", func(t *domain.Team) (domain.Team, error) {
		return role.Leave(t, callerID)
	})
	if err != nil {
		return domain.Team{}, err
	}
	s.logger.Info("team left", "team_id", teamID, "user_id", callerID)
	return team, nil
}

// Promote grants admin to a member; creator only.
func (s Service) Promote(ctx context.Context, teamID, targetID string) (domain.Team, error) {
	callerID, err := s.precheck(ctx, teamID)
	if err != nil {
		return domain.Team{}, err
	}
	team, err := s.mutate(ctx, teamID, "promote member", func(t *domain.Team) (domain.Team, error) {
		return role.Promote(t, callerID, targetID)
	})
	if err != nil {
		return domain.Team{}, err
	}
	s.logger.Info("member promoted", "team_id", teamID, "user_id", targetID)
	return team, nil
}

// Demote revokes admin from a member; creator only.
func (s Service) Demote(ctx context.Context, teamID, targetID string) (domain.Team, error) {
	callerID, err := s.precheck(ctx, teamID)
	if err != nil {
		return domain.Team{}, err
	}
	team, err := s.mutate(ctx, teamID, "demote member", func(t *domain.Team) (domain.Team, error) {
		return role.Demote(t, callerID, targetID)
	})
	if err != nil {
		return domain.Team{}, err
	}
	s.logger.Info("member demoted", "team_id", teamID, "user_id", targetID)
	return team, nil
}

// Remove expels a member. Admins may remove plain members; the creator may
// remove anyone but themselves.
func (s Service) Remove(ctx context.Context, teamID, targetID string) (domain.Team, error) {
	callerID, err := s.precheck(ctx, teamID)
	if err != nil {
		return domain.Team{}, err
	}
	team, err := s.mutate(ctx, teamID, "remove member", func(t *domain.Team) (domain.Team, error) {
		return role.Remove(t, callerID, targetID)
	})
	if err != nil {
		return domain.Team{}, err
	}
	s.logger.Info("member removed", "team_id", teamID, "user_id", targetID, "by", callerID)
	return team, nil
}

// Delete destroys the team and every collection under it; creator only.
// Document blobs are left in the blob store.
func (s Service) Delete(ctx context.Context, teamID string) error {
	callerID, err := s.precheck(ctx, teamID)
	if err != nil {
		return err
	}
	team, err := s.load(ctx, teamID)
	if err != nil {
		return err
	}
	if !role.CanDelete(&team, callerID) {
		return role.NotAuthorized.AsError()
	}
	if err := s.store.Delete(ctx, Path(teamID)); err != nil {
		return domain.RemoteFailure("delete team", err)
	}
	s.logger.Info("team deleted", "team_id", teamID, "by", callerID)
	s.logger.Warn("document blobs of deleted team are retained", "team_id", teamID)
	return nil
}

// Get returns a team the caller belongs to.
func (s Service) Get(ctx context.Context, teamID string) (domain.Team, error) {
	_, team, err := s.RequireMember(ctx, teamID)
	return team, err
}

// MembersWithDisplayNames lists the members with their names and roles.
// Members without a readable profile get domain.UnknownUserName.
func (s Service) MembersWithDisplayNames(ctx context.Context, teamID string) ([]domain.MemberDetail, error) {
	_, team, err := s.RequireMember(ctx, teamID)
	if err != nil {
		return nil, err
	}
	details := make([]domain.MemberDetail, 0, len(team.MemberIDs))
	for _, userID := range team.MemberIDs {
		name := domain.UnknownUserName
		if s.dir != nil {
			resolved, ok, err := s.dir.DisplayName(ctx, userID)
			switch {
			case err != nil:
				s.logger.Warn("display name lookup failed", "user_id", userID, "error", err)
			case ok:
				name = resolved
			}
		}
		details = append(details, domain.MemberDetail{
			UserID:      userID,
			DisplayName: name,
			Role:        role.Classify(&team, userID),
		})
	}
	return details, nil
}

// UserTeam returns the first team, in key order, that has the caller as a
// member. It reads every team together with its collections, so its cost
// grows with the total amount of team data.
func (s Service) UserTeam(ctx context.Context) (domain.Team, error) {
	callerID, err := auth.RequireUser(ctx)
	if err != nil {
		return domain.Team{}, err
	}
	raw, err := s.store.Get(ctx, "teams")
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return domain.Team{}, domain.RemoteFailure("list teams", err)
	}
	teams, failures, err := remote.DecodeChildren(raw, Decode)
	if err != nil {
		return domain.Team{}, domain.Wrap(domain.CodeDecodeFailure, "decode teams", err)
	}
	for _, f := range failures {
		s.logger.Warn("skipping undecodable team", "team_id", f.Key, "error", f.Err)
	}
	for _, team := range teams {
		if team.HasMember(callerID) {
			return team, nil
		}
	}
	return domain.Team{}, domain.Errorf(domain.CodeNotFound, "user %s belongs to no team", callerID)
}

// IsCreator reports whether the caller created the team.
func (s Service) IsCreator(ctx context.Context, teamID string) (bool, error) {
	callerID, err := s.precheck(ctx, teamID)
	if err != nil {
		return false, err
	}
	team, err := s.load(ctx, teamID)
	if err != nil {
		return false, err
	}
	return role.Classify(&team, callerID) == domain.RoleCreator, nil
}

// IsAdmin reports whether the caller is an admin (or the creator).
func (s Service) IsAdmin(ctx context.Context, teamID string) (bool, error) {
	callerID, err := s.precheck(ctx, teamID)
	if err != nil {
		return false, err
	}
	team, err := s.load(ctx, teamID)
	if err != nil {
		return false, err
	}
	return role.IsAdmin(&team, callerID), nil
}

// RequireMember resolves the caller and checks they belong to the team.
// It returns the caller id and the team snapshot used for the check.
func (s Service) RequireMember(ctx context.Context, teamID string) (string, domain.Team, error) {
	callerID, err := s.precheck(ctx, teamID)
	if err != nil {
		return "", domain.Team{}, err
	}
	team, err := s.load(ctx, teamID)
	if err != nil {
		return "", domain.Team{}, err
	}
	if !role.IsMember(&team, callerID) {
		return "", domain.Team{}, domain.ErrNotTeamMember
	}
	return callerID, team, nil
}

// WatchTeam streams the team record. An empty snapshot means the team was
// deleted. Writes to the team's collections also wake the subscription;
// those leave the record unchanged and are not re-delivered.
func (s Service) WatchTeam(ctx context.Context, teamID string) (*stream.Stream[domain.Team], error) {
	if _, _, err := s.RequireMember(ctx, teamID); err != nil {
		return nil, err
	}
	return stream.New(ctx, stream.Config[domain.Team]{
		Store:         s.store,
		Path:          Path(teamID),
		Collection:    "team",
		Decode:        Decode,
		Single:        true,
		SkipUnchanged: true,
		Logger:        s.logger,
		Metrics:       s.metrics,
	})
}

func (s Service) precheck(ctx context.Context, teamID string) (string, error) {
	callerID, err := auth.RequireUser(ctx)
	if err != nil {
		return "", err
	}
	if err := ValidateID(teamID); err != nil {
		return "", err
	}
	return callerID, nil
}

func (s Service) load(ctx context.Context, teamID string) (domain.Team, error) {
	raw, err := s.store.Get(ctx, Path(teamID))
	if errors.Is(err, remote.ErrNotFound) {
		return domain.Team{}, role.TeamNotFound.AsError()
	}
	if err != nil {
		return domain.Team{}, domain.RemoteFailure("load team", err)
	}
	return Decode(teamID, raw)
}

// mutate applies a role transition to the stored team. Only the name and
// membership fields are written; the team's collections below the same node
// are left alone. Stores that support transactions make the read and the
// write atomic; otherwise a concurrent change can be lost.
func (s Service) mutate(ctx context.Context, teamID, op string, transition func(*domain.Team) (domain.Team, error)) (domain.Team, error) {
	if tx, ok := s.store.(remote.Transactor); ok {
		var result domain.Team
		err := tx.Transact(ctx, Path(teamID), func(current json.RawMessage) (map[string]any, error) {
			if remote.IsNull(current) {
				return nil, role.TeamNotFound
			}
			team, err := Decode(teamID, current)
			if err != nil {
				return nil, err
			}
			next, err := transition(&team)
			if err != nil {
				return nil, err
			}
			result = next
			return changedFields(team, next), nil
		})
		if err != nil {
			return domain.Team{}, toError(op, err)
		}
		return result, nil
	}

	team, err := s.load(ctx, teamID)
	if err != nil {
		return domain.Team{}, err
	}
	next, err := transition(&team)
	if err != nil {
		return domain.Team{}, toError(op, err)
	}
	fields := changedFields(team, next)
	if fields == nil {
		return next, nil
	}
	if err := s.store.Update(ctx, Path(teamID), fields); err != nil {
		return domain.Team{}, domain.RemoteFailure(op, err)
	}
	return next, nil
}

// changedFields returns the team fields to write, or nil when next matches
// prev.
func changedFields(prev, next domain.Team) map[string]any {
	if next.Name == prev.Name && slices.Equal(next.MemberIDs, prev.MemberIDs) && slices.Equal(next.AdminIDs, prev.AdminIDs) {
		return nil
	}
	return map[string]any{
		"teamName":  next.Name,
		"memberIds": next.MemberIDs,
		"adminIds":  next.AdminIDs,
	}
}

func toError(op string, err error) error {
	var rejection role.Rejection
	if errors.As(err, &rejection) {
		return rejection.AsError()
	}
	return domain.RemoteFailure(op, err)
}
