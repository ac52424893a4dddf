// Package task manages the team to-do list.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/juju/clock"

	"github.com/PumpeDie/teamup/internal/directory"
	"github.com/PumpeDie/teamup/internal/domain"
	"github.com/PumpeDie/teamup/internal/remote"
	"github.com/PumpeDie/teamup/internal/role"
	"github.com/PumpeDie/teamup/internal/service/team"
	"github.com/PumpeDie/teamup/internal/stream"
)

const MaxTitleLength = 200

var (
	ErrEmptyTitle      = errors.New("task title is required")
	ErrTitleTooLong    = fmt.Errorf("task title exceeds %d characters", MaxTitleLength)
	ErrInvalidDueDate  = errors.New("due date must be formatted yyyy-mm-dd")
	ErrAssigneeOutside = errors.New("assignee is not a member of the team")
)

// Members resolves the caller and checks team membership.
type Members interface {
	RequireMember(ctx context.Context, teamID string) (string, domain.Team, error)
}

// Input carries the caller-supplied fields of a new task. DueDate and
// AssignedTo may be empty.
type Input struct {
	Title      string `json:"title"`
	DueDate    string `json:"dueDate"`
	AssignedTo string `json:"assignedTo"`
}

// Service handles team tasks.
type Service struct {
	store   remote.Store
	members Members
	dir     directory.Directory
	clock   clock.Clock
	logger  *slog.Logger
	metrics *stream.Metrics
}

// New constructs a Service. A nil clock means the wall clock.
func New(store remote.Store, members Members, dir directory.Directory, clk clock.Clock, logger *slog.Logger) Service {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Service{store: store, members: members, dir: dir, clock: clk, logger: logger}
}

// WithStreamMetrics returns a copy that records metrics for Watch.
func (s Service) WithStreamMetrics(m *stream.Metrics) Service {
	s.metrics = m
	return s
}

func tasksPath(teamID string) string {
	return remote.Join(team.Path(teamID), "tasks")
}

func taskPath(teamID, taskID string) string {
	return remote.Join(tasksPath(teamID), taskID)
}

func decodeTask(key string, raw json.RawMessage) (domain.Task, error) {
	t, err := remote.DecodeJSON[domain.Task](key, raw)
	if err != nil {
		return domain.Task{}, err
	}
	if key != "" {
		t.ID = key
	}
	return t, nil
}

// Open tasks sort before completed ones; ties keep key order.
func byCompleted(a, b domain.Task) int {
	switch {
	case a.Completed == b.Completed:
		return 0
	case !a.Completed:
		return -1
	}
	return 1
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	switch {
	case title == "":
		return "", domain.Wrap(domain.CodeInvalidInput, "invalid task title", ErrEmptyTitle)
	case utf8.RuneCountInString(title) > MaxTitleLength:
		return "", domain.Wrap(domain.CodeInvalidInput, "invalid task title", ErrTitleTooLong)
	}
	return title, nil
}

// Create adds a task to the team. The assignee, when given, must be a
// member.
func (s Service) Create(ctx context.Context, teamID string, in Input) (domain.Task, error) {
	callerID, t, err := s.members.RequireMember(ctx, teamID)
	if err != nil {
		return domain.Task{}, err
	}
	title, err := validateTitle(in.Title)
	if err != nil {
		return domain.Task{}, err
	}
	dueDate := strings.TrimSpace(in.DueDate)
	if dueDate != "" {
		if _, err := time.Parse(domain.DateLayout, dueDate); err != nil {
			return domain.Task{}, domain.Wrap(domain.CodeInvalidInput, "invalid due date", ErrInvalidDueDate)
		}
	}
	item := domain.Task{
		ID:            s.store.NewKey(tasksPath(teamID)),
		Title:         title,
		DueDate:       dueDate,
		CreatedBy:     callerID,
		CreatedByName: directory.Resolve(ctx, s.dir, callerID),
		CreatedAt:     s.clock.Now().UnixMilli(),
	}
	if assignee := strings.TrimSpace(in.AssignedTo); assignee != "" {
		if !role.IsMember(&t, assignee) {
			return domain.Task{}, domain.Wrap(domain.CodeInvalidInput, "invalid assignee", ErrAssigneeOutside)
		}
		name := directory.Resolve(ctx, s.dir, assignee)
		item.AssignedTo = &assignee
		item.AssignedToName = &name
	}
	if err := s.store.Set(ctx, taskPath(teamID, item.ID), item); err != nil {
		return domain.Task{}, domain.RemoteFailure("create task", err)
	}
	s.logger.Info("task created", "team_id", teamID, "task_id", item.ID, "by", callerID)
	return item, nil
}

// UpdateTitle renames a task; author or admin only.
func (s Service) UpdateTitle(ctx context.Context, teamID, taskID, title string) (domain.Task, error) {
	callerID, t, err := s.members.RequireMember(ctx, teamID)
	if err != nil {
		return domain.Task{}, err
	}
	title, err = validateTitle(title)
	if err != nil {
		return domain.Task{}, err
	}
	item, err := s.load(ctx, teamID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if item.CreatedBy != callerID && !role.IsAdmin(&t, callerID) {
		return domain.Task{}, role.NotAuthorized.AsError()
	}
	if item.Title == title {
		return item, nil
	}
	if err := s.store.Update(ctx, taskPath(teamID, taskID), map[string]any{"title": title}); err != nil {
		return domain.Task{}, domain.RemoteFailure("update task", err)
	}
	item.Title = title
	return item, nil
}

// ToggleCompletion flips the completed flag. Completing records the
// caller's display name; reopening clears it. The author, the assignee and
// admins may toggle.
func (s Service) ToggleCompletion(ctx context.Context, teamID, taskID string) (domain.Task, error) {
	callerID, t, err := s.members.RequireMember(ctx, teamID)
	if err != nil {
		return domain.Task{}, err
	}
	item, err := s.load(ctx, teamID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	assignee := item.AssignedTo != nil && *item.AssignedTo == callerID
	if item.CreatedBy != callerID && !assignee && !role.IsAdmin(&t, callerID) {
		return domain.Task{}, role.NotAuthorized.AsError()
	}

	item.Completed = !item.Completed
	item.CompletedByUserName = nil
	if item.Completed {
		name := directory.Resolve(ctx, s.dir, callerID)
		item.CompletedByUserName = &name
	}
	err = s.store.Update(ctx, taskPath(teamID, taskID), map[string]any{
		"completed":           item.Completed,
		"completedByUserName": item.CompletedByUserName,
	})
	if err != nil {
		return domain.Task{}, domain.RemoteFailure("toggle task", err)
	}
	s.logger.Info("task toggled", "team_id", teamID, "task_id", taskID, "completed", item.Completed, "by", callerID)
	return item, nil
}

// Assign hands the task to a member, or unassigns it when assigneeID is
// empty; author or admin only.
func (s Service) Assign(ctx context.Context, teamID, taskID, assigneeID string) (domain.Task, error) {
	callerID, t, err := s.members.RequireMember(ctx, teamID)
	if err != nil {
		return domain.Task{}, err
	}
	item, err := s.load(ctx, teamID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if item.CreatedBy != callerID && !role.IsAdmin(&t, callerID) {
		return domain.Task{}, role.NotAuthorized.AsError()
	}
	item.AssignedTo, item.AssignedToName = nil, nil
	if assigneeID = strings.TrimSpace(assigneeID); assigneeID != "" {
		if !role.IsMember(&t, assigneeID) {
			return domain.Task{}, domain.Wrap(domain.CodeInvalidInput, "invalid assignee", ErrAssigneeOutside)
		}
		name := directory.Resolve(ctx, s.dir, assigneeID)
		item.AssignedTo = &assigneeID
		item.AssignedToName = &name
	}
	err = s.store.Update(ctx, taskPath(teamID, taskID), map[string]any{
		"assignedTo":     item.AssignedTo,
		"assignedToName": item.AssignedToName,
	})
	if err != nil {
		return domain.Task{}, domain.RemoteFailure("assign task", err)
	}
	s.logger.Info("task assigned", "team_id", teamID, "task_id", taskID, "assignee", assigneeID)
	return item, nil
}

// Delete removes a task; author or admin only.
func (s Service) Delete(ctx context.Context, teamID, taskID string) error {
	callerID, t, err := s.members.RequireMember(ctx, teamID)
	if err != nil {
		return err
	}
	item, err := s.load(ctx, teamID, taskID)
	if err != nil {
		return err
	}
	if item.CreatedBy != callerID && !role.IsAdmin(&t, callerID) {
		return role.NotAuthorized.AsError()
	}
	if err := s.store.Delete(ctx, taskPath(teamID, taskID)); err != nil {
		return domain.RemoteFailure("delete task", err)
	}
	s.logger.Info("task deleted", "team_id", teamID, "task_id", taskID, "by", callerID)
	return nil
}

// List returns the team's tasks, open ones first.
func (s Service) List(ctx context.Context, teamID string) ([]domain.Task, error) {
	if _, _, err := s.members.RequireMember(ctx, teamID); err != nil {
		return nil, err
	}
	raw, err := s.store.Get(ctx, tasksPath(teamID))
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return nil, domain.RemoteFailure("list tasks", err)
	}
	tasks, failures, err := remote.DecodeChildren(raw, decodeTask)
	if err != nil {
		return nil, domain.Wrap(domain.CodeDecodeFailure, "decode tasks", err)
	}
	for _, f := range failures {
		s.logger.Warn("skipping undecodable task", "team_id", teamID, "task_id", f.Key, "error", f.Err)
	}
	slices.SortStableFunc(tasks, byCompleted)
	return tasks, nil
}

// Watch streams the team's tasks, open ones first.
func (s Service) Watch(ctx context.Context, teamID string) (*stream.Stream[domain.Task], error) {
	if _, _, err := s.members.RequireMember(ctx, teamID); err != nil {
		return nil, err
	}
	return stream.New(ctx, stream.Config[domain.Task]{
		Store:      s.store,
		Path:       tasksPath(teamID),
		Collection: "tasks",
		Decode:     decodeTask,
		Compare:    byCompleted,
		Logger:     s.logger,
		Metrics:    s.metrics,
	})
}

func (s Service) load(ctx context.Context, teamID, taskID string) (domain.Task, error) {
	if err := remote.ValidateKey(taskID); err != nil {
		return domain.Task{}, domain.Wrap(domain.CodeInvalidInput, "invalid task id", err)
	}
	raw, err := s.store.Get(ctx, taskPath(teamID, taskID))
	if errors.Is(err, remote.ErrNotFound) {
		return domain.Task{}, domain.Errorf(domain.CodeNotFound, "task %s not found", taskID)
	}
	if err != nil {
		return domain.Task{}, domain.RemoteFailure("load task", err)
	}
	item, err := decodeTask(taskID, raw)
	if err != nil {
		return domain.Task{}, domain.Wrap(domain.CodeDecodeFailure, "decode task "+taskID, err)
	}
	return item, nil
}
