// Package agenda manages team calendar events and planned meetings.
package agenda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/PumpeDie/teamup/internal/directory"
	"github.com/PumpeDie/teamup/internal/domain"
	"github.com/PumpeDie/teamup/internal/remote"
	"github.com/PumpeDie/teamup/internal/role"
	"github.com/PumpeDie/teamup/internal/service/team"
	"github.com/PumpeDie/teamup/internal/stream"
)

// MaxRangeDays bounds WatchRange.
const MaxRangeDays = 31

var (
	ErrEmptyTitle     = errors.New("event title is required")
	ErrHourOutOfRange = fmt.Errorf("hour must be between %d and %d", domain.AgendaFirstHour, domain.AgendaLastHour)
	ErrEndHour        = fmt.Errorf("end hour must be after the start hour and at most %d", domain.AgendaLastHour+1)
	ErrInvalidDate    = errors.New("date must be formatted yyyy-mm-dd")
	ErrInvalidDay     = errors.New("day must be a weekday name such as MONDAY")
	ErrDayMismatch    = errors.New("day does not match date")
	ErrNoSchedule     = errors.New("either date or day is required")
	ErrNoParticipants = errors.New("a meeting needs at least one participant")
	ErrParticipant    = errors.New("participant is not a member of the team")
	ErrNoRoom         = errors.New("an on-site meeting needs a room")
	ErrInvalidRange   = fmt.Errorf("range must cover 1 to %d days", MaxRangeDays)
)

// Members resolves the caller and checks team membership.
type Members interface {
	RequireMember(ctx context.Context, teamID string) (string, domain.Team, error)
}

// EventInput carries the editable fields of an event. Either Date or Day
// must be set; with a Date, Day is derived from it.
type EventInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
	Day         string `json:"day"`
	Hour        int    `json:"hour"`
	EndHour     int    `json:"endHour"`
}

// MeetingInput describes a meeting to plan. Meetings always have a date.
type MeetingInput struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Date         string   `json:"date"`
	Hour         int      `json:"hour"`
	EndHour      int      `json:"endHour"`
	Participants []string `json:"participants"`
	Room         string   `json:"room"`
	IsVisio      bool     `json:"isVisio"`
}

// Service handles agenda events.
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

// WithStreamMetrics returns a copy that records metrics for its watches.
func (s Service) WithStreamMetrics(m *stream.Metrics) Service {
	s.metrics = m
	return s
}

func agendaPath(teamID string) string {
	return remote.Join(team.Path(teamID), "agenda")
}

func eventPath(teamID, eventID string) string {
	return remote.Join(agendaPath(teamID), eventID)
}

func decodeEvent(key string, raw json.RawMessage) (domain.Event, error) {
	ev, err := remote.DecodeJSON[domain.Event](key, raw)
	if err != nil {
		return domain.Event{}, err
	}
	if key != "" {
		ev.ID = key
	}
	return ev, nil
}

func byCreatedAt(a, b domain.Event) int {
	switch {
	case a.CreatedAt < b.CreatedAt:
		return -1
	case a.CreatedAt > b.CreatedAt:
		return 1
	}
	return 0
}

func invalid(err error) error {
	return domain.Wrap(domain.CodeInvalidInput, "invalid event", err)
}

// normalize validates in and returns it trimmed, with Day filled in from
// Date when a date is given.
func normalize(in EventInput) (EventInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Date = strings.TrimSpace(in.Date)
	in.Day = strings.ToUpper(strings.TrimSpace(in.Day))
	if in.Title == "" {
		return in, invalid(ErrEmptyTitle)
	}
	if in.Hour < domain.AgendaFirstHour || in.Hour > domain.AgendaLastHour {
		return in, invalid(ErrHourOutOfRange)
	}
	if in.EndHour <= in.Hour || in.EndHour > domain.AgendaLastHour+1 {
		return in, invalid(ErrEndHour)
	}
	if in.Day != "" {
		if _, ok := domain.ParseWeekday(in.Day); !ok {
			return in, invalid(ErrInvalidDay)
		}
	}
	switch {
	case in.Date != "":
		date, err := time.Parse(domain.DateLayout, in.Date)
		if err != nil {
			return in, invalid(ErrInvalidDate)
		}
		day := domain.WeekdayName(date.Weekday())
		if in.Day != "" && in.Day != day {
			return in, invalid(ErrDayMismatch)
		}
		in.Day = day
	case in.Day == "":
		return in, invalid(ErrNoSchedule)
	}
	return in, nil
}

// Create adds an event to the team agenda.
func (s Service) Create(ctx context.Context, teamID string, in EventInput) (domain.Event, error) {
	callerID, _, err := s.members.RequireMember(ctx, teamID)
	if err != nil {
		return domain.Event{}, err
	}
	in, err = normalize(in)
	if err != nil {
		return domain.Event{}, err
	}
	ev := domain.Event{
		ID:            s.store.NewKey(agendaPath(teamID)),
		Title:         in.Title,
		Description:   in.Description,
		Date:          in.Date,
		Day:           in.Day,
		Hour:          in.Hour,
		EndHour:       in.EndHour,
		CreatedBy:     callerID,
		CreatedByName: directory.Resolve(ctx, s.dir, callerID),
		CreatedAt:     s.clock.Now().UnixMilli(),
		Participants:  []string{},
	}
	if err := s.store.Set(ctx, eventPath(teamID, ev.ID), ev); err != nil {
		return domain.Event{}, domain.RemoteFailure("create event", err)
	}
	s.logger.Info("event created", "team_id", teamID, "event_id", ev.ID, "by", callerID)
	return ev, nil
}

// PlanMeeting schedules a meeting with team members as participants.
func (s Service) PlanMeeting(ctx context.Context, teamID string, in MeetingInput) (domain.Event, error) {
	callerID, t, err := s.members.RequireMember(ctx, teamID)
	if err != nil {
		return domain.Event{}, err
	}
	if strings.TrimSpace(in.Date) == "" {
		return domain.Event{}, invalid(ErrInvalidDate)
	}
	base, err := normalize(EventInput{
		Title:       in.Title,
		Description: in.Description,
		Date:        in.Date,
		Hour:        in.Hour,
		EndHour:     in.EndHour,
	})
	if err != nil {
		return domain.Event{}, err
	}
	participants := make([]string, 0, len(in.Participants))
	for _, p := range in.Participants {
		p = strings.TrimSpace(p)
		if p == "" || slices.Contains(participants, p) {
			continue
		}
		if !role.IsMember(&t, p) {
			return domain.Event{}, domain.Wrap(domain.CodeInvalidInput, fmt.Sprintf("invalid participant %s", p), ErrParticipant)
		}
		participants = append(participants, p)
	}
	if len(participants) == 0 {
		return domain.Event{}, invalid(ErrNoParticipants)
	}
	room := strings.TrimSpace(in.Room)
	if room == "" && !in.IsVisio {
		return domain.Event{}, invalid(ErrNoRoom)
	}

	ev := domain.Event{
		ID:            s.store.NewKey(agendaPath(teamID)),
		Title:         base.Title,
		Description:   base.Description,
		Date:          base.Date,
		Day:           base.Day,
		Hour:          base.Hour,
		EndHour:       base.EndHour,
		CreatedBy:     callerID,
		CreatedByName: directory.Resolve(ctx, s.dir, callerID),
		CreatedAt:     s.clock.Now().UnixMilli(),
		Participants:  participants,
		IsMeeting:     true,
		Room:          room,
		IsVisio:       in.IsVisio,
	}
	if err := s.store.Set(ctx, eventPath(teamID, ev.ID), ev); err != nil {
		return domain.Event{}, domain.RemoteFailure("plan meeting", err)
	}
	s.logger.Info("meeting planned", "team_id", teamID, "event_id", ev.ID, "participants", len(participants))
	return ev, nil
}

// Update replaces the schedule and text of an event; author or admin only.
// Authorship, creation time and meeting details are kept.
func (s Service) Update(ctx context.Context, teamID, eventID string, in EventInput) (domain.Event, error) {
	callerID, t, err := s.members.RequireMember(ctx, teamID)
	if err != nil {
		return domain.Event{}, err
	}
	in, err = normalize(in)
	if err != nil {
		return domain.Event{}, err
	}
	ev, err := s.load(ctx, teamID, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	if ev.CreatedBy != callerID && !role.IsAdmin(&t, callerID) {
		return domain.Event{}, role.NotAuthorized.AsError()
	}
	ev.Title = in.Title
	ev.Description = in.Description
	ev.Date = in.Date
	ev.Day = in.Day
	ev.Hour = in.Hour
	ev.EndHour = in.EndHour
	if err := s.store.Set(ctx, eventPath(teamID, eventID), ev); err != nil {
		return domain.Event{}, domain.RemoteFailure("update event", err)
	}
	s.logger.Info("event updated", "team_id", teamID, "event_id", eventID, "by", callerID)
	return ev, nil
}

// Delete removes an event; author or admin only.
func (s Service) Delete(ctx context.Context, teamID, eventID string) error {
	callerID, t, err := s.members.RequireMember(ctx, teamID)
	if err != nil {
		return err
	}
	ev, err := s.load(ctx, teamID, eventID)
	if err != nil {
		return err
	}
	if ev.CreatedBy != callerID && !role.IsAdmin(&t, callerID) {
		return role.NotAuthorized.AsError()
	}
	if err := s.store.Delete(ctx, eventPath(teamID, eventID)); err != nil {
		return domain.RemoteFailure("delete event", err)
	}
	s.logger.Info("event deleted", "team_id", teamID, "event_id", eventID, "by", callerID)
	return nil
}

// List returns every event of the team in creation order.
func (s Service) List(ctx context.Context, teamID string) ([]domain.Event, error) {
	if _, _, err := s.members.RequireMember(ctx, teamID); err != nil {
		return nil, err
	}
	raw, err := s.store.Get(ctx, agendaPath(teamID))
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return nil, domain.RemoteFailure("list events", err)
	}
	events, failures, err := remote.DecodeChildren(raw, decodeEvent)
	if err != nil {
		return nil, domain.Wrap(domain.CodeDecodeFailure, "decode events", err)
	}
	for _, f := range failures {
		s.logger.Warn("skipping undecodable event", "team_id", teamID, "event_id", f.Key, "error", f.Err)
	}
	slices.SortStableFunc(events, byCreatedAt)
	return events, nil
}

// Watch streams every event of the team in creation order.
func (s Service) Watch(ctx context.Context, teamID string) (*stream.Stream[domain.Event], error) {
	return s.watch(ctx, teamID, nil)
}

// WatchRange streams the events visible on at least one of the days
// starting at from.
func (s Service) WatchRange(ctx context.Context, teamID string, from time.Time, days int) (*stream.Stream[domain.Event], error) {
	dates, err := Dates(from, days)
	if err != nil {
		return nil, err
	}
	return s.watch(ctx, teamID, func(ev domain.Event) bool {
		return ev.VisibleOnAny(dates)
	})
}

// Dates returns days consecutive calendar dates starting at from.
func Dates(from time.Time, days int) ([]time.Time, error) {
	if days < 1 || days > MaxRangeDays {
		return nil, domain.Wrap(domain.CodeInvalidInput, "invalid range", ErrInvalidRange)
	}
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	dates := make([]time.Time, days)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i)
	}
	return dates, nil
}

func (s Service) watch(ctx context.Context, teamID string, filter func(domain.Event) bool) (*stream.Stream[domain.Event], error) {
	if _, _, err := s.members.RequireMember(ctx, teamID); err != nil {
		return nil, err
	}
	return stream.New(ctx, stream.Config[domain.Event]{
		Store:      s.store,
		Path:       agendaPath(teamID),
		Collection: "agenda",
		Decode:     decodeEvent,
		Compare:    byCreatedAt,
		Filter:     filter,
		Logger:     s.logger,
		Metrics:    s.metrics,
	})
}

func (s Service) load(ctx context.Context, teamID, eventID string) (domain.Event, error) {
	if err := remote.ValidateKey(eventID); err != nil {
		return domain.Event{}, domain.Wrap(domain.CodeInvalidInput, "invalid event id", err)
	}
	raw, err := s.store.Get(ctx, eventPath(teamID, eventID))
	if errors.Is(err, remote.ErrNotFound) {
		return domain.Event{}, domain.Errorf(domain.CodeNotFound, "event %s not found", eventID)
	}
	if err != nil {
		return domain.Event{}, domain.RemoteFailure("load event", err)
	}
	ev, err := decodeEvent(eventID, raw)
	if err != nil {
		return domain.Event{}, domain.Wrap(domain.CodeDecodeFailure, "decode event "+eventID, err)
	}
	return ev, nil
}
