// Package chat manages team chat rooms and their messages.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/juju/clock"

	"github.com/PumpeDie/teamup/internal/directory"
	"github.com/PumpeDie/teamup/internal/domain"
	"github.com/PumpeDie/teamup/internal/remote"
	"github.com/PumpeDie/teamup/internal/role"
	"github.com/PumpeDie/teamup/internal/service/team"
	"github.com/PumpeDie/teamup/internal/stream"
)

const (
	MaxRoomNameLength = 100
	MaxMessageLength  = 4000
)

var (
	ErrEmptyRoomName   = errors.New("room name is required")
	ErrRoomNameTooLong = fmt.Errorf("room name exceeds %d characters", MaxRoomNameLength)
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageTooLong  = fmt.Errorf("message exceeds %d characters", MaxMessageLength)
)

// Members resolves the caller and checks team membership.
type Members interface {
	RequireMember(ctx context.Context, teamID string) (string, domain.Team, error)
}

// Service handles chat rooms and messages.
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

func roomsPath(teamID string) string {
	return remote.Join(team.Path(teamID), "chatRooms")
}

func roomPath(teamID, roomID string) string {
	return remote.Join(roomsPath(teamID), roomID)
}

func messagesPath(teamID, roomID string) string {
	return remote.Join(team.Path(teamID), "messages", roomID)
}

func decodeRoom(key string, raw json.RawMessage) (domain.ChatRoom, error) {
	room, err := remote.DecodeJSON[domain.ChatRoom](key, raw)
	if err != nil {
		return domain.ChatRoom{}, err
	}
	if key != "" {
		room.ID = key
	}
	return room, nil
}

func decodeMessage(key string, raw json.RawMessage) (domain.Message, error) {
	msg, err := remote.DecodeJSON[domain.Message](key, raw)
	if err != nil {
		return domain.Message{}, err
	}
	if key != "" {
		msg.ID = key
	}
	return msg, nil
}

// newest first
func byLastMessage(a, b domain.ChatRoom) int {
	switch {
	case a.LastMessageTime > b.LastMessageTime:
		return -1
	case a.LastMessageTime < b.LastMessageTime:
		return 1
	}
	return 0
}

func byTimestamp(a, b domain.Message) int {
	switch {
	case a.Timestamp < b.Timestamp:
		return -1
	case a.Timestamp > b.Timestamp:
		return 1
	}
	return 0
}

// CreateRoom opens a new room in the team.
func (s Service) CreateRoom(ctx context.Context, teamID, name string) (domain.ChatRoom, error) {
	callerID, _, err := s.members.RequireMember(ctx, teamID)
	if err != nil {
		return domain.ChatRoom{}, err
	}
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return domain.ChatRoom{}, domain.Wrap(domain.CodeInvalidInput, "invalid room name", ErrEmptyRoomName)
	case utf8.RuneCountInString(name) > MaxRoomNameLength:
		return domain.ChatRoom{}, domain.Wrap(domain.CodeInvalidInput, "invalid room name", ErrRoomNameTooLong)
	}
	now := s.clock.Now().UnixMilli()
	room := domain.ChatRoom{
		ID:              s.store.NewKey(roomsPath(teamID)),
		TeamID:          teamID,
		Name:            name,
		LastMessage:     "",
		LastMessageTime: now,
		CreatedBy:       callerID,
		CreatedAt:       now,
	}
	if err := s.store.Set(ctx, roomPath(teamID, room.ID), room); err != nil {
		return domain.ChatRoom{}, domain.RemoteFailure("create room", err)
	}
	s.logger.Info("chat room created", "team_id", teamID, "room_id", room.ID, "by", callerID)
	return room, nil
}

// DeleteRoom removes a room and then its messages. Only the room author or
// a team admin may delete it. The two deletes are separate writes; when the
// second fails the messages stay behind without a room.
func (s Service) DeleteRoom(ctx context.Context, teamID, roomID string) error {
	callerID, t, err := s.members.RequireMember(ctx, teamID)
	if err != nil {
		return err
	}
	room, err := s.loadRoom(ctx, teamID, roomID)
	if err != nil {
		return err
	}
	if room.CreatedBy != callerID && !role.IsAdmin(&t, callerID) {
		return role.NotAuthorized.AsError()
	}
	if err := s.store.Delete(ctx, roomPath(teamID, roomID)); err != nil {
		return domain.RemoteFailure("delete room", err)
	}
	if err := s.store.Delete(ctx, messagesPath(teamID, roomID)); err != nil {
		s.logger.Warn("room deleted but its messages were not", "team_id", teamID, "room_id", roomID, "error", err)
		return domain.RemoteFailure("delete room messages", err)
	}
	s.logger.Info("chat room deleted", "team_id", teamID, "room_id", roomID, "by", callerID)
	return nil
}

// SendMessage appends a message to a room and refreshes the room summary.
// The summary update is a second write; if it fails the message is kept
// and the error is still reported.
func (s Service) SendMessage(ctx context.Context, teamID, roomID, content string) (domain.Message, error) {
	callerID, _, err := s.members.RequireMember(ctx, teamID)
	if err != nil {
		return domain.Message{}, err
	}
	content = strings.TrimSpace(content)
	switch {
	case content == "":
		return domain.Message{}, domain.Wrap(domain.CodeInvalidInput, "invalid message", ErrEmptyMessage)
	case utf8.RuneCountInString(content) > MaxMessageLength:
		return domain.Message{}, domain.Wrap(domain.CodeInvalidInput, "invalid message", ErrMessageTooLong)
	}
	if _, err := s.loadRoom(ctx, teamID, roomID); err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:         s.store.NewKey(messagesPath(teamID, roomID)),
		ChatRoomID: roomID,
		UserID:     callerID,
		UserName:   directory.Resolve(ctx, s.dir, callerID),
		Content:    content,
		Timestamp:  s.clock.Now().UnixMilli(),
	}
	if err := s.store.Set(ctx, remote.Join(messagesPath(teamID, roomID), msg.ID), msg); err != nil {
		return domain.Message{}, domain.RemoteFailure("send message", err)
	}
	err = s.store.Update(ctx, roomPath(teamID, roomID), map[string]any{
		"lastMessage":     msg.Content,
		"lastMessageTime": msg.Timestamp,
	})
	if err != nil {
		s.logger.Warn("message sent but room summary not updated", "team_id", teamID, "room_id", roomID, "message_id", msg.ID, "error", err)
		return msg, domain.RemoteFailure("update room summary", err)
	}
	return msg, nil
}

// DeleteMessage removes a message; author or team admin only.
func (s Service) DeleteMessage(ctx context.Context, teamID, roomID, messageID string) error {
	callerID, t, err := s.members.RequireMember(ctx, teamID)
	if err != nil {
		return err
	}
	if err := validateKeys(roomID, messageID); err != nil {
		return err
	}
	path := remote.Join(messagesPath(teamID, roomID), messageID)
	msg, err := remote.GetJSON[domain.Message](ctx, s.store, path)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		return domain.Errorf(domain.CodeNotFound, "message %s not found", messageID)
	case err != nil:
		return domain.RemoteFailure("load message", err)
	}
	if msg.UserID != callerID && !role.IsAdmin(&t, callerID) {
		return role.NotAuthorized.AsError()
	}
	if err := s.store.Delete(ctx, path); err != nil {
		return domain.RemoteFailure("delete message", err)
	}
	s.logger.Info("message deleted", "team_id", teamID, "room_id", roomID, "message_id", messageID, "by", callerID)
	return nil
}

// Rooms returns the team's rooms, most recently active first.
func (s Service) Rooms(ctx context.Context, teamID string) ([]domain.ChatRoom, error) {
	if _, _, err := s.members.RequireMember(ctx, teamID); err != nil {
		return nil, err
	}
	raw, err := s.store.Get(ctx, roomsPath(teamID))
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return nil, domain.RemoteFailure("list rooms", err)
	}
	rooms, failures, err := remote.DecodeChildren(raw, decodeRoom)
	if err != nil {
		return nil, domain.Wrap(domain.CodeDecodeFailure, "decode rooms", err)
	}
	for _, f := range failures {
		s.logger.Warn("skipping undecodable room", "team_id", teamID, "room_id", f.Key, "error", f.Err)
	}
	slices.SortStableFunc(rooms, byLastMessage)
	return rooms, nil
}

// WatchRooms streams the team's rooms, most recently active first.
func (s Service) WatchRooms(ctx context.Context, teamID string) (*stream.Stream[domain.ChatRoom], error) {
	if _, _, err := s.members.RequireMember(ctx, teamID); err != nil {
		return nil, err
	}
	return stream.New(ctx, stream.Config[domain.ChatRoom]{
		Store:      s.store,
		Path:       roomsPath(teamID),
		Collection: "chat_rooms",
		Decode:     decodeRoom,
		Compare:    byLastMessage,
		Logger:     s.logger,
		Metrics:    s.metrics,
	})
}

// WatchMessages streams a room's messages in timestamp order.
func (s Service) WatchMessages(ctx context.Context, teamID, roomID string) (*stream.Stream[domain.Message], error) {
	if _, _, err := s.members.RequireMember(ctx, teamID); err != nil {
		return nil, err
	}
	if err := validateKeys(roomID); err != nil {
		return nil, err
	}
	return stream.New(ctx, stream.Config[domain.Message]{
		Store:      s.store,
		Path:       messagesPath(teamID, roomID),
		Collection: "messages",
		Decode:     decodeMessage,
		Compare:    byTimestamp,
		Logger:     s.logger,
		Metrics:    s.metrics,
	})
}

func (s Service) loadRoom(ctx context.Context, teamID, roomID string) (domain.ChatRoom, error) {
	if err := validateKeys(roomID); err != nil {
		return domain.ChatRoom{}, err
	}
	raw, err := s.store.Get(ctx, roomPath(teamID, roomID))
	if errors.Is(err, remote.ErrNotFound) {
		return domain.ChatRoom{}, domain.Errorf(domain.CodeNotFound, "room %s not found", roomID)
	}
	if err != nil {
		return domain.ChatRoom{}, domain.RemoteFailure("load room", err)
	}
	room, err := decodeRoom(roomID, raw)
	if err != nil {
		return domain.ChatRoom{}, domain.Wrap(domain.CodeDecodeFailure, "decode room "+roomID, err)
	}
	return room, nil
}

func validateKeys(keys ...string) error {
	for _, k := range keys {
		if err := remote.ValidateKey(k); err != nil {
			return domain.Wrap(domain.CodeInvalidInput, "invalid id", err)
		}
	}
	return nil
}
