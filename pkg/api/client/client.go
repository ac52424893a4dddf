// Package client is a typed HTTP client for the teamup API, used by teamctl.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PumpeDie/teamup/internal/domain"
)

// Client provides typed access to the teamup API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:8080"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Code    domain.Code
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("api request failed (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	return c.send(ctx, method, path, reader, "application/json", token, v)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType, token string, v any) error {
	if c == nil {
		return errors.New("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		code, msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Code: code, Message: msg}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) (domain.Code, string) {
	if body == nil {
		return "", ""
	}
	var payload struct {
		Error string      `json:"error"`
		Code  domain.Code `json:"code"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "", ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", strings.TrimSpace(string(data))
	}
	return payload.Code, strings.TrimSpace(payload.Error)
}

func teamPath(teamID string, parts ...string) string {
	p := "/teams/" + url.PathEscape(teamID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// SetDisplayName updates the caller's profile name.
func (c *Client) SetDisplayName(ctx context.Context, token, name string) error {
	return c.do(ctx, http.MethodPut, "/me/profile", map[string]string{"name": name}, token, nil)
}

// MyTeam returns the first team the caller belongs to.
func (c *Client) MyTeam(ctx context.Context, token string) (domain.Team, error) {
	var t domain.Team
	err := c.do(ctx, http.MethodGet, "/me/team", nil, token, &t)
	return t, err
}

// CreateTeam creates a team owned by the caller.
func (c *Client) CreateTeam(ctx context.Context, token, name string) (domain.Team, error) {
	var t domain.Team
	err := c.do(ctx, http.MethodPost, "/teams", map[string]string{"name": name}, token, &t)
	return t, err
}

// Team fetches a team the caller belongs to.
func (c *Client) Team(ctx context.Context, token, teamID string) (domain.Team, error) {
	var t domain.Team
	err := c.do(ctx, http.MethodGet, teamPath(teamID), nil, token, &t)
	return t, err
}

// RenameTeam changes the team name.
func (c *Client) RenameTeam(ctx context.Context, token, teamID, name string) (domain.Team, error) {
	var t domain.Team
	err := c.do(ctx, http.MethodPatch, teamPath(teamID), map[string]string{"name": name}, token, &t)
	return t, err
}

// DeleteTeam removes the team and everything under it.
func (c *Client) DeleteTeam(ctx context.Context, token, teamID string) error {
	return c.do(ctx, http.MethodDelete, teamPath(teamID), nil, token, nil)
}

// JoinTeam adds the caller to a team.
func (c *Client) JoinTeam(ctx context.Context, token, teamID string) (domain.Team, error) {
	var t domain.Team
	err := c.do(ctx, http.MethodPost, teamPath(teamID, "join"), nil, token, &t)
	return t, err
}

// LeaveTeam removes the caller from a team.
func (c *Client) LeaveTeam(ctx context.Context, token, teamID string) (domain.Team, error) {
	var t domain.Team
	err := c.do(ctx, http.MethodPost, teamPath(teamID, "leave"), nil, token, &t)
	return t, err
}

// Members lists members with display names and roles.
func (c *Client) Members(ctx context.Context, token, teamID string) ([]domain.MemberDetail, error) {
	var members []domain.MemberDetail
	err := c.do(ctx, http.MethodGet, teamPath(teamID, "members"), nil, token, &members)
	return members, err
}

// Promote makes userID an admin.
func (c *Client) Promote(ctx context.Context, token, teamID, userID string) (domain.Team, error) {
	var t domain.Team
	err := c.do(ctx, http.MethodPut, teamPath(teamID, "admins", userID), nil, token, &t)
	return t, err
}

// Demote revokes admin rights from userID.
func (c *Client) Demote(ctx context.Context, token, teamID, userID string) (domain.Team, error) {
	var t domain.Team
	err := c.do(ctx, http.MethodDelete, teamPath(teamID, "admins", userID), nil, token, &t)
	return t, err
}

// RemoveMember removes userID from the team.
func (c *Client) RemoveMember(ctx context.Context, token, teamID, userID string) (domain.Team, error) {
	var t domain.Team
	err := c.do(ctx, http.MethodDelete, teamPath(teamID, "members", userID), nil, token, &t)
	return t, err
}

// Rooms lists chat rooms, most recent activity first.
func (c *Client) Rooms(ctx context.Context, token, teamID string) ([]domain.ChatRoom, error) {
	var rooms []domain.ChatRoom
	err := c.do(ctx, http.MethodGet, teamPath(teamID, "rooms"), nil, token, &rooms)
	return rooms, err
}

// CreateRoom opens a chat room.
func (c *Client) CreateRoom(ctx context.Context, token, teamID, name string) (domain.ChatRoom, error) {
	var room domain.ChatRoom
	err := c.do(ctx, http.MethodPost, teamPath(teamID, "rooms"), map[string]string{"name": name}, token, &room)
	return room, err
}

// SendMessage posts to a room. Warning is set when the message was stored
// but the room summary was not updated.
func (c *Client) SendMessage(ctx context.Context, token, teamID, roomID, content string) (msg domain.Message, warning string, err error) {
	var resp struct {
		Message domain.Message `json:"message"`
		Warning string         `json:"warning"`
	}
	err = c.do(ctx, http.MethodPost, teamPath(teamID, "rooms", roomID, "messages"), map[string]string{"content": content}, token, &resp)
	return resp.Message, resp.Warning, err
}

// TaskInput is the payload of a new task.
type TaskInput struct {
	Title      string `json:"title"`
	DueDate    string `json:"dueDate,omitempty"`
	AssignedTo string `json:"assignedTo,omitempty"`
}

// Tasks lists the team's tasks, open ones first.
func (c *Client) Tasks(ctx context.Context, token, teamID string) ([]domain.Task, error) {
	var tasks []domain.Task
	err := c.do(ctx, http.MethodGet, teamPath(teamID, "tasks"), nil, token, &tasks)
	return tasks, err
}

// CreateTask adds a task.
func (c *Client) CreateTask(ctx context.Context, token, teamID string, input TaskInput) (domain.Task, error) {
	var item domain.Task
	err := c.do(ctx, http.MethodPost, teamPath(teamID, "tasks"), input, token, &item)
	return item, err
}

// ToggleTask flips a task's completion.
func (c *Client) ToggleTask(ctx context.Context, token, teamID, taskID string) (domain.Task, error) {
	var item domain.Task
	err := c.do(ctx, http.MethodPost, teamPath(teamID, "tasks", taskID, "toggle"), nil, token, &item)
	return item, err
}

// UploadDocument sends data as a new team document.
func (c *Client) UploadDocument(ctx context.Context, token, teamID, name string, data []byte) (domain.Document, error) {
	var doc domain.Document
	path := teamPath(teamID, "documents") + "?name=" + url.QueryEscape(name)
	err := c.send(ctx, http.MethodPost, path, bytes.NewReader(data), "application/octet-stream", token, &doc)
	return doc, err
}

// Frame is one message of a watch connection. Data holds the snapshot as
// raw JSON.
type Frame struct {
	Type  string          `json:"type"`
	Seq   int64           `json:"seq"`
	Data  json.RawMessage `json:"data"`
	Code  domain.Code     `json:"code"`
	Error string          `json:"error"`
}

// Watch opens a websocket on a watch route (for example
// "/teams/<id>/tasks/watch") and calls fn for every frame until ctx is
// cancelled, fn returns an error or the server ends the stream. An error
// frame from the server is returned as an APIError.
func (c *Client) Watch(ctx context.Context, token, path string, fn func(Frame) error) error {
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse watch url: %w", err)
	}
	switch endpoint.Scheme {
	case "https":
		endpoint.Scheme = "wss"
	default:
		endpoint.Scheme = "ws"
	}
	header := http.Header{}
	if strings.TrimSpace(token) != "" {
		header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	conn, resp, err := c.dialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			code, msg := extractError(resp.Body)
			resp.Body.Close()
			return APIError{Status: resp.StatusCode, Code: code, Message: msg}
		}
		return fmt.Errorf("dial watch: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read watch frame: %w", err)
		}
		if frame.Type == "error" {
			return APIError{Status: http.StatusBadGateway, Code: frame.Code, Message: frame.Error}
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}
