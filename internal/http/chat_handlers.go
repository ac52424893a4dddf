package httpx

import (
	"context"
	"net/http"

	"github.com/PumpeDie/teamup/internal/domain"
	"github.com/PumpeDie/teamup/internal/stream"
)

func (r *Router) handleRooms(w http.ResponseWriter, req *http.Request) {
	rooms, err := r.chat.Rooms(req.Context(), req.PathValue("teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (r *Router) handleCreateRoom(w http.ResponseWriter, req *http.Request) {
	var payload nameRequest
	if !decodeBody(w, req, &payload) {
		return
	}
	room, err := r.chat.CreateRoom(req.Context(), req.PathValue("teamID"), payload.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (r *Router) handleDeleteRoom(w http.ResponseWriter, req *http.Request) {
	if err := r.chat.DeleteRoom(req.Context(), req.PathValue("teamID"), req.PathValue("roomID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSendMessage answers 201 with the message even when the room summary
// could not be updated; the failure is reported alongside.
func (r *Router) handleSendMessage(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, req, &payload) {
		return
	}
	msg, err := r.chat.SendMessage(req.Context(), req.PathValue("teamID"), req.PathValue("roomID"), payload.Content)
	if err != nil && msg.ID == "" {
		writeServiceError(w, err)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusCreated, map[string]any{"message": msg, "warning": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

func (r *Router) handleDeleteMessage(w http.ResponseWriter, req *http.Request) {
	err := r.chat.DeleteMessage(req.Context(), req.PathValue("teamID"), req.PathValue("roomID"), req.PathValue("messageID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleWatchRooms(w http.ResponseWriter, req *http.Request) {
	teamID := req.PathValue("teamID")
	serveWatch(r, w, req, func(ctx context.Context) (*stream.Stream[domain.ChatRoom], error) {
		return r.chat.WatchRooms(ctx, teamID)
	})
}

func (r *Router) handleWatchMessages(w http.ResponseWriter, req *http.Request) {
	teamID, roomID := req.PathValue("teamID"), req.PathValue("roomID")
	serveWatch(r, w, req, func(ctx context.Context) (*stream.Stream[domain.Message], error) {
		return r.chat.WatchMessages(ctx, teamID, roomID)
	})
}
