package httpx

import (
	"context"
	"net/http"

	"github.com/PumpeDie/teamup/internal/domain"
	"github.com/PumpeDie/teamup/internal/stream"
)

type nameRequest struct {
	Name string `json:"name"`
}

func (r *Router) handleMyTeam(w http.ResponseWriter, req *http.Request) {
	t, err := r.teams.UserTeam(req.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (r *Router) handleCreateTeam(w http.ResponseWriter, req *http.Request) {
	var payload nameRequest
	if !decodeBody(w, req, &payload) {
		return
	}
	t, err := r.teams.Create(req.Context(), payload.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (r *Router) handleGetTeam(w http.ResponseWriter, req *http.Request) {
	t, err := r.teams.Get(req.Context(), req.PathValue("teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (r *Router) handleRenameTeam(w http.ResponseWriter, req *http.Request) {
	var payload nameRequest
	if !decodeBody(w, req, &payload) {
		return
	}
	t, err := r.teams.Rename(req.Context(), req.PathValue("teamID"), payload.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (r *Router) handleDeleteTeam(w http.ResponseWriter, req *http.Request) {
	if err := r.teams.Delete(req.Context(), req.PathValue("teamID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleJoinTeam(w http.ResponseWriter, req *http.Request) {
	t, err := r.teams.Join(req.Context(), req.PathValue("teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (r *Router) handleLeaveTeam(w http.ResponseWriter, req *http.Request) {
	t, err := r.teams.Leave(req.Context(), req.PathValue("teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (r *Router) handleMembers(w http.ResponseWriter, req *http.Request) {
	members, err := r.teams.MembersWithDisplayNames(req.Context(), req.PathValue("teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (r *Router) handleRemoveMember(w http.ResponseWriter, req *http.Request) {
	t, err := r.teams.Remove(req.Context(), req.PathValue("teamID"), req.PathValue("userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (r *Router) handlePromote(w http.ResponseWriter, req *http.Request) {
	t, err := r.teams.Promote(req.Context(), req.PathValue("teamID"), req.PathValue("userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (r *Router) handleDemote(w http.ResponseWriter, req *http.Request) {
	t, err := r.teams.Demote(req.Context(), req.PathValue("teamID"), req.PathValue("userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (r *Router) handleRole(w http.ResponseWriter, req *http.Request) {
	teamID := req.PathValue("teamID")
	creator, err := r.teams.IsCreator(req.Context(), teamID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	admin, err := r.teams.IsAdmin(req.Context(), teamID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"creator": creator, "admin": admin})
}

func (r *Router) handleWatchTeam(w http.ResponseWriter, req *http.Request) {
	teamID := req.PathValue("teamID")
	serveWatch(r, w, req, func(ctx context.Context) (*stream.Stream[domain.Team], error) {
		return r.teams.WatchTeam(ctx, teamID)
	})
}
