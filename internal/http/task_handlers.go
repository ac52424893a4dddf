package httpx

import (
	"context"
	"net/http"

	"github.com/PumpeDie/teamup/internal/domain"
	"github.com/PumpeDie/teamup/internal/service/task"
	"github.com/PumpeDie/teamup/internal/stream"
)

func (r *Router) handleTasks(w http.ResponseWriter, req *http.Request) {
	tasks, err := r.tasks.List(req.Context(), req.PathValue("teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (r *Router) handleCreateTask(w http.ResponseWriter, req *http.Request) {
	var payload task.Input
	if !decodeBody(w, req, &payload) {
		return
	}
	item, err := r.tasks.Create(req.Context(), req.PathValue("teamID"), payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (r *Router) handleUpdateTask(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Title string `json:"title"`
	}
	if !decodeBody(w, req, &payload) {
		return
	}
	item, err := r.tasks.UpdateTitle(req.Context(), req.PathValue("teamID"), req.PathValue("taskID"), payload.Title)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (r *Router) handleToggleTask(w http.ResponseWriter, req *http.Request) {
	item, err := r.tasks.ToggleCompletion(req.Context(), req.PathValue("teamID"), req.PathValue("taskID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (r *Router) handleAssignTask(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		AssignedTo string `json:"assignedTo"`
	}
	if !decodeBody(w, req, &payload) {
		return
	}
	item, err := r.tasks.Assign(req.Context(), req.PathValue("teamID"), req.PathValue("taskID"), payload.AssignedTo)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (r *Router) handleDeleteTask(w http.ResponseWriter, req *http.Request) {
	if err := r.tasks.Delete(req.Context(), req.PathValue("teamID"), req.PathValue("taskID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleWatchTasks(w http.ResponseWriter, req *http.Request) {
	teamID := req.PathValue("teamID")
	serveWatch(r, w, req, func(ctx context.Context) (*stream.Stream[domain.Task], error) {
		return r.tasks.Watch(ctx, teamID)
	})
}
