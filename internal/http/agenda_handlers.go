package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/PumpeDie/teamup/internal/domain"
	"github.com/PumpeDie/teamup/internal/service/agenda"
	"github.com/PumpeDie/teamup/internal/stream"
)

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	events, err := r.agenda.List(req.Context(), req.PathValue("teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (r *Router) handleCreateEvent(w http.ResponseWriter, req *http.Request) {
	var payload agenda.EventInput
	if !decodeBody(w, req, &payload) {
		return
	}
	ev, err := r.agenda.Create(req.Context(), req.PathValue("teamID"), payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (r *Router) handlePlanMeeting(w http.ResponseWriter, req *http.Request) {
	var payload agenda.MeetingInput
	if !decodeBody(w, req, &payload) {
		return
	}
	ev, err := r.agenda.PlanMeeting(req.Context(), req.PathValue("teamID"), payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (r *Router) handleUpdateEvent(w http.ResponseWriter, req *http.Request) {
	var payload agenda.EventInput
	if !decodeBody(w, req, &payload) {
		return
	}
	ev, err := r.agenda.Update(req.Context(), req.PathValue("teamID"), req.PathValue("eventID"), payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (r *Router) handleDeleteEvent(w http.ResponseWriter, req *http.Request) {
	if err := r.agenda.Delete(req.Context(), req.PathValue("teamID"), req.PathValue("eventID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWatchEvents streams the whole agenda, or with ?from=yyyy-mm-dd the
// events visible on the days starting there (?days= defaults to 7).
func (r *Router) handleWatchEvents(w http.ResponseWriter, req *http.Request) {
	teamID := req.PathValue("teamID")
	query := req.URL.Query()
	from := query.Get("from")
	if from == "" {
		serveWatch(r, w, req, func(ctx context.Context) (*stream.Stream[domain.Event], error) {
			return r.agenda.Watch(ctx, teamID)
		})
		return
	}
	start, err := time.Parse(domain.DateLayout, from)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be formatted yyyy-mm-dd")
		return
	}
	days := 7
	if raw := query.Get("days"); raw != "" {
		if days, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, "days must be a number")
			return
		}
	}
	serveWatch(r, w, req, func(ctx context.Context) (*stream.Stream[domain.Event], error) {
		return r.agenda.WatchRange(ctx, teamID, start, days)
	})
}
