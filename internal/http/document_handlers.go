package httpx

import (
	"context"
	"io"
	"net/http"

	"github.com/PumpeDie/teamup/internal/domain"
	"github.com/PumpeDie/teamup/internal/stream"
)

func (r *Router) handleDocuments(w http.ResponseWriter, req *http.Request) {
	docs, err := r.documents.List(req.Context(), req.PathValue("teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleUploadDocument takes the file as the raw request body and its name
// from ?name=.
func (r *Router) handleUploadDocument(w http.ResponseWriter, req *http.Request) {
	// One byte past the limit is enough for the service to reject it.
	data, err := io.ReadAll(io.LimitReader(req.Body, r.documents.MaxSize()+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}
	doc, err := r.documents.Upload(req.Context(), req.PathValue("teamID"), req.URL.Query().Get("name"), data)
	if err != nil {
		if domain.CodeOf(err) == domain.CodeInvalidInput && int64(len(data)) > r.documents.MaxSize() {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error(), "code": string(domain.CodeInvalidInput)})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (r *Router) handleDeleteDocument(w http.ResponseWriter, req *http.Request) {
	if err := r.documents.Delete(req.Context(), req.PathValue("teamID"), req.PathValue("documentID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleWatchDocuments(w http.ResponseWriter, req *http.Request) {
	teamID := req.PathValue("teamID")
	serveWatch(r, w, req, func(ctx context.Context) (*stream.Stream[domain.Document], error) {
		return r.documents.Watch(ctx, teamID)
	})
}
