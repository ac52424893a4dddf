package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/PumpeDie/teamup/internal/domain"
)

const maxJSONBody = 1 << 20

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a service error code to an HTTP status.
func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeNotAuthenticated:
		return http.StatusUnauthorized
	case domain.CodeNotAuthorized:
		return http.StatusForbidden
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeAlreadyInState:
		return http.StatusConflict
	case domain.CodeInvalidInput:
		return http.StatusBadRequest
	case domain.CodeRemoteFailure, domain.CodeDecodeFailure:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeServiceError reports a service failure with its code.
func writeServiceError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	status := statusFor(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	payload := map[string]string{"error": msg}
	if code != "" {
		payload["code"] = string(code)
	}
	writeJSON(w, status, payload)
}

// decodeBody reads a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, req *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
