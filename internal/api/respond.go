package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/p-n-ai/pai-quest/internal/gateway"
	"github.com/p-n-ai/pai-quest/internal/progress"
	"github.com/p-n-ai/pai-quest/internal/sessions"
	"github.com/p-n-ai/pai-quest/internal/tutorial"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeError maps err to a status and an {error, details?} body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var gerr *gateway.Error
	switch {
	case errors.As(err, &gerr):
		writeJSON(w, gerr.Status, errorBody{Error: gerr.Message, Details: gerr.Details})
	case errors.Is(err, sessions.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, tutorial.ErrBusy):
		writeMessage(w, http.StatusConflict, "A request is already in progress")
	case errors.Is(err, progress.ErrInvalidTransition), errors.Is(err, tutorial.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorBody{Error: "Invalid transition", Details: err.Error()})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decode reads a JSON body into v. It writes the 400 response itself and
// reports whether decoding succeeded.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body", Details: err.Error()})
		return false
	}
	return true
}
