package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
)

const headerAuditDegraded = "X-Audit-Degraded"

type errorResponse struct {
	Code    core.Code `json:"code"`
	Message string    `json:"message"`
}

// writeJSON writes v with status. The audit header reflects the log state
// at the time the response is written, so an append that failed while
// handling this request is reported on it.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	if s.deps.Audit != nil && s.deps.Audit.Degraded() {
		w.Header().Set(headerAuditDegraded, "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error to its status code. Unclassified errors
// are 500 and logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	code := core.CodeOf(err)
	if code == "" {
		code = "internal"
		if status == http.StatusInternalServerError {
			s.deps.Logger.Error().Err(err).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("request failed")
		}
	}
	s.writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into dst. Malformed bodies are invalid_request.
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return core.Errorf(core.ErrInvalidRequest, "decode body: %v", err)
	}
	return nil
}
