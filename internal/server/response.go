package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/comigor/escal8-go/internal/apperr"
)

type detailEnvelope struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, detailEnvelope{Detail: detail})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var invalid *invalidRequest
	switch {
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		reqID, _ := RequestIDFrom(r.Context())
		s.logger.Error("request failed", "request_id", reqID, "path", r.URL.Path, "error", err)
	}
	writeDetail(w, status, err.Error())
}
