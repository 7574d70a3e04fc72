package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hakimelghazi/energy-exchange/internal/engine"
)

func writeJSON(w http.ResponseWriter, r *http.Request, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", middleware.GetReqID(r.Context()))
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// writeProblem answers with an RFC 7807 problem document.
func writeProblem(w http.ResponseWriter, r *http.Request, code int, title, detail string) {
	reqID := middleware.GetReqID(r.Context())
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":      title,
		"status":     code,
		"detail":     detail,
		"instance":   r.URL.Path,
		"request_id": reqID,
	})
}

// problemFor maps engine errors onto HTTP statuses.
func problemFor(err error) (int, string) {
	var oerr *engine.OrderError
	switch {
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.As(err, &oerr):
		switch oerr.Code {
		case engine.CodeNotFound:
			return http.StatusNotFound, "not_found"
		case engine.CodeNotOwner:
			return http.StatusForbidden, "not_owner"
		default:
			return http.StatusConflict, string(oerr.Code)
		}
	case errors.Is(err, engine.ErrClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "engine_error"
}
