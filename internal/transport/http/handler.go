package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"mlsrelay/internal/authz"
	"mlsrelay/internal/domain"
	obsmw "mlsrelay/internal/observability/middleware"
	"mlsrelay/internal/service"
)

type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler { return &Handler{svc: svc} }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// writeError maps the domain taxonomy to HTTP statuses and a machine-readable
// condition code, so clients can tell "try again" from "this is impossible".
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, domain.ErrValidation):
		status, code = http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, "unavailable"
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", obsmw.RequestIDFromContext(r.Context()),
		)
		writeJSON(w, status, errorBody{Code: code, Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Code: code, Error: err.Error()})
}

// subject pulls the authenticated user id set by the authz middleware.
func subject(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := authz.SubjectFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return uuid.UUID{}, false
	}
	return userID, true
}

// requireDevice reads the mandatory device header.
func requireDevice(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, present, err := authz.DeviceFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "validation", Error: err.Error()})
		return uuid.UUID{}, false
	}
	if !present {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "validation", Error: "missing device header"})
		return uuid.UUID{}, false
	}
	return id, true
}

// optionalDevice reads the device header when present; nil means "all of the
// caller's devices".
func optionalDevice(w http.ResponseWriter, r *http.Request) (*uuid.UUID, bool) {
	id, present, err := authz.DeviceFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "validation", Error: err.Error()})
		return nil, false
	}
	if !present {
		return nil, true
	}
	return &id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "validation", Error: "malformed request body"})
		return false
	}
	return true
}
