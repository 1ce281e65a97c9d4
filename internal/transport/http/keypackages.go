package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mlsrelay/internal/dto"
	"mlsrelay/internal/observability/metrics"
	obsmw "mlsrelay/internal/observability/middleware"
)

func (h *Handler) publishKeyPackage(w http.ResponseWriter, r *http.Request) {
	var req dto.PublishKeyPackageRequest
	if !decode(w, r, &req) {
		return
	}
	h.publish(w, r, dto.PublishKeyPackagesRequest{KeyPackages: []dto.KeyPackage{req.KeyPackage}})
}

func (h *Handler) publishKeyPackages(w http.ResponseWriter, r *http.Request) {
	var req dto.PublishKeyPackagesRequest
	if !decode(w, r, &req) {
		return
	}
	h.publish(w, r, req)
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request, req dto.PublishKeyPackagesRequest) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}
	deviceID, ok := requireDevice(w, r)
	if !ok {
		return
	}
	reqID := obsmw.RequestIDFromContext(r.Context())
	res, err := h.svc.PublishKeyPackages(r.Context(), userID, deviceID, req)
	if err != nil {
		slog.Warn("key package publish failed", "error", err, "device_id", deviceID, "request_id", reqID)
		writeError(w, r, err)
		return
	}
	metrics.KeyPackagesPublishedTotal.Add(float64(res.Stored))
	slog.Info("key packages published", "device_id", res.DeviceID, "stored", res.Stored, "request_id", reqID)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) fetchKeyPackage(w http.ResponseWriter, r *http.Request) {
	if _, ok := subject(w, r); !ok {
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "validation", Error: "invalid userId"})
		return
	}
	var deviceID *uuid.UUID
	if raw := r.URL.Query().Get("device_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Code: "validation", Error: "invalid device_id"})
			return
		}
		deviceID = &id
	}
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	reqID := obsmw.RequestIDFromContext(r.Context())
	res, err := h.svc.FetchKeyPackages(r.Context(), targetID, deviceID, all)
	if err != nil {
		slog.Warn("key package fetch failed", "error", err, "target_user_id", targetID, "request_id", reqID)
		writeError(w, r, err)
		return
	}
	for _, kp := range res.KeyPackages {
		metrics.KeyPackagesConsumedTotal.WithLabelValues(strconv.FormatBool(kp.LastResort)).Inc()
	}
	slog.Info("key packages fetched", "target_user_id", targetID, "count", len(res.KeyPackages), "request_id", reqID)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) keyPackageCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}
	deviceID, ok := optionalDevice(w, r)
	if !ok {
		return
	}
	res, err := h.svc.CountKeyPackages(r.Context(), userID, deviceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for device, n := range res.ByDevice {
		metrics.KeyPackagesAvailable.WithLabelValues(device).Set(float64(n))
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) revokeDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}
	deviceID, err := uuid.Parse(chi.URLParam(r, "deviceID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "validation", Error: "invalid deviceId"})
		return
	}
	if err := h.svc.RevokeDevice(r.Context(), userID, deviceID); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("device revoked", "device_id", deviceID, "user_id", userID,
		"request_id", obsmw.RequestIDFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
