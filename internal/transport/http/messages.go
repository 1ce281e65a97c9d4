package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mlsrelay/internal/domain"
	"mlsrelay/internal/dto"
	"mlsrelay/internal/observability/metrics"
	obsmw "mlsrelay/internal/observability/middleware"
)

func (h *Handler) sendWelcome(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}
	deviceID, ok := requireDevice(w, r)
	if !ok {
		return
	}
	var req dto.SendWelcomeRequest
	if !decode(w, r, &req) {
		return
	}
	reqID := obsmw.RequestIDFromContext(r.Context())
	res, err := h.svc.SendWelcome(r.Context(), userID, deviceID, req)
	if err != nil {
		slog.Warn("welcome send failed", "error", err, "group_id", req.GroupID, "request_id", reqID)
		writeError(w, r, err)
		return
	}
	metrics.MessagesQueuedTotal.WithLabelValues(string(domain.KindWelcome)).Inc()
	slog.Info("welcome queued", "group_id", res.GroupID, "message_id", res.ID, "request_id", reqID)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) pendingWelcomes(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}
	res, err := h.svc.PendingWelcomes(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) sendGroupMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}
	deviceID, ok := requireDevice(w, r)
	if !ok {
		return
	}
	var req dto.SendGroupMessageRequest
	if !decode(w, r, &req) {
		return
	}
	reqID := obsmw.RequestIDFromContext(r.Context())
	res, err := h.svc.SendGroupMessage(r.Context(), userID, deviceID, req)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			metrics.CommitConflictsTotal.Inc()
		}
		slog.Warn("group message send failed", "error", err, "group_id", req.GroupID,
			"message_type", req.MessageType, "request_id", reqID)
		writeError(w, r, err)
		return
	}
	metrics.MessagesQueuedTotal.WithLabelValues(res.MessageType).Inc()
	slog.Info("group message queued", "group_id", res.GroupID, "message_id", res.ID,
		"message_type", res.MessageType, "request_id", reqID)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) fetchGroupMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}
	groupID := chi.URLParam(r, "groupID")
	var afterID uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Code: "validation", Error: "invalid after"})
			return
		}
		afterID = n
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Code: "validation", Error: "invalid limit"})
			return
		}
		limit = n
	}
	msgs, err := h.svc.FetchSince(r.Context(), userID, groupID, afterID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *Handler) queuePending(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}
	deviceID, ok := optionalDevice(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Pending(r.Context(), userID, deviceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) queueAck(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}
	deviceID, ok := optionalDevice(w, r)
	if !ok {
		return
	}
	var req dto.AckRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Ack(r.Context(), userID, deviceID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	metrics.MessagesAckedTotal.Add(float64(res.Acked))
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) directMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}
	peerID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "validation", Error: "invalid userId"})
		return
	}
	res, err := h.svc.GetOrCreateDirectMessage(r.Context(), userID, peerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (h *Handler) rehydrateDirectMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}
	peerID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "validation", Error: "invalid userId"})
		return
	}
	reqID := obsmw.RequestIDFromContext(r.Context())
	res, err := h.svc.RehydrateDirectMessages(r.Context(), userID, peerID)
	if err != nil {
		slog.Warn("rehydrate failed", "error", err, "peer_id", peerID, "request_id", reqID)
		writeError(w, r, err)
		return
	}
	slog.Info("welcome rehydrated", "group_id", res.GroupID, "message_id", res.MessageID,
		"devices", res.Devices, "request_id", reqID)
	writeJSON(w, http.StatusOK, res)
}
