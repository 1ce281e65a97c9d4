package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mlsrelay/internal/dto"
	obsmw "mlsrelay/internal/observability/middleware"
)

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}
	var req dto.CreateGroupRequest
	if !decode(w, r, &req) {
		return
	}
	reqID := obsmw.RequestIDFromContext(r.Context())
	res, err := h.svc.CreateGroup(r.Context(), userID, req)
	if err != nil {
		slog.Warn("group create failed", "error", err, "group_id", req.GroupID, "request_id", reqID)
		writeError(w, r, err)
		return
	}
	slog.Info("group created", "group_id", res.GroupID, "creator_id", res.CreatorID, "request_id", reqID)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) syncMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}
	var req dto.SyncMembersRequest
	if !decode(w, r, &req) {
		return
	}
	groupID := chi.URLParam(r, "groupID")
	reqID := obsmw.RequestIDFromContext(r.Context())
	res, err := h.svc.SyncMembers(r.Context(), userID, groupID, req)
	if err != nil {
		slog.Warn("member sync failed", "error", err, "group_id", groupID, "request_id", reqID)
		writeError(w, r, err)
		return
	}
	slog.Info("members synced", "group_id", groupID, "members", len(res.Members), "request_id", reqID)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) publishGroupInfo(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}
	var req dto.PublishGroupInfoRequest
	if !decode(w, r, &req) {
		return
	}
	groupID := chi.URLParam(r, "groupID")
	res, err := h.svc.PublishGroupInfo(r.Context(), userID, groupID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) getGroupInfo(w http.ResponseWriter, r *http.Request) {
	userID, ok := subject(w, r)
	if !ok {
		return
	}
	groupID := chi.URLParam(r, "groupID")
	res, err := h.svc.GetGroupInfo(r.Context(), userID, groupID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
