package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaypoint/messaging-platform/internal/middleware"
	"github.com/relaypoint/messaging-platform/internal/service"
	"github.com/relaypoint/messaging-platform/internal/store"
	"github.com/relaypoint/messaging-platform/pkg/logger"
)

// AdminHandler handles the moderation surface. Soft delete only: rows are
// retained so history ordering and unread counts never develop gaps.
type AdminHandler struct {
	store  *store.Store
	index  *service.ConversationIndex
	logger *logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(st *store.Store, index *service.ConversationIndex, log *logger.Logger) *AdminHandler {
	return &AdminHandler{store: st, index: index, logger: log}
}

// ToggleRequest toggles a moderation flag on a message.
type ToggleRequest struct {
	Action string `json:"action"` // "pin" or "star"
	Value  bool   `json:"value"`
}

// Toggle handles POST /api/admin/messages/{id}/toggle.
func (h *AdminHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateMessageID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var err error
	var msg interface{}
	switch req.Action {
	case "pin":
		msg, err = h.store.SetPinned(r.Context(), id, req.Value)
	case "star":
		msg, err = h.store.SetStarred(r.Context(), id, req.Value)
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		h.logger.Error("toggle failed", "message_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update message")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// SoftDeleteRequest marks messages moderator-deleted.
type SoftDeleteRequest struct {
	IDs []string `json:"ids"`
}

// SoftDelete handles POST /api/admin/messages/soft-delete. Bulk: content
// is retained, display is suppressed for non-admin views.
func (h *AdminHandler) SoftDelete(w http.ResponseWriter, r *http.Request) {
	var req SoftDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids required")
		return
	}
	for _, id := range req.IDs {
		if err := middleware.ValidateMessageID(id); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	participants, err := h.store.SoftDeleteByModerator(r.Context(), req.IDs)
	if err != nil {
		h.logger.Error("soft delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete messages")
		return
	}

	// Stored previews changed underneath the incremental index; force the
	// affected viewers back through the recompute path.
	h.index.Invalidate(participants...)

	h.logger.Info("messages soft-deleted",
		"count", len(req.IDs), "moderator_id", middleware.GetUserID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]int{"deleted": len(req.IDs)})
}
