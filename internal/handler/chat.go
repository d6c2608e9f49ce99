// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/relaypoint/messaging-platform/internal/attachment"
	"github.com/relaypoint/messaging-platform/internal/middleware"
	"github.com/relaypoint/messaging-platform/internal/model"
	"github.com/relaypoint/messaging-platform/internal/service"
	"github.com/relaypoint/messaging-platform/internal/store"
	"github.com/relaypoint/messaging-platform/pkg/logger"
)

// ChatHandler handles messaging endpoints.
type ChatHandler struct {
	relay       *service.DeliveryRelay
	receipts    *service.ReadReceipts
	index       *service.ConversationIndex
	assistant   *service.Assistant
	attachments *attachment.Store
	store       *store.Store
	logger      *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(
	relay *service.DeliveryRelay,
	receipts *service.ReadReceipts,
	index *service.ConversationIndex,
	assistant *service.Assistant,
	attachments *attachment.Store,
	st *store.Store,
	log *logger.Logger,
) *ChatHandler {
	return &ChatHandler{
		relay:       relay,
		receipts:    receipts,
		index:       index,
		assistant:   assistant,
		attachments: attachments,
		store:       st,
		logger:      log,
	}
}

// Send handles POST /api/chat/send. Accepts JSON for text messages or
// multipart form data when a file rides along. An empty receiver_id
// addresses the assistant thread. The sender is always the authenticated
// user, whatever the payload claims.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	senderID := middleware.GetUserID(ctx)

	req, err := h.parseSendRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Content == "" && req.AttachmentRef == nil {
		writeError(w, http.StatusBadRequest, "message requires content or a file")
		return
	}

	// Assistant-directed: no receiver.
	if req.ReceiverID == nil || *req.ReceiverID == "" {
		userMsg, reply, err := h.assistant.Respond(ctx, senderID, req)
		if err != nil {
			h.logger.Error("assistant send failed", "user_id", senderID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to send message")
			return
		}
		writeJSON(w, http.StatusCreated, &model.SendMessageResponse{
			Message:    userMsg,
			AIResponse: reply,
		})
		return
	}

	msg, err := h.relay.Submit(ctx, senderID, req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "receiver not found")
		case errors.Is(err, model.ErrReceiverRequired), errors.Is(err, model.ErrSelfReceiver):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("send failed", "sender_id", senderID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to send message")
		}
		return
	}

	writeJSON(w, http.StatusCreated, &model.SendMessageResponse{Message: msg})
}

func (h *ChatHandler) parseSendRequest(r *http.Request) (*model.SendMessageRequest, error) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, errors.New("invalid multipart form")
		}
		req := &model.SendMessageRequest{
			Content:       r.FormValue("content"),
			CorrelationID: r.FormValue("correlation_id"),
		}
		if v := r.FormValue("receiver_id"); v != "" {
			req.ReceiverID = &v
		}
		if v := r.FormValue("reply_to_id"); v != "" {
			req.ReplyToID = &v
		}

		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			ref, kind, err := h.attachments.Save(file, header)
			if err != nil {
				return nil, err
			}
			req.AttachmentRef = &ref
			req.Kind = kind
		} else if !errors.Is(err, http.ErrMissingFile) {
			return nil, errors.New("invalid file upload")
		}
		return req, nil
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.New("invalid request body")
	}
	// Attachments only enter through the upload path.
	req.AttachmentRef = nil
	if req.Kind == "" {
		req.Kind = model.KindText
	}
	return &req, nil
}

// History handles GET /api/chat/history, the caller's assistant thread.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	msgs, err := h.store.History(ctx, userID)
	if err != nil {
		h.logger.Error("failed to fetch history", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch history")
		return
	}
	if !middleware.IsAdmin(ctx) {
		msgs = model.RedactAll(msgs)
	}
	writeJSON(w, http.StatusOK, msgs)
}

// HistoryP2P handles GET /api/chat/p2p/{peerID}.
func (h *ChatHandler) HistoryP2P(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	peerID := chi.URLParam(r, "peerID")

	if err := middleware.ValidateUserID(peerID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.store.HistoryP2P(ctx, userID, peerID)
	if err != nil {
		h.logger.Error("failed to fetch p2p history",
			"user_id", userID, "peer_id", peerID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch history")
		return
	}
	if !middleware.IsAdmin(ctx) {
		msgs = model.RedactAll(msgs)
	}
	writeJSON(w, http.StatusOK, msgs)
}

// MarkRead handles POST /api/chat/messages/mark-read. Idempotent: safe to
// call when nothing is unread.
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewerID := middleware.GetUserID(ctx)

	var req model.MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateUserID(req.PeerID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.receipts.MarkRead(ctx, viewerID, req.PeerID)
	if err != nil {
		h.logger.Error("mark read failed",
			"viewer_id", viewerID, "peer_id", req.PeerID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Peers handles GET /api/chat/peers, the approved users the caller can
// message.
func (h *ChatHandler) Peers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	users, err := h.store.ListPeers(ctx, userID)
	if err != nil {
		h.logger.Error("failed to list peers", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// Conversations handles GET /api/chat/conversations.
func (h *ChatHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewerID := middleware.GetUserID(ctx)

	summaries, err := h.index.List(ctx, viewerID)
	if err != nil {
		h.logger.Error("failed to list conversations", "user_id", viewerID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: summaries,
		Total:         len(summaries),
	})
}
