package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/relaypoint/messaging-platform/internal/model"
	"github.com/relaypoint/messaging-platform/internal/screen"
	"github.com/relaypoint/messaging-platform/internal/store"
	"github.com/relaypoint/messaging-platform/internal/ws"
	"github.com/relaypoint/messaging-platform/pkg/logger"
	"github.com/relaypoint/messaging-platform/pkg/metrics"
)

// DeliveryRelay persists a submitted message and forwards it to the
// receiver's live channel when one is bound. Delivery is best-effort and
// at-most-once: an offline receiver is not an error, their next history
// fetch is the consistency path. Durability comes solely from the store.
type DeliveryRelay struct {
	store    *store.Store
	hub      *ws.Hub
	index    *ConversationIndex
	screener screen.Screener
	log      *logger.Logger
}

// NewDeliveryRelay creates the relay.
func NewDeliveryRelay(st *store.Store, hub *ws.Hub, index *ConversationIndex,
	screener screen.Screener, log *logger.Logger) *DeliveryRelay {
	return &DeliveryRelay{
		store:    st,
		hub:      hub,
		index:    index,
		screener: screener,
		log:      log,
	}
}

// Submit persists and relays a message. senderID is the authenticated
// identity of the caller; any sender claim inside req is ignored. The
// persisted message, with its authoritative id and the echoed correlation
// id, is returned synchronously so the sender can replace its optimistic
// placeholder.
func (r *DeliveryRelay) Submit(ctx context.Context, senderID string, req *model.SendMessageRequest) (*model.Message, error) {
	if req.ReceiverID == nil || *req.ReceiverID == "" {
		return nil, model.ErrReceiverRequired
	}
	receiverID := *req.ReceiverID
	if receiverID == senderID {
		return nil, model.ErrSelfReceiver
	}

	if _, err := r.store.GetUser(ctx, receiverID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("receiver %s: %w", receiverID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("resolve receiver: %w", err)
	}

	kind := req.Kind
	if kind == "" {
		kind = model.KindText
	}

	msg := &model.Message{
		SenderID:      senderID,
		ReceiverID:    &receiverID,
		Role:          model.RoleUser,
		Content:       req.Content,
		Kind:          kind,
		AttachmentRef: req.AttachmentRef,
		ReplyToID:     req.ReplyToID,
		IsFlagged:     r.screener.Flag(req.Content),
	}

	msg, err := r.store.CreateMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	msg.CorrelationID = req.CorrelationID
	metrics.RecordMessage(string(msg.Role), string(msg.Kind))

	// Patch the sidebar in the same logical step as the relay emission so
	// an open thread never shows a message the sidebar doesn't know about.
	r.index.OnMessage(msg)

	delivered := r.hub.Emit(receiverID, model.EventReceiveMessage, msg)
	metrics.RecordRelay(delivered)
	if !delivered {
		// DeliveryMiss: expected, resolved by the receiver's next fetch.
		r.log.Debug("receiver offline, relying on store",
			"message_id", msg.ID, "receiver_id", receiverID)
	}

	return msg, nil
}
