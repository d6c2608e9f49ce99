package service

import (
	"context"
	"fmt"

	"github.com/relaypoint/messaging-platform/internal/model"
	"github.com/relaypoint/messaging-platform/internal/store"
	"github.com/relaypoint/messaging-platform/internal/ws"
	"github.com/relaypoint/messaging-platform/pkg/logger"
	"github.com/relaypoint/messaging-platform/pkg/metrics"
)

// ReadReceipts marks stored messages as read and notifies the original
// sender's live channel so their UI can flip delivery state.
type ReadReceipts struct {
	store *store.Store
	hub   *ws.Hub
	index *ConversationIndex
	log   *logger.Logger
}

// NewReadReceipts creates the propagator.
func NewReadReceipts(st *store.Store, hub *ws.Hub, index *ConversationIndex, log *logger.Logger) *ReadReceipts {
	return &ReadReceipts{store: st, hub: hub, index: index, log: log}
}

// MarkRead flips every unread message from peerID to viewerID, then
// notifies the peer's channel. The store update completes before the live
// notification is sent: a receipt must never arrive while a concurrent
// history fetch could still observe the rows as unread. Idempotent; calling
// with nothing unread is a no-op.
func (p *ReadReceipts) MarkRead(ctx context.Context, viewerID, peerID string) (*model.MarkReadResponse, error) {
	updated, readAt, err := p.store.MarkRead(ctx, viewerID, peerID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}

	p.index.OnRead(viewerID, peerID)

	if updated > 0 {
		p.hub.Emit(peerID, model.EventMessagesRead, model.ReadReceiptEvent{
			ReaderID: viewerID,
			ReadAt:   readAt,
		})
		metrics.ReadReceiptsTotal.Inc()
		p.log.Debug("read receipt propagated",
			"viewer_id", viewerID, "peer_id", peerID, "updated", updated)
	}

	resp := &model.MarkReadResponse{Updated: updated}
	if updated > 0 {
		resp.ReadAt = &readAt
	}
	return resp, nil
}
