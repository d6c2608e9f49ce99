// Package service provides the messaging business logic: delivery relay,
// read-receipt propagation, the conversation index and the assistant thread.
package service

import (
	"context"
	"sort"
	"sync"

	"github.com/relaypoint/messaging-platform/internal/model"
	"github.com/relaypoint/messaging-platform/internal/store"
	"github.com/relaypoint/messaging-platform/pkg/logger"
)

// ConversationIndex maintains per-viewer sidebar state: one entry per peer
// with the latest preview and an unread counter. The live path patches it
// incrementally; the store remains the system of record and Recompute is
// the reconciliation path that corrects any drift.
type ConversationIndex struct {
	store *store.Store
	log   *logger.Logger

	mu     sync.Mutex
	views  map[string]map[string]*model.ConversationSummary // viewer -> peer -> entry
	loaded map[string]bool
	names  map[string]string
}

// NewConversationIndex creates an empty index.
func NewConversationIndex(st *store.Store, log *logger.Logger) *ConversationIndex {
	return &ConversationIndex{
		store:  st,
		log:    log,
		views:  make(map[string]map[string]*model.ConversationSummary),
		loaded: make(map[string]bool),
		names:  make(map[string]string),
	}
}

// List returns the viewer's conversations sorted descending by last
// activity. The first access for a viewer recomputes from the store.
func (x *ConversationIndex) List(ctx context.Context, viewerID string) ([]model.ConversationSummary, error) {
	x.mu.Lock()
	if !x.loaded[viewerID] {
		x.mu.Unlock()
		if err := x.Recompute(ctx, viewerID); err != nil {
			return nil, err
		}
		x.mu.Lock()
	}

	view := x.views[viewerID]
	out := make([]model.ConversationSummary, 0, len(view))
	for _, entry := range view {
		e := *entry
		if e.PeerName == "" {
			e.PeerName = x.names[e.PeerID]
		}
		out = append(out, e)
	}
	x.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		li, lj := out[i].LastMessage, out[j].LastMessage
		// Entries without messages sort last.
		if li == nil || lj == nil {
			return lj == nil && li != nil
		}
		return li.CreatedAt.After(lj.CreatedAt)
	})
	return out, nil
}

// Recompute rebuilds a viewer's entries purely from the message store.
// Used on first access and after reconnect or moderation to correct drift.
func (x *ConversationIndex) Recompute(ctx context.Context, viewerID string) error {
	summaries, err := x.store.Summaries(ctx, viewerID)
	if err != nil {
		return err
	}

	view := make(map[string]*model.ConversationSummary, len(summaries))
	x.mu.Lock()
	for i := range summaries {
		entry := summaries[i]
		view[entry.PeerID] = &entry
		if entry.PeerName != "" {
			x.names[entry.PeerID] = entry.PeerName
		}
	}
	x.views[viewerID] = view
	x.loaded[viewerID] = true
	x.mu.Unlock()
	return nil
}

// OnMessage patches both participants' entries for a newly persisted peer
// message: preview moves for both sides, the receiver's unread counter
// increments. Viewers that were never loaded are skipped; they recompute
// on first List.
func (x *ConversationIndex) OnMessage(msg *model.Message) {
	if msg.ReceiverID == nil {
		return
	}
	receiverID := *msg.ReceiverID

	preview := &model.LastMessage{
		Content:   msg.Content,
		Kind:      msg.Kind,
		CreatedAt: msg.CreatedAt,
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.loaded[msg.SenderID] {
		entry := x.entryLocked(msg.SenderID, receiverID)
		entry.LastMessage = preview
	}
	if x.loaded[receiverID] {
		entry := x.entryLocked(receiverID, msg.SenderID)
		entry.LastMessage = preview
		entry.UnreadCount++
	}
}

// OnRead zeroes the viewer's unread counter for a peer.
func (x *ConversationIndex) OnRead(viewerID, peerID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.loaded[viewerID] {
		return
	}
	if entry, ok := x.views[viewerID][peerID]; ok {
		entry.UnreadCount = 0
	}
}

// Invalidate drops cached views so the next List recomputes from the
// store. Called after moderation changes stored rows under the index.
func (x *ConversationIndex) Invalidate(userIDs ...string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range userIDs {
		delete(x.views, id)
		delete(x.loaded, id)
	}
}

// SetName records a display name for sidebar entries created by the
// incremental path.
func (x *ConversationIndex) SetName(userID, name string) {
	x.mu.Lock()
	x.names[userID] = name
	x.mu.Unlock()
}

func (x *ConversationIndex) entryLocked(viewerID, peerID string) *model.ConversationSummary {
	view := x.views[viewerID]
	if view == nil {
		view = make(map[string]*model.ConversationSummary)
		x.views[viewerID] = view
	}
	entry, ok := view[peerID]
	if !ok {
		entry = &model.ConversationSummary{PeerID: peerID, PeerName: x.names[peerID]}
		view[peerID] = entry
	}
	return entry
}
