// Package chatclient implements the client side of the messaging protocol:
// a session state machine for optimistic sends, inbound reconciliation and
// unread tracking, plus transport wiring over websocket and REST.
package chatclient

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaypoint/messaging-platform/internal/model"
)

// Status tracks an entry's position in the send round trip.
type Status string

const (
	// StatusPending marks an optimistic placeholder awaiting its ack.
	StatusPending Status = "pending"
	// StatusSent marks a message acknowledged by the server.
	StatusSent Status = "sent"
	// StatusRead marks an own message the peer has read.
	StatusRead Status = "read"
	// StatusFailed marks a placeholder whose submit failed. It stays
	// visible; retry is a user decision.
	StatusFailed Status = "failed"
)

// Entry is one rendered message in a thread.
type Entry struct {
	Message model.Message
	Status  Status
	Err     error
}

// Session is the client-side state machine. It has no network dependency;
// transport code feeds it server events and reads back rendered state.
// Safe for concurrent use.
type Session struct {
	mu sync.Mutex

	selfID   string
	selected string

	threads map[string][]Entry
	// pending maps a correlation id to the peer thread holding its
	// placeholder. Placeholders are located by correlation id, never by
	// position: history seeds may rewrite a thread while a send is in
	// flight.
	pending map[string]string
	seen    map[string]struct{}
	peers   []model.ConversationSummary

	// onOpenThreadMessage fires when an inbound message lands in the
	// currently open thread. Transports use it to push a mark-read.
	onOpenThreadMessage func(peerID string)
}

// NewSession creates a session for the given authenticated user id.
func NewSession(selfID string) *Session {
	return &Session{
		selfID:  selfID,
		threads: make(map[string][]Entry),
		pending: make(map[string]string),
		seen:    make(map[string]struct{}),
	}
}

// OnOpenThreadMessage registers the open-thread inbound callback.
func (s *Session) OnOpenThreadMessage(fn func(peerID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOpenThreadMessage = fn
}

// SeedConversations replaces the peer list, typically from the
// conversations endpoint after connect or reconnect.
func (s *Session) SeedConversations(summaries []model.ConversationSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = append(s.peers[:0:0], summaries...)
	s.sortPeersLocked()
}

// SeedThread replaces a thread's entries from a history fetch. Messages
// already known by id are not duplicated elsewhere afterwards. In-flight
// placeholders (pending or failed) are not part of server history yet and
// survive the seed, re-appended after the fetched messages.
func (s *Session) SeedThread(peerID string, msgs []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		s.seen[m.ID] = struct{}{}
		st := StatusSent
		if m.SenderID == s.selfID && m.IsRead {
			st = StatusRead
		}
		entries = append(entries, Entry{Message: m, Status: st})
	}
	for _, e := range s.threads[peerID] {
		if e.Status == StatusPending || e.Status == StatusFailed {
			entries = append(entries, e)
		}
	}
	s.threads[peerID] = entries
}

// Select opens a peer's thread and zeroes its unread counter. The
// selection is tracked by peer id, so later re-sorting of the peer list
// never displaces the active conversation.
func (s *Session) Select(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = peerID
	for i := range s.peers {
		if s.peers[i].PeerID == peerID {
			s.peers[i].UnreadCount = 0
			break
		}
	}
}

// Selected returns the open thread's peer id, empty if none.
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Send renders an optimistic placeholder for an outgoing message and
// returns the populated request carrying the generated correlation id.
func (s *Session) Send(peerID, content string, kind model.Kind) *model.SendMessageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kind == "" {
		kind = model.KindText
	}
	correlationID := uuid.NewString()
	receiver := peerID
	placeholder := model.Message{
		SenderID:      s.selfID,
		ReceiverID:    &receiver,
		Role:          model.RoleUser,
		Content:       content,
		Kind:          kind,
		CreatedAt:     time.Now().UTC(),
		CorrelationID: correlationID,
	}

	s.pending[correlationID] = peerID
	s.threads[peerID] = append(s.threads[peerID], Entry{Message: placeholder, Status: StatusPending})
	s.touchPeerLocked(peerID, content, kind, placeholder.CreatedAt)

	return &model.SendMessageRequest{
		ReceiverID:    &receiver,
		Content:       content,
		Kind:          kind,
		CorrelationID: correlationID,
	}
}

// Ack merges the authoritative message into its placeholder. Unknown
// correlation ids are tolerated: an ack observed without a local
// placeholder is treated as an inbound self-echo and deduplicated by
// message id.
func (s *Session) Ack(correlationID string, msg *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if peerID, ok := s.pending[correlationID]; ok {
		delete(s.pending, correlationID)
		s.seen[msg.ID] = struct{}{}
		thread := s.threads[peerID]
		if i := placeholderIndex(thread, correlationID); i >= 0 {
			thread[i] = Entry{Message: *msg, Status: StatusSent}
		} else {
			s.threads[peerID] = append(thread, Entry{Message: *msg, Status: StatusSent})
		}
		return
	}

	if _, dup := s.seen[msg.ID]; dup || msg.ReceiverID == nil {
		return
	}
	s.seen[msg.ID] = struct{}{}
	peerID := *msg.ReceiverID
	s.threads[peerID] = append(s.threads[peerID], Entry{Message: *msg, Status: StatusSent})
	s.touchPeerLocked(peerID, msg.Content, msg.Kind, msg.CreatedAt)
}

// Fail marks a placeholder failed. It stays visible in the thread.
func (s *Session) Fail(correlationID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peerID, ok := s.pending[correlationID]
	if !ok {
		return
	}
	delete(s.pending, correlationID)
	thread := s.threads[peerID]
	if i := placeholderIndex(thread, correlationID); i >= 0 {
		thread[i].Status = StatusFailed
		thread[i].Err = err
	}
}

// placeholderIndex finds the pending placeholder carrying correlationID.
func placeholderIndex(thread []Entry, correlationID string) int {
	for i := range thread {
		if thread[i].Status == StatusPending && thread[i].Message.CorrelationID == correlationID {
			return i
		}
	}
	return -1
}

// HandleReceive applies an inbound peer message. Open-thread messages are
// appended and reported via the open-thread callback; other threads get an
// unread bump and a preview update only. Duplicates by message id are
// dropped.
func (s *Session) HandleReceive(msg *model.Message) {
	s.mu.Lock()

	if _, dup := s.seen[msg.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[msg.ID] = struct{}{}

	peerID := msg.SenderID
	open := peerID == s.selected
	if open {
		s.threads[peerID] = append(s.threads[peerID], Entry{Message: *msg, Status: StatusSent})
	} else {
		// A first-ever message from this peer creates the entry; the
		// unread bump must not depend on the peer being known already.
		s.peers[s.peerIndexLocked(peerID)].UnreadCount++
	}
	s.touchPeerLocked(peerID, msg.Content, msg.Kind, msg.CreatedAt)

	cb := s.onOpenThreadMessage
	s.mu.Unlock()

	if open && cb != nil {
		cb(peerID)
	}
}

// HandleReadReceipt flips own sent messages in the reader's thread to
// read.
func (s *Session) HandleReadReceipt(ev *model.ReadReceiptEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	readAt := ev.ReadAt
	thread := s.threads[ev.ReaderID]
	for i := range thread {
		e := &thread[i]
		if e.Message.SenderID == s.selfID && e.Status == StatusSent {
			e.Status = StatusRead
			e.Message.IsRead = true
			e.Message.ReadAt = &readAt
		}
	}
}

// Thread returns a snapshot of a peer's thread.
func (s *Session) Thread(peerID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.threads[peerID]...)
}

// Peers returns a snapshot of the peer list, most recent activity first.
func (s *Session) Peers() []model.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ConversationSummary(nil), s.peers...)
}

// peerIndexLocked finds a peer's sidebar entry, creating it when absent.
func (s *Session) peerIndexLocked(peerID string) int {
	for i := range s.peers {
		if s.peers[i].PeerID == peerID {
			return i
		}
	}
	s.peers = append(s.peers, model.ConversationSummary{PeerID: peerID})
	return len(s.peers) - 1
}

// touchPeerLocked updates a peer's preview and re-sorts the list.
func (s *Session) touchPeerLocked(peerID, content string, kind model.Kind, at time.Time) {
	i := s.peerIndexLocked(peerID)
	s.peers[i].LastMessage = &model.LastMessage{Content: content, Kind: kind, CreatedAt: at}
	s.sortPeersLocked()
}

func (s *Session) sortPeersLocked() {
	sort.SliceStable(s.peers, func(i, j int) bool {
		a, b := s.peers[i].LastMessage, s.peers[j].LastMessage
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}
