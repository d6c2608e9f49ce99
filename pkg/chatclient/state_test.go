package chatclient

import (
	"errors"
	"testing"
	"time"

	"github.com/relaypoint/messaging-platform/internal/model"
)

func strptr(s string) *string { return &s }

func TestSendThenAckReplacesPlaceholder(t *testing.T) {
	s := NewSession("alice")
	s.Select("bob")

	req := s.Send("bob", "hello", model.KindText)
	if req.CorrelationID == "" {
		t.Fatal("expected generated correlation id")
	}

	thread := s.Thread("bob")
	if len(thread) != 1 || thread[0].Status != StatusPending {
		t.Fatalf("expected one pending entry, got %+v", thread)
	}

	authoritative := &model.Message{
		ID:            "m1",
		SenderID:      "alice",
		ReceiverID:    strptr("bob"),
		Content:       "hello",
		Kind:          model.KindText,
		CreatedAt:     time.Now().UTC(),
		CorrelationID: req.CorrelationID,
	}
	s.Ack(req.CorrelationID, authoritative)

	thread = s.Thread("bob")
	if len(thread) != 1 {
		t.Fatalf("ack must replace, not append: %d entries", len(thread))
	}
	if thread[0].Status != StatusSent || thread[0].Message.ID != "m1" {
		t.Fatalf("unexpected entry after ack: %+v", thread[0])
	}
}

func TestSeedThreadDuringInFlightSendKeepsPlaceholder(t *testing.T) {
	s := NewSession("alice")
	s.Select("bob")

	req := s.Send("bob", "in flight", model.KindText)

	// A history fetch lands before the ack: the seeded messages and the
	// placeholder must all survive.
	now := time.Now().UTC()
	s.SeedThread("bob", []model.Message{
		{ID: "old1", SenderID: "bob", ReceiverID: strptr("alice"), Content: "old1", CreatedAt: now},
		{ID: "old2", SenderID: "bob", ReceiverID: strptr("alice"), Content: "old2", CreatedAt: now},
	})

	thread := s.Thread("bob")
	if len(thread) != 3 {
		t.Fatalf("expected 2 seeded + placeholder, got %d entries", len(thread))
	}
	if thread[0].Message.ID != "old1" || thread[1].Message.ID != "old2" {
		t.Fatalf("seeded messages disturbed: %+v", thread[:2])
	}
	if thread[2].Status != StatusPending {
		t.Fatalf("placeholder lost on seed: %+v", thread[2])
	}

	s.Ack(req.CorrelationID, &model.Message{
		ID:            "new1",
		SenderID:      "alice",
		ReceiverID:    strptr("bob"),
		Content:       "in flight",
		Kind:          model.KindText,
		CreatedAt:     now,
		CorrelationID: req.CorrelationID,
	})

	thread = s.Thread("bob")
	if len(thread) != 3 {
		t.Fatalf("ack must replace the placeholder only, got %d entries", len(thread))
	}
	if thread[0].Message.ID != "old1" || thread[1].Message.ID != "old2" {
		t.Fatalf("ack clobbered a seeded message: %+v", thread[:2])
	}
	if thread[2].Message.ID != "new1" || thread[2].Status != StatusSent {
		t.Fatalf("placeholder not replaced: %+v", thread[2])
	}
}

func TestAckUnknownCorrelationDedupsById(t *testing.T) {
	s := NewSession("alice")

	msg := &model.Message{
		ID:         "m1",
		SenderID:   "alice",
		ReceiverID: strptr("bob"),
		Content:    "from another tab",
		Kind:       model.KindText,
		CreatedAt:  time.Now().UTC(),
	}
	s.Ack("unknown-corr", msg)
	s.Ack("unknown-corr", msg)

	thread := s.Thread("bob")
	if len(thread) != 1 {
		t.Fatalf("self-echo must land exactly once, got %d", len(thread))
	}
}

func TestFailKeepsPlaceholderVisible(t *testing.T) {
	s := NewSession("alice")
	req := s.Send("bob", "doomed", model.KindText)

	sendErr := errors.New("connection lost")
	s.Fail(req.CorrelationID, sendErr)

	thread := s.Thread("bob")
	if len(thread) != 1 {
		t.Fatalf("failed placeholder must stay visible, got %d entries", len(thread))
	}
	if thread[0].Status != StatusFailed {
		t.Fatalf("status = %q, want failed", thread[0].Status)
	}
	if !errors.Is(thread[0].Err, sendErr) {
		t.Fatalf("entry error = %v", thread[0].Err)
	}
	// No placeholder left to fail twice.
	s.Fail(req.CorrelationID, sendErr)
}

func TestReceiveForOpenThreadAppendsAndMarksRead(t *testing.T) {
	s := NewSession("alice")
	s.Select("bob")

	var marked []string
	s.OnOpenThreadMessage(func(peerID string) { marked = append(marked, peerID) })

	s.HandleReceive(&model.Message{
		ID:         "m1",
		SenderID:   "bob",
		ReceiverID: strptr("alice"),
		Content:    "hi",
		Kind:       model.KindText,
		CreatedAt:  time.Now().UTC(),
	})

	if len(s.Thread("bob")) != 1 {
		t.Fatal("open-thread message must be appended")
	}
	if len(marked) != 1 || marked[0] != "bob" {
		t.Fatalf("expected mark-read callback for bob, got %v", marked)
	}
	for _, p := range s.Peers() {
		if p.PeerID == "bob" && p.UnreadCount != 0 {
			t.Fatalf("open thread must not accrue unread, got %d", p.UnreadCount)
		}
	}
}

func TestReceiveForOtherThreadBumpsUnread(t *testing.T) {
	s := NewSession("alice")
	s.SeedConversations([]model.ConversationSummary{
		{PeerID: "bob"},
		{PeerID: "carol"},
	})
	s.Select("bob")

	s.HandleReceive(&model.Message{
		ID:         "m1",
		SenderID:   "carol",
		ReceiverID: strptr("alice"),
		Content:    "pssst",
		Kind:       model.KindText,
		CreatedAt:  time.Now().UTC(),
	})

	if len(s.Thread("carol")) != 0 {
		t.Fatal("background thread must only update the sidebar")
	}
	peers := s.Peers()
	if peers[0].PeerID != "carol" {
		t.Fatalf("carol must rise to the top, got %s", peers[0].PeerID)
	}
	if peers[0].UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", peers[0].UnreadCount)
	}
	if peers[0].LastMessage == nil || peers[0].LastMessage.Content != "pssst" {
		t.Fatalf("unexpected preview: %+v", peers[0].LastMessage)
	}

	// Duplicate delivery is dropped.
	s.HandleReceive(&model.Message{ID: "m1", SenderID: "carol", ReceiverID: strptr("alice")})
	if s.Peers()[0].UnreadCount != 1 {
		t.Fatal("duplicate must not bump unread again")
	}
}

func TestReceiveFromUnknownPeerStartsUnread(t *testing.T) {
	s := NewSession("alice")
	s.Select("bob")

	// First-ever message from a peer the sidebar has never seen.
	s.HandleReceive(&model.Message{
		ID:         "m1",
		SenderID:   "dave",
		ReceiverID: strptr("alice"),
		Content:    "hello stranger",
		Kind:       model.KindText,
		CreatedAt:  time.Now().UTC(),
	})

	peers := s.Peers()
	if len(peers) == 0 || peers[0].PeerID != "dave" {
		t.Fatalf("expected dave's entry first, got %+v", peers)
	}
	if peers[0].UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1 for a new background peer", peers[0].UnreadCount)
	}
	if peers[0].LastMessage == nil || peers[0].LastMessage.Content != "hello stranger" {
		t.Fatalf("unexpected preview: %+v", peers[0].LastMessage)
	}
	if len(s.Thread("dave")) != 0 {
		t.Fatal("background thread must only update the sidebar")
	}
}

func TestSelectionSurvivesResort(t *testing.T) {
	s := NewSession("alice")
	s.SeedConversations([]model.ConversationSummary{
		{PeerID: "bob"},
		{PeerID: "carol"},
	})
	s.Select("bob")

	s.HandleReceive(&model.Message{
		ID:         "m1",
		SenderID:   "carol",
		ReceiverID: strptr("alice"),
		Content:    "new activity",
		Kind:       model.KindText,
		CreatedAt:  time.Now().UTC(),
	})

	if s.Selected() != "bob" {
		t.Fatalf("selection displaced to %q", s.Selected())
	}
}

func TestReadReceiptFlipsOwnMessages(t *testing.T) {
	s := NewSession("alice")
	s.Select("bob")

	req := s.Send("bob", "are you there", model.KindText)
	s.Ack(req.CorrelationID, &model.Message{
		ID:            "m1",
		SenderID:      "alice",
		ReceiverID:    strptr("bob"),
		Content:       "are you there",
		Kind:          model.KindText,
		CreatedAt:     time.Now().UTC(),
		CorrelationID: req.CorrelationID,
	})

	// An inbound message from bob must not flip.
	s.HandleReceive(&model.Message{
		ID:         "m2",
		SenderID:   "bob",
		ReceiverID: strptr("alice"),
		Content:    "yes",
		Kind:       model.KindText,
		CreatedAt:  time.Now().UTC(),
	})

	readAt := time.Now().UTC()
	s.HandleReadReceipt(&model.ReadReceiptEvent{ReaderID: "bob", ReadAt: readAt})

	thread := s.Thread("bob")
	for _, e := range thread {
		switch e.Message.SenderID {
		case "alice":
			if e.Status != StatusRead || !e.Message.IsRead {
				t.Fatalf("own message not flipped: %+v", e)
			}
		case "bob":
			if e.Status == StatusRead {
				t.Fatal("peer's message must not flip")
			}
		}
	}
}

func TestSeedThreadMarksOwnReadMessages(t *testing.T) {
	s := NewSession("alice")
	now := time.Now().UTC()
	s.SeedThread("bob", []model.Message{
		{ID: "m1", SenderID: "alice", ReceiverID: strptr("bob"), IsRead: true, CreatedAt: now},
		{ID: "m2", SenderID: "alice", ReceiverID: strptr("bob"), CreatedAt: now},
		{ID: "m3", SenderID: "bob", ReceiverID: strptr("alice"), CreatedAt: now},
	})

	thread := s.Thread("bob")
	if thread[0].Status != StatusRead {
		t.Fatalf("read own message seeded as %q", thread[0].Status)
	}
	if thread[1].Status != StatusSent {
		t.Fatalf("unread own message seeded as %q", thread[1].Status)
	}

	// Seeded ids are known; a live duplicate is dropped.
	s.Select("bob")
	s.HandleReceive(&model.Message{ID: "m3", SenderID: "bob", ReceiverID: strptr("alice")})
	if len(s.Thread("bob")) != 3 {
		t.Fatal("seeded message must not duplicate on live delivery")
	}
}
