// Package model defines data structures for the messaging platform.
package model

import (
	"time"
)

// LastMessage is the sidebar preview of the most recent message in a
// conversation.
type LastMessage struct {
	Content   string    `json:"content"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationSummary is one sidebar entry for a viewer: a peer they have
// exchanged messages with, the latest preview and the unread counter. It is
// a derived view, always recomputable from the message store.
type ConversationSummary struct {
	PeerID      string       `json:"peer_id"`
	PeerName    string       `json:"peer_name,omitempty"`
	LastMessage *LastMessage `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
}

// ListConversationsResponse is the response for listing a viewer's
// conversations, sorted descending by last activity.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Total         int                   `json:"total"`
}
