package model

import (
	"errors"
	"time"
)

// Validation errors shared by every submit surface.
var (
	ErrReceiverRequired = errors.New("receiver_id is required")
	ErrSelfReceiver     = errors.New("cannot message yourself")
)

// Role represents the role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind represents the payload kind of a message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

// Message is a single stored message. A nil ReceiverID means the message
// belongs to the sender's assistant thread, not a peer conversation.
type Message struct {
	// Identity
	ID         string  `json:"id"`
	SenderID   string  `json:"sender_id"`
	ReceiverID *string `json:"receiver_id"`

	// Content
	Role          Role    `json:"role"`
	Content       string  `json:"content"`
	Kind          Kind    `json:"kind"`
	AttachmentRef *string `json:"attachment_ref,omitempty"`
	ReplyToID     *string `json:"reply_to_id,omitempty"`

	// Populated on read when ReplyToID resolves.
	ReplyTo *MessagePreview `json:"reply_to,omitempty"`

	// Read state (set only by the read-receipt propagator)
	IsRead bool       `json:"is_read"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	// Moderation flags
	IsFlagged            bool `json:"is_flagged"`
	IsPinned             bool `json:"is_pinned"`
	IsStarred            bool `json:"is_starred"`
	IsDeletedByModerator bool `json:"is_deleted_by_moderator"`

	CreatedAt time.Time `json:"created_at"`

	// CorrelationID carries the client-generated id through the send round
	// trip. Echoed back in acknowledgements and relay events, never stored.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// MessagePreview is a lightweight view of a referenced message.
type MessagePreview struct {
	ID            string  `json:"id"`
	Role          Role    `json:"role"`
	Content       string  `json:"content"`
	Kind          Kind    `json:"kind"`
	AttachmentRef *string `json:"attachment_ref,omitempty"`
}

// IsAssistant reports whether the message belongs to an assistant thread.
func (m *Message) IsAssistant() bool {
	return m.ReceiverID == nil
}

// Redacted returns a copy suitable for non-admin views. Soft-deleted
// messages keep their position and flags but carry no content.
func (m Message) Redacted() Message {
	if m.IsDeletedByModerator {
		m.Content = ""
		m.AttachmentRef = nil
		m.ReplyTo = nil
	}
	return m
}

// RedactAll applies Redacted to a history slice in place.
func RedactAll(msgs []Message) []Message {
	for i := range msgs {
		msgs[i] = msgs[i].Redacted()
	}
	return msgs
}

// SendMessageRequest is a request to submit a new message. The sender is
// always taken from the authenticated identity, never from the payload.
type SendMessageRequest struct {
	ReceiverID    *string `json:"receiver_id"`
	Content       string  `json:"content"`
	Kind          Kind    `json:"kind,omitempty"`
	AttachmentRef *string `json:"attachment_ref,omitempty"`
	ReplyToID     *string `json:"reply_to_id,omitempty"`
	CorrelationID string  `json:"correlation_id,omitempty"`
}

// SendMessageResponse is returned to the sender after a successful submit.
type SendMessageResponse struct {
	Message *Message `json:"message"`
	// AIResponse is set only for assistant-directed sends.
	AIResponse *Message `json:"ai_response,omitempty"`
}

// MarkReadRequest marks every unread message from PeerID to the caller.
type MarkReadRequest struct {
	PeerID string `json:"peer_id"`
}

// MarkReadResponse reports how many messages were newly marked read.
type MarkReadResponse struct {
	Updated int        `json:"updated"`
	ReadAt  *time.Time `json:"read_at,omitempty"`
}
