package model

import (
	"encoding/json"
	"time"
)

// EventType names a live transport event. Wire names follow the original
// client protocol.
type EventType string

const (
	// Client -> server
	EventJoinRoom    EventType = "join_room"
	EventSendMessage EventType = "send_message"

	// Server -> client
	EventReceiveMessage EventType = "receive_message"
	EventMessageAck     EventType = "message_ack"
	EventMessagesRead   EventType = "messages_read"
	EventError          EventType = "error"
)

// Envelope frames every live event as a JSON text frame.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRoomPayload binds a connection to the per-user channel. The request
// is honored only when UserID matches the authenticated identity.
type JoinRoomPayload struct {
	UserID string `json:"user_id"`
}

// ReadReceiptEvent notifies a sender that their messages were read.
type ReadReceiptEvent struct {
	ReaderID string    `json:"reader_id"`
	ReadAt   time.Time `json:"read_at"`
}

// ErrorEvent reports a transport-level failure to the client.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
