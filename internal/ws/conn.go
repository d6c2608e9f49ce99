package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaypoint/messaging-platform/internal/model"
	"github.com/relaypoint/messaging-platform/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 << 10
	sendBuffer     = 32
	submitTimeout  = 15 * time.Second
)

// socket abstracts the underlying websocket connection for testing.
type socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Relay is the slice of the delivery service the transport needs: persist
// and forward a message submitted on a live connection.
type Relay interface {
	Submit(ctx context.Context, senderID string, req *model.SendMessageRequest) (*model.Message, error)
}

// Conn is one live connection for an authenticated identity.
type Conn struct {
	hub        *Hub
	sock       socket
	userID     string
	remoteAddr string
	send       chan []byte
}

func newConn(hub *Hub, sock socket, userID, remoteAddr string) *Conn {
	return &Conn{
		hub:        hub,
		sock:       sock,
		userID:     userID,
		remoteAddr: remoteAddr,
		send:       make(chan []byte, sendBuffer),
	}
}

// UserID returns the authenticated identity bound at handshake time.
func (c *Conn) UserID() string {
	return c.userID
}

// enqueue offers a frame to the write pump without blocking.
func (c *Conn) enqueue(b []byte) bool {
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// readPump consumes frames until the connection drops, dispatching events.
// Runs on the connection's goroutine; must not block on other users.
func (c *Conn) readPump(relay Relay) {
	defer func() {
		c.hub.Leave(c)
		c.sock.Close()
	}()

	c.sock.SetReadLimit(maxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		c.dispatch(&env, relay)
	}
}

func (c *Conn) dispatch(env *model.Envelope, relay Relay) {
	switch env.Event {
	case model.EventJoinRoom:
		var p model.JoinRoomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.hub.Join(c, p.UserID)

	case model.EventSendMessage:
		var req model.SendMessageRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		msg, err := relay.Submit(ctx, c.userID, &req)
		cancel()
		if err != nil {
			// Rejected payloads carry their own message; store faults stay
			// opaque.
			ev := model.ErrorEvent{
				Code:    "persistence_failure",
				Message: "message could not be saved",
			}
			if errors.Is(err, model.ErrReceiverRequired) ||
				errors.Is(err, model.ErrSelfReceiver) ||
				errors.Is(err, store.ErrNotFound) {
				ev = model.ErrorEvent{
					Code:    "invalid_request",
					Message: err.Error(),
				}
			}
			c.hub.EmitTo(c, model.EventError, ev)
			return
		}
		// Acknowledge only on the originating surface. Other open tabs of
		// the sender reconcile through history fetches, not live echo.
		c.hub.EmitTo(c, model.EventMessageAck, msg)
	}
}

// writePump drains the send channel and keeps the connection alive.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sock.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
