// Package ws provides the live transport: the connection gateway and the
// per-user channel registry. A single process owns every live connection;
// the registry is the only shared mutable structure on the live path.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/relaypoint/messaging-platform/internal/model"
	"github.com/relaypoint/messaging-platform/pkg/logger"
	"github.com/relaypoint/messaging-platform/pkg/metrics"
)

// Hub is the channel registry: authenticated identity -> live connections.
// All of a user's simultaneous connections (tabs) join the same channel, so
// emissions reach every open surface. Constructed once per process and
// injected into consumers.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Conn]struct{}
	log      *logger.Logger
}

// NewHub creates an empty channel registry.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		channels: make(map[string]map[*Conn]struct{}),
		log:      log,
	}
}

// Join binds a connection to the channel named by requestedID, but only
// when it matches the connection's authenticated identity. A mismatch is
// dropped silently (no error reaches the offending connection, so probing
// cannot confirm valid identities) and logged for diagnosis. Enforced on
// every join attempt, not just at handshake time.
func (h *Hub) Join(c *Conn, requestedID string) {
	if requestedID != c.userID {
		metrics.UnauthorizedJoinsTotal.Inc()
		h.log.Warn("unauthorized channel join dropped",
			"authenticated_id", c.userID,
			"requested_id", requestedID,
			"remote_addr", c.remoteAddr,
		)
		return
	}

	h.mu.Lock()
	conns, ok := h.channels[c.userID]
	if !ok {
		conns = make(map[*Conn]struct{})
		h.channels[c.userID] = conns
	}
	conns[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("channel joined", "user_id", c.userID)
}

// Leave unbinds a connection. Safe to call for connections that never
// joined. Membership is checked at emission time, so no in-flight relay
// can target a connection after Leave returns.
func (h *Hub) Leave(c *Conn) {
	h.mu.Lock()
	if conns, ok := h.channels[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.channels, c.userID)
		}
	}
	h.mu.Unlock()
}

// Emit fans an event out to every connection bound to userID. Best-effort
// and fire-and-forget: a slow consumer is skipped, an offline user is a
// miss, and no acknowledgement is awaited. Returns whether at least one
// connection was bound at emission time.
func (h *Hub) Emit(userID string, event model.EventType, data any) bool {
	raw, err := marshalEnvelope(event, data)
	if err != nil {
		h.log.Error("failed to encode live event", "event", event, "error", err)
		return false
	}

	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.channels[userID]))
	for c := range h.channels[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.enqueue(raw) {
			h.log.Warn("dropped live event for slow connection",
				"user_id", userID, "event", event)
		}
	}
	return len(conns) > 0
}

// EmitTo sends an event to a single connection only, bypassing the channel.
// Used for acknowledgements that must reach the originating surface and
// nothing else.
func (h *Hub) EmitTo(c *Conn, event model.EventType, data any) {
	raw, err := marshalEnvelope(event, data)
	if err != nil {
		h.log.Error("failed to encode live event", "event", event, "error", err)
		return
	}
	if !c.enqueue(raw) {
		h.log.Warn("dropped live event for slow connection",
			"user_id", c.userID, "event", event)
	}
}

// IsOnline reports whether any connection is bound for userID.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[userID]) > 0
}

func marshalEnvelope(event model.EventType, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(model.Envelope{Event: event, Data: body})
}
