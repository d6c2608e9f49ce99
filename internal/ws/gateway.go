package ws

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/relaypoint/messaging-platform/internal/middleware"
	"github.com/relaypoint/messaging-platform/pkg/logger"
	"github.com/relaypoint/messaging-platform/pkg/metrics"
)

// Gateway authenticates websocket handshakes and hands accepted
// connections to the hub. Credentials are verified before the upgrade:
// a missing, malformed or expired token refuses the handshake outright,
// never leaving a partial anonymous session.
type Gateway struct {
	hub       *Hub
	relay     Relay
	jwtSecret string
	upgrader  websocket.Upgrader
	log       *logger.Logger
}

// NewGateway creates a connection gateway.
func NewGateway(hub *Hub, relay Relay, jwtSecret string, log *logger.Logger) *Gateway {
	return &Gateway{
		hub:       hub,
		relay:     relay,
		jwtSecret: jwtSecret,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handshake handles GET /ws.
func (g *Gateway) Handshake(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		http.Error(w, `{"error":"missing credential"}`, http.StatusUnauthorized)
		return
	}

	claims, err := middleware.VerifyToken(g.jwtSecret, token)
	if err != nil {
		g.log.Warn("websocket handshake rejected",
			"remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, `{"error":"invalid credential"}`, http.StatusUnauthorized)
		return
	}

	sock, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	c := newConn(g.hub, sock, claims.Subject, r.RemoteAddr)
	metrics.LiveConnections.Inc()
	g.log.Info("websocket connected", "user_id", c.userID, "remote_addr", r.RemoteAddr)

	go c.writePump()
	c.readPump(g.relay)

	metrics.LiveConnections.Dec()
	g.log.Info("websocket disconnected", "user_id", c.userID)
}
