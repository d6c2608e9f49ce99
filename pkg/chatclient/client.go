package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaypoint/messaging-platform/internal/model"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
)

// Config wires a Client to a server.
type Config struct {
	// BaseURL is the REST root, e.g. http://localhost:8080.
	BaseURL string
	// WSURL is the live endpoint, e.g. ws://localhost:8080/ws.
	WSURL string
	// Token is the bearer token for both surfaces.
	Token string
	// UserID is the authenticated identity, matching the token subject.
	UserID string
	// HTTPClient overrides the default REST client when set.
	HTTPClient *http.Client
}

// Client drives a Session over a live websocket connection plus REST. The
// read loop feeds server events into the session; outgoing messages travel
// over the websocket with REST as the attachment path.
type Client struct {
	session *Session
	cfg     Config
	http    *http.Client
	conn    *websocket.Conn
	done    chan struct{}
}

// New creates a client and its session.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		session: NewSession(cfg.UserID),
		cfg:     cfg,
		http:    hc,
		done:    make(chan struct{}),
	}
}

// Session exposes the underlying state machine.
func (c *Client) Session() *Session {
	return c.session
}

// Dial connects the live channel, binds it to the user's delivery channel
// and starts the read loop. Open-thread inbound messages trigger a
// mark-read over REST.
func (c *Client) Dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.Token)

	conn, resp, err := dialer.DialContext(ctx, c.cfg.WSURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	if err := c.writeEvent(model.EventJoinRoom, model.JoinRoomPayload{UserID: c.cfg.UserID}); err != nil {
		conn.Close()
		return fmt.Errorf("join: %w", err)
	}

	c.session.OnOpenThreadMessage(func(peerID string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			_, _ = c.MarkRead(ctx, peerID)
		}()
	})

	go c.readLoop()
	return nil
}

// Send submits a message to a peer over the live channel. The returned
// request carries the correlation id the placeholder is keyed by.
func (c *Client) Send(peerID, content string) (*model.SendMessageRequest, error) {
	req := c.session.Send(peerID, content, model.KindText)
	if err := c.writeEvent(model.EventSendMessage, req); err != nil {
		c.session.Fail(req.CorrelationID, err)
		return req, err
	}
	return req, nil
}

// Open selects a peer's thread, loads its history and marks it read, the
// sequence a UI runs when the user clicks a conversation.
func (c *Client) Open(ctx context.Context, peerID string) ([]model.Message, error) {
	c.session.Select(peerID)
	msgs, err := c.History(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if _, err := c.MarkRead(ctx, peerID); err != nil {
		return msgs, err
	}
	return msgs, nil
}

// MarkRead marks everything from peerID read via REST.
func (c *Client) MarkRead(ctx context.Context, peerID string) (*model.MarkReadResponse, error) {
	var resp model.MarkReadResponse
	err := c.post(ctx, "/api/chat/messages/mark-read", model.MarkReadRequest{PeerID: peerID}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Conversations fetches the sidebar and seeds the session with it.
func (c *Client) Conversations(ctx context.Context) ([]model.ConversationSummary, error) {
	var resp model.ListConversationsResponse
	if err := c.get(ctx, "/api/chat/conversations", &resp); err != nil {
		return nil, err
	}
	c.session.SeedConversations(resp.Conversations)
	return resp.Conversations, nil
}

// History fetches a peer thread and seeds the session with it.
func (c *Client) History(ctx context.Context, peerID string) ([]model.Message, error) {
	var msgs []model.Message
	if err := c.get(ctx, "/api/chat/p2p/"+peerID, &msgs); err != nil {
		return nil, err
	}
	c.session.SeedThread(peerID, msgs)
	return msgs, nil
}

// Close tears down the live connection.
func (c *Client) Close() error {
	close(c.done)
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		c.dispatch(&env)
	}
}

func (c *Client) dispatch(env *model.Envelope) {
	switch env.Event {
	case model.EventReceiveMessage:
		var msg model.Message
		if json.Unmarshal(env.Data, &msg) == nil {
			c.session.HandleReceive(&msg)
		}
	case model.EventMessageAck:
		var msg model.Message
		if json.Unmarshal(env.Data, &msg) == nil {
			c.session.Ack(msg.CorrelationID, &msg)
		}
	case model.EventMessagesRead:
		var ev model.ReadReceiptEvent
		if json.Unmarshal(env.Data, &ev) == nil {
			c.session.HandleReadReceipt(&ev)
		}
	}
}

func (c *Client) writeEvent(event model.EventType, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(model.Envelope{Event: event, Data: payload})
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Handlers answer in the ErrorEvent shape; the auth middleware
		// writes a bare {"error": ...} body.
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil {
			if apiErr.Message != "" {
				return errors.New(apiErr.Message)
			}
			if apiErr.Error != "" {
				return errors.New(apiErr.Error)
			}
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
