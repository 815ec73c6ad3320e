// Package client provides a reusable WebSocket load test client for the
// pairing server. It connects using gobwas/ws (the same library the server
// uses), records the session id announced by the server, and tracks
// per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client -> Server message types.
const (
	TypeFindPartner  = "find-partner"
	TypeNextPartner  = "next-partner"
	TypeReportUser   = "report-user"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeChatMessage  = "chat-message"
	TypePing         = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated      = "session-created"
	TypePartnerFound        = "partner-found"
	TypePartnerDisconnected = "partner-disconnected"
	TypeRateLimited         = "rate-limited"
	TypeError               = "error"
	TypePong                = "pong"
)

// PartnerFound is the decoded partner-found message.
type PartnerFound struct {
	PartnerID string `json:"partner_id"`
	Initiator bool   `json:"initiator"`
	Tag       string `json:"tag"`
}

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client represents a single simulated participant. It manages the
// WebSocket lifecycle and dispatches incoming messages to registered
// handlers.
type Client struct {
	conn      net.Conn
	writeMu   sync.Mutex
	mu        sync.Mutex // guards the fields below
	sessionID string
	partner   string
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	session   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New dials url and starts reading in the background.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		session:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// FindPartner asks for a partner of chatType. An empty chat type uses the
// server default.
func (c *Client) FindPartner(chatType string) error {
	msg := map[string]string{"type": TypeFindPartner}
	if chatType != "" {
		msg["chat_type"] = chatType
	}
	return c.Send(msg)
}

// NextPartner leaves the current partner and looks for another one.
func (c *Client) NextPartner() error {
	return c.Send(map[string]string{"type": TypeNextPartner})
}

// Signal relays payload to the partner under kind.
func (c *Client) Signal(kind string, payload interface{}) error {
	return c.Send(map[string]interface{}{"type": kind, "payload": payload})
}

// On registers a handler for a server message type. Handlers run on the
// read loop goroutine; a second registration replaces the first.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// WaitForSession blocks until the server announced the session id.
func (c *Client) WaitForSession(ctx context.Context) error {
	select {
	case <-c.session:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed before session was created")
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection has been closed or failed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// SessionID returns the id assigned by the server, or "".
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Partner returns the id from the last partner-found, cleared on
// partner-disconnected.
func (c *Client) Partner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partner
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Closed on purpose.
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
			}
			return
		}

		var envelope struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
			PartnerID string `json:"partner_id"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		switch envelope.Type {
		case TypeSessionCreated:
			if c.sessionID == "" && envelope.SessionID != "" {
				c.sessionID = envelope.SessionID
				close(c.session)
			}
		case TypePartnerFound:
			c.partner = envelope.PartnerID
		case TypePartnerDisconnected:
			c.partner = ""
		}
		handler := c.handlers[envelope.Type]
		c.mu.Unlock()

		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}
