// Package client is a reusable WebSocket client for load testing the relay
// server. It connects with gobwas/ws (the same library the server uses),
// identifies itself through the user_id query parameter, dispatches incoming
// events to registered handlers, and tracks per-connection metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol event names (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server.
const (
	TypeJoinQueue       = "join_queue"
	TypeJoinInstantChat = "join_instant_chat_queue"
	TypeLeaveQueue      = "leave_queue"
	TypeChatMessage     = "chat_message"
	TypeEndCall         = "end_call"
	TypeNextMatch       = "next_match"
	TypeReportUser      = "report_user"
	TypePing            = "ping"
)

// Server -> Client.
const (
	TypeMatchFound       = "match_found"
	TypeNoMatchFound     = "no-match-found"
	TypeCallEnded        = "call_ended"
	TypePartnerGone      = "partner-disconnected"
	TypeActiveUsersCount = "active_users_count"
	TypeReportSubmitted  = "report_submitted"
	TypeRateLimited      = "rate_limited"
	TypeError            = "error"
	TypePong             = "pong"
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client is one simulated user. It owns the WebSocket lifecycle and routes
// incoming events to handlers registered per event type.
type Client struct {
	conn      net.Conn
	userID    string
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	done      chan struct{}
	closeOnce sync.Once
}

// New connects a simulated user to the relay. The user identity travels as
// the user_id query parameter, exactly as a browser client would send it. A
// background goroutine starts reading events immediately.
func New(ctx context.Context, baseURL, userID string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()

	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		userID:   userID,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// UserID returns the identity this client connected with.
func (c *Client) UserID() string {
	return c.userID
}

// Send writes a JSON message to the server. Goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// On registers a handler for one server event type; a second registration for
// the same type replaces the first. Handlers run on the read loop goroutine
// and receive the full raw JSON, so they must not block for long.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.handlers[msgType] = handler
}

// Close shuts the connection down and stops the read loop. Safe to call more
// than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	return c.metrics
}

// readLoop reads server frames and dispatches them until the connection dies
// or Close is called.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				return // deliberate close, not an error
			default:
			}
			c.metrics.Errors++
			return
		}

		c.metrics.MessagesReceived++

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		if handler, ok := c.handlers[envelope.Type]; ok {
			handler(json.RawMessage(data))
		}
	}
}
