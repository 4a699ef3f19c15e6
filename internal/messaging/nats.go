// Package messaging is a thin NATS wrapper feeding the relay's external
// collaborators: report submissions and session lifecycle events go out to
// the admin/moderation side, and moderation actions (kick, ban) come back.
// The whole layer is optional — a nil *Client no-ops every publish.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects used by the relay and its moderation sidecar.
const (
	SubjectReportSubmitted  = "relay.report.submitted"
	SubjectSessionStarted   = "relay.session.started"
	SubjectSessionEnded     = "relay.session.ended"
	SubjectModerationAction = "relay.moderation.action"
)

// Client wraps the NATS connection with helpers for the relay's subjects.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "relay",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewClient connects to NATS with the given config. It returns an error if
// the initial connection fails; reconnects after that are automatic.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given subject. Safe to call on a nil Client.
func (c *Client) Publish(subject string, data []byte) error {
	if c == nil {
		return nil
	}
	return c.conn.Publish(subject, data)
}

// PublishReportSubmitted announces an accepted abuse report.
func (c *Client) PublishReportSubmitted(data []byte) error {
	return c.Publish(SubjectReportSubmitted, data)
}

// PublishSessionStarted announces a new session pairing.
func (c *Client) PublishSessionStarted(data []byte) error {
	return c.Publish(SubjectSessionStarted, data)
}

// PublishSessionEnded announces a session teardown.
func (c *Client) PublishSessionEnded(data []byte) error {
	return c.Publish(SubjectSessionEnded, data)
}

// PublishModerationAction pushes a kick/ban action toward the relay. Used by
// the moderation sidecar and the admin surface.
func (c *Client) PublishModerationAction(data []byte) error {
	return c.Publish(SubjectModerationAction, data)
}

// Subscribe registers a handler for a subject and tracks the subscription
// for cleanup. Safe to call on a nil Client (no-op).
func (c *Client) Subscribe(subject string, handler func(data []byte)) error {
	if c == nil {
		return nil
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// SubscribeModerationActions registers the relay-side handler for inbound
// kick/ban actions.
func (c *Client) SubscribeModerationActions(handler func(data []byte)) error {
	return c.Subscribe(SubjectModerationAction, handler)
}

// SubscribeReportSubmitted registers the sidecar-side handler for accepted
// reports.
func (c *Client) SubscribeReportSubmitted(handler func(data []byte)) error {
	return c.Subscribe(SubjectReportSubmitted, handler)
}

// Close drains all subscriptions and the connection. Safe on a nil Client.
func (c *Client) Close() {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
