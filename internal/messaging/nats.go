// Package messaging is the NATS event bus for the live-call service. The
// call server publishes call lifecycle events and user reports; the historian
// consumes them for durable storage. Events carry typed JSON payloads so
// downstream consumers do not depend on the server's internal structs.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects published by the call server.
const (
	SubjectCallStarted = "call.started"
	SubjectCallEnded   = "call.ended"
	SubjectCallExpired = "call.expired"
	SubjectCallReport  = "call.report"
)

// CallEvent describes a call lifecycle transition. StartedAt and EndedAt are
// Unix seconds; EndedAt is zero on call.started. Reason is empty on started,
// and one of the protocol end reasons or "expired" otherwise.
type CallEvent struct {
	SessionID string `json:"session_id"`
	Channel   string `json:"channel"`
	UserA     string `json:"user_a"`
	UserB     string `json:"user_b"`
	StartedAt int64  `json:"started_at"`
	EndedAt   int64  `json:"ended_at,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ReportEvent is a user report filed during or after a call.
type ReportEvent struct {
	ReporterID string `json:"reporter_id"`
	ReportedID string `json:"reported_id"`
	SessionID  string `json:"session_id"`
	Reason     string `json:"reason"`
	FiledAt    int64  `json:"filed_at"`
}

// Client wraps the NATS connection with typed publish/subscribe helpers.
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
		Name:          "livecall",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
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

// PublishCallStarted announces a new call session.
func (c *Client) PublishCallStarted(ev CallEvent) error {
	return c.publishJSON(SubjectCallStarted, ev)
}

// PublishCallEnded announces a call that ended by user action or disconnect.
func (c *Client) PublishCallEnded(ev CallEvent) error {
	return c.publishJSON(SubjectCallEnded, ev)
}

// PublishCallExpired announces a call torn down by session expiry.
func (c *Client) PublishCallExpired(ev CallEvent) error {
	return c.publishJSON(SubjectCallExpired, ev)
}

// PublishReport forwards a user report to the historian.
func (c *Client) PublishReport(ev ReportEvent) error {
	return c.publishJSON(SubjectCallReport, ev)
}

// SubscribeCallEvents registers a handler for all three call lifecycle
// subjects. The handler receives the subject along with the decoded event so
// the consumer can tell started from ended from expired.
func (c *Client) SubscribeCallEvents(handler func(subject string, ev CallEvent)) error {
	for _, subject := range []string{SubjectCallStarted, SubjectCallEnded, SubjectCallExpired} {
		if err := c.subscribe(subject, func(msg *nats.Msg) {
			var ev CallEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				log.Printf("[nats] bad call event on %s: %v", msg.Subject, err)
				return
			}
			handler(msg.Subject, ev)
		}); err != nil {
			return err
		}
	}
	return nil
}

// SubscribeReports registers a handler for user report events.
func (c *Client) SubscribeReports(handler func(ev ReportEvent)) error {
	return c.subscribe(SubjectCallReport, func(msg *nats.Msg) {
		var ev ReportEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[nats] bad report event: %v", err)
			return
		}
		handler(ev)
	})
}

func (c *Client) publishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("nats marshal %s: %w", subject, err)
	}
	return c.conn.Publish(subject, data)
}

func (c *Client) subscribe(subject string, handler nats.MsgHandler) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
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
