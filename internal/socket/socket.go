// Package socket owns the duplex WebSocket connections to the MeetMate audio
// service. A [Client] enforces the one-session-connection-at-a-time rule:
// opening a new session connection tears down the previous one before the new
// dial, so a listener can never keep firing into a dead state machine.
//
// Inbound frames are decoded by the wire codec and delivered on a per-
// connection event channel. Frames that fail to decode are dropped and logged
// at debug level, preserving liveness over strict validation.
package socket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/meetmate/meetmate/internal/wire"
)

// Event is one occurrence on a connection: either a decoded inbound message
// or a terminal error. After an Event with a non-nil Err is delivered, the
// event channel is closed and no further events arrive.
type Event struct {
	Msg wire.Message
	Err error
}

// Conn is a live duplex connection to the audio service.
type Conn interface {
	// Send encodes cmd and writes it as one text frame.
	Send(ctx context.Context, cmd wire.Command) error

	// Events returns the inbound event channel. The channel is closed when
	// the connection ends, after a final Event carrying the close error.
	Events() <-chan Event

	// Close tears the connection down. It is idempotent: closing an
	// already-closed connection is a no-op.
	Close()
}

// Dialer abstracts connection establishment for the session manager.
// *Client is the production implementation; tests substitute fakes.
type Dialer interface {
	// OpenSession opens the exclusive session connection, first tearing down
	// any session connection opened earlier through the same Dialer.
	OpenSession(ctx context.Context, url string) (Conn, error)

	// DialQuery opens an independent short-lived connection that is not
	// tracked by the exclusivity rule.
	DialQuery(ctx context.Context, url string) (Conn, error)
}

// Client dials the audio service and tracks the single session connection.
// All methods are safe for concurrent use.
type Client struct {
	mu      sync.Mutex
	current *wsConn
}

// Compile-time interface check.
var _ Dialer = (*Client)(nil)

// NewClient creates a Client with no open connection.
func NewClient() *Client {
	return &Client{}
}

// OpenSession implements [Dialer]. Any previously opened session connection
// is forcibly closed before the new dial, even when the dial then fails.
func (c *Client) OpenSession(ctx context.Context, url string) (Conn, error) {
	c.mu.Lock()
	prev := c.current
	c.current = nil
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	conn, err := dial(ctx, url)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.current = conn
	c.mu.Unlock()
	return conn, nil
}

// DialQuery implements [Dialer].
func (c *Client) DialQuery(ctx context.Context, url string) (Conn, error) {
	return dial(ctx, url)
}

// Close tears down the session connection if one is open. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.current
	c.current = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// wsConn is a WebSocket-backed [Conn].
type wsConn struct {
	ws     *websocket.Conn
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func dial(ctx context.Context, url string) (*wsConn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("socket: dial %s: %w", url, err)
	}

	conn := &wsConn{
		ws:     ws,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go conn.readLoop()
	return conn, nil
}

// Send implements [Conn].
func (c *wsConn) Send(ctx context.Context, cmd wire.Command) error {
	data, err := wire.Encode(cmd)
	if err != nil {
		return err
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("socket: write: %w", err)
	}
	return nil
}

// Events implements [Conn].
func (c *wsConn) Events() <-chan Event { return c.events }

// Close implements [Conn]. The read loop observes the closed socket, emits
// the terminal event, and closes the event channel.
func (c *wsConn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close(websocket.StatusNormalClosure, "session closed")
	})
}

// readLoop reads frames until the connection ends. It is the sole writer and
// closer of the events channel.
func (c *wsConn) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.Read(context.Background())
		if err != nil {
			select {
			case <-c.done:
				// Locally initiated close; no terminal error to report.
			default:
				c.deliver(Event{Err: fmt.Errorf("socket: read: %w", err)})
			}
			return
		}

		msg, ok := wire.Decode(data)
		if !ok {
			slog.Debug("socket: dropping malformed frame", "len", len(data))
			continue
		}
		c.deliver(Event{Msg: msg})
	}
}

// deliver sends ev unless the connection was closed locally while the event
// channel is full.
func (c *wsConn) deliver(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}
