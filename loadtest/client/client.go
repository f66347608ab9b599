// Package client provides a reusable WebSocket load test client for the
// ChatKOOL server. It connects using gobwas/ws (the same library the server
// uses), binds an identity on connect, and tracks per-connection metrics.
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
	TypeBindIdentity = "bind_identity"
	TypeFindMatch    = "find_match"
	TypeCancelMatch  = "cancel_match"
	TypeChatMessage  = "chat_message"
	TypeTypingStart  = "typing_start"
	TypeTypingStop   = "typing_stop"
	TypeEndChat      = "end_chat"
	TypePing         = "ping"
)

// Server -> Client message types.
const (
	TypeIdentityBound   = "identity_bound"
	TypeMatchingStarted = "matching_started"
	TypeMatchFound      = "match_found"
	TypeMessage         = "message"
	TypeTyping          = "typing"
	TypePartnerLeft     = "partner_left"
	TypeChatEnded       = "chat_ended"
	TypeError           = "error"
	TypePong            = "pong"
)

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration // dial plus identity_bound
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client is a single simulated user bound to one identity.
type Client struct {
	conn     net.Conn
	identity string

	writeMu  sync.Mutex
	mu       sync.Mutex
	metrics  Metrics
	handlers map[string]func(json.RawMessage)

	bound     chan struct{}
	bindOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to url and binds identity. It returns once the server has
// acknowledged the bind or ctx expires.
func Dial(ctx context.Context, url, identity string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		identity: identity,
		handlers: make(map[string]func(json.RawMessage)),
		bound:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.readLoop()

	if err := c.Send(map[string]string{"type": TypeBindIdentity, "identity": identity}); err != nil {
		c.Close()
		return nil, fmt.Errorf("bind: %w", err)
	}
	select {
	case <-c.bound:
	case <-c.done:
		return nil, fmt.Errorf("bind %q: connection closed", identity)
	case <-ctx.Done():
		c.Close()
		return nil, fmt.Errorf("bind %q: %w", identity, ctx.Err())
	}

	c.mu.Lock()
	c.metrics.ConnectLatency = time.Since(start)
	c.mu.Unlock()
	return c, nil
}

// Identity returns the bound identity.
func (c *Client) Identity() string { return c.identity }

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, data); err != nil {
		return err
	}
	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()
	return nil
}

// Chat sends a chat_message with content.
func (c *Client) Chat(content string) error {
	return c.Send(map[string]string{"type": TypeChatMessage, "content": content})
}

// On registers a handler for a server message type, replacing any previous
// one. Handlers run on the read loop and must not block.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

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
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
			}
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		if envelope.Type == TypeError {
			c.metrics.Errors++
		}
		handler := c.handlers[envelope.Type]
		c.mu.Unlock()

		if envelope.Type == TypeIdentityBound {
			c.bindOnce.Do(func() { close(c.bound) })
		}
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}
