package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peercall/internal/util"
)

// Handler receives decoded envelopes, one method per type. Returned errors
// are logged by the watch loop and never stop it.
type Handler interface {
	HandleOffer(env Envelope) error
	HandleAnswer(env Envelope) error
	HandleCandidate(env Envelope) error
}

// Client owns one signaling WebSocket. Send may be called from any goroutine;
// Watch must run on exactly one.
type Client struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
	log       util.Scope
}

// Dial connects to the signaling endpoint. No sub-protocol is requested.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established WebSocket connection.
func NewClient(conn *websocket.Conn) *Client {
	conn.SetReadLimit(MaxFrameSize)
	return &Client{
		conn: conn,
		log:  util.NewScope("signaling"),
	}
}

// Send writes one envelope as a text frame, guarded by a mutex.
func (c *Client) Send(env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Type, err)
	}

	util.Stats.AddSent()
	c.log.Debugf("sent %s (%d bytes)", env.Type, len(data))
	return nil
}

// Watch reads frames until the socket closes or ctx is cancelled, decoding
// each one and dispatching it to h. Text and binary frames are both accepted.
// Frames that fail to decode and handler errors are logged and skipped.
// A normal close by the peer returns nil.
func (c *Client) Watch(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed to read WS message: %w", err)
		}

		env, err := Decode(data)
		if err != nil {
			c.log.Errorf("dropping frame: %v", err)
			continue
		}
		util.Stats.AddRecv()
		c.log.Debugf("received %s (%d bytes)", env.Type, len(data))

		if err := Dispatch(env, h); err != nil {
			c.log.Errorf("failed to handle %s: %v", env.Type, err)
		}
	}
}

// Dispatch routes env to the handler method matching its type.
func Dispatch(env Envelope, h Handler) error {
	switch env.Type {
	case TypeOffer:
		return h.HandleOffer(env)
	case TypeAnswer:
		return h.HandleAnswer(env)
	case TypeCandidate:
		return h.HandleCandidate(env)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// Close sends a normal-closure frame and closes the connection. Safe to call
// more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		// Best effort; the peer may already be gone.
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})
	return err
}
