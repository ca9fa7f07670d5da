package realtime

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	v1 "storefront/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const maxFrameBytes = 64 << 10 // 64 KiB

// Conn is one established push connection.
type Conn interface {
	Read(ctx context.Context) (v1.Envelope, error)
	Write(ctx context.Context, env v1.Envelope) error
	Close(reason string) error
}

// Dialer opens push connections authenticated with an access token.
type Dialer interface {
	Dial(ctx context.Context, accessToken string) (Conn, error)
}

// WebSocketDialer dials the push service with coder/websocket.
type WebSocketDialer struct {
	URL        string
	HTTPClient *http.Client
}

// NewWebSocketDialer returns a Dialer for a ws:// or wss:// url.
func NewWebSocketDialer(rawURL string) *WebSocketDialer {
	return &WebSocketDialer{URL: rawURL}
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, accessToken string) (Conn, error) {
	if strings.TrimSpace(d.URL) == "" {
		return nil, fmt.Errorf("%w: no realtime url configured", ErrConfig)
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+accessToken)

	conn, resp, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
		HTTPClient:   d.HTTPClient,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", d.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("subprotocol mismatch: got=%q want=%q", sp, v1.Subprotocol)
	}

	conn.SetReadLimit(maxFrameBytes)
	return &wsConn{c: conn}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) (v1.Envelope, error) {
	var env v1.Envelope
	if err := wsjson.Read(ctx, w.c, &env); err != nil {
		return v1.Envelope{}, err
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	return env, nil
}

func (w *wsConn) Write(ctx context.Context, env v1.Envelope) error {
	return wsjson.Write(ctx, w.c, env)
}

func (w *wsConn) Close(reason string) error {
	if reason == "" {
		reason = "bye"
	}
	return w.c.Close(websocket.StatusNormalClosure, reason)
}

func writeWithTimeout(parent context.Context, c Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return c.Write(ctx, env)
}
