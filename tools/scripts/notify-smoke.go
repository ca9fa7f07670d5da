// Package main provides a CI-friendly smoke test for the storefront notification channel.
//
// It validates:
//   - handshake with bearer token and subprotocol selection
//   - hello/hello_ack session establishment
//   - subscribe/subscribed on the user's notification destination
//   - ping/pong keepalive
//   - delivery of the expected number of notifications
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "storefront/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 64 << 10

type smokeClient struct {
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/notify", "notification WebSocket URL")
		token   = flag.String("token", os.Getenv("STOREFRONT_ACCESS_TOKEN"), "access token (defaults to STOREFRONT_ACCESS_TOKEN)")
		userID  = flag.String("user", "", "user id whose notifications to subscribe to")
		count   = flag.Int("count", 0, "notifications to wait for after subscribing")
		timeout = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*token) == "" {
		fatalf("missing -token")
	}
	if strings.TrimSpace(*userID) == "" {
		fatalf("missing -user")
	}

	root := context.Background()

	c := mustConnect(root, *wsURL, *token, *timeout)
	defer closeWS(c.conn)
	if *verbose {
		fmt.Printf("connected: session=%s\n", c.sessionID)
	}

	dest := v1.UserNotifications(*userID)
	mustSubscribe(root, c, dest, *timeout)
	if *verbose {
		fmt.Printf("subscribed: %s\n", dest)
	}

	for i := 0; i < *count; i++ {
		env := c.mustReadUntilType(root, v1.TypeNotification, *timeout)
		var n v1.NotificationPayload
		if err := env.Decode(&n); err != nil {
			fatalf("decode notification: %v", err)
		}
		if strings.TrimSpace(n.ID) == "" || strings.TrimSpace(n.Type) == "" {
			fatalf("notification missing id or type: %+v", n)
		}
		if *verbose {
			fmt.Printf("notification: id=%s type=%s message=%q\n", n.ID, n.Type, n.Message)
		}
	}

	fmt.Printf("OK: session=%s destination=%s notifications=%d\n", c.sessionID, dest, *count)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWrite(parent, conn, mustEnvelope(v1.TypeHello, "smoke-hello", v1.HelloPayload{Client: "notify-smoke"}), stepTimeout)
	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)

	var p v1.HelloAckPayload
	if err := ack.Decode(&p); err != nil {
		fatalf("decode hello_ack payload: %v", err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session id")
	}
	c.sessionID = p.SessionID
	return c
}

func mustSubscribe(parent context.Context, c *smokeClient, dest string, stepTimeout time.Duration) {
	mustWrite(parent, c.conn, mustEnvelope(v1.TypeSubscribe, "smoke-sub", v1.SubscribePayload{Destination: dest}), stepTimeout)

	env := c.mustReadUntilType(parent, v1.TypeSubscribed, stepTimeout)
	var p v1.SubscribedPayload
	if err := env.Decode(&p); err != nil {
		fatalf("decode subscribed payload: %v", err)
	}
	if p.Destination != dest {
		fatalf("subscribed destination mismatch: got=%q want=%q", p.Destination, dest)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			if env.Type == v1.TypePing {
				pong := mustEnvelope(v1.TypePong, env.ID, struct{}{})
				if err := writeEnvelope(context.Background(), c.conn, pong); err != nil {
					c.fail(fmt.Errorf("pong: %w", err))
					return
				}
				continue
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
	case err := <-c.errCh:
		fatalf("connection error while waiting for %q: %v", wantType, err)
	case env, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed while waiting for %q", wantType)
		}
		if env.Type == v1.TypeError {
			var ep v1.ErrorPayload
			_ = env.Decode(&ep)
			fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
		}
		if env.Type != wantType {
			fatalf("unexpected envelope type: got=%q want=%q", env.Type, wantType)
		}
		return env
	}
	panic("unreachable")
}

func mustEnvelope(typ, id string, payload any) v1.Envelope {
	env, err := v1.New(typ, id, time.Now().UTC(), payload)
	if err != nil {
		fatalf("build %s envelope: %v", typ, err)
	}
	return env
}

func mustWrite(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := writeEnvelope(ctx, conn, env); err != nil {
		fatalf("write %s failed: %v", env.Type, err)
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env v1.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
