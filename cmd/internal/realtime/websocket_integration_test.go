package realtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront/cmd/internal/auth/session"
	"storefront/cmd/internal/auth/session/sessiontest"
	v1 "storefront/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// pushServer is a minimal push service speaking the v1 notification protocol.
func pushServer(t *testing.T, wantToken string, notify v1.NotificationPayload) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+wantToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{v1.Subprotocol}})
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

		ctx := r.Context()
		var env v1.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil || env.Type != v1.TypeHello {
			return
		}
		ack, _ := v1.New(v1.TypeHelloAck, "ack-1", time.Now(), v1.HelloAckPayload{SessionID: "ws-1"})
		if err := wsjson.Write(ctx, conn, ack); err != nil {
			return
		}

		if err := wsjson.Read(ctx, conn, &env); err != nil || env.Type != v1.TypeSubscribe {
			return
		}
		var sub v1.SubscribePayload
		_ = env.Decode(&sub)
		subscribed, _ := v1.New(v1.TypeSubscribed, "sub-1", time.Now(), v1.SubscribedPayload{Destination: sub.Destination})
		if err := wsjson.Write(ctx, conn, subscribed); err != nil {
			return
		}

		n, _ := v1.New(v1.TypeNotification, notify.ID, time.Now(), notify)
		if err := wsjson.Write(ctx, conn, n); err != nil {
			return
		}

		// Hold the connection until the client leaves.
		for {
			if err := wsjson.Read(ctx, conn, &env); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/notify"
}

func TestWebSocket_EndToEnd(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	tok := sessiontest.MintToken(t, "u-ws", "USER", time.Now().Add(time.Hour))
	if err := store.Save(context.Background(), session.Session{AccessToken: tok, RenewalToken: "rt"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	post := "p-1"
	ts := pushServer(t, tok, v1.NotificationPayload{ID: "n-42", Type: "COMMENT", Message: "New comment", PostID: &post})

	m := New(DefaultConfig(), NewWebSocketDialer(wsURL(ts)), store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	states := make(chan State, 16)
	m.OnConnectionChange(func(s State) { states <- s })

	got := make(chan v1.NotificationPayload, 1)
	m.Connect(func(n v1.NotificationPayload) { got <- n })

	expectState(t, states, Connecting)
	expectState(t, states, Connected)

	select {
	case n := <-got:
		if n.ID != "n-42" || n.PostID == nil || *n.PostID != "p-1" {
			t.Fatalf("unexpected notification: %+v", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("notification not received")
	}

	m.Disconnect()
	expectState(t, states, Disconnected)
}

func TestWebSocket_RejectedTokenSchedulesRetry(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	tok := sessiontest.MintToken(t, "u-ws", "USER", time.Now().Add(time.Hour))
	_ = store.Save(context.Background(), session.Session{AccessToken: tok, RenewalToken: "rt"})

	ts := pushServer(t, "someone-else", v1.NotificationPayload{})

	m := New(DefaultConfig(), NewWebSocketDialer(wsURL(ts)), store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	states := make(chan State, 16)
	m.OnConnectionChange(func(s State) { states <- s })
	t.Cleanup(m.Disconnect)

	m.Connect(nil)
	expectState(t, states, Connecting)
	expectState(t, states, Reconnecting)
	if m.Attempt() != 1 {
		t.Fatalf("attempt=%d", m.Attempt())
	}
}

func TestWebSocketDialer_RequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewWebSocketDialer("").Dial(context.Background(), "tok"); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
