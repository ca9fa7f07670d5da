package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"storefront/cmd/internal/auth/session"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	c, err := New(Config{BaseURL: ts.URL + "/"}, WithHTTPClient(ts.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "not a url", "/relative"} {
		if _, err := New(Config{BaseURL: raw}); !errors.Is(err, ErrConfig) {
			t.Fatalf("New(%q): expected ErrConfig, got %v", raw, err)
		}
	}
}

func TestLogin_ReturnsTokens(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var in LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if in.Email != "ada@example.com" || in.Password != "hunter2" || !in.StaySignedIn {
			t.Errorf("unexpected body: %+v", in)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accessToken":  "at-1",
			"renewalToken": "rt-1",
			"role":         "USER",
			"user":         map[string]any{"id": "u1"},
		})
	}))

	res, err := c.Login(context.Background(), LoginRequest{Email: "ada@example.com", Password: "hunter2", StaySignedIn: true})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !res.HasTokens() || res.AccessToken != "at-1" || res.RenewalToken != "rt-1" {
		t.Fatalf("unexpected response: %+v", res)
	}
	if string(res.User) != `{"id":"u1"}` {
		t.Fatalf("user snapshot mismatch: %s", res.User)
	}
}

func TestLogin_RequiresVerification(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"requiresVerification": true, "message": "code sent"})
	}))

	res, err := c.Login(context.Background(), LoginRequest{Email: "ada@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.HasTokens() || !res.RequiresVerification || res.Message != "code sent" {
		t.Fatalf("unexpected response: %+v", res)
	}
}

func TestLogin_ValidationSkipsNetwork(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))

	cases := []LoginRequest{
		{Email: "", Password: "pw"},
		{Email: "not-an-email", Password: "pw"},
		{Email: "ada@example.com"},
	}
	for _, in := range cases {
		if _, err := c.Login(context.Background(), in); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("Login(%+v): expected ErrInvalidRequest, got %v", in, err)
		}
	}
	if _, err := c.VerifyCode(context.Background(), VerifyRequest{Email: "ada@example.com", Password: "pw"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("VerifyCode without code: expected ErrInvalidRequest, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no backend calls, got %d", hits.Load())
	}
}

func TestVerifyCode_PostsCode(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/verify-code" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var in VerifyRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Code != "123456" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "bad code"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "at", "renewalToken": "rt"})
	}))

	if _, err := c.VerifyCode(context.Background(), VerifyRequest{Email: "a@b.co", Password: "pw", Code: "000000"}); err == nil {
		t.Fatalf("expected error for wrong code")
	}
	res, err := c.VerifyCode(context.Background(), VerifyRequest{Email: "a@b.co", Password: "pw", Code: "123456"})
	if err != nil || !res.HasTokens() {
		t.Fatalf("VerifyCode: %+v, %v", res, err)
	}
}

func TestErrorDecoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     any
		wantCode string
		wantMsg  string
	}{
		{name: "flat message", status: http.StatusUnauthorized, body: map[string]any{"message": "Invalid credentials"}, wantMsg: "Invalid credentials"},
		{name: "nested error", status: http.StatusTooManyRequests, body: map[string]any{"error": map[string]any{"code": "rate_limited", "message": "slow down"}}, wantCode: "rate_limited", wantMsg: "slow down"},
		{name: "no body", status: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.body == nil {
					w.WriteHeader(tc.status)
					return
				}
				writeJSON(w, tc.status, tc.body)
			}))

			_, err := c.Login(context.Background(), LoginRequest{Email: "a@b.co", Password: "pw"})
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *Error, got %T %v", err, err)
			}
			if apiErr.Status != tc.status || apiErr.Code != tc.wantCode || apiErr.Message != tc.wantMsg {
				t.Fatalf("unexpected error: %+v", apiErr)
			}
			if !IsRejection(err) {
				t.Fatalf("IsRejection must be true for backend errors")
			}
		})
	}
}

func TestRefreshToken(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/refresh-token" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("renewal must not carry an access token")
		}
		switch r.URL.Query().Get("renewalToken") {
		case "rt-123":
			writeJSON(w, http.StatusOK, map[string]any{"accessToken": "at-new"})
		case "rt-rotate":
			writeJSON(w, http.StatusOK, map[string]any{"accessToken": "at-new", "renewalToken": "rt-next"})
		default:
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "invalid renewal token"})
		}
	}))

	ctx := context.Background()

	tok, err := c.RefreshToken(ctx, "rt-123")
	if err != nil || tok.AccessToken != "at-new" || tok.RenewalToken != "" {
		t.Fatalf("RefreshToken: %+v, %v", tok, err)
	}
	tok, err = c.RefreshToken(ctx, "rt-rotate")
	if err != nil || tok.RenewalToken != "rt-next" {
		t.Fatalf("RefreshToken rotate: %+v, %v", tok, err)
	}

	if _, err := c.RefreshToken(ctx, "rt-bad"); !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := c.RefreshToken(ctx, ""); !errors.Is(err, session.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestRefreshToken_MissingAccessTokenIsUnexpected(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	}))

	if _, err := c.RefreshToken(context.Background(), "rt"); !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("expected ErrUnexpectedResponse, got %v", err)
	}
}

func TestClient_ImplementsRenewer(t *testing.T) {
	t.Parallel()

	var _ session.Renewer = (*Client)(nil)
}
