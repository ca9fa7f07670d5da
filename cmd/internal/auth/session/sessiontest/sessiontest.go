// Package sessiontest provides token minting and fake renewers for tests.
package sessiontest

import (
	"context"
	"sync"
	"testing"
	"time"

	"storefront/cmd/internal/auth/session"

	"github.com/golang-jwt/jwt/v5"
)

var testKey = []byte("storefront-test-signing-key")

// MintToken returns an HS256 JWT with sub, role and exp claims.
func MintToken(t testing.TB, subject, role string, exp time.Time) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  exp.Unix(),
		"iat":  exp.Add(-15 * time.Minute).Unix(),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// Renewer is a scripted session.Renewer that records every call.
type Renewer struct {
	mu    sync.Mutex
	calls []string

	// Gate, when set, blocks each call until it is closed.
	Gate chan struct{}

	// Fn produces the result for a call.
	Fn func(renewalToken string) (session.Tokens, error)
}

// RefreshToken implements session.Renewer.
func (r *Renewer) RefreshToken(ctx context.Context, renewalToken string) (session.Tokens, error) {
	r.mu.Lock()
	r.calls = append(r.calls, renewalToken)
	gate := r.Gate
	fn := r.Fn
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return session.Tokens{}, ctx.Err()
		}
	}
	if fn == nil {
		return session.Tokens{}, nil
	}
	return fn(renewalToken)
}

// Calls returns the renewal tokens received so far.
func (r *Renewer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}
