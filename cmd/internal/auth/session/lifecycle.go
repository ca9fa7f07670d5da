package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storefront/cmd/internal/clock"
	"storefront/cmd/security/seal"

	"golang.org/x/sync/singleflight"
)

// Tokens is the result of a renewal call. RenewalToken is empty when the backend does not rotate it.
type Tokens struct {
	AccessToken  string
	RenewalToken string
}

// Renewer performs the backend renewal call. *api.Client implements it.
type Renewer interface {
	RefreshToken(ctx context.Context, renewalToken string) (Tokens, error)
}

// Renewal outcomes reported to the observer hook.
const (
	RenewResultOK       = "ok"
	RenewResultRejected = "rejected"
	RenewResultMissing  = "missing_credential"
)

// Manager is the token lifecycle manager.
type Manager struct {
	cfg     Config
	store   Store
	renewer Renewer
	clock   clock.Clock
	log     *slog.Logger

	flight  singleflight.Group
	observe func(result string)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock replaces the wall clock (tests).
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithRenewObserver registers a hook invoked once per renewal attempt with its outcome.
func WithRenewObserver(fn func(result string)) ManagerOption {
	return func(m *Manager) { m.observe = fn }
}

// NewManager constructs a Manager over store and renewer.
func NewManager(cfg Config, store Store, renewer Renewer, log *slog.Logger, opts ...ManagerOption) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		cfg:     cfg,
		store:   store,
		renewer: renewer,
		clock:   clock.Real(),
		log:     log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the manager configuration.
func (m *Manager) Config() Config { return m.cfg }

// IsExpired reports whether the stored access token is absent, undecodable,
// or expires within buffer.
func (m *Manager) IsExpired(ctx context.Context, buffer time.Duration) bool {
	s := m.store.Load(ctx)
	if s.AccessToken == "" {
		return true
	}
	return m.tokenExpired(s.AccessToken, buffer)
}

func (m *Manager) tokenExpired(token string, buffer time.Duration) bool {
	c, err := DecodeClaims(token)
	if err != nil {
		return true
	}
	remaining := c.ExpiresAt*1000 - m.clock.Now().UnixMilli()
	return remaining <= buffer.Milliseconds()
}

// RenewIfNeeded renews the stored session when IsExpired with the configured buffer.
// It reports whether a renewal happened. Errors are returned to the caller, which decides on logout.
func (m *Manager) RenewIfNeeded(ctx context.Context) (bool, error) {
	if !m.IsExpired(ctx, m.cfg.ExpiryBuffer) {
		return false, nil
	}
	if _, err := m.RenewStored(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// RenewStored exchanges the stored renewal token for fresh credentials and saves them.
//
// Concurrent callers share one in-flight renewal and its result.
func (m *Manager) RenewStored(ctx context.Context) (Session, error) {
	v, err, shared := m.flight.Do("renew", func() (any, error) {
		return m.renewStored(ctx)
	})
	if shared {
		m.log.Debug("session.renew.shared")
	}
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

func (m *Manager) renewStored(ctx context.Context) (Session, error) {
	cur := m.store.Load(ctx)
	if cur.RenewalToken == "" {
		m.report(RenewResultMissing)
		return Session{}, ErrMissingCredential
	}

	tok, err := m.Renew(ctx, cur.RenewalToken)
	if err != nil {
		return Session{}, err
	}

	next := cur
	next.AccessToken = tok.AccessToken
	if tok.RenewalToken != "" {
		next.RenewalToken = tok.RenewalToken
	}
	next = Derive(next)

	saved, err := m.store.CompareAndSave(ctx, cur.RenewalToken, next)
	if err != nil {
		return Session{}, fmt.Errorf("save renewed session: %w", err)
	}
	if !saved {
		// Logged out or expired while the call was in flight.
		m.log.Info("session.renew.discarded", "renewal_fp", seal.Fingerprint(cur.RenewalToken))
		return Session{}, fmt.Errorf("%w: session ended during renewal", ErrMissingCredential)
	}

	m.log.Info("session.renew.ok",
		"user_id", next.UserID,
		"access_fp", seal.Fingerprint(next.AccessToken),
		"renewal_rotated", tok.RenewalToken != "",
	)
	return next, nil
}

// Renew performs exactly one backend renewal call. It never retries:
// a rejected renewal token stays rejected.
func (m *Manager) Renew(ctx context.Context, renewalToken string) (Tokens, error) {
	if renewalToken == "" {
		m.report(RenewResultMissing)
		return Tokens{}, ErrMissingCredential
	}

	tok, err := m.renewer.RefreshToken(ctx, renewalToken)
	if err == nil && tok.AccessToken == "" {
		err = errors.New("empty access token in renewal response")
	}
	if err != nil {
		m.report(RenewResultRejected)
		m.log.Warn("session.renew.fail", "renewal_fp", seal.Fingerprint(renewalToken), "err", err)
		return Tokens{}, &RenewalError{Err: err}
	}

	m.report(RenewResultOK)
	return tok, nil
}

func (m *Manager) report(result string) {
	if m.observe != nil {
		m.observe(result)
	}
}
