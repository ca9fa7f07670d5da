// Package app wires the storefront client session runtime: credential store,
// backend client, token lifecycle, request gate, inactivity monitor, realtime
// channel and expiry notifications.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	authapi "storefront/cmd/internal/auth/api"
	"storefront/cmd/internal/auth/expiry"
	"storefront/cmd/internal/auth/gate"
	"storefront/cmd/internal/auth/inactivity"
	"storefront/cmd/internal/auth/session"
	"storefront/cmd/internal/clock"
	"storefront/cmd/internal/realtime"
	"storefront/cmd/security/seal"
)

// Client is the session runtime of one signed-in device.
// Several Clients may live in one process; they share nothing.
type Client struct {
	cfg Config
	log *slog.Logger

	store     session.Store
	api       *authapi.Client
	lifecycle *session.Manager
	gate      *gate.Gate
	http      *http.Client
	monitor   *inactivity.Monitor
	realtime  *realtime.Manager
	notifier  *expiry.Notifier
	metrics   *Metrics

	rtConfigured bool

	mu       sync.Mutex
	disposed bool
}

type options struct {
	store     session.Store
	clock     clock.Clock
	dialer    realtime.Dialer
	transport http.RoundTripper
}

// Option configures a Client.
type Option func(*options)

// WithStore uses st instead of opening the configured driver. The Client takes ownership.
func WithStore(st session.Store) Option {
	return func(o *options) { o.store = st }
}

// WithClock replaces the wall clock for every time-driven component.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithDialer replaces the websocket dialer of the realtime channel.
func WithDialer(d realtime.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithTransport sets the base transport used for backend calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// New constructs a fully wired Client. Nothing runs until Initialize or Login.
func New(ctx context.Context, cfg Config, log *slog.Logger, opts ...Option) (*Client, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{clock: clock.Real(), transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(&o)
	}

	st := o.store
	if st == nil {
		var err error
		if st, err = newStore(ctx, cfg, log); err != nil {
			return nil, err
		}
	}

	api, err := authapi.New(cfg.APIConfig(),
		authapi.WithHTTPClient(&http.Client{Transport: o.transport, Timeout: cfg.HTTPTimeout}),
		authapi.WithLogger(log),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		log:     log,
		store:   st,
		api:     api,
		metrics: NewMetrics(),
	}

	c.lifecycle = session.NewManager(cfg.SessionConfig(), st, api, log,
		session.WithClock(o.clock),
		session.WithRenewObserver(c.metrics.renewal),
	)
	c.notifier = expiry.New(
		expiry.WithClock(o.clock),
		expiry.WithLogger(log),
		expiry.WithObserver(c.metrics.expired),
	)
	c.gate = gate.New(st, c.lifecycle,
		gate.WithBase(o.transport),
		gate.WithLogger(log),
		gate.WithExpireHook(c.expire),
		gate.WithQueueObserver(c.metrics.queued),
	)
	c.http = &http.Client{Transport: c.gate, Timeout: cfg.HTTPTimeout}
	c.monitor = inactivity.New(cfg.InactivityConfig(),
		func() bool { return st.Load(context.Background()).StaySignedIn },
		c.idle,
		inactivity.WithClock(o.clock),
		inactivity.WithLogger(log),
	)

	dialer := o.dialer
	if dialer == nil && cfg.RealtimeURL != "" {
		dialer = realtime.NewWebSocketDialer(cfg.RealtimeURL)
	}
	c.rtConfigured = dialer != nil
	c.realtime = realtime.New(cfg.RealtimeConfig(), dialer, st,
		realtime.WithClock(o.clock),
		realtime.WithLogger(log),
		realtime.WithReconnectObserver(c.metrics.reconnect),
	)
	c.realtime.OnConnectionChange(c.metrics.state)

	return c, nil
}

// Initialize resumes a stored session: it starts the inactivity window and
// renews the access token when it is expired or about to. A renewal that
// fails ends the session with an expiry notification.
func (c *Client) Initialize(ctx context.Context) error {
	if c.isDisposed() {
		return ErrDisposed
	}

	c.monitor.Start()

	s := c.store.Load(ctx)
	if s.Empty() {
		c.log.Info("session.init.anonymous")
		return nil
	}

	renewed, err := c.lifecycle.RenewIfNeeded(ctx)
	if err != nil {
		c.expire(expiryReason(err))
		return nil
	}
	c.log.Info("session.init.resumed",
		"user_id", s.UserID,
		"renewed", renewed,
		"access_fp", seal.Fingerprint(s.AccessToken),
	)
	return nil
}

// Login authenticates with email and password. When the backend asks for a
// verification code the response is returned as-is and nothing is stored.
func (c *Client) Login(ctx context.Context, req authapi.LoginRequest) (authapi.AuthResponse, error) {
	if c.isDisposed() {
		return authapi.AuthResponse{}, ErrDisposed
	}
	res, err := c.api.Login(ctx, req)
	if err != nil {
		return authapi.AuthResponse{}, err
	}
	return c.establish(ctx, res, req.StaySignedIn)
}

// VerifyCode completes a login with the emailed verification code.
func (c *Client) VerifyCode(ctx context.Context, req authapi.VerifyRequest) (authapi.AuthResponse, error) {
	if c.isDisposed() {
		return authapi.AuthResponse{}, ErrDisposed
	}
	res, err := c.api.VerifyCode(ctx, req)
	if err != nil {
		return authapi.AuthResponse{}, err
	}
	return c.establish(ctx, res, req.StaySignedIn)
}

func (c *Client) establish(ctx context.Context, res authapi.AuthResponse, stay bool) (authapi.AuthResponse, error) {
	if !res.HasTokens() {
		c.log.Info("session.login.verification_required")
		return res, nil
	}

	s := session.Session{
		AccessToken:  res.AccessToken,
		RenewalToken: res.RenewalToken,
		Role:         res.Role,
		User:         res.User,
		StaySignedIn: stay,
	}
	if err := c.store.Save(ctx, s); err != nil {
		return authapi.AuthResponse{}, err
	}

	c.notifier.Arm()
	c.monitor.Start()

	if _, err := c.lifecycle.RenewIfNeeded(ctx); err != nil {
		c.log.Warn("session.login.renew.fail", "err", err)
	}

	saved := c.store.Load(ctx)
	c.log.Info("session.login.ok",
		"user_id", saved.UserID,
		"role", saved.Role,
		"stay_signed_in", stay,
		"access_fp", seal.Fingerprint(saved.AccessToken),
	)
	return res, nil
}

// Logout signs out locally: the realtime channel closes, the inactivity
// window stops and every stored credential is removed. No expiry
// notification is sent.
func (c *Client) Logout(ctx context.Context) error {
	c.notifier.Disarm()
	return c.signOut(ctx)
}

func (c *Client) signOut(ctx context.Context) error {
	c.realtime.Disconnect()
	c.monitor.Stop()
	if err := c.store.Clear(ctx); err != nil {
		c.log.Error("session.logout.fail", "err", err)
		return err
	}
	c.log.Info("session.logout")
	return nil
}

// expire ends the session and tells the application why.
func (c *Client) expire(reason string) {
	if err := c.signOut(context.Background()); err != nil {
		c.log.Warn("session.expire.clear.fail", "reason", reason, "err", err)
	}
	c.notifier.NotifyExpired(reason)
}

func (c *Client) idle() {
	if c.store.Load(context.Background()).Empty() {
		c.log.Debug("session.idle.anonymous")
		return
	}
	c.expire(expiry.ReasonInactivity)
}

func expiryReason(err error) string {
	if errors.Is(err, session.ErrMissingCredential) {
		return expiry.ReasonMissingCredential
	}
	return expiry.ReasonRenewalFailed
}

// HTTPClient returns the client for authenticated backend calls. A 401 triggers
// one shared renewal and the call is replayed with the fresh token.
func (c *Client) HTTPClient() *http.Client { return c.http }

// Activity records user activity and restarts the inactivity window.
func (c *Client) Activity(sig inactivity.Signal) { c.monitor.Touch(sig) }

// Subscribe opens the realtime channel and delivers notifications to onMessage.
func (c *Client) Subscribe(onMessage realtime.Handler) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	if !c.rtConfigured {
		return realtime.ErrConfig
	}
	c.realtime.Connect(onMessage)
	return nil
}

// Unsubscribe closes the realtime channel without touching the session.
func (c *Client) Unsubscribe() { c.realtime.Disconnect() }

// ConnectionState returns the realtime connection state.
func (c *Client) ConnectionState() realtime.State { return c.realtime.State() }

// OnConnectionChange registers fn for realtime state changes.
func (c *Client) OnConnectionChange(fn func(realtime.State)) (unsubscribe func()) {
	return c.realtime.OnConnectionChange(fn)
}

// OnSessionExpired sets the handler for session-expired events.
func (c *Client) OnSessionExpired(fn func(expiry.Event)) { c.notifier.SetHandler(fn) }

// Session returns the stored session.
func (c *Client) Session(ctx context.Context) session.Session { return c.store.Load(ctx) }

// Metrics returns the client's metrics registry.
func (c *Client) Metrics() *prometheus.Registry { return c.metrics.Registry }

// Dispose stops all background work and closes the store. Stored credentials are kept.
func (c *Client) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	c.mu.Unlock()

	c.realtime.Disconnect()
	c.monitor.Stop()
	err := c.store.Close()
	c.log.Info("client.disposed")
	return err
}

func (c *Client) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}
