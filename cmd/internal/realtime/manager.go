// Package realtime keeps the user's notification channel connected.
//
// The Manager dials the push service with the current access token, subscribes to the
// user's notification destination and dispatches notifications. Drops are retried with
// bounded exponential backoff; after MaxAttempts consecutive failures the manager settles
// in Disconnected until Connect is called again.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storefront/cmd/internal/auth/session"
	"storefront/cmd/internal/clock"
	v1 "storefront/contracts/realtime/v1"
)

// Credentials returns the current session. session.Store implements it.
type Credentials interface {
	Load(ctx context.Context) session.Session
}

// Handler receives each notification. It runs on the connection's read goroutine.
type Handler func(v1.NotificationPayload)

// Manager is the realtime connection manager. The zero value is not usable; use New.
type Manager struct {
	cfg    Config
	dialer Dialer
	creds  Credentials
	clock  clock.Clock
	log    *slog.Logger

	onReconnect func(attempt int, delay time.Duration)

	mu        sync.Mutex
	state     State
	attempt   int
	gen       uint64
	running   bool
	handler   Handler
	cancel    context.CancelFunc
	retry     clock.Timer
	observers map[uint64]func(State)
	nextObs   uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for retry timers.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the manager logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithReconnectObserver registers a hook run whenever a retry is scheduled.
func WithReconnectObserver(fn func(attempt int, delay time.Duration)) Option {
	return func(m *Manager) { m.onReconnect = fn }
}

// New constructs a Disconnected Manager.
func New(cfg Config, dialer Dialer, creds Credentials, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.ReadIdleTimeout <= 0 {
		cfg.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	m := &Manager{
		cfg:       cfg,
		dialer:    dialer,
		creds:     creds,
		clock:     clock.Real(),
		log:       slog.Default(),
		state:     Disconnected,
		observers: make(map[uint64]func(State)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the number of consecutive failed attempts since the last success.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// OnConnectionChange registers fn for state changes. The returned func removes only this observer.
func (m *Manager) OnConnectionChange(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextObs++
	id := m.nextObs
	m.observers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.observers, id)
			m.mu.Unlock()
		})
	}
}

// Connect starts the connection loop with handler for notifications.
// It returns immediately; calling it while already running is a no-op.
func (m *Manager) Connect(handler Handler) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.gen++
	gen := m.gen
	m.attempt = 0
	m.handler = handler
	m.mu.Unlock()

	go m.dial(gen)
}

// Disconnect cancels any pending retry and the live connection. It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.running = false
	m.gen++
	m.attempt = 0
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	fns := m.setStateLocked(Disconnected)
	m.mu.Unlock()

	if fns != nil {
		m.log.Info("realtime.disconnect")
	}
	notify(fns, Disconnected)
}

func (m *Manager) dial(gen uint64) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if !m.wantedLocked(gen) {
		m.mu.Unlock()
		cancel()
		return
	}
	m.retry = nil
	m.cancel = cancel
	handler := m.handler
	fns := m.setStateLocked(Connecting)
	m.mu.Unlock()
	notify(fns, Connecting)

	sess := m.creds.Load(ctx)
	if sess.AccessToken == "" || sess.UserID == "" {
		cancel()
		m.giveUp(gen, session.ErrMissingCredential)
		return
	}

	conn, err := m.handshake(ctx, sess.UserID, sess.AccessToken)
	if err != nil {
		cancel()
		m.failed(gen, err)
		return
	}

	m.mu.Lock()
	if !m.wantedLocked(gen) {
		m.mu.Unlock()
		_ = conn.Close("disconnect")
		cancel()
		return
	}
	m.attempt = 0
	fns = m.setStateLocked(Connected)
	m.mu.Unlock()
	notify(fns, Connected)
	m.log.Info("realtime.connect.ok", "user_id", sess.UserID)

	err = m.readLoop(ctx, conn, handler)
	_ = conn.Close("")
	cancel()
	m.failed(gen, fmt.Errorf("%w: %w", ErrConnection, err))
}

func (m *Manager) handshake(ctx context.Context, userID, token string) (Conn, error) {
	conn, err := m.dialer.Dial(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	fail := func(err error) (Conn, error) {
		_ = conn.Close("handshake failed")
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	if err := m.send(ctx, conn, v1.TypeHello, v1.HelloPayload{Client: "storefront"}); err != nil {
		return fail(err)
	}
	if _, err := m.expect(ctx, conn, v1.TypeHelloAck); err != nil {
		return fail(err)
	}

	dest := v1.UserNotifications(userID)
	if err := m.send(ctx, conn, v1.TypeSubscribe, v1.SubscribePayload{Destination: dest}); err != nil {
		return fail(err)
	}
	env, err := m.expect(ctx, conn, v1.TypeSubscribed)
	if err != nil {
		return fail(err)
	}
	var sub v1.SubscribedPayload
	if err := env.Decode(&sub); err != nil {
		return fail(err)
	}
	if sub.Destination != dest {
		return fail(fmt.Errorf("subscribed to %q, want %q", sub.Destination, dest))
	}
	return conn, nil
}

// expect reads until an envelope of type typ arrives, answering pings on the way.
func (m *Manager) expect(ctx context.Context, conn Conn, typ string) (v1.Envelope, error) {
	for {
		env, err := m.read(ctx, conn)
		if err != nil {
			return v1.Envelope{}, err
		}
		switch env.Type {
		case typ:
			return env, nil
		case v1.TypePing:
			if err := m.pong(ctx, conn, env); err != nil {
				return v1.Envelope{}, err
			}
		case v1.TypeError:
			return v1.Envelope{}, serverError(env)
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Conn, handler Handler) error {
	for {
		env, err := m.read(ctx, conn)
		if err != nil {
			return err
		}

		switch env.Type {
		case v1.TypeNotification:
			var n v1.NotificationPayload
			if err := env.Decode(&n); err != nil {
				m.log.Warn("realtime.notification.invalid", "id", env.ID, "err", err)
				continue
			}
			if handler != nil {
				handler(n)
			}
		case v1.TypePing:
			if err := m.pong(ctx, conn, env); err != nil {
				return err
			}
		case v1.TypeError:
			return serverError(env)
		default:
			m.log.Debug("realtime.frame.ignored", "type", env.Type)
		}
	}
}

func (m *Manager) read(ctx context.Context, conn Conn) (v1.Envelope, error) {
	rctx, cancel := context.WithTimeout(ctx, m.cfg.ReadIdleTimeout)
	defer cancel()
	return conn.Read(rctx)
}

func (m *Manager) send(ctx context.Context, conn Conn, typ string, payload any) error {
	now := m.clock.Now()
	env, err := v1.New(typ, NewEnvelopeID(now), now, payload)
	if err != nil {
		return err
	}
	return writeWithTimeout(ctx, conn, env, m.cfg.WriteTimeout)
}

func (m *Manager) pong(ctx context.Context, conn Conn, ping v1.Envelope) error {
	env := v1.Envelope{V: v1.Version, Type: v1.TypePong, ID: ping.ID, TS: m.clock.Now().UTC()}
	return writeWithTimeout(ctx, conn, env, m.cfg.WriteTimeout)
}

// failed records a failed attempt and schedules the next retry, or settles in Disconnected.
func (m *Manager) failed(gen uint64, err error) {
	m.mu.Lock()
	if !m.wantedLocked(gen) {
		m.mu.Unlock()
		return
	}
	m.cancel = nil
	m.attempt++
	attempt := m.attempt

	if attempt > m.cfg.MaxAttempts {
		// The failed attempt still reports Reconnecting before settling.
		m.running = false
		reconnecting := m.setStateLocked(Reconnecting)
		disconnected := m.setStateLocked(Disconnected)
		m.mu.Unlock()

		m.log.Warn("realtime.reconnect.exhausted", "attempts", attempt-1, "err", err)
		notify(reconnecting, Reconnecting)
		notify(disconnected, Disconnected)
		return
	}

	delay := Backoff(attempt, m.cfg.BaseDelay, m.cfg.MaxDelay)
	m.retry = m.clock.AfterFunc(delay, func() { go m.dial(gen) })
	fns := m.setStateLocked(Reconnecting)
	m.mu.Unlock()

	m.log.Info("realtime.reconnect.scheduled",
		"attempt", attempt,
		"delay", delay.String(),
		"reason", dropReason(err),
		"err", err,
	)
	if m.onReconnect != nil {
		m.onReconnect(attempt, delay)
	}
	notify(fns, Reconnecting)
}

// giveUp settles in Disconnected without retrying.
func (m *Manager) giveUp(gen uint64, err error) {
	m.mu.Lock()
	if !m.wantedLocked(gen) {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel = nil
	m.attempt = 0
	fns := m.setStateLocked(Disconnected)
	m.mu.Unlock()

	m.log.Warn("realtime.connect.skip", "err", err)
	notify(fns, Disconnected)
}

// wantedLocked reports whether work scheduled under gen is still wanted.
func (m *Manager) wantedLocked(gen uint64) bool {
	return m.running && gen == m.gen
}

// setStateLocked updates the state and returns the observers to notify, or nil when unchanged.
func (m *Manager) setStateLocked(s State) []func(State) {
	if m.state == s {
		return nil
	}
	m.state = s
	if len(m.observers) == 0 {
		return []func(State){}
	}
	fns := make([]func(State), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(State), s State) {
	for _, fn := range fns {
		fn(s)
	}
}

func serverError(env v1.Envelope) error {
	var p v1.ErrorPayload
	if err := env.Decode(&p); err != nil {
		return &ServerError{Code: "unknown", Message: err.Error()}
	}
	return &ServerError{Code: p.Code, Message: p.Message}
}
