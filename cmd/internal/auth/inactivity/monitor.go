// Package inactivity expires the session after a window without user activity.
package inactivity

import (
	"log/slog"
	"sync"
	"time"

	"storefront/cmd/internal/clock"
)

// Signal is a kind of user activity.
type Signal string

// Activity signals that reset the window.
const (
	SignalPointer Signal = "pointer"
	SignalKey     Signal = "key"
	SignalScroll  Signal = "scroll"
	SignalTouch   Signal = "touch"
)

// Valid reports whether s is a known activity signal.
func (s Signal) Valid() bool {
	switch s {
	case SignalPointer, SignalKey, SignalScroll, SignalTouch:
		return true
	default:
		return false
	}
}

// Config holds the inactivity windows.
type Config struct {
	Window             time.Duration
	StaySignedInWindow time.Duration
}

// DefaultConfig returns a 1 hour window, or 30 days with stay-signed-in.
func DefaultConfig() Config {
	return Config{
		Window:             time.Hour,
		StaySignedInWindow: 30 * 24 * time.Hour,
	}
}

// Monitor owns a single inactivity timer.
//
// Each arming gets a generation; a timer callback from an older generation is ignored,
// so a signal racing a firing timer cannot expire a fresh window.
type Monitor struct {
	cfg          Config
	clock        clock.Clock
	log          *slog.Logger
	staySignedIn func() bool
	onIdle       func()

	mu       sync.Mutex
	running  bool
	gen      uint64
	timer    clock.Timer
	deadline time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the monitor logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Monitor) {
		if log != nil {
			m.log = log
		}
	}
}

// New constructs a stopped Monitor. staySignedIn is read at every arming; onIdle runs
// once per elapsed window, outside the monitor lock.
func New(cfg Config, staySignedIn func() bool, onIdle func(), opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.StaySignedInWindow <= 0 {
		cfg.StaySignedInWindow = def.StaySignedInWindow
	}
	if staySignedIn == nil {
		staySignedIn = func() bool { return false }
	}

	m := &Monitor{
		cfg:          cfg,
		clock:        clock.Real(),
		log:          slog.Default(),
		staySignedIn: staySignedIn,
		onIdle:       onIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start arms the timer. Calling Start on a running monitor restarts the window.
func (m *Monitor) Start() {
	window := m.window()

	m.mu.Lock()
	m.running = true
	m.armLocked(window)
	m.mu.Unlock()

	m.log.Debug("inactivity.start", "window", window.String())
}

// Touch records user activity and restarts the window. It is ignored while stopped.
func (m *Monitor) Touch(sig Signal) {
	if !sig.Valid() {
		m.log.Debug("inactivity.signal.unknown", "signal", string(sig))
		return
	}
	window := m.window()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.armLocked(window)
}

// Stop cancels the timer.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = false
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.deadline = time.Time{}
}

// Running reports whether a window is armed.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Deadline returns when the current window elapses, or the zero time when stopped.
func (m *Monitor) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadline
}

func (m *Monitor) window() time.Duration {
	if m.staySignedIn() {
		return m.cfg.StaySignedInWindow
	}
	return m.cfg.Window
}

func (m *Monitor) armLocked(window time.Duration) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.deadline = m.clock.Now().Add(window)
	m.timer = m.clock.AfterFunc(window, func() { m.fire(gen) })
}

func (m *Monitor) fire(gen uint64) {
	m.mu.Lock()
	if !m.running || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.timer = nil
	m.deadline = time.Time{}
	m.mu.Unlock()

	m.log.Info("inactivity.elapsed")
	if m.onIdle != nil {
		m.onIdle()
	}
}
