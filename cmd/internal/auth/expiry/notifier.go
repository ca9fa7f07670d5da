// Package expiry delivers session-expired notifications to the UI layer.
package expiry

import (
	"log/slog"
	"sync"
	"time"

	"storefront/cmd/internal/clock"
)

// Reasons a session can expire.
const (
	ReasonInactivity        = "inactivity"
	ReasonRenewalFailed     = "renewal_failed"
	ReasonMissingCredential = "missing_credential"
)

// Event is delivered to the handler once per expiry.
type Event struct {
	Reason string
	At     time.Time
}

// Notifier forwards at most one Event per armed window.
//
// A new Notifier is armed. NotifyExpired disarms it; Arm re-arms it when a session is established.
type Notifier struct {
	clock clock.Clock
	log   *slog.Logger

	mu      sync.Mutex
	armed   bool
	handler func(Event)
	observe func(reason string)
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(n *Notifier) { n.clock = c }
}

// WithLogger sets the notifier logger.
func WithLogger(log *slog.Logger) Option {
	return func(n *Notifier) {
		if log != nil {
			n.log = log
		}
	}
}

// WithObserver registers a hook run for every delivered expiry (metrics).
func WithObserver(fn func(reason string)) Option {
	return func(n *Notifier) { n.observe = fn }
}

// New constructs an armed Notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{clock: clock.Real(), log: slog.Default(), armed: true}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SetHandler replaces the handler. A nil handler drops events but still consumes the window.
func (n *Notifier) SetHandler(fn func(Event)) {
	n.mu.Lock()
	n.handler = fn
	n.mu.Unlock()
}

// Arm opens a new expiry window.
func (n *Notifier) Arm() {
	n.mu.Lock()
	n.armed = true
	n.mu.Unlock()
}

// Disarm closes the window without delivering anything.
func (n *Notifier) Disarm() {
	n.mu.Lock()
	n.armed = false
	n.mu.Unlock()
}

// Armed reports whether the next NotifyExpired will be delivered.
func (n *Notifier) Armed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.armed
}

// NotifyExpired delivers reason to the handler if the window is armed.
// It reports whether the event was delivered.
func (n *Notifier) NotifyExpired(reason string) bool {
	n.mu.Lock()
	if !n.armed {
		n.mu.Unlock()
		n.log.Debug("session.expired.suppressed", "reason", reason)
		return false
	}
	n.armed = false
	h := n.handler
	obs := n.observe
	n.mu.Unlock()

	n.log.Info("session.expired", "reason", reason)
	if obs != nil {
		obs(reason)
	}
	if h != nil {
		h(Event{Reason: reason, At: n.clock.Now()})
	}
	return true
}
