package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"storefront/cmd/internal/realtime"
)

const metricsNamespace = "storefront"

// Metrics holds the per-Client collectors. Each Client owns its registry so
// independent clients in one process never collide.
type Metrics struct {
	Registry *prometheus.Registry

	// Renewals counts renewal attempts by result (ok, rejected, missing_credential).
	Renewals *prometheus.CounterVec

	// QueuedCalls counts requests parked behind an in-flight renewal.
	QueuedCalls prometheus.Counter

	// Expired counts delivered session-expired notifications by reason.
	Expired *prometheus.CounterVec

	// RealtimeState is the current connection state (0 disconnected .. 3 reconnecting).
	RealtimeState prometheus.Gauge

	// Reconnects counts scheduled reconnect attempts.
	Reconnects prometheus.Counter
}

// NewMetrics builds and registers the client collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Renewals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "session_renewals_total",
				Help:      "Total access token renewal attempts",
			},
			[]string{"result"},
		),
		QueuedCalls: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "gate_queued_calls_total",
				Help:      "Total requests queued behind an in-flight renewal",
			},
		),
		Expired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "session_expired_total",
				Help:      "Total session expiry notifications delivered",
			},
			[]string{"reason"},
		),
		RealtimeState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "realtime_state",
				Help:      "Realtime connection state",
			},
		),
		Reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "realtime_reconnects_total",
				Help:      "Total scheduled realtime reconnect attempts",
			},
		),
	}

	m.Registry.MustRegister(m.Renewals, m.QueuedCalls, m.Expired, m.RealtimeState, m.Reconnects)
	return m
}

func (m *Metrics) renewal(result string) { m.Renewals.WithLabelValues(result).Inc() }

func (m *Metrics) queued() { m.QueuedCalls.Inc() }

func (m *Metrics) expired(reason string) { m.Expired.WithLabelValues(reason).Inc() }

func (m *Metrics) state(s realtime.State) { m.RealtimeState.Set(float64(s)) }

func (m *Metrics) reconnect(int, time.Duration) { m.Reconnects.Inc() }
