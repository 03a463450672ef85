// ABOUTME: Prometheus collectors for the collaboration coordinator
// ABOUTME: Exposes connection, room, lock, typing, and delivery counters on /metrics

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coven_collab"

// Metrics holds every collector exported by the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections    prometheus.Gauge
	rooms          prometheus.Gauge
	locks          prometheus.Gauge
	typing         prometheus.Gauge
	inbound        *prometheus.CounterVec
	outboundDrops  prometheus.Counter
	lockConflicts  prometheus.Counter
	reclaimed      *prometheus.CounterVec
	authRejections prometheus.Counter
}

// New creates the collectors on a dedicated registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Authenticated connections currently open.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Project rooms with at least one subscriber.",
		}),
		locks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "edit_locks",
			Help:      "Edit locks currently held.",
		}),
		typing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "typing_indicators",
			Help:      "Typing indicators currently shown.",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound client events by type and outcome.",
		}, []string{"type", "outcome"}),
		outboundDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_dropped_total",
			Help:      "Outbound events dropped because a connection queue was full.",
		}),
		lockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edit_lock_conflicts_total",
			Help:      "Edit lock requests that lost to an existing holder.",
		}),
		reclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaimed_total",
			Help:      "State reclaimed by timeouts, by kind.",
		}, []string{"kind"}),
		authRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_rejections_total",
			Help:      "Connection handshakes rejected as unauthenticated.",
		}),
	}

	reg.MustRegister(
		m.connections, m.rooms, m.locks, m.typing,
		m.inbound, m.outboundDrops, m.lockConflicts, m.reclaimed, m.authRejections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and embedding.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetState records the current size of every registry.
func (m *Metrics) SetState(connections, rooms, locks, typing int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(connections))
	m.rooms.Set(float64(rooms))
	m.locks.Set(float64(locks))
	m.typing.Set(float64(typing))
}

// Inbound counts one inbound event with its outcome ("ok", "rejected", ...).
func (m *Metrics) Inbound(eventType, outcome string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(eventType, outcome).Inc()
}

// Dropped counts outbound events lost to full queues.
func (m *Metrics) Dropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.outboundDrops.Add(float64(n))
}

// LockConflict counts one lost lock race.
func (m *Metrics) LockConflict() {
	if m == nil {
		return
	}
	m.lockConflicts.Inc()
}

// Reclaimed counts state removed by a timeout ("connection", "lock", "typing").
func (m *Metrics) Reclaimed(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reclaimed.WithLabelValues(kind).Add(float64(n))
}

// AuthRejected counts one rejected handshake.
func (m *Metrics) AuthRejected() {
	if m == nil {
		return
	}
	m.authRejections.Inc()
}
