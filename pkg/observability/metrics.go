// Package observability exposes the runtime's Prometheus metrics: room
// population, action throughput, turn timing and durability health.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tabletoplab/skirmish/pkg/domain"
)

// Metrics holds every collector on a private registry so two runtimes in
// one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	actionsTotal     *prometheus.CounterVec
	eventsTotal      *prometheus.CounterVec
	turnSeconds      prometheus.Histogram
	turnTimeouts     prometheus.Counter
	snapshotsTotal   *prometheus.CounterVec
	snapshotBytes    prometheus.Histogram
	snapshotRetries  prometheus.Counter
	snapshotFailures prometheus.Counter
}

// New creates the metrics set on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skirmish_actions_total",
				Help: "Actions submitted, by kind and validation result",
			},
			[]string{"kind", "result"},
		),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skirmish_events_total",
				Help: "Session events emitted, by type",
			},
			[]string{"type"},
		),
		turnSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "skirmish_turn_duration_seconds",
				Help:    "Wall-clock duration of completed turns",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		),
		turnTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "skirmish_turn_timeouts_total",
				Help: "Turns skipped by the turn timer",
			},
		),
		snapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skirmish_snapshots_total",
				Help: "Snapshots written, by trigger",
			},
			[]string{"trigger"},
		),
		snapshotBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "skirmish_snapshot_bytes",
				Help:    "Stored snapshot payload sizes",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			},
		),
		snapshotRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "skirmish_snapshot_retries_total",
				Help: "Persistence attempts that were retried",
			},
		),
		snapshotFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "skirmish_snapshot_failures_total",
				Help: "Persistence operations that exhausted their retries",
			},
		),
	}

	m.registry.MustRegister(
		m.actionsTotal,
		m.eventsTotal,
		m.turnSeconds,
		m.turnTimeouts,
		m.snapshotsTotal,
		m.snapshotBytes,
		m.snapshotRetries,
		m.snapshotFailures,
	)
	return m
}

// RegisterRoomsGauge exposes the live room count as a gauge backed by the
// given function.
func (m *Metrics) RegisterRoomsGauge(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "skirmish_rooms_active",
			Help: "Rooms currently live in the registry",
		},
		func() float64 { return float64(count()) },
	))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAction counts one submitted action.
func (m *Metrics) ObserveAction(kind domain.ActionKind, valid bool) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	m.actionsTotal.WithLabelValues(string(kind), result).Inc()
}

// Deliver implements ports.EventSink: attach the metrics set to a room and
// every emitted event is counted. Turn events additionally feed the timing
// and timeout collectors.
func (m *Metrics) Deliver(event domain.Event) {
	m.eventsTotal.WithLabelValues(string(event.Type)).Inc()

	switch event.Type {
	case domain.EventTurnSkipped:
		if p, ok := event.Payload.(domain.TurnSkippedPayload); ok && p.Reason == "timeout" {
			m.turnTimeouts.Inc()
		}
	case domain.EventStateDelta:
		delta, ok := event.Payload.(*domain.StateDelta)
		if !ok {
			return
		}
		for _, record := range delta.TurnRecords {
			if record.EndTime != nil {
				m.ObserveTurnDuration(record.EndTime.Sub(record.StartTime))
			}
		}
	}
}

// ObserveTurnDuration records how long a completed turn took.
func (m *Metrics) ObserveTurnDuration(d time.Duration) {
	m.turnSeconds.Observe(d.Seconds())
}

// SnapshotSaved implements persist.Observer.
func (m *Metrics) SnapshotSaved(trigger domain.Trigger, bytes int) {
	m.snapshotsTotal.WithLabelValues(string(trigger)).Inc()
	m.snapshotBytes.Observe(float64(bytes))
}

// PersistRetried implements persist.Observer.
func (m *Metrics) PersistRetried() {
	m.snapshotRetries.Inc()
}

// PersistFailed implements persist.Observer.
func (m *Metrics) PersistFailed() {
	m.snapshotFailures.Inc()
}
