// Package metrics provides Prometheus instrumentation for the pairing
// server. It exposes gauges for connections, waiting lines and active
// pairings, counters for pairing lifecycle events and relayed payloads, and
// a histogram for time spent waiting.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairchat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// Participants tracks the participants known to the matchmaker.
	Participants = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairchat_participants",
		Help: "Current number of participants known to the matchmaker",
	})

	// MatchQueueSize tracks the waiting line length per chat type.
	MatchQueueSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pairchat_match_queue_size",
		Help: "Current number of participants waiting, by chat type",
	}, []string{"chat_type"})

	// ActivePairs tracks the current number of pairings.
	ActivePairs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairchat_active_pairs",
		Help: "Current number of active pairings",
	})

	// PairingsTotal counts pairings created, by chat type.
	PairingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_pairings_total",
		Help: "Total number of pairings created",
	}, []string{"chat_type"})

	// DeparturesTotal counts handled departures, by mode ("next", "disconnect").
	DeparturesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_departures_total",
		Help: "Total number of departures handled",
	}, []string{"mode"})

	// RePairsTotal counts deferred re-pairing timers, by outcome
	// ("fired", "skipped").
	RePairsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_repairs_total",
		Help: "Deferred re-pairing attempts by outcome",
	}, []string{"outcome"})

	// SweepRemovals counts entries removed by the stale connection sweeper,
	// by kind ("pair", "waiting", "participant").
	SweepRemovals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_sweep_removals_total",
		Help: "Stale entries removed by the sweeper",
	}, []string{"kind"})

	// RelayedTotal counts payloads relayed to a partner, by kind. Dropped
	// payloads (sender had no partner) are counted under outcome="dropped".
	RelayedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_relayed_total",
		Help: "Signaling and chat payloads processed by the relay",
	}, []string{"kind", "outcome"})

	// MatchDuration records how long a participant waited before being paired.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pairchat_match_duration_seconds",
		Help:    "Time a participant spent waiting before being paired",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
	})

	// AuditFailures counts audit records that could not be handed off.
	AuditFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_audit_failures_total",
		Help: "Audit records that failed to publish or persist",
	}, []string{"record"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		Participants,
		MatchQueueSize,
		ActivePairs,
		PairingsTotal,
		DeparturesTotal,
		RePairsTotal,
		SweepRemovals,
		RelayedTotal,
		MatchDuration,
		AuditFailures,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
