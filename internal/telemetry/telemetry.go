// Package telemetry exposes the daemon's operational counters.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StateTransitions counts state-enter/state-leave transitions per root.
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "state_transitions_total",
		Help:      "Number of client state transitions processed.",
	}, []string{"root"})

	// TriggerSpawns counts child processes spawned by triggers.
	TriggerSpawns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "trigger_spawns_total",
		Help:      "Number of trigger child processes spawned.",
	}, []string{"root", "trigger"})

	// TriggerOverflows counts spawns that could not pass every matched
	// file to the child.
	TriggerOverflows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "trigger_overflows_total",
		Help:      "Number of trigger spawns with file overflow.",
	}, []string{"root", "trigger"})

	// CookieSyncFailures counts cookie syncs that failed or timed out.
	CookieSyncFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "cookie_sync_failures_total",
		Help:      "Number of failed cookie synchronizations.",
	}, []string{"root"})

	// SettleBroadcasts counts settle announcements published per root.
	SettleBroadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "settle_broadcasts_total",
		Help:      "Number of settle points announced to subscribers.",
	}, []string{"root"})
)
