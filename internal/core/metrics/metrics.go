package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Agent metrics
	heartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_heartbeats_total",
			Help: "Heartbeats received from agents, by source (agent or keeper)",
		},
		[]string{"source"},
	)

	registrationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_agent_registrations_total",
			Help: "Total number of agent registrations",
		},
	)

	agentsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tally_agents_connected",
			Help: "Number of agents inside the hard liveness window",
		},
	)

	// Reconciliation metrics
	reconcileActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_reconcile_actions_total",
			Help: "Reconciled batch items by entity type and action",
		},
		[]string{"entity", "action"},
	)

	reconcileBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tally_reconcile_batch_duration_seconds",
			Help:    "Time spent reconciling one batch",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"entity"},
	)

	syncState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tally_sync_state",
			Help: "1 for the current sync state, 0 otherwise",
		},
		[]string{"state"},
	)
)

var syncStates = []string{"idle", "syncing", "success", "error"}

// RecordHeartbeat counts a heartbeat; source is "agent" or "keeper".
func RecordHeartbeat(source string) {
	heartbeatsTotal.WithLabelValues(source).Inc()
}

func RecordRegistration() {
	registrationsTotal.Inc()
}

func SetConnectedAgents(count int) {
	agentsConnected.Set(float64(count))
}

func RecordReconcileAction(entity, action string) {
	reconcileActionsTotal.WithLabelValues(entity, action).Inc()
}

func ObserveReconcileBatch(entity string, d time.Duration) {
	reconcileBatchDuration.WithLabelValues(entity).Observe(d.Seconds())
}

func SetSyncState(state string) {
	for _, s := range syncStates {
		v := 0.0
		if s == state {
			v = 1
		}
		syncState.WithLabelValues(s).Set(v)
	}
}
