package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Deployment lifecycle metrics. Labels stay low-cardinality: no org or app ids.
var (
	DeployAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgapp_deploy_attempts_total",
			Help: "Deployment attempts started, by trigger",
		},
		[]string{"trigger", "mode"},
	)

	DeployOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgapp_deploy_outcomes_total",
			Help: "Deployment attempts finished, by resulting status",
		},
		[]string{"status"},
	)

	StaleEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orgapp_stale_progress_events_total",
			Help: "Provider progress events discarded because their attempt is no longer current",
		},
	)

	ProgressSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orgapp_progress_subscribers",
			Help: "Open progress subscriptions on this process",
		},
	)

	DraftsSweptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draft_previews_swept_total",
			Help: "Expired draft previews processed by the sweep, by result",
		},
		[]string{"result"},
	)

	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Compute provider API requests, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
)
