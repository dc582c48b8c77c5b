package connector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type connectorMetrics struct {
	syncStepDuration          *prometheus.HistogramVec
	syncStepErrorCounter      *prometheus.CounterVec
	syncedUsersCounter        *prometheus.CounterVec
	invalidUserRecordsCounter *prometheus.CounterVec
	completedSyncsCounter     *prometheus.CounterVec
	rateLimitDelaySeconds     prometheus.Histogram
	supersededChainsCounter   prometheus.Counter
}

func newMetrics() *connectorMetrics {
	metrics := new(connectorMetrics)

	metrics.syncStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "saas_connector_sync_step_duration",
		Help: "The amount of time it took to process one sync step",
	}, []string{"vendor"})

	metrics.syncStepErrorCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saas_connector_sync_step_error_count",
		Help: "The number of sync steps that failed, by vendor and error kind",
	}, []string{"vendor", "kind"})

	metrics.syncedUsersCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saas_connector_synced_users_count",
		Help: "The number of users pushed to the governance platform",
	}, []string{"vendor"})

	metrics.invalidUserRecordsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saas_connector_invalid_user_records_count",
		Help: "The number of vendor user records dropped during validation",
	}, []string{"vendor"})

	metrics.completedSyncsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saas_connector_completed_syncs_count",
		Help: "The number of sync chains that ran to completion",
	}, []string{"vendor"})

	metrics.rateLimitDelaySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "saas_connector_rate_limit_delay_seconds",
		Help: "The delays imposed by vendor rate limiting",
	})

	metrics.supersededChainsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saas_connector_superseded_sync_chains_count",
		Help: "The number of sync chains dropped because of a reinstallation",
	})

	return metrics
}

var (
	metrics = newMetrics()
)
