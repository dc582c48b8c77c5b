package organisation_repository

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type organisationRepositoryMetrics struct {
	sqlOrganisationRegistrationDuration   prometheus.Histogram
	sqlOrganisationUnregistrationDuration prometheus.Histogram
	sqlOrganisationLookupDuration         prometheus.Histogram
	sqlOrganisationListDuration           prometheus.Histogram
}

func newMetrics() *organisationRepositoryMetrics {
	metrics := new(organisationRepositoryMetrics)

	metrics.sqlOrganisationRegistrationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "saas_connector_sql_register_organisation_duration",
		Help: "The amount of time it took to register an organisation in the db",
	})

	metrics.sqlOrganisationUnregistrationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "saas_connector_sql_unregister_organisation_duration",
		Help: "The amount of time it took to unregister an organisation in the db",
	})

	metrics.sqlOrganisationLookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "saas_connector_sql_lookup_organisation_duration",
		Help: "The amount of time it took to look up an organisation in the db",
	})

	metrics.sqlOrganisationListDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "saas_connector_sql_list_organisations_duration",
		Help: "The amount of time it took to list organisations from the db",
	})

	return metrics
}

var (
	metrics = newMetrics()
)
