package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Runner loop metrics
	ReconcilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_reconciles_total",
			Help: "Total number of reconcile calls by executor kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_reconcile_duration_seconds",
			Help:    "Duration of a single reconcile call in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	FullReconciliationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_full_reconciliations_total",
			Help: "Total number of full reconciliations",
		},
	)

	FullReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_full_reconciliation_duration_seconds",
			Help:    "Duration of a full reconciliation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PendingRetries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_pending_retries",
			Help: "Number of resources waiting for a delayed retry",
		},
	)

	// Update source metrics
	SourceEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_source_events_total",
			Help: "Total number of desired-state events received by type",
		},
		[]string{"type"},
	)

	SourceReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_source_reconnects_total",
			Help: "Total number of update source reconnect attempts",
		},
	)

	SourceMalformedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_source_malformed_messages_total",
			Help: "Total number of dropped malformed update messages",
		},
	)

	// Desired state metrics
	DeploymentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_deployments_total",
			Help: "Total number of deployments by status",
		},
		[]string{"status"},
	)

	EdgeRoutesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_edge_routes_total",
			Help: "Total number of published edge routing entries",
		},
	)

	CertificatesIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_certificates_issued_total",
			Help: "Total number of deployment certificates issued",
		},
	)

	ComponentUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_component_up",
			Help: "1 while a runner component reports healthy, 0 otherwise",
		},
		[]string{"component"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of local API requests by route and status",
		},
		[]string{"route", "status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ReconcilesTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(FullReconciliationsTotal)
	prometheus.MustRegister(FullReconciliationDuration)
	prometheus.MustRegister(PendingRetries)
	prometheus.MustRegister(SourceEventsTotal)
	prometheus.MustRegister(SourceReconnectsTotal)
	prometheus.MustRegister(SourceMalformedTotal)
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(EdgeRoutesTotal)
	prometheus.MustRegister(CertificatesIssuedTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(ComponentUp)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
