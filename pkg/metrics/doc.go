/*
Package metrics exposes burrow's Prometheus metrics and component health.

Metrics are package-level collectors registered in init and served by
Handler on /metrics. The runner records one ReconcilesTotal sample and one
ReconcileDuration observation per reconcile call:

	timer := metrics.NewTimer()
	outcome := exec.Reconcile(ctx, id)
	timer.ObserveDurationVec(metrics.ReconcileDuration, exec.Kind())
	metrics.ReconcilesTotal.WithLabelValues(exec.Kind(), outcome.Kind.String()).Inc()

Gauges that are cheaper to poll than to track (deployments by status, edge
routes) are sampled every 15 seconds by a Collector.

# Health

Components report their state with RegisterComponent and UpdateComponent,
which also set the burrow_component_up gauge. GetHealth is unhealthy when
any component is. GetReadiness only looks at the critical components
(source, orchestrator, store by default) and waits until each is registered
and healthy. The HTTP side lives in pkg/api.
*/
package metrics
