package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

var (
	DecisionsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "abusegate_decisions_total",
			Help: "Security pipeline decisions by component and outcome",
		},
		[]string{"component", "outcome"},
	)

	BlocksTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "abusegate_blocks_total",
			Help: "IP blocks created, by reason",
		},
		[]string{"reason"},
	)

	AssessmentsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "abusegate_assessments_total",
			Help: "Behavioral risk assessments by tier",
		},
		[]string{"tier"},
	)

	AuditDroppedTotal = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "abusegate_audit_dropped_total",
			Help: "Audit events dropped because the write queue was full",
		},
	)

	StoreFailuresTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "abusegate_store_failures_total",
			Help: "Counter store failures by component",
		},
		[]string{"component"},
	)
)

// Registry exposes the engine registry to the metrics endpoint.
func Registry() *prometheus.Registry {
	return registry
}
