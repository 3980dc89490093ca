package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics carries the service counters. Construct it with a dedicated
// registry so tests can build isolated instances.
type Metrics struct {
	OrdersSubmitted  prometheus.Counter
	OrdersCancelled  prometheus.Counter
	Transitions      *prometheus.CounterVec
	SlaChecks        *prometheus.CounterVec
	AuditEvents      prometheus.Counter
	RequestDurations *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OrdersSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_orders_submitted_total",
			Help: "Orders accepted into the lifecycle.",
		}),
		OrdersCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_orders_cancelled_total",
			Help: "Orders moved to the Cancelled state.",
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_status_transitions_total",
			Help: "Successful status transitions by target status.",
		}, []string{"target"}),
		SlaChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_sla_checks_total",
			Help: "SLA classifications by resulting status.",
		}, []string{"status"}),
		AuditEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_audit_events_total",
			Help: "Audit events appended to the ledger.",
		}),
		RequestDurations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fulfillment_http_request_duration_seconds",
			Help:    "HTTP handler latency by route and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
}
