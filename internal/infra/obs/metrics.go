package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"staybook/internal/app/policies"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	ledgerConflicts *prometheus.CounterVec
	holdsCreated    prometheus.Counter
	holdsExpired    prometheus.Counter
	bookingsExpired prometheus.Counter
	webhooks        *prometheus.CounterVec
	refunds         *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewMetrics registers collectors with reg; nil means the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ledgerConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staybook",
			Name:      "ledger_conflicts_total",
			Help:      "Claims rejected because a night was already taken",
		}, []string{"kind"}),
		holdsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "staybook",
			Name:      "holds_created_total",
			Help:      "Holds placed on inventory",
		}),
		holdsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "staybook",
			Name:      "holds_expired_total",
			Help:      "Holds released by the reaper",
		}),
		bookingsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "staybook",
			Name:      "bookings_expired_total",
			Help:      "Pending bookings expired for missing payment",
		}),
		webhooks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staybook",
			Name:      "webhooks_total",
			Help:      "Payment webhooks by provider and result",
		}, []string{"provider", "result"}),
		refunds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staybook",
			Name:      "refund_dispatch_total",
			Help:      "Refund dispatch attempts by outcome",
		}, []string{"outcome"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "staybook",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) LedgerConflict(kind string) { m.ledgerConflicts.WithLabelValues(kind).Inc() }
func (m *Metrics) HoldCreated()               { m.holdsCreated.Inc() }
func (m *Metrics) HoldsExpired(n int)         { m.holdsExpired.Add(float64(n)) }
func (m *Metrics) BookingsExpired(n int)      { m.bookingsExpired.Add(float64(n)) }

func (m *Metrics) WebhookResult(provider, result string) {
	m.webhooks.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) RefundDispatch(outcome string) {
	m.refunds.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	m.httpDuration.WithLabelValues(method, route, status).Observe(elapsed.Seconds())
}

var _ policies.Metrics = (*Metrics)(nil)
