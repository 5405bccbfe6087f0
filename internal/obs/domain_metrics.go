package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// WebhookEventsTotal counts inbound webhook deliveries by event type and outcome.
	WebhookEventsTotal *prometheus.CounterVec
	// WebhookInsecureAccepts counts deliveries accepted with signature checking disabled.
	WebhookInsecureAccepts prometheus.Counter
	// WebhookMerchantMismatches counts deliveries dropped for tenant ownership violations.
	WebhookMerchantMismatches prometheus.Counter
	// WebhookUnmatchedOrders counts deliveries that resolved to no local order.
	WebhookUnmatchedOrders prometheus.Counter
	// ProviderCallDuration records outbound provider API call latency in milliseconds.
	ProviderCallDuration *prometheus.HistogramVec
	// OutboxAttemptsTotal counts outbox task processing attempts by result.
	OutboxAttemptsTotal *prometheus.CounterVec
	// OutboxDLQTotal counts outbox tasks moved to the dead-letter table.
	OutboxDLQTotal prometheus.Counter
	// CheckoutSessionsTotal counts checkout session creations by result.
	CheckoutSessionsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		WebhookEventsTotal = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Count of inbound webhook deliveries by event type and outcome.",
		}, []string{"type", "outcome"}))
		WebhookInsecureAccepts = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_insecure_accepts_total",
			Help:      "Deliveries accepted while no webhook secret is configured.",
		}))
		WebhookMerchantMismatches = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_merchant_mismatch_total",
			Help:      "Deliveries dropped because the merchant claim did not match the order.",
		}))
		WebhookUnmatchedOrders = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_unmatched_orders_total",
			Help:      "Deliveries whose origin id resolved to no local order.",
		}))
		ProviderCallDuration = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_ms",
			Help:      "Latency of outbound provider API calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"operation", "result"}))
		OutboxAttemptsTotal = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_attempts_total",
			Help:      "Outbox task processing attempts by result.",
		}, []string{"result"}))
		OutboxDLQTotal = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_dlq_total",
			Help:      "Outbox tasks moved to the dead-letter table after exhausting retries.",
		}))
		CheckoutSessionsTotal = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_sessions_total",
			Help:      "Checkout session creation outcomes.",
		}, []string{"result"}))
	})
}
