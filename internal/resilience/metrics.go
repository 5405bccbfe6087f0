package resilience

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BreakerState exposes the current breaker state per target
	// (0 closed, 1 open, 2 half-open).
	BreakerState *prometheus.GaugeVec

	// BreakerTransitions counts state transitions per target.
	BreakerTransitions *prometheus.CounterVec

	// BreakerOpenedTotal counts how many times each breaker opened.
	BreakerOpenedTotal *prometheus.CounterVec
)

// MustRegisterMetrics registers breaker metrics on the provided registerer.
// Registration is tolerant of duplicates so tests sharing the default
// registry do not panic.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "breaker_state",
		Help:      "Circuit breaker state per target (0 closed, 1 open, 2 half-open).",
	}, []string{"target"})
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker state transitions per target.",
	}, []string{"target", "from_state", "to_state"})
	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaker_opened_total",
		Help:      "Number of times each circuit breaker opened.",
	}, []string{"target"})

	BreakerState = registerGaugeVec(reg, BreakerState)
	BreakerTransitions = registerCounterVec(reg, BreakerTransitions)
	BreakerOpenedTotal = registerCounterVec(reg, BreakerOpenedTotal)
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
		panic(err)
	}
	return c
}

func registerGaugeVec(reg prometheus.Registerer, g *prometheus.GaugeVec) *prometheus.GaugeVec {
	if err := reg.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(*prometheus.GaugeVec)
		}
		panic(err)
	}
	return g
}
