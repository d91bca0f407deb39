package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics records payment ingestion, matching, and callback outcomes.
type GatewayMetrics struct {
	ingested         *prometheus.CounterVec
	matchAttempts    *prometheus.CounterVec
	callbacks        *prometheus.CounterVec
	callbackDuration *prometheus.HistogramVec
}

// NewGatewayMetrics registers the gateway metrics on the provided registerer.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	ingested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_ingested_total",
		Help: "Payments ingested by channel and outcome.",
	}, []string{"channel", "outcome"})
	matchAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "match_attempts_total",
		Help: "Order match attempts by result.",
	}, []string{"result"})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "callback_deliveries_total",
		Help: "Merchant callback deliveries by status.",
	}, []string{"status"})
	callbackDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "callback_duration_seconds",
		Help:    "Duration of merchant callback requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
	reg.MustRegister(ingested, matchAttempts, callbacks, callbackDuration)
	return &GatewayMetrics{
		ingested:         ingested,
		matchAttempts:    matchAttempts,
		callbacks:        callbacks,
		callbackDuration: callbackDuration,
	}
}

// IncIngested counts one ingested payment for the channel/outcome pair.
func (g *GatewayMetrics) IncIngested(channel, outcome string) {
	if g == nil || g.ingested == nil {
		return
	}
	g.ingested.WithLabelValues(normalizeLabel(channel), normalizeLabel(outcome)).Inc()
}

// IncMatchAttempt counts one match attempt with the given result.
func (g *GatewayMetrics) IncMatchAttempt(result string) {
	if g == nil || g.matchAttempts == nil {
		return
	}
	g.matchAttempts.WithLabelValues(normalizeLabel(result)).Inc()
}

// ObserveCallback records one callback delivery and its duration.
func (g *GatewayMetrics) ObserveCallback(status string, duration time.Duration) {
	if g == nil || g.callbacks == nil {
		return
	}
	label := normalizeLabel(status)
	g.callbacks.WithLabelValues(label).Inc()
	g.callbackDuration.WithLabelValues(label).Observe(duration.Seconds())
}
