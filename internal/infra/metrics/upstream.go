package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		upstreamDuration,
		upstreamErrors,
	)
}

var (
	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_upstream_duration_seconds",
			Help:    "Duration of outbound gateway calls by provider and operation.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"provider", "op"},
	)

	upstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_upstream_errors_total",
			Help: "Outbound gateway call failures by provider and kind (timeout|transport).",
		},
		[]string{"provider", "kind"},
	)
)

func ObserveUpstreamDuration(provider, op string, d time.Duration) {
	upstreamDuration.WithLabelValues(norm(provider), norm(op)).Observe(d.Seconds())
}

func IncUpstreamError(provider, kind string) {
	upstreamErrors.WithLabelValues(norm(provider), norm(kind)).Inc()
}
