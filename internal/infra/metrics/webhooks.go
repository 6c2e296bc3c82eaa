package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhooksReceived,
		webhooksRejected,
		webhooksHandled,
	)
}

var (
	webhooksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_received_total",
			Help: "Webhook deliveries received per provider.",
		},
		[]string{"provider"},
	)

	webhooksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_rejected_total",
			Help: "Webhook deliveries rejected per provider and bounded reason.",
		},
		[]string{"provider", "reason"}, // signature|replay|unknown_provider
	)

	webhooksHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_handled_total",
			Help: "Webhook events applied per provider and resulting status.",
		},
		[]string{"provider", "status"},
	)
)

func IncWebhookReceived(provider string) { webhooksReceived.WithLabelValues(norm(provider)).Inc() }
func IncWebhookRejected(provider, reason string) {
	webhooksRejected.WithLabelValues(norm(provider), norm(reason)).Inc()
}
func IncWebhookHandled(provider, status string) {
	webhooksHandled.WithLabelValues(norm(provider), norm(status)).Inc()
}
