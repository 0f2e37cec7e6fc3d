package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SendsTotal counts sends the carrier accepted.
	SendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sms_dispatch_sends_total",
		Help: "Outbound messages accepted by the carrier.",
	})

	// SendFailuresTotal counts sends rejected at send time.
	SendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sms_dispatch_send_failures_total",
		Help: "Outbound messages rejected by the carrier at send time.",
	})

	// ReconcileTicksTotal counts reconciliation status checks.
	ReconcileTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sms_dispatch_reconcile_ticks_total",
		Help: "Status reconciliation ticks across all watched messages.",
	})

	// OutcomesTotal counts terminal reconciliation outcomes by result.
	OutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sms_dispatch_outcomes_total",
		Help: "Terminal reconciliation outcomes.",
	}, []string{"outcome"})

	// WebhookCallbacksTotal counts accepted carrier status callbacks.
	WebhookCallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sms_dispatch_webhook_callbacks_total",
		Help: "Carrier status callbacks accepted by the webhook receiver.",
	})

	// WebhookRejectedTotal counts callbacks rejected for missing identifiers.
	WebhookRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sms_dispatch_webhook_rejected_total",
		Help: "Carrier status callbacks rejected by the webhook receiver.",
	})
)

// Handler exposes the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
