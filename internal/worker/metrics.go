package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	// dispatchOutcomes counts finalised messages by outcome kind.
	dispatchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txmail_dispatch_messages_total",
			Help: "Messages finalised by the dispatcher, by outcome.",
		},
		[]string{"outcome"},
	)

	dispatchClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "txmail_dispatch_claimed_total",
			Help: "Messages claimed by the dispatcher.",
		},
	)

	dispatchBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "txmail_dispatch_batch_duration_seconds",
			Help:    "Time from claim to commit of one dispatch batch.",
			Buckets: prometheus.DefBuckets,
		},
	)

	sendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txmail_transport_send_duration_seconds",
			Help:    "Duration of transport hand-offs.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txmail_webhook_deliveries_total",
			Help: "Webhook delivery attempts, by result.",
		},
		[]string{"result"},
	)

	webhookDeactivations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "txmail_webhook_deactivations_total",
			Help: "Webhooks disabled after reaching the failure threshold.",
		},
	)

	maintenanceRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txmail_maintenance_runs_total",
			Help: "Maintenance job executions, by job and result.",
		},
		[]string{"job", "result"},
	)
)

func init() {
	prometheus.MustRegister(dispatchOutcomes, dispatchClaimed, dispatchBatchDuration, sendDuration,
		webhookDeliveries, webhookDeactivations, maintenanceRuns)
}
