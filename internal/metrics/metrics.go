package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bcast_messages_total",
			Help: "Broadcast message lifecycle counter by stage",
		},
		[]string{"stage"}, // queued|sent|retried|deferred|failed
	)

	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bcast_admissions_total",
			Help: "Campaign submissions by admission outcome",
		},
		[]string{"outcome"}, // accepted|outside_hours|running|invalid
	)

	BatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bcast_batches_total",
			Help: "Batches dispatched across all tenants",
		},
	)

	RunningCampaigns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bcast_running_campaigns",
			Help: "Tenant queues currently processing",
		},
	)

	SendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bcast_gateway_send_seconds",
			Help:    "Latency of single gateway send calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bcast_delivery_log_rows_total",
			Help: "Delivery log rows by write result",
		},
		[]string{"result"}, // written|dropped|failed
	)

	IntakeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bcast_intake_requests_total",
			Help: "Broadcast requests consumed from Kafka by result",
		},
		[]string{"result"}, // accepted|rejected|invalid
	)
)

var registerOnce sync.Once

// MustRegister registers all collectors once; serve and the intake worker both call it.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			MessagesTotal,
			AdmissionsTotal,
			BatchesTotal,
			RunningCampaigns,
			SendDuration,
			DeliveriesTotal,
			IntakeTotal,
		)
	})
}
