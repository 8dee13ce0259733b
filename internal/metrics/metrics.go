package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	// Transfer dispatch
	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_transfers_total",
			Help: "Dispatched ledger entries by outcome",
		},
		[]string{"outcome"}, // completed|held|failed
	)
	SweepReadmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_sweep_readmitted_total",
			Help: "Held entries re-admitted to the dispatch queue",
		},
	)
	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settlement_dispatch_duration_seconds",
			Help:    "Duration of one dispatch cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Withdrawals
	WithdrawalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawals_total",
			Help: "Withdrawal requests by event",
		},
		[]string{"event"}, // created|canceled|queued|paid|failed
	)

	// Worker queue
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
)

var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(TransfersTotal)
	prometheus.MustRegister(SweepReadmittedTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(WithdrawalsTotal)
	prometheus.MustRegister(WorkerQueueDepth)
}
