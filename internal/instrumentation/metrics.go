package instrumentation

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	counterTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metrics_spooler_counter_total",
		Help: "Named relay counters (attemptedRelays, sent, batchesSent, fullQueueDrops, queuedUntilConnected)",
	}, []string{"name"})

	maxGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "metrics_spooler_max_gauge",
		Help: "Named high-watermark gauges (relayMaxQueueLength)",
	}, []string{"name"})
)

func init() {
	prometheus.MustRegister(counterTotal)
	prometheus.MustRegister(maxGauge)
}
