package client

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	connectionUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "metrics_spooler_connection_up",
		Help: "Whether the destination connection is currently established (1) or not (0)",
	}, []string{"destination"})

	connectFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metrics_spooler_connect_failures_total",
		Help: "Total failed connection attempts per destination",
	}, []string{"destination"})

	fullQueueDropsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metrics_spooler_full_queue_drops_total",
		Help: "Total normal-priority datapoints dropped because the queue was full",
	}, []string{"destination"})

	queueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "metrics_spooler_queue_length",
		Help: "Current number of datapoints queued per destination",
	}, []string{"destination"})
)

func init() {
	prometheus.MustRegister(connectionUp)
	prometheus.MustRegister(connectFailuresTotal)
	prometheus.MustRegister(fullQueueDropsTotal)
	prometheus.MustRegister(queueLength)
}
