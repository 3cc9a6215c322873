package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	observedDatapointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metrics_spooler_observed_datapoints_total",
			Help: "Datapoints relayed per destination as seen by the stats collector.",
		},
		[]string{"destination"},
	)
	uniqueSeries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "metrics_spooler_unique_series",
			Help: "Estimated unique metric names per destination in the current window.",
		},
		[]string{"destination"},
	)
)

func init() {
	prometheus.MustRegister(observedDatapointsTotal, uniqueSeries)
}
