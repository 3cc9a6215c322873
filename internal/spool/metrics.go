package spool

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	rotationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metrics_spooler_spool_rotations_total",
		Help: "Total spool file rotations per destination",
	}, []string{"destination"})

	filesReadyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metrics_spooler_spool_files_ready_total",
		Help: "Total non-empty spool files moved into the ready directory",
	}, []string{"destination"})

	spooledBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metrics_spooler_spooled_bytes_total",
		Help: "Total bytes written to spool files per destination",
	}, []string{"destination"})
)

func init() {
	prometheus.MustRegister(rotationsTotal)
	prometheus.MustRegister(filesReadyTotal)
	prometheus.MustRegister(spooledBytesTotal)
}
