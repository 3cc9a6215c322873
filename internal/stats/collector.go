// Package stats observes the datapoint flow toward each destination. It
// keeps a fixed-memory unique-series estimate per destination with
// HyperLogLog and a Bloom filter of metric names so a metric showing up for
// the first time can be logged once instead of on every relay.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/axiomhq/hyperloglog"
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/relaykit/metrics-spooler/internal/datapoint"
	"github.com/relaykit/metrics-spooler/internal/logging"
)

// bloom sizing: enough for a large metric namespace at a 1% false positive
// rate while staying around a megabyte of memory.
const (
	expectedMetricNames = 1_000_000
	falsePositiveRate   = 0.01
)

// Collector implements the client Observer interface.
type Collector struct {
	mu      sync.RWMutex
	perDest map[datapoint.Destination]*destStats

	firstSeen  *bloom.BloomFilter
	newMetrics uint64

	totalDatapoints uint64
}

type destStats struct {
	sketch     *hyperloglog.Sketch
	datapoints uint64
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		perDest:   make(map[datapoint.Destination]*destStats),
		firstSeen: bloom.NewWithEstimates(expectedMetricNames, falsePositiveRate),
	}
}

// Observe records one datapoint relayed to dest.
func (c *Collector) Observe(dest datapoint.Destination, p datapoint.Datapoint) {
	c.mu.Lock()
	ds, ok := c.perDest[dest]
	if !ok {
		ds = &destStats{sketch: hyperloglog.New()}
		c.perDest[dest] = ds
	}
	ds.datapoints++
	c.totalDatapoints++
	ds.sketch.Insert([]byte(p.Metric))
	observedDatapointsTotal.WithLabelValues(dest.Name()).Inc()

	isNew := !c.firstSeen.TestString(p.Metric)
	if isNew {
		c.firstSeen.AddString(p.Metric)
		c.newMetrics++
	}
	c.mu.Unlock()

	if isNew {
		logging.Debug("new metric observed", logging.F(
			"metric", p.Metric,
			"destination", dest.String(),
		))
	}
}

// UniqueSeries returns the estimated number of distinct metric names relayed
// to dest in the current window.
func (c *Collector) UniqueSeries(dest datapoint.Destination) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ds, ok := c.perDest[dest]
	if !ok {
		return 0
	}
	// Estimate may mutate sketch state, so this takes the write lock.
	return int64(ds.sketch.Estimate())
}

// Datapoints returns the number of datapoints relayed to dest.
func (c *Collector) Datapoints(dest datapoint.Destination) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ds, ok := c.perDest[dest]
	if !ok {
		return 0
	}
	return ds.datapoints
}

// TotalDatapoints returns the number of datapoints observed across all
// destinations.
func (c *Collector) TotalDatapoints() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalDatapoints
}

// NewMetricsSeen returns how many metric names were observed for the first
// time. Undercounts slightly at the bloom filter's false positive rate.
func (c *Collector) NewMetricsSeen() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.newMetrics
}

// ResetWindow clears the per-destination cardinality sketches so estimates
// describe the current window rather than the process lifetime. The
// first-seen filter and datapoint counts are kept.
func (c *Collector) ResetWindow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ds := range c.perDest {
		ds.sketch = hyperloglog.New()
	}
}

// StartPeriodicLogging logs per-destination flow stats every interval and
// resets the cardinality window after each report.
func (c *Collector) StartPeriodicLogging(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.logWindow()
			c.ResetWindow()
		}
	}
}

func (c *Collector) logWindow() {
	c.mu.Lock()
	type row struct {
		dest       datapoint.Destination
		unique     uint64
		datapoints uint64
	}
	rows := make([]row, 0, len(c.perDest))
	for dest, ds := range c.perDest {
		rows = append(rows, row{dest: dest, unique: ds.sketch.Estimate(), datapoints: ds.datapoints})
	}
	total := c.totalDatapoints
	c.mu.Unlock()

	for _, r := range rows {
		uniqueSeries.WithLabelValues(r.dest.Name()).Set(float64(r.unique))
		logging.Info("destination stats", logging.F(
			"destination", r.dest.String(),
			"unique_series", r.unique,
			"datapoints_total", r.datapoints,
		))
	}
	logging.Info("stats", logging.F("datapoints_total", total))
}
