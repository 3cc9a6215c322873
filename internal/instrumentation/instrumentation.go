// Package instrumentation keeps named per-destination counters and
// high-watermark gauges. Counter names follow the carbon convention,
// e.g. destinations.<host>_<port>_<instance>.sent. Every update is mirrored
// to Prometheus so the values show up on the /metrics endpoint.
package instrumentation

import (
	"sync"
)

// Store holds named counters and max-gauges.
type Store struct {
	mu       sync.RWMutex
	counters map[string]int64
	gauges   map[string]int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		counters: make(map[string]int64),
		gauges:   make(map[string]int64),
	}
}

// Increment adds one to the named counter.
func (s *Store) Increment(name string) {
	s.Add(name, 1)
}

// Add adds n to the named counter.
func (s *Store) Add(name string, n int64) {
	s.mu.Lock()
	s.counters[name] += n
	s.mu.Unlock()
	counterTotal.WithLabelValues(name).Add(float64(n))
}

// Max raises the named gauge to v if v is larger than its current value.
func (s *Store) Max(name string, v int64) {
	s.mu.Lock()
	if v > s.gauges[name] {
		s.gauges[name] = v
		s.mu.Unlock()
		maxGauge.WithLabelValues(name).Set(float64(v))
		return
	}
	s.mu.Unlock()
}

// Counter returns the current value of the named counter.
func (s *Store) Counter(name string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[name]
}

// Gauge returns the current value of the named max-gauge.
func (s *Store) Gauge(name string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gauges[name]
}

// Snapshot returns a copy of all counters and gauges, used by the
// self-monitoring publisher to feed values back into the relay.
func (s *Store) Snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.counters)+len(s.gauges))
	for k, v := range s.counters {
		out[k] = v
	}
	for k, v := range s.gauges {
		out[k] = v
	}
	return out
}

// SnapshotAndReset returns all counters and gauges and zeroes them for the
// next recording interval. Counters report per-interval deltas and
// max-gauges report per-interval high watermarks; the Prometheus mirrors
// stay cumulative.
func (s *Store) SnapshotAndReset() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters)+len(s.gauges))
	for k, v := range s.counters {
		out[k] = v
		s.counters[k] = 0
	}
	for k, v := range s.gauges {
		out[k] = v
		s.gauges[k] = 0
	}
	return out
}
