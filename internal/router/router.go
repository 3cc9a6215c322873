// Package router maps metric names to the destinations they relay to.
package router

import (
	"strings"
	"sync"

	"github.com/relaykit/metrics-spooler/internal/datapoint"
)

// Router resolves a metric name to an ordered set of destinations. The
// client manager registers every destination it owns and consults the
// router on each relayed datapoint. A metric may map to zero, one, or many
// destinations.
type Router interface {
	Destinations(metric string) []datapoint.Destination
	AddDestination(d datapoint.Destination)
	RemoveDestination(d datapoint.Destination)
}

// Rule routes metrics whose name starts with Prefix to the listed
// destinations. An empty prefix matches every metric.
type Rule struct {
	Prefix       string
	Destinations []datapoint.Destination
}

// PrefixRouter routes by longest-configured-first prefix rules. Metrics that
// match no rule fan out to every registered destination, so a rule-less
// router is a plain broadcast.
type PrefixRouter struct {
	mu    sync.RWMutex
	rules []Rule
	dests []datapoint.Destination
}

// NewPrefixRouter builds a router from the given rules. Rules are evaluated
// in order; the first match wins.
func NewPrefixRouter(rules []Rule) *PrefixRouter {
	return &PrefixRouter{rules: rules}
}

// Destinations returns the targets for a metric, restricted to destinations
// that are currently registered.
func (r *PrefixRouter) Destinations(metric string) []datapoint.Destination {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rule := range r.rules {
		if strings.HasPrefix(metric, rule.Prefix) {
			return r.registered(rule.Destinations)
		}
	}
	out := make([]datapoint.Destination, len(r.dests))
	copy(out, r.dests)
	return out
}

// registered filters wanted down to destinations currently known to the
// router, preserving order. Callers hold r.mu.
func (r *PrefixRouter) registered(wanted []datapoint.Destination) []datapoint.Destination {
	out := make([]datapoint.Destination, 0, len(wanted))
	for _, w := range wanted {
		for _, d := range r.dests {
			if w == d {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// AddDestination registers a destination. Duplicate registrations are
// ignored.
func (r *PrefixRouter) AddDestination(d datapoint.Destination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.dests {
		if existing == d {
			return
		}
	}
	r.dests = append(r.dests, d)
}

// RemoveDestination deregisters a destination.
func (r *PrefixRouter) RemoveDestination(d datapoint.Destination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.dests {
		if existing == d {
			r.dests = append(r.dests[:i], r.dests[i+1:]...)
			return
		}
	}
}
