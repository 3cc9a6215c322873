package client

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/relaykit/metrics-spooler/internal/config"
	"github.com/relaykit/metrics-spooler/internal/datapoint"
	"github.com/relaykit/metrics-spooler/internal/instrumentation"
	"github.com/relaykit/metrics-spooler/internal/logging"
	"github.com/relaykit/metrics-spooler/internal/router"
)

// Observer sees every datapoint relayed to a destination. The stats
// collector hangs off this.
type Observer interface {
	Observe(dest datapoint.Destination, p datapoint.Datapoint)
}

// Manager owns one factory per configured destination and fans incoming
// datapoints out to them according to the router.
type Manager struct {
	cfg    config.Config
	inst   *instrumentation.Store
	router router.Router

	// observer is optional; nil means no per-datapoint observation.
	observer Observer

	// dial overrides the factories' dial function when set (tests).
	dial DialFunc

	mu        sync.Mutex
	factories map[datapoint.Destination]*Factory
	running   bool
}

// NewManager returns a manager with no destinations.
func NewManager(cfg config.Config, rt router.Router, inst *instrumentation.Store, obs Observer) *Manager {
	return &Manager{
		cfg:       cfg,
		inst:      inst,
		router:    rt,
		observer:  obs,
		factories: make(map[datapoint.Destination]*Factory),
	}
}

// AddDestination creates and registers a factory for dest. If the manager
// is running, the factory starts connecting immediately.
func (m *Manager) AddDestination(dest datapoint.Destination) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.factories[dest]; ok {
		return nil
	}

	f, err := NewFactory(m.cfg, dest, m.inst)
	if err != nil {
		return fmt.Errorf("client: add destination %s: %w", dest, err)
	}
	if m.dial != nil {
		f.dial = m.dial
	}
	m.factories[dest] = f
	m.router.AddDestination(dest)
	logging.Info("destination added", logging.F("destination", dest.String()))

	if m.running {
		f.Start()
	}
	return nil
}

// RemoveDestination deregisters dest from the router, stops its factory
// (draining the queue while a connection is live), and forgets it.
func (m *Manager) RemoveDestination(ctx context.Context, dest datapoint.Destination) error {
	m.mu.Lock()
	f, ok := m.factories[dest]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.factories, dest)
	m.router.RemoveDestination(dest)
	m.mu.Unlock()

	logging.Info("destination removed", logging.F("destination", dest.String()))
	return f.Stop(ctx)
}

// Start launches all factories.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = true
	for _, f := range m.factories {
		f.Start()
	}
}

// Stop stops every factory and waits for them all to drain and tear down.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.running = false
	factories := make([]*Factory, 0, len(m.factories))
	for _, f := range m.factories {
		factories = append(factories, f)
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, f := range factories {
		g.Go(func() error { return f.Stop(ctx) })
	}
	return g.Wait()
}

// SendDatapoint relays a normal-priority datapoint to every destination the
// router maps its metric to. Zero destinations is a no-op.
func (m *Manager) SendDatapoint(p datapoint.Datapoint) {
	m.send(p, false)
}

// SendHighPriorityDatapoint relays a datapoint on the capacity-exempt
// head-of-queue path; used for the relay's own health metrics.
func (m *Manager) SendHighPriorityDatapoint(p datapoint.Datapoint) {
	m.send(p, true)
}

func (m *Manager) send(p datapoint.Datapoint, highPriority bool) {
	for _, dest := range m.router.Destinations(p.Metric) {
		m.mu.Lock()
		f, ok := m.factories[dest]
		m.mu.Unlock()
		if !ok {
			continue
		}
		if highPriority {
			f.EnqueueHighPriority(p)
		} else {
			f.Enqueue(p)
		}
		if m.observer != nil {
			m.observer.Observe(dest, p)
		}
	}
}

// Factory returns the factory serving dest, if any. Used by callers that
// want to watch a destination's flow-control signals.
func (m *Manager) Factory(dest datapoint.Destination) (*Factory, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.factories[dest]
	return f, ok
}
