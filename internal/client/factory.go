package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/relaykit/metrics-spooler/internal/config"
	"github.com/relaykit/metrics-spooler/internal/datapoint"
	"github.com/relaykit/metrics-spooler/internal/instrumentation"
	"github.com/relaykit/metrics-spooler/internal/logging"
	"github.com/relaykit/metrics-spooler/internal/notify"
	"github.com/relaykit/metrics-spooler/internal/queue"
	"github.com/relaykit/metrics-spooler/internal/spool"
)

// Factory owns everything belonging to one destination: the holding queue,
// the spool writer, the current connection, and the reconnect schedule.
// Queue and spool state survive reconnects; only the connection comes and
// goes.
type Factory struct {
	dest datapoint.Destination
	cfg  config.Config
	inst *instrumentation.Store

	queue *queue.Queue
	spool *spool.Writer
	dial  DialFunc

	// Lifecycle signals. Each fires once and re-arms (see notify.Signal).
	ConnectionMade *notify.Signal
	ConnectionLost *notify.Signal
	QueueEmpty     *notify.Signal
	QueueFull      *notify.Signal
	QueueHasSpace  *notify.Signal

	mu        sync.Mutex
	conn      *connection
	fullFired bool

	state atomic.Int32

	wake      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	done      chan struct{}

	lowWatermark int

	// Per-destination counter names, carbon style.
	attemptedRelays      string
	sent                 string
	batchesSent          string
	fullQueueDrops       string
	queuedUntilConnected string
	relayMaxQueueLength  string
}

// NewFactory creates the queue and spool writer for dest. The factory does
// not connect until Start is called.
func NewFactory(cfg config.Config, dest datapoint.Destination, inst *instrumentation.Store) (*Factory, error) {
	w, err := spool.NewWriter(cfg.SpoolDir, dest, cfg.FlushInterval)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	name := dest.Name()
	f := &Factory{
		dest:           dest,
		cfg:            cfg,
		inst:           inst,
		queue:          queue.New(),
		spool:          w,
		ConnectionMade: notify.NewSignal(),
		ConnectionLost: notify.NewSignal(),
		QueueEmpty:     notify.NewSignal(),
		QueueFull:      notify.NewSignal(),
		QueueHasSpace:  notify.NewSignal(),
		wake:           make(chan struct{}, 1),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		lowWatermark:   int(cfg.QueueLowWatermark * float64(cfg.MaxQueueSize)),

		attemptedRelays:      "destinations." + name + ".attemptedRelays",
		sent:                 "destinations." + name + ".sent",
		batchesSent:          "destinations." + name + ".batchesSent",
		fullQueueDrops:       "destinations." + name + ".fullQueueDrops",
		queuedUntilConnected: "destinations." + name + ".queuedUntilConnected",
		relayMaxQueueLength:  "destinations." + name + ".relayMaxQueueLength",
	}
	f.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	return f, nil
}

// Destination returns the destination this factory serves.
func (f *Factory) Destination() datapoint.Destination {
	return f.dest
}

// State returns the current connection state.
func (f *Factory) State() ConnState {
	return ConnState(f.state.Load())
}

// QueueLen returns the number of datapoints currently queued.
func (f *Factory) QueueLen() int {
	return f.queue.Len()
}

// Start launches the factory's worker goroutine, which owns connecting,
// backoff, and draining for this destination.
func (f *Factory) Start() {
	f.startOnce.Do(func() {
		f.started.Store(true)
		go f.run()
	})
}

// Stop halts future reconnect attempts, lets a live connection finish
// draining the queue into the spool, closes it, and returns once the worker
// has torn down. Queued data is never discarded to shut down faster.
func (f *Factory) Stop(ctx context.Context) error {
	f.stopOnce.Do(func() {
		f.cancel()
		f.wakeDrain()
	})
	if !f.started.Load() {
		// The worker never ran, so nothing else owns the spool writer.
		return f.spool.Close()
	}
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue queues a normal-priority datapoint. At capacity the datapoint is
// dropped, counted, and the queue-full signal fires once until space
// reopens.
func (f *Factory) Enqueue(p datapoint.Datapoint) {
	f.inst.Increment(f.attemptedRelays)

	f.mu.Lock()
	if f.queue.Len() >= f.cfg.MaxQueueSize {
		fire := !f.fullFired
		f.fullFired = true
		connected := f.conn != nil
		f.mu.Unlock()

		f.inst.Increment(f.fullQueueDrops)
		fullQueueDropsTotal.WithLabelValues(f.dest.Name()).Inc()
		if fire {
			f.QueueFull.Fire()
			logging.Warn("send queue is full", logging.F(
				"destination", f.dest.String(),
				"queue_size", f.cfg.MaxQueueSize,
			))
		}
		f.afterEnqueue(connected)
		return
	}
	f.queue.PushBack(p)
	connected := f.conn != nil
	f.mu.Unlock()

	f.afterEnqueue(connected)
}

// EnqueueHighPriority queues a datapoint at the head of the queue, ahead of
// all normal traffic, and is exempt from the capacity limit. Self-health
// metrics use this path so they still get through when the relay is
// saturated.
func (f *Factory) EnqueueHighPriority(p datapoint.Datapoint) {
	f.inst.Increment(f.attemptedRelays)

	f.mu.Lock()
	f.queue.PushFront(p)
	connected := f.conn != nil
	f.mu.Unlock()

	f.afterEnqueue(connected)
}

func (f *Factory) afterEnqueue(connected bool) {
	if !connected {
		f.inst.Increment(f.queuedUntilConnected)
		return
	}
	if d := f.cfg.DrainDeferral; d > 0 {
		time.AfterFunc(d, f.wakeDrain)
		return
	}
	f.wakeDrain()
}

func (f *Factory) wakeDrain() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// run is the factory's worker loop: connect with backoff, drain while
// connected, repeat until stopped.
func (f *Factory) run() {
	defer close(f.done)
	defer func() {
		if err := f.spool.Close(); err != nil {
			logging.Error("spool close failed", logging.F(
				"destination", f.dest.String(),
				"error", err.Error(),
			))
		}
	}()

	bo := newReconnectBackoff(f.cfg)
	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		f.setState(Connecting)
		logging.Debug("connecting", logging.F("destination", f.dest.String()))

		dialCtx, cancel := context.WithTimeout(f.ctx, f.cfg.DialTimeout)
		nc, err := f.dial(dialCtx, f.dest.Addr())
		cancel()
		if err != nil {
			f.setState(Disconnected)
			if f.ctx.Err() != nil {
				return
			}
			connectFailuresTotal.WithLabelValues(f.dest.Name()).Inc()
			delay := bo.NextBackOff()
			logging.Debug("connection failed", logging.F(
				"destination", f.dest.String(),
				"error", err.Error(),
				"retry_in", delay.String(),
			))
			select {
			case <-f.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		bo.Reset()
		c := newConnection(nc)
		f.mu.Lock()
		f.conn = c
		f.mu.Unlock()
		f.setState(Connected)
		f.ConnectionMade.Fire()
		logging.Debug("connected", logging.F("destination", f.dest.String()))

		f.drainWhileConnected(c)

		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		f.setState(Disconnected)
		f.ConnectionLost.Fire()
		logging.Debug("connection lost", logging.F("destination", f.dest.String()))

		if f.ctx.Err() != nil {
			return
		}
	}
}

// drainWhileConnected moves queued datapoints into the spool for as long as
// the connection stays up. One batch is processed per cycle; the loop
// iteration is the yield point, so a long backlog cannot starve the rest of
// the process.
func (f *Factory) drainWhileConnected(c *connection) {
	for {
		for f.sendQueued() {
			select {
			case <-c.Lost():
				_ = c.Close()
				return
			case <-f.ctx.Done():
				f.finishAndClose(c)
				return
			default:
			}
		}
		select {
		case <-c.Lost():
			_ = c.Close()
			return
		case <-f.ctx.Done():
			f.finishAndClose(c)
			return
		case <-f.wake:
		}
	}
}

// finishAndClose drains whatever remains and closes the connection. The
// writes go to local disk, so this terminates quickly regardless of network
// conditions.
func (f *Factory) finishAndClose(c *connection) {
	for f.sendQueued() {
	}
	_ = c.Close()
}

// sendQueued runs one drain cycle: rotate the spool if due, move one batch
// from the queue head into the spool, and fire the flow-control signals.
// It reports whether datapoints remain queued.
func (f *Factory) sendQueued() bool {
	size := f.queue.Len()
	f.inst.Max(f.relayMaxQueueLength, int64(size))
	queueLength.WithLabelValues(f.dest.Name()).Set(float64(size))
	if size == 0 {
		return false
	}

	if !time.Now().Before(f.spool.NextFlushTime()) {
		if err := f.spool.Rotate(); err != nil {
			logging.Error("spool rotation failed", logging.F(
				"destination", f.dest.String(),
				"error", err.Error(),
			))
		}
	}

	batch := f.queue.TakeUpTo(f.cfg.MaxDatapointsPerBatch)
	if err := f.spool.WriteBatch(batch); err != nil {
		// Put the batch back in order and retry on the next wake.
		for i := len(batch) - 1; i >= 0; i-- {
			f.queue.PushFront(batch[i])
		}
		logging.Error("spool write failed", logging.F(
			"destination", f.dest.String(),
			"batch_size", len(batch),
			"error", err.Error(),
		))
		return false
	}
	f.inst.Add(f.sent, int64(len(batch)))
	f.inst.Increment(f.batchesSent)

	remaining := f.queue.Len()
	queueLength.WithLabelValues(f.dest.Name()).Set(float64(remaining))

	f.mu.Lock()
	fireSpace := f.fullFired && remaining < f.lowWatermark
	if fireSpace {
		f.fullFired = false
	}
	f.mu.Unlock()
	if fireSpace {
		f.QueueHasSpace.Fire()
		logging.Debug("send queue has space available", logging.F(
			"destination", f.dest.String(),
			"queue_size", remaining,
		))
	}

	if remaining == 0 {
		f.QueueEmpty.Fire()
		return false
	}
	return true
}

func (f *Factory) setState(s ConnState) {
	f.state.Store(int32(s))
	var v float64
	if s == Connected {
		v = 1
	}
	connectionUp.WithLabelValues(f.dest.Name()).Set(v)
}

// newReconnectBackoff builds the reconnect delay schedule: delays double
// from the configured minimum up to the cap, with no retry limit. Reset
// returns it to the minimum after a successful connection.
func newReconnectBackoff(cfg config.Config) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.ReconnectMinDelay
	bo.MaxInterval = cfg.ReconnectMaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.Reset()
	return bo
}
