package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/relaykit/metrics-spooler/internal/config"
	"github.com/relaykit/metrics-spooler/internal/datapoint"
	"github.com/relaykit/metrics-spooler/internal/instrumentation"
)

var testDest = datapoint.Destination{Host: "127.0.0.1", Port: 2004, Instance: "a"}

// pipeDialer hands out the client half of a net.Pipe and keeps the server
// halves so tests can sever connections.
type pipeDialer struct {
	mu        sync.Mutex
	dials     int
	failFirst int
	servers   chan net.Conn
}

func newPipeDialer(failFirst int) *pipeDialer {
	return &pipeDialer{failFirst: failFirst, servers: make(chan net.Conn, 8)}
}

func (d *pipeDialer) dial(_ context.Context, _ string) (net.Conn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.mu.Unlock()
	if n <= d.failFirst {
		return nil, errors.New("connection refused")
	}
	server, client := net.Pipe()
	d.servers <- server
	return client, nil
}

func (d *pipeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.SpoolDir = t.TempDir()
	cfg.MaxQueueSize = 10
	cfg.DrainDeferral = 0
	cfg.ReconnectMinDelay = time.Millisecond
	cfg.ReconnectMaxDelay = 4 * time.Millisecond
	cfg.DialTimeout = time.Second
	return cfg
}

func newTestFactory(t *testing.T, cfg config.Config, dialer *pipeDialer) (*Factory, *instrumentation.Store) {
	t.Helper()
	inst := instrumentation.New()
	f, err := NewFactory(cfg, testDest, inst)
	if err != nil {
		t.Fatalf("Failed to create factory: %v", err)
	}
	if dialer != nil {
		f.dial = dialer.dial
	}
	return f, inst
}

func point(metric string, ts float64) datapoint.Datapoint {
	return datapoint.Datapoint{Metric: metric, Timestamp: ts, Value: 1}
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("Timed out waiting for %s", what)
	}
}

func stopFactory(t *testing.T, f *Factory) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

// readSpool parses every record written for the test destination, in the
// temp and ready directories combined.
func readSpool(t *testing.T, spoolDir string) [][]datapoint.Datapoint {
	t.Helper()
	var records [][]datapoint.Datapoint
	for _, sub := range []string{"temp", "send"} {
		dir := filepath.Join(spoolDir, sub, testDest.Addr())
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			f, err := os.Open(filepath.Join(dir, e.Name()))
			if err != nil {
				t.Fatalf("Failed to open spool file: %v", err)
			}
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				batch, err := datapoint.UnmarshalBatch(scanner.Bytes())
				if err != nil {
					t.Fatalf("Bad spool record %q: %v", scanner.Text(), err)
				}
				records = append(records, batch)
			}
			f.Close()
		}
	}
	return records
}

func TestDrainInBatches(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxDatapointsPerBatch = 2
	dialer := newPipeDialer(0)
	f, inst := newTestFactory(t, cfg, dialer)

	for i := 0; i < 3; i++ {
		f.Enqueue(point(fmt.Sprintf("m%d", i), float64(i)))
	}
	if got := inst.Counter(f.queuedUntilConnected); got != 3 {
		t.Errorf("Expected 3 queuedUntilConnected, got %d", got)
	}

	empty := f.QueueEmpty.C()
	f.Start()
	defer stopFactory(t, f)
	waitSignal(t, empty, "queue-empty signal")

	if got := inst.Counter(f.sent); got != 3 {
		t.Errorf("Expected 3 sent, got %d", got)
	}
	if got := inst.Counter(f.batchesSent); got != 2 {
		t.Errorf("Expected 2 batches, got %d", got)
	}
	if got := f.QueueLen(); got != 0 {
		t.Errorf("Expected empty queue, got %d", got)
	}

	records := readSpool(t, cfg.SpoolDir)
	if len(records) != 2 || len(records[0]) != 2 || len(records[1]) != 1 {
		t.Fatalf("Expected batches of 2 then 1, got %v", records)
	}
	if records[0][0].Metric != "m0" || records[0][1].Metric != "m1" || records[1][0].Metric != "m2" {
		t.Errorf("FIFO order broken: %v", records)
	}
}

func TestHighPriorityBypassesCapacityAndDrainsFirst(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxQueueSize = 5
	cfg.MaxDatapointsPerBatch = 1
	f, inst := newTestFactory(t, cfg, nil)
	defer stopFactory(t, f)

	for i := 0; i < 5; i++ {
		f.Enqueue(point(fmt.Sprintf("normal%d", i), float64(i)))
	}
	for i := 0; i < 5; i++ {
		f.Enqueue(point("overflow", float64(i)))
	}
	if got := inst.Counter(f.fullQueueDrops); got != 5 {
		t.Errorf("Expected 5 drops, got %d", got)
	}
	if got := f.QueueLen(); got != 5 {
		t.Errorf("Expected queue pinned at capacity 5, got %d", got)
	}

	f.EnqueueHighPriority(point("carbon.relays.self", 99))
	if got := f.QueueLen(); got != 6 {
		t.Errorf("Expected 6 after high-priority bypass, got %d", got)
	}
	if got := inst.Counter(f.fullQueueDrops); got != 5 {
		t.Errorf("High-priority insert must not count as drop, got %d", got)
	}
	if got := inst.Counter(f.attemptedRelays); got != 11 {
		t.Errorf("Expected 11 attempted relays, got %d", got)
	}

	// Drain one cycle by hand; the worker is not running.
	f.sendQueued()
	records := readSpool(t, cfg.SpoolDir)
	if len(records) != 1 || len(records[0]) != 1 {
		t.Fatalf("Expected one single-point record, got %v", records)
	}
	if records[0][0].Metric != "carbon.relays.self" {
		t.Errorf("High-priority point not drained first: %v", records[0])
	}
}

func TestBackpressureDebounce(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxQueueSize = 4
	cfg.QueueLowWatermark = 0.5 // space signal below 2
	cfg.MaxDatapointsPerBatch = 2
	f, _ := newTestFactory(t, cfg, nil)
	defer stopFactory(t, f)

	fullCh := f.QueueFull.C()
	for i := 0; i < 4; i++ {
		f.Enqueue(point("m", float64(i)))
	}
	select {
	case <-fullCh:
		t.Fatal("Full signal fired before capacity was exceeded")
	default:
	}

	f.Enqueue(point("dropped", 5))
	select {
	case <-fullCh:
	default:
		t.Fatal("Full signal did not fire on drop")
	}

	// Further drops must not re-fire until space has opened up.
	fullCh = f.QueueFull.C()
	f.Enqueue(point("dropped", 6))
	f.Enqueue(point("dropped", 7))
	select {
	case <-fullCh:
		t.Fatal("Full signal fired again without space opening")
	default:
	}

	spaceCh := f.QueueHasSpace.C()
	f.sendQueued() // 4 -> 2 queued, still at the watermark
	select {
	case <-spaceCh:
		t.Fatal("Space signal fired at the watermark boundary")
	default:
	}
	f.sendQueued() // 2 -> 0 queued, below watermark
	select {
	case <-spaceCh:
	default:
		t.Fatal("Space signal did not fire below the watermark")
	}

	// The full signal is re-armed now.
	for i := 0; i < 4; i++ {
		f.Enqueue(point("m", float64(i)))
	}
	f.Enqueue(point("dropped", 8))
	select {
	case <-fullCh:
	default:
		t.Fatal("Full signal did not fire after the queue refilled")
	}
}

func TestReconnectBackoffSchedule(t *testing.T) {
	cfg := config.Default()
	cfg.ReconnectMinDelay = 100 * time.Millisecond
	cfg.ReconnectMaxDelay = 400 * time.Millisecond

	bo := newReconnectBackoff(cfg)
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
	}
	var prev time.Duration
	for i, w := range want {
		got := bo.NextBackOff()
		if got != w {
			t.Errorf("Attempt %d: expected delay %s, got %s", i, w, got)
		}
		if got < prev {
			t.Errorf("Attempt %d: delay shrank from %s to %s", i, prev, got)
		}
		prev = got
	}

	// A successful connection resets the schedule to the minimum.
	bo.Reset()
	if got := bo.NextBackOff(); got != 100*time.Millisecond {
		t.Errorf("Expected reset to minimum delay, got %s", got)
	}
}

func TestReconnectsAfterFailures(t *testing.T) {
	cfg := testConfig(t)
	dialer := newPipeDialer(2)
	f, _ := newTestFactory(t, cfg, dialer)

	made := f.ConnectionMade.C()
	f.Start()
	defer stopFactory(t, f)
	waitSignal(t, made, "connection-made signal")

	if got := dialer.dialCount(); got != 3 {
		t.Errorf("Expected 3 dial attempts, got %d", got)
	}
	if got := f.State(); got != Connected {
		t.Errorf("Expected connected state, got %s", got)
	}
}

func TestConnectionLossPreservesQueueAndReconnects(t *testing.T) {
	cfg := testConfig(t)
	cfg.DrainDeferral = time.Hour // keep the queue from draining on its own
	dialer := newPipeDialer(0)
	f, inst := newTestFactory(t, cfg, dialer)

	made := f.ConnectionMade.C()
	f.Start()
	defer stopFactory(t, f)
	waitSignal(t, made, "first connection")
	server := <-dialer.servers

	f.Enqueue(point("survivor", 1))

	lost := f.ConnectionLost.C()
	made = f.ConnectionMade.C()
	server.Close()
	waitSignal(t, lost, "connection-lost signal")
	waitSignal(t, made, "reconnection")

	// The drain loop picks the queued point up as soon as the new
	// connection is live.
	deadline := time.Now().Add(5 * time.Second)
	for inst.Counter(f.sent) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Queued datapoint lost across reconnect, sent=%d", inst.Counter(f.sent))
		}
		time.Sleep(time.Millisecond)
	}
	if got := dialer.dialCount(); got < 2 {
		t.Errorf("Expected at least 2 dials, got %d", got)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	cfg := testConfig(t)
	cfg.DrainDeferral = time.Hour // force the drain to happen during Stop
	cfg.MaxDatapointsPerBatch = 2
	dialer := newPipeDialer(0)
	f, inst := newTestFactory(t, cfg, dialer)

	made := f.ConnectionMade.C()
	f.Start()
	waitSignal(t, made, "connection")

	for i := 0; i < 3; i++ {
		f.Enqueue(point(fmt.Sprintf("m%d", i), float64(i)))
	}

	stopFactory(t, f)

	if got := f.QueueLen(); got != 0 {
		t.Errorf("Stop returned with %d datapoints still queued", got)
	}
	if got := inst.Counter(f.sent); got != 3 {
		t.Errorf("Expected 3 sent during shutdown drain, got %d", got)
	}

	// Close finalizes the spool, so the drained data sits in the ready dir.
	readyDir := filepath.Join(cfg.SpoolDir, "send", testDest.Addr())
	entries, err := os.ReadDir(readyDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Expected 1 ready file after stop, got %v (err %v)", entries, err)
	}
}

func TestStopWhileDisconnectedReturnsPromptly(t *testing.T) {
	cfg := testConfig(t)
	dialer := newPipeDialer(1 << 30) // never connects
	f, _ := newTestFactory(t, cfg, dialer)

	f.Enqueue(point("stranded", 1))
	f.Start()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Stop(ctx); err != nil {
		t.Fatalf("Stop while disconnected should not wait for the queue: %v", err)
	}
}
