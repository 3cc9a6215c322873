package stats

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/relaykit/metrics-spooler/internal/datapoint"
	"github.com/relaykit/metrics-spooler/internal/instrumentation"
)

// Sender is the slice of the client manager the publisher needs.
type Sender interface {
	SendHighPriorityDatapoint(p datapoint.Datapoint)
}

// Publisher feeds the relay's own counters back through the relay each
// interval, carbon style: metric names are
// <prefix>.<hostname>.<counter>, counters reset per interval, and the
// datapoints ride the capacity-exempt queue path so a saturated relay still
// reports its own health.
type Publisher struct {
	inst     *instrumentation.Store
	sender   Sender
	prefix   string
	hostname string
	interval time.Duration
}

// NewPublisher builds a publisher reporting under prefix every interval.
func NewPublisher(inst *instrumentation.Store, sender Sender, prefix string, interval time.Duration) *Publisher {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return &Publisher{
		inst:     inst,
		sender:   sender,
		prefix:   prefix,
		hostname: strings.ReplaceAll(host, ".", "_"),
		interval: interval,
	}
}

// Run publishes until ctx is canceled, with a final report on the way out
// so the last partial interval is not lost.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.publish(time.Now())
			return
		case <-ticker.C:
			p.publish(time.Now())
		}
	}
}

func (p *Publisher) publish(now time.Time) {
	ts := float64(now.Unix())
	for name, v := range p.inst.SnapshotAndReset() {
		p.sender.SendHighPriorityDatapoint(datapoint.Datapoint{
			Metric:    p.prefix + "." + p.hostname + "." + name,
			Timestamp: ts,
			Value:     float64(v),
		})
	}
}
