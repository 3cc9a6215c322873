package stats

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/relaykit/metrics-spooler/internal/instrumentation"
)

func TestLeakCheck_PeriodicLogging(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := NewCollector()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.StartPeriodicLogging(ctx, 10*time.Millisecond)
	}()

	observeN(c, destA, "cpu", 10)
	time.Sleep(25 * time.Millisecond)
	cancel()
	<-done
}

func TestLeakCheck_Publisher(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	inst := instrumentation.New()
	inst.Add("sent", 1)
	pub := NewPublisher(inst, &captureSender{}, "carbon.relays", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pub.Run(ctx)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()
	<-done
}
