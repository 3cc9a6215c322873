package stats

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relaykit/metrics-spooler/internal/datapoint"
	"github.com/relaykit/metrics-spooler/internal/instrumentation"
)

type captureSender struct {
	mu     sync.Mutex
	points []datapoint.Datapoint
}

func (s *captureSender) SendHighPriorityDatapoint(p datapoint.Datapoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, p)
}

func (s *captureSender) byName() map[string]datapoint.Datapoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]datapoint.Datapoint, len(s.points))
	for _, p := range s.points {
		out[p.Metric] = p
	}
	return out
}

func TestPublishReportsCountersUnderPrefix(t *testing.T) {
	inst := instrumentation.New()
	inst.Add("destinations.a_2004_x.sent", 42)
	inst.Max("destinations.a_2004_x.relayMaxQueueLength", 7)

	sender := &captureSender{}
	pub := NewPublisher(inst, sender, "carbon.relays", time.Minute)

	now := time.Unix(1700000000, 0)
	pub.publish(now)

	points := sender.byName()
	if len(points) != 2 {
		t.Fatalf("Expected 2 self-report datapoints, got %v", points)
	}
	for name, p := range points {
		if !strings.HasPrefix(name, "carbon.relays."+pub.hostname+".") {
			t.Errorf("Metric %q missing prefix and hostname", name)
		}
		if p.Timestamp != 1700000000 {
			t.Errorf("Metric %q: expected timestamp 1700000000, got %v", name, p.Timestamp)
		}
	}

	sent := "carbon.relays." + pub.hostname + ".destinations.a_2004_x.sent"
	if got := points[sent].Value; got != 42 {
		t.Errorf("Expected sent=42, got %v", got)
	}
}

func TestPublishResetsForNextInterval(t *testing.T) {
	inst := instrumentation.New()
	inst.Add("sent", 10)

	sender := &captureSender{}
	pub := NewPublisher(inst, sender, "carbon.relays", time.Minute)

	pub.publish(time.Unix(1000, 0))
	inst.Add("sent", 3)
	pub.publish(time.Unix(1060, 0))

	var values []float64
	for _, p := range sender.points {
		if strings.HasSuffix(p.Metric, ".sent") {
			values = append(values, p.Value)
		}
	}
	if len(values) != 2 || values[0] != 10 || values[1] != 3 {
		t.Errorf("Expected per-interval deltas [10 3], got %v", values)
	}
}

func TestHostnameDotsReplaced(t *testing.T) {
	pub := NewPublisher(instrumentation.New(), &captureSender{}, "carbon.relays", time.Minute)
	if strings.Contains(pub.hostname, ".") {
		t.Errorf("Hostname %q still contains dots", pub.hostname)
	}
}
