package datapoint

import (
	"testing"
)

func TestBatchRoundTrip(t *testing.T) {
	batch := []Datapoint{
		{Metric: "cpu.load", Timestamp: 1000, Value: 5},
		{Metric: "mem.free", Timestamp: 1000.25, Value: 1024.5},
		{Metric: "disk.io", Timestamp: 1001, Value: 0},
	}

	data, err := MarshalBatch(batch)
	if err != nil {
		t.Fatalf("Failed to marshal batch: %v", err)
	}

	got, err := UnmarshalBatch(data)
	if err != nil {
		t.Fatalf("Failed to unmarshal batch: %v", err)
	}

	if len(got) != len(batch) {
		t.Fatalf("Expected %d datapoints, got %d", len(batch), len(got))
	}
	for i := range batch {
		if got[i] != batch[i] {
			t.Errorf("Datapoint %d: expected %+v, got %+v", i, batch[i], got[i])
		}
	}
}

func TestBatchWireFormat(t *testing.T) {
	data, err := MarshalBatch([]Datapoint{{Metric: "cpu.load", Timestamp: 1000, Value: 5}})
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	want := `[["cpu.load",[1000,5]]]`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}
}

func TestUnmarshalBatchRejectsMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`[["only-name"]]`,
		`[[42,[1,2]]]`,
		`[["m","not-a-pair"]]`,
	}
	for _, c := range cases {
		if _, err := UnmarshalBatch([]byte(c)); err == nil {
			t.Errorf("Expected error for %q, got nil", c)
		}
	}
}

func TestLine(t *testing.T) {
	tests := []struct {
		point Datapoint
		want  string
	}{
		{Datapoint{Metric: "cpu.load", Timestamp: 1000, Value: 5}, "cpu.load  5  1000\n"},
		{Datapoint{Metric: "mem.free", Timestamp: 1000.5, Value: 12.25}, "mem.free  12.25  1000.5\n"},
	}
	for _, tt := range tests {
		if got := tt.point.Line(); got != tt.want {
			t.Errorf("Line(%+v) = %q, want %q", tt.point, got, tt.want)
		}
	}
}

func TestParseDestination(t *testing.T) {
	tests := []struct {
		in      string
		want    Destination
		wantErr bool
	}{
		{"graphite.example.com:2004:a", Destination{"graphite.example.com", 2004, "a"}, false},
		{"10.0.0.1:2004", Destination{"10.0.0.1", 2004, ""}, false},
		{"nohost", Destination{}, true},
		{"host:notaport:x", Destination{}, true},
		{":2004:x", Destination{}, true},
		{"host:0:x", Destination{}, true},
	}
	for _, tt := range tests {
		got, err := ParseDestination(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDestination(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDestination(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDestination(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestDestinationName(t *testing.T) {
	d := Destination{Host: "graphite.example.com", Port: 2004, Instance: "a"}
	want := "graphite_example_com:2004:a"
	if got := d.Name(); got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}
	if got := d.Addr(); got != "graphite.example.com:2004" {
		t.Errorf("Addr() = %q", got)
	}
}
