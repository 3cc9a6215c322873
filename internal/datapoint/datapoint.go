package datapoint

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// Datapoint is one named, timestamped measurement flowing through the relay.
type Datapoint struct {
	Metric    string
	Timestamp float64
	Value     float64
}

// MarshalJSON encodes the datapoint in the spool tuple form
// ["metric", [timestamp, value]].
func (d Datapoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{d.Metric, [2]float64{d.Timestamp, d.Value}})
}

// UnmarshalJSON decodes the spool tuple form ["metric", [timestamp, value]].
func (d *Datapoint) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("datapoint: expected 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &d.Metric); err != nil {
		return fmt.Errorf("datapoint: metric name: %w", err)
	}
	var tv [2]float64
	if err := json.Unmarshal(raw[1], &tv); err != nil {
		return fmt.Errorf("datapoint: timestamp/value pair: %w", err)
	}
	d.Timestamp = tv[0]
	d.Value = tv[1]
	return nil
}

// Line returns the datapoint as graphite line protocol text. The wire
// convention puts the value before the timestamp, the reverse of the
// in-memory order.
func (d Datapoint) Line() string {
	return d.Metric + "  " + formatNumber(d.Value) + "  " + formatNumber(d.Timestamp) + "\n"
}

// MarshalBatch encodes an ordered batch of datapoints as one spool record:
// a JSON array of ["metric", [timestamp, value]] tuples.
func MarshalBatch(batch []Datapoint) ([]byte, error) {
	return json.Marshal(batch)
}

// UnmarshalBatch decodes one spool record back into datapoints.
func UnmarshalBatch(data []byte) ([]Datapoint, error) {
	var batch []Datapoint
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// formatNumber renders a float without a forced decimal point, so integral
// values print the way they were received (5 rather than 5.000000).
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
