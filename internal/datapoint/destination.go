package datapoint

import (
	"fmt"
	"strconv"
	"strings"
)

// Destination identifies one downstream relay target. It is the key under
// which a factory, its queue, and its spool directories live.
type Destination struct {
	Host     string
	Port     int
	Instance string
}

// ParseDestination parses a "host:port:instance" string. The instance label
// may be empty ("host:port" is accepted).
func ParseDestination(s string) (Destination, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Destination{}, fmt.Errorf("destination %q: want host:port[:instance]", s)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port <= 0 || port > 65535 {
		return Destination{}, fmt.Errorf("destination %q: invalid port %q", s, parts[1])
	}
	d := Destination{Host: parts[0], Port: port}
	if len(parts) == 3 {
		d.Instance = parts[2]
	}
	if d.Host == "" {
		return Destination{}, fmt.Errorf("destination %q: empty host", s)
	}
	return d, nil
}

// String returns the canonical "host:port:instance" form.
func (d Destination) String() string {
	return fmt.Sprintf("%s:%d:%s", d.Host, d.Port, d.Instance)
}

// Addr returns the dialable "host:port" address.
func (d Destination) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// Name returns the destination identifier used in counter names, with dots
// replaced so the name nests cleanly in a metric hierarchy.
func (d Destination) Name() string {
	return strings.ReplaceAll(d.String(), ".", "_")
}
