package client

import (
	"context"
	"net"
	"sync"
)

// ConnState is the lifecycle state of a destination's connection.
type ConnState int32

const (
	// Disconnected means no connection exists and none is being dialed.
	Disconnected ConnState = iota
	// Connecting means a dial attempt is in flight.
	Connecting
	// Connected means a live connection exists and the drain loop may run.
	Connected
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// DialFunc establishes a raw connection to a destination address. Tests
// substitute it; production uses a net.Dialer.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// connection wraps one live network connection. Its only jobs are to gate
// the drain loop and to report loss: nothing is ever transmitted on it
// directly, the drained data goes to the spool for the external sender.
type connection struct {
	conn net.Conn

	lostOnce sync.Once
	lost     chan struct{}
}

func newConnection(nc net.Conn) *connection {
	c := &connection{conn: nc, lost: make(chan struct{})}
	go c.watch()
	return c
}

// watch blocks on a read. The relay never expects inbound data, so any
// return — EOF, reset, or local close — means the connection is gone.
func (c *connection) watch() {
	buf := make([]byte, 1)
	for {
		if _, err := c.conn.Read(buf); err != nil {
			c.markLost()
			return
		}
	}
}

// Lost is closed once the connection is known dead.
func (c *connection) Lost() <-chan struct{} {
	return c.lost
}

func (c *connection) markLost() {
	c.lostOnce.Do(func() { close(c.lost) })
}

// Close tears the connection down; the watch goroutine observes the close
// and marks the connection lost.
func (c *connection) Close() error {
	return c.conn.Close()
}
