// Package notify provides a re-armed one-shot broadcast primitive. Firing a
// Signal closes the channel handed out since the previous firing and
// immediately replaces it with a fresh one, so each firing is observed at most
// once per waiter and the signal is always ready to fire again.
package notify

import "sync"

// Signal is a broadcast notification that fires once and re-arms itself.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewSignal returns an armed signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// C returns the channel that will be closed by the next Fire. Callers must
// re-acquire the channel after each firing; a previously obtained channel
// stays closed.
func (s *Signal) C() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Fire closes the current channel, waking all waiters, and re-arms.
func (s *Signal) Fire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.ch)
	s.ch = make(chan struct{})
}
