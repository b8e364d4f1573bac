// Package readiness provides a one-shot boolean signal that many goroutines
// can wait on.
//
// A Signal starts pending and is resolved exactly once to true or false.
// Every reader after resolution sees the same value.
package readiness

import (
	"context"
	"sync"
)

// Signal is a single-assignment boolean with a broadcast on resolution.
//
// The zero value is not usable; create with NewSignal.
type Signal struct {
	once  sync.Once
	done  chan struct{}
	value bool
}

// NewSignal returns a pending Signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Resolve sets the result and wakes all waiters.
// Only the first call has an effect; it reports whether this call won.
func (s *Signal) Resolve(value bool) bool {
	won := false
	s.once.Do(func() {
		s.value = value
		close(s.done)
		won = true
	})
	return won
}

// Done returns a channel closed once the signal is resolved.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Result returns the resolved value and whether the signal has resolved.
func (s *Signal) Result() (value bool, resolved bool) {
	select {
	case <-s.done:
		return s.value, true
	default:
		return false, false
	}
}

// Wait blocks until the signal resolves or ctx is done.
// On ctx expiry it returns false and ctx.Err(); the signal is unaffected.
func (s *Signal) Wait(ctx context.Context) (bool, error) {
	select {
	case <-s.done:
		return s.value, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
