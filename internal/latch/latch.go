// Package latch provides the single-fire stop flag shared by every stop trigger
// and the session's wait loop.
package latch

import "sync/atomic"

// Latch transitions from unset to set exactly once. The zero value is not usable;
// call New.
type Latch struct {
	claimed atomic.Bool
	done    chan struct{}
	source  string
}

func New() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Claim attempts to set the latch on behalf of source. Only the first caller gets
// true; every later call is a no-op.
func (l *Latch) Claim(source string) bool {
	if !l.claimed.CompareAndSwap(false, true) {
		return false
	}
	l.source = source
	close(l.done)
	return true
}

// Done is closed once the latch is set.
func (l *Latch) Done() <-chan struct{} {
	return l.done
}

// IsSet reports whether a claim has succeeded.
func (l *Latch) IsSet() bool {
	return l.claimed.Load()
}

// Source returns the winning claimant. It is only meaningful after Done is closed.
func (l *Latch) Source() string {
	select {
	case <-l.done:
		return l.source
	default:
		return ""
	}
}
