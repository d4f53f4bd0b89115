package wire

import "sync/atomic"

// SessionHandler wraps a 32-bit session counter with atomic, skip-zero
// advance. A zero value is never handed out by Advance: on
// wraparound from 0xFFFFFFFF the result would be 0, so the counter is
// bumped a second time to 1.
//
// Concurrent Advance calls are linearizable: each call performs a single
// atomic fetch-and-add, then a fixup fetch-and-add only in the rare case
// that this particular call's result landed on zero. Two concurrent callers
// can never observe the same returned value, and neither ever returns 0.
type SessionHandler struct {
	counter uint32
}

// NewSessionHandler creates a SessionHandler whose Get() returns initial
// until the first Advance.
func NewSessionHandler(initial SessionID) *SessionHandler {
	h := &SessionHandler{}
	h.counter = uint32(initial)
	return h
}

// Get returns the current value without advancing it.
func (h *SessionHandler) Get() SessionID {
	return SessionID(atomic.LoadUint32(&h.counter))
}

// Advance increments the counter by one and returns the new value, skipping
// zero: if the increment would yield 0, it is incremented again so the
// returned (and stored) value is 1. Advance never returns 0.
func (h *SessionHandler) Advance() SessionID {
	v := atomic.AddUint32(&h.counter, 1)
	if v == 0 {
		v = atomic.AddUint32(&h.counter, 1)
	}
	return SessionID(v)
}

// Reset restores the counter to initial. It is not safe to call
// concurrently with Advance/Get from other goroutines racing on the same
// reset; callers needing that guarantee must hold an external lock.
func (h *SessionHandler) Reset(initial SessionID) {
	atomic.StoreUint32(&h.counter, uint32(initial))
}
