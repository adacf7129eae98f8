package ccm

import "sync"

// WaitEvent is the per-transaction signaling primitive the Wait/Wake
// Registry hands out: set/clear semantics built on a channel, since a
// closed Go channel cannot be un-closed. Per spec.md §9's design note this
// must satisfy three properties: (a) Set is idempotent, (b) a Wait that
// starts after Set still returns immediately, (c) each new wait cycle gets
// a fresh channel (Clear swaps in a new one under the lock).
type WaitEvent struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

// NewWaitEvent returns an event in the cleared state.
func NewWaitEvent() *WaitEvent {
	return &WaitEvent{ch: make(chan struct{})}
}

// Set wakes every current and future waiter on this cycle. Idempotent.
func (e *WaitEvent) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		return
	}
	e.set = true
	close(e.ch)
}

// Clear starts a new wait cycle: if the event was set, a fresh channel
// replaces the closed one so a subsequent Wait blocks again.
func (e *WaitEvent) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		return
	}
	e.set = false
	e.ch = make(chan struct{})
}

// Channel returns the current wait cycle's channel. Receiving from it
// (directly, or via a select with a timeout) blocks until Set is called;
// if the event is already set the receive completes immediately.
func (e *WaitEvent) Channel() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}
