package client

import (
	"sync"
	"time"
)

// turnResyncThreshold and idleResyncThreshold are spec.md §4.9's two
// silence budgets: a tighter one while it is our turn (so a dropped
// snapshot never strands the player mid-turn) and a looser one otherwise.
const (
	turnResyncThreshold = 10 * time.Second
	idleResyncThreshold = 30 * time.Second
	watchdogTickPeriod  = 5 * time.Second
)

// Watchdog is the Client Resync Watchdog (C10): it tracks how long it has
// been since the last snapshot and decides when silence has gone on long
// enough to warrant an explicit request_state, rather than trusting the
// server to always push one.
type Watchdog struct {
	mu             sync.Mutex
	lastSnapshotAt time.Time
}

// NewWatchdog builds a watchdog with no snapshot observed yet.
func NewWatchdog() *Watchdog {
	return &Watchdog{}
}

// NoteSnapshot records that a snapshot was just applied, resetting the
// silence clock. Call this for every accepted snapshot, not just the
// first.
func (w *Watchdog) NoteSnapshot(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSnapshotAt = now
}

// ShouldResync reports whether enough silence has elapsed since the last
// snapshot to warrant an explicit request_state, given whether it is
// currently the local player's turn. A zero lastSnapshotAt (no snapshot
// ever observed) always returns true: there is nothing to wait on.
func (w *Watchdog) ShouldResync(now time.Time, isMyTurn bool) bool {
	w.mu.Lock()
	last := w.lastSnapshotAt
	w.mu.Unlock()

	if last.IsZero() {
		return true
	}
	elapsed := now.Sub(last)
	if isMyTurn {
		return elapsed > turnResyncThreshold
	}
	return elapsed > idleResyncThreshold
}

// Run drives the watchdog on a fixed cadence until ctx-like stop fires,
// calling requestState whenever ShouldResync trips. isMyTurn is polled
// fresh on every tick so it reflects whatever the sync guard currently
// believes. Callers that don't want a background loop (e.g. a test, or a
// binding that prefers to poll ShouldResync itself) can ignore Run
// entirely — it is a convenience, not a requirement.
func (w *Watchdog) Run(stop <-chan struct{}, isMyTurn func() bool, requestState func()) {
	ticker := time.NewTicker(watchdogTickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if w.ShouldResync(now, isMyTurn()) {
				requestState()
			}
		}
	}
}

// NoteReconnect forces the next tick (or an immediate caller check) to
// request a fresh snapshot, per spec.md §4.9's "also request a snapshot
// eagerly on socket reconnect": a reconnect invalidates whatever the
// transport last delivered, regardless of how recently it arrived.
func (w *Watchdog) NoteReconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSnapshotAt = time.Time{}
}
