// Package client implements the transport-agnostic client-side
// reconciliation core (C8-C11): a queue that decouples animation from
// state application, a sync guard that rejects stale updates, a resync
// watchdog that detects silence, and a store that projects server state
// into what a UI actually renders. None of it touches a socket — it is
// driven by whatever transport a concrete binding chooses, which is what
// makes it unit-testable without a browser.
package client

import (
	"encoding/json"
	"sync"

	"github.com/qingchang/cardtable/internal/types"
)

// Queue is the Client Queue Controller (C8): it decouples visual
// animations from event application. While enabled, arriving events are
// buffered in FIFO order for a caller-driven animation scheduler to
// Dequeue one at a time; Disable flushes the remainder immediately.
type Queue struct {
	mu      sync.Mutex
	enabled bool
	events  []types.Event
	apply   func(types.Event)

	latestStateSeq uint64
	onSyncRequired func()
}

// NewQueue builds a Queue. apply is called, exactly once per event, either
// synchronously by Enqueue (disabled) or by Dequeue (enabled); it is never
// called concurrently with itself. onSyncRequired fires the moment a
// sync_required error arrives, bypassing the queue entirely, per spec.md
// §4.7's side-band requirement.
func NewQueue(apply func(types.Event), onSyncRequired func()) *Queue {
	return &Queue{enabled: true, apply: apply, onSyncRequired: onSyncRequired}
}

// Enable switches the queue back to buffering mode.
func (q *Queue) Enable() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enabled = true
}

// Disable flushes every buffered event, in arrival order, applying each
// exactly once, then switches to pass-through mode.
func (q *Queue) Disable() {
	q.mu.Lock()
	pending := q.events
	q.events = nil
	q.enabled = false
	q.mu.Unlock()

	for _, ev := range pending {
		q.apply(ev)
	}
}

// Enqueue records an arriving event. The two side-band updates (latest
// stateSeq tracking, immediate sync_required dispatch) happen regardless
// of enabled state; only the animatable application itself is deferred.
func (q *Queue) Enqueue(ev types.Event) {
	q.mu.Lock()
	if ev.StateSeq > q.latestStateSeq {
		q.latestStateSeq = ev.StateSeq
	}
	syncRequired := ev.Kind == types.EventError && isSyncRequired(ev)
	enabled := q.enabled
	if enabled && !syncRequired {
		q.events = append(q.events, ev)
	}
	q.mu.Unlock()

	if syncRequired && q.onSyncRequired != nil {
		q.onSyncRequired()
	}
	if !enabled && !syncRequired {
		q.apply(ev)
	}
}

func isSyncRequired(ev types.Event) bool {
	var appErr types.AppError
	if err := json.Unmarshal(ev.Data, &appErr); err != nil {
		return false
	}
	return appErr.Code == types.ErrSyncRequired
}

// Dequeue pops and applies the oldest buffered event, returning false if
// the queue is empty. A caller (e.g. an animation scheduler) drives this
// at its own pace while the queue is enabled.
func (q *Queue) Dequeue() bool {
	q.mu.Lock()
	if len(q.events) == 0 {
		q.mu.Unlock()
		return false
	}
	ev := q.events[0]
	q.events = q.events[1:]
	q.mu.Unlock()

	q.apply(ev)
	return true
}

// Length reports how many events are currently buffered.
func (q *Queue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// IsEnabled reports whether the queue is currently buffering.
func (q *Queue) IsEnabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enabled
}

// LatestStateSeq is the highest stateSeq observed on any arriving event,
// tracked independent of queue mode so outbound commands can carry an
// up-to-date expectedStateSeq per spec.md §4.7.
func (q *Queue) LatestStateSeq() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.latestStateSeq
}
