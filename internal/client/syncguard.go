package client

import (
	"encoding/json"
	"sync"

	"github.com/qingchang/cardtable/internal/types"
)

// TurnState is what the Sync Guard currently believes about the local
// player's turn. It is intentionally separate from the snapshot's own
// RoomMeta.CurrentSeat so a stale turn prompt can be rejected without
// touching the authoritative state.
type TurnState struct {
	IsMyTurn     bool
	ValidActions []string
	ValidCards   []string
	ValidPlays   [][]string
}

// LocalRulesFunc recomputes legal actions for the local seat directly from
// a rendered snapshot, for the fallback in spec.md §4.8: a client binding
// that also links a concrete rules.Module can wire that module's
// ValidActions (reconstructed from the snapshot's rendered state) in here
// so the UI is never hard-stuck waiting on a turn prompt that never
// arrives. A binding with no such module leaves this nil; the fallback
// then simply does nothing, matching the "never hard-stuck" property by
// leaving whatever affordances were already adopted.
type LocalRulesFunc func(meta types.RoomMeta, state json.RawMessage) TurnState

// SyncGuard is the Client Sync Guard (C9): it rejects stale snapshots and
// stale turn signals, and maintains the one authoritative, monotonically
// increasing view of the room the store is allowed to render.
type SyncGuard struct {
	mySeat     int
	localRules LocalRulesFunc

	mu           sync.Mutex
	lastStateSeq uint64
	meta         types.RoomMeta
	state        json.RawMessage
	turn         TurnState
}

// NewSyncGuard builds a guard for the local player's seat. localRules may
// be nil.
func NewSyncGuard(mySeat int, localRules LocalRulesFunc) *SyncGuard {
	return &SyncGuard{mySeat: mySeat, localRules: localRules}
}

// ApplySnapshot applies an incoming snapshot if its stateSeq is newer than
// the last one accepted, returning whether it was accepted. Per spec.md
// §4.8: non-monotonic snapshots are ignored outright; accepted snapshots
// for a seat other than ours eagerly clear any turn affordance; accepted
// snapshots for our own seat, if no turn prompt has already set
// validActions, fall back to locally recomputed actions so the UI is
// never hard-stuck.
func (g *SyncGuard) ApplySnapshot(snap types.Snapshot) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if snap.StateSeq <= g.lastStateSeq {
		return false
	}
	g.lastStateSeq = snap.StateSeq
	g.meta = snap.RoomMeta
	g.state = snap.State

	if snap.CurrentSeat != g.mySeat {
		g.turn = TurnState{}
		return true
	}
	if len(g.turn.ValidActions) == 0 && g.localRules != nil {
		g.turn = g.localRules(g.meta, g.state)
	}
	return true
}

// ApplyTurnPrompt adopts a turn prompt (or reminder) addressed at the
// given seat, ignoring it if it is not addressed at the local player, or
// if an accepted snapshot already shows another seat's turn — a stale
// signal per spec.md §4.8, since a prompt can arrive after the current
// snapshot has already moved the turn along.
func (g *SyncGuard) ApplyTurnPrompt(seat int, prompt types.TurnPrompt) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if seat != g.mySeat || (g.lastStateSeq > 0 && g.meta.CurrentSeat != g.mySeat) {
		return false
	}
	g.turn = TurnState{
		IsMyTurn:     true,
		ValidActions: prompt.ValidActions,
		ValidCards:   prompt.ValidCards,
		ValidPlays:   prompt.ValidPlays,
	}
	return true
}

// LastStateSeq is the most recently accepted snapshot's stateSeq.
func (g *SyncGuard) LastStateSeq() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastStateSeq
}

// Meta is the most recently accepted snapshot's room metadata.
func (g *SyncGuard) Meta() types.RoomMeta {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.meta
}

// State is the most recently accepted snapshot's rendered state.
func (g *SyncGuard) State() json.RawMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Turn is the current turn affordance for the local player.
func (g *SyncGuard) Turn() TurnState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.turn
}

// ExpectedStateSeq is what the next outbound action-carrying command
// should set expectedStateSeq to, per spec.md §4.11:
// max(snapshotSeq, lastStateSeq). The guard only ever has one tracked
// stateSeq (snapshots are its only source), so this is just LastStateSeq,
// exposed under the spec's name for callers building an outbound command.
func (g *SyncGuard) ExpectedStateSeq() uint64 {
	return g.LastStateSeq()
}

// RestoreFromRules recomputes the local turn affordance from localRules,
// if one is wired and it is currently our seat's turn and the game is not
// over. Used by the Outbound Command Protocol (spec.md §4.11) to let the
// player retry after a non-sync_required error.
func (g *SyncGuard) RestoreFromRules() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.localRules == nil || g.meta.CurrentSeat != g.mySeat || g.meta.GameOver {
		return
	}
	turn := g.localRules(g.meta, g.state)
	turn.IsMyTurn = true
	g.turn = turn
}

// OnSyncRequired discards any outstanding local turn affordance, per
// spec.md §4.11: "client... discards any outstanding local turn
// affordances" on receipt of a sync_required error. The caller is still
// responsible for issuing request_state.
func (g *SyncGuard) OnSyncRequired() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.turn = TurnState{}
}
