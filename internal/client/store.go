package client

import (
	"encoding/json"
	"sync"

	"github.com/qingchang/cardtable/internal/types"
)

// SeatView is one seat's position in the store's rotated projection: Seat
// is the seat's real server-side index, VisualIndex is where the UI
// should render it (0 is always the local player).
type SeatView struct {
	Seat        int
	VisualIndex int
}

// DomainEvent is a recent kind-specific event the UI might want to
// render as a toast or log line (a trick won, a trump called, and so
// on). Only the last recentEventLimit are retained.
type DomainEvent struct {
	Type string
	Data json.RawMessage
}

const recentEventLimit = 20

// Projection is everything the UI reads. It is rebuilt wholesale on every
// accepted snapshot or adopted turn prompt. The scalar fields (Phase,
// CurrentSeat, VisualCurrentSeat, GameOver, TimedOutSeat, IsMyTurn) are
// only reassigned when their value actually changed; the slice and raw
// JSON fields (ValidActions, ValidCards, ValidPlays, Seats, Scoreboard,
// State) are replaced on every rebuild whether or not their contents
// changed.
type Projection struct {
	Phase             string
	CurrentSeat       int
	VisualCurrentSeat int
	GameOver          bool
	TimedOutSeat      int
	IsMyTurn          bool
	ValidActions      []string
	ValidCards        []string
	ValidPlays        [][]string
	Seats             []SeatView
	Scoreboard        json.RawMessage
	RecentEvents      []DomainEvent
	State             json.RawMessage
}

// ExtractScoreboard pulls a scoreboard out of a rule module's rendered
// state. A binding wired to a concrete rule module supplies this; a
// binding with none leaves Scoreboard nil.
type ExtractScoreboard func(state json.RawMessage) json.RawMessage

// Store is the Client Store Core (C11): it owns a SyncGuard, rotates the
// seat numbering so the local player always reads as seat 0, and exposes
// a single projection struct for the UI to render.
type Store struct {
	mySeat     int
	seatCount  int
	extractSB  ExtractScoreboard
	guard      *SyncGuard

	mu     sync.Mutex
	proj   Projection
	events []DomainEvent
}

// NewStore builds a store for a room with seatCount seats, where the
// local player occupies mySeat. extractScoreboard may be nil.
func NewStore(mySeat, seatCount int, localRules LocalRulesFunc, extractScoreboard ExtractScoreboard) *Store {
	return &Store{
		mySeat:    mySeat,
		seatCount: seatCount,
		extractSB: extractScoreboard,
		guard:     NewSyncGuard(mySeat, localRules),
	}
}

// visualSeat rotates a real seat index so mySeat always reads as 0.
func (st *Store) visualSeat(seat int) int {
	if st.seatCount == 0 {
		return seat
	}
	v := (seat - st.mySeat + st.seatCount) % st.seatCount
	if v < 0 {
		v += st.seatCount
	}
	return v
}

// ApplySnapshot feeds a snapshot through the sync guard and rebuilds the
// projection if it was accepted. Returns whether it was accepted.
func (st *Store) ApplySnapshot(snap types.Snapshot) bool {
	if !st.guard.ApplySnapshot(snap) {
		return false
	}
	st.rebuild()
	return true
}

// ApplyTurnPrompt feeds a turn prompt (or reminder, same shape) through
// the sync guard and rebuilds the projection if it was adopted.
func (st *Store) ApplyTurnPrompt(seat int, prompt types.TurnPrompt) bool {
	if !st.guard.ApplyTurnPrompt(seat, prompt) {
		return false
	}
	st.rebuild()
	return true
}

// ApplyDomainEvent records a kind-specific event in the recent-events
// ring, trimming to recentEventLimit.
func (st *Store) ApplyDomainEvent(eventType string, data json.RawMessage) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.events = append(st.events, DomainEvent{Type: eventType, Data: data})
	if len(st.events) > recentEventLimit {
		st.events = st.events[len(st.events)-recentEventLimit:]
	}
	st.proj.RecentEvents = append([]DomainEvent(nil), st.events...)
}

func (st *Store) rebuild() {
	meta := st.guard.Meta()
	state := st.guard.State()
	turn := st.guard.Turn()

	seats := make([]SeatView, st.seatCount)
	for seat := 0; seat < st.seatCount; seat++ {
		seats[seat] = SeatView{Seat: seat, VisualIndex: st.visualSeat(seat)}
	}

	var scoreboard json.RawMessage
	if st.extractSB != nil && state != nil {
		scoreboard = st.extractSB(state)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.proj.Phase != meta.Phase {
		st.proj.Phase = meta.Phase
	}
	if st.proj.CurrentSeat != meta.CurrentSeat {
		st.proj.CurrentSeat = meta.CurrentSeat
	}
	if v := st.visualSeat(meta.CurrentSeat); st.proj.VisualCurrentSeat != v {
		st.proj.VisualCurrentSeat = v
	}
	if st.proj.GameOver != meta.GameOver {
		st.proj.GameOver = meta.GameOver
	}
	if st.proj.TimedOutSeat != meta.TimedOutSeat {
		st.proj.TimedOutSeat = meta.TimedOutSeat
	}
	if st.proj.IsMyTurn != turn.IsMyTurn {
		st.proj.IsMyTurn = turn.IsMyTurn
	}
	st.proj.ValidActions = turn.ValidActions
	st.proj.ValidCards = turn.ValidCards
	st.proj.ValidPlays = turn.ValidPlays
	st.proj.Seats = seats
	st.proj.Scoreboard = scoreboard
	st.proj.State = state
}

// Projection returns the current UI-facing projection. The returned value
// is a copy; mutating it has no effect on the store.
func (st *Store) Projection() Projection {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.proj
}

// Guard exposes the underlying sync guard, e.g. for Outbound Command
// Protocol's expectedStateSeq computation.
func (st *Store) Guard() *SyncGuard {
	return st.guard
}

// RestoreTurnFromRules asks the sync guard to recompute the local turn
// affordance from whatever LocalRulesFunc was wired, then rebuilds the
// projection so the UI sees it. A no-op if no rules hook was wired, or it
// isn't actually our turn.
func (st *Store) RestoreTurnFromRules() {
	st.guard.RestoreFromRules()
	st.rebuild()
}
