package client

import (
	"encoding/json"
	"testing"

	"github.com/qingchang/cardtable/internal/types"
)

func storeSnapshot(seq uint64, currentSeat int) types.Snapshot {
	return types.Snapshot{
		RoomMeta: types.RoomMeta{
			StateSeq:    seq,
			Phase:       "playing",
			CurrentSeat: currentSeat,
		},
		State: json.RawMessage(`{"scoreboard":{"0":3,"1":5}}`),
	}
}

func TestStoreRotatesSeatsSoLocalPlayerIsVisualZero(t *testing.T) {
	st := NewStore(2, 4, nil, nil)
	st.ApplySnapshot(storeSnapshot(1, 2))

	proj := st.Projection()
	seatsByReal := map[int]int{}
	for _, sv := range proj.Seats {
		seatsByReal[sv.Seat] = sv.VisualIndex
	}
	if seatsByReal[2] != 0 {
		t.Fatalf("expected local seat 2 to project to visual 0, got %d", seatsByReal[2])
	}
	if seatsByReal[3] != 1 {
		t.Fatalf("expected seat 3 to project to visual 1, got %d", seatsByReal[3])
	}
	if seatsByReal[0] != 2 {
		t.Fatalf("expected seat 0 to project to visual 2, got %d", seatsByReal[0])
	}
	if proj.VisualCurrentSeat != 0 {
		t.Fatalf("expected current seat (ours) to project to visual 0, got %d", proj.VisualCurrentSeat)
	}
}

func TestStoreExtractsScoreboardViaHook(t *testing.T) {
	extract := func(state json.RawMessage) json.RawMessage {
		var parsed struct {
			Scoreboard json.RawMessage `json:"scoreboard"`
		}
		_ = json.Unmarshal(state, &parsed)
		return parsed.Scoreboard
	}
	st := NewStore(0, 2, nil, extract)
	st.ApplySnapshot(storeSnapshot(1, 0))

	proj := st.Projection()
	if string(proj.Scoreboard) != `{"0":3,"1":5}` {
		t.Fatalf("expected scoreboard extracted via hook, got %s", proj.Scoreboard)
	}
}

func TestStoreRecordsRecentDomainEventsBounded(t *testing.T) {
	st := NewStore(0, 2, nil, nil)
	for i := 0; i < recentEventLimit+5; i++ {
		st.ApplyDomainEvent("trick_won", nil)
	}

	proj := st.Projection()
	if len(proj.RecentEvents) != recentEventLimit {
		t.Fatalf("expected recent events capped at %d, got %d", recentEventLimit, len(proj.RecentEvents))
	}
}

func TestStoreIgnoresNonMonotonicSnapshot(t *testing.T) {
	st := NewStore(0, 2, nil, nil)
	st.ApplySnapshot(storeSnapshot(5, 0))
	if accepted := st.ApplySnapshot(storeSnapshot(3, 0)); accepted {
		t.Fatal("expected stale snapshot rejected")
	}
	if st.Projection().CurrentSeat != 0 {
		t.Fatalf("expected projection unchanged by rejected snapshot")
	}
}

func TestStoreTurnPromptSetsIsMyTurn(t *testing.T) {
	st := NewStore(1, 2, nil, nil)
	st.ApplySnapshot(storeSnapshot(1, 1))
	st.ApplyTurnPrompt(1, types.TurnPrompt{Seat: 1, ValidActions: []string{"play"}})

	proj := st.Projection()
	if !proj.IsMyTurn {
		t.Fatal("expected isMyTurn true after prompt addressed at our seat")
	}
	if len(proj.ValidActions) != 1 {
		t.Fatalf("expected validActions adopted, got %+v", proj.ValidActions)
	}
}
