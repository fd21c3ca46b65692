package client

import (
	"encoding/json"
	"testing"

	"github.com/qingchang/cardtable/internal/types"
)

func snapshot(seq uint64, currentSeat int, gameOver bool) types.Snapshot {
	return types.Snapshot{
		RoomMeta: types.RoomMeta{
			StateSeq:    seq,
			Phase:       "playing",
			CurrentSeat: currentSeat,
			GameOver:    gameOver,
		},
		State: json.RawMessage(`{"x":1}`),
	}
}

func TestSyncGuardAppliesMonotonicSnapshot(t *testing.T) {
	g := NewSyncGuard(0, nil)

	if !g.ApplySnapshot(snapshot(1, 0, false)) {
		t.Fatal("expected first snapshot to be accepted")
	}
	if g.LastStateSeq() != 1 {
		t.Fatalf("expected lastStateSeq 1, got %d", g.LastStateSeq())
	}
}

func TestSyncGuardIgnoresNonMonotonicSnapshot(t *testing.T) {
	g := NewSyncGuard(0, nil)
	g.ApplySnapshot(snapshot(5, 0, false))

	if g.ApplySnapshot(snapshot(5, 0, false)) {
		t.Fatal("expected equal stateSeq snapshot to be ignored")
	}
	if g.ApplySnapshot(snapshot(3, 0, false)) {
		t.Fatal("expected older stateSeq snapshot to be ignored")
	}
	if g.LastStateSeq() != 5 {
		t.Fatalf("expected lastStateSeq to remain 5, got %d", g.LastStateSeq())
	}
}

func TestSyncGuardClearsTurnWhenSnapshotShowsOtherSeat(t *testing.T) {
	g := NewSyncGuard(0, nil)
	g.ApplyTurnPrompt(0, types.TurnPrompt{Seat: 0, ValidActions: []string{"play"}})
	if !g.Turn().IsMyTurn {
		t.Fatal("expected turn prompt to be adopted as a setup step")
	}

	g.ApplySnapshot(snapshot(1, 1, false))

	if g.Turn().IsMyTurn {
		t.Fatal("expected turn affordance cleared once snapshot shows another seat's turn")
	}
	if len(g.Turn().ValidActions) != 0 {
		t.Fatal("expected validActions cleared alongside isMyTurn")
	}
}

func TestSyncGuardAdoptsTurnPromptForOurSeat(t *testing.T) {
	g := NewSyncGuard(2, nil)
	accepted := g.ApplyTurnPrompt(2, types.TurnPrompt{Seat: 2, ValidActions: []string{"play"}, ValidCards: []string{"AS"}})

	if !accepted {
		t.Fatal("expected prompt addressed at our seat to be accepted")
	}
	turn := g.Turn()
	if !turn.IsMyTurn || len(turn.ValidActions) != 1 || len(turn.ValidCards) != 1 {
		t.Fatalf("expected turn adopted with actions/cards, got %+v", turn)
	}
}

func TestSyncGuardIgnoresTurnPromptForOtherSeat(t *testing.T) {
	g := NewSyncGuard(0, nil)
	accepted := g.ApplyTurnPrompt(1, types.TurnPrompt{Seat: 1, ValidActions: []string{"play"}})

	if accepted {
		t.Fatal("expected prompt addressed at another seat to be rejected as stale")
	}
	if g.Turn().IsMyTurn {
		t.Fatal("expected our turn state unaffected by another seat's prompt")
	}
}

func TestSyncGuardFallsBackToLocalRulesWhenOurTurnAndNoPromptYet(t *testing.T) {
	called := false
	localRules := func(meta types.RoomMeta, state json.RawMessage) TurnState {
		called = true
		return TurnState{ValidActions: []string{"play"}}
	}
	g := NewSyncGuard(0, localRules)

	g.ApplySnapshot(snapshot(1, 0, false))

	if !called {
		t.Fatal("expected local rules fallback invoked when our turn arrives with no prompt yet")
	}
	if len(g.Turn().ValidActions) != 1 {
		t.Fatalf("expected fallback actions adopted, got %+v", g.Turn())
	}
}

func TestSyncGuardDoesNotOverrideAlreadyAdoptedPromptWithFallback(t *testing.T) {
	called := false
	localRules := func(meta types.RoomMeta, state json.RawMessage) TurnState {
		called = true
		return TurnState{ValidActions: []string{"fallback"}}
	}
	g := NewSyncGuard(0, localRules)
	g.ApplyTurnPrompt(0, types.TurnPrompt{Seat: 0, ValidActions: []string{"real"}})

	g.ApplySnapshot(snapshot(1, 0, false))

	if called {
		t.Fatal("expected fallback skipped since a real prompt already set validActions")
	}
	if g.Turn().ValidActions[0] != "real" {
		t.Fatalf("expected real prompt preserved, got %+v", g.Turn())
	}
}

func TestSyncGuardOnSyncRequiredClearsTurn(t *testing.T) {
	g := NewSyncGuard(0, nil)
	g.ApplyTurnPrompt(0, types.TurnPrompt{Seat: 0, ValidActions: []string{"play"}})

	g.OnSyncRequired()

	if g.Turn().IsMyTurn {
		t.Fatal("expected turn affordance discarded on sync_required")
	}
}

func TestSyncGuardExpectedStateSeqTracksLastAccepted(t *testing.T) {
	g := NewSyncGuard(0, nil)
	g.ApplySnapshot(snapshot(7, 0, false))

	if g.ExpectedStateSeq() != 7 {
		t.Fatalf("expected ExpectedStateSeq 7, got %d", g.ExpectedStateSeq())
	}
}
