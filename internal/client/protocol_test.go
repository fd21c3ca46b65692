package client

import (
	"encoding/json"
	"testing"

	"github.com/qingchang/cardtable/internal/types"
)

func TestProtocolBuildCommandStampsExpectedStateSeq(t *testing.T) {
	st := NewStore(0, 2, nil, nil)
	st.ApplySnapshot(storeSnapshot(4, 0))
	p := NewProtocol("id-1", "room-1", st)

	cmd := p.BuildCommand("play_card", json.RawMessage(`{}`), 2)

	if cmd.ExpectedStateSeq != 4 {
		t.Fatalf("expected expectedStateSeq to be max(4,2)=4, got %d", cmd.ExpectedStateSeq)
	}
	if cmd.RoomID != "room-1" || cmd.Identity != types.Identity("id-1") {
		t.Fatalf("expected command stamped with room/identity, got %+v", cmd)
	}
}

func TestProtocolBuildCommandUsesQueueStateSeqWhenHigher(t *testing.T) {
	st := NewStore(0, 2, nil, nil)
	st.ApplySnapshot(storeSnapshot(2, 0))
	p := NewProtocol("id-1", "room-1", st)

	cmd := p.BuildCommand("play_card", nil, 9)

	if cmd.ExpectedStateSeq != 9 {
		t.Fatalf("expected max(2,9)=9, got %d", cmd.ExpectedStateSeq)
	}
}

func TestProtocolHandleErrorSyncRequiredRequestsResyncAndClearsTurn(t *testing.T) {
	st := NewStore(0, 2, nil, nil)
	st.ApplySnapshot(storeSnapshot(1, 0))
	st.ApplyTurnPrompt(0, types.TurnPrompt{Seat: 0, ValidActions: []string{"play"}})
	p := NewProtocol("id-1", "room-1", st)

	needsResync := p.HandleError(types.NewError(types.ErrSyncRequired, "stale"))

	if !needsResync {
		t.Fatal("expected sync_required to report needsResync=true")
	}
	if st.Projection().IsMyTurn {
		t.Fatal("expected turn affordance discarded on sync_required")
	}
}

func TestProtocolHandleErrorOtherRestoresFromRulesWhenStillOurTurn(t *testing.T) {
	localRules := func(meta types.RoomMeta, state json.RawMessage) TurnState {
		return TurnState{ValidActions: []string{"retry"}}
	}
	st := NewStore(0, 2, localRules, nil)
	// Suppress the automatic fallback on ApplySnapshot so we can observe
	// HandleError triggering it explicitly.
	st.guard.turn = TurnState{IsMyTurn: true, ValidActions: []string{"play"}}
	st.ApplySnapshot(storeSnapshot(1, 0))

	p := NewProtocol("id-1", "room-1", st)
	needsResync := p.HandleError(types.NewError(types.ErrInvalidAction, "bad"))

	if needsResync {
		t.Fatal("expected non-sync_required error to not request a resync")
	}
	if len(st.Projection().ValidActions) != 1 || st.Projection().ValidActions[0] != "retry" {
		t.Fatalf("expected turn restored from local rules, got %+v", st.Projection().ValidActions)
	}
}

func TestProtocolHandleErrorNilIsNoop(t *testing.T) {
	st := NewStore(0, 2, nil, nil)
	p := NewProtocol("id-1", "room-1", st)
	if p.HandleError(nil) {
		t.Fatal("expected nil error to never request a resync")
	}
}
