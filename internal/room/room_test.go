package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/qingchang/cardtable/internal/rules"
	"github.com/qingchang/cardtable/internal/types"
)

// fakeState/fakeModule is a minimal 2-seat ping-pong rule module used to
// exercise the room runtime's dispatch algorithm without depending on a
// real game's randomness or card rules.
type fakeState struct {
	Current int
	Pings   int
	Over    bool
}

func (s *fakeState) Clone() rules.State {
	cp := *s
	return &cp
}

type fakeModule struct{}

func (fakeModule) Kind() string                             { return "fake" }
func (fakeModule) SeatCount(rules.Settings) int              { return 2 }
func (fakeModule) Deal(seats int, settings rules.Settings) rules.State {
	return &fakeState{Current: 0}
}
func (fakeModule) Apply(rs rules.State, seat int, action string, payload json.RawMessage) (rules.State, []rules.DomainEvent, error) {
	s := rs.(*fakeState).Clone().(*fakeState)
	if action == "panic" {
		panic("boom")
	}
	if action != "ping" {
		return nil, nil, &rules.ValidationError{Message: "unknown action"}
	}
	s.Pings++
	s.Current = 1 - s.Current
	if s.Pings >= 4 {
		s.Over = true
	}
	return s, []rules.DomainEvent{{Type: "pinged"}}, nil
}
func (fakeModule) Snapshot(rs rules.State, viewerSeat int) json.RawMessage {
	b, _ := json.Marshal(rs.(*fakeState))
	return b
}
func (fakeModule) ValidActions(rs rules.State, seat int) ([]string, []string, [][]string) {
	return []string{"ping"}, nil, nil
}
func (fakeModule) Phase(rs rules.State) string      { return "playing" }
func (fakeModule) CurrentSeat(rs rules.State) int    { return rs.(*fakeState).Current }
func (fakeModule) Dealer(rs rules.State) int         { return 0 }
func (fakeModule) GameOver(rs rules.State) bool       { return rs.(*fakeState).Over }
func (fakeModule) Substitute(rs rules.State, seat int) rules.State { return rs }

func newTestRoom(t *testing.T) *RoomActor {
	t.Helper()
	logger := zap.NewNop()
	ra := NewRoomActor(context.Background(), "room-1", "fake", fakeModule{}, nil, "host", logger, nil, nil, func(string) {})
	return ra
}

func collectEvents(t *testing.T) (func(types.Event), *eventLog) {
	t.Helper()
	log := &eventLog{}
	return func(e types.Event) {
		log.mu.Lock()
		defer log.mu.Unlock()
		log.events = append(log.events, e)
	}, log
}

type eventLog struct {
	mu     sync.Mutex
	events []types.Event
}

func (l *eventLog) all() []types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.Event(nil), l.events...)
}

func TestStartGameAdvancesStateSeqAndPromptsCurrentSeat(t *testing.T) {
	ra := newTestRoom(t)
	defer ra.Stop()

	sendA, logA := collectEvents(t)
	sendB, _ := collectEvents(t)
	ra.Subscribe("alice", sendA)
	ra.Subscribe("bob", sendB)

	err := ra.Dispatch(types.CommandEnvelope{
		RoomID:   "room-1",
		Type:     "start_game",
		Identity: "alice",
		Payload: mustMarshal(t, map[string]any{
			"humans": []map[string]string{{"identity": "alice"}, {"identity": "bob"}},
		}),
	})
	if err != nil {
		t.Fatalf("start_game: %v", err)
	}
	if ra.StateSeq() != 1 {
		t.Fatalf("stateSeq = %d, want 1", ra.StateSeq())
	}

	foundPrompt := false
	for _, e := range logA.all() {
		if e.Type == "your_turn" {
			foundPrompt = true
		}
	}
	if !foundPrompt {
		t.Error("expected your_turn prompt for seat 0 (alice)")
	}
}

func TestSyncRequiredRejectsStaleExpectedSeq(t *testing.T) {
	ra := newTestRoom(t)
	defer ra.Stop()
	sendA, logA := collectEvents(t)
	sendB, _ := collectEvents(t)
	ra.Subscribe("alice", sendA)
	ra.Subscribe("bob", sendB)
	_ = ra.Dispatch(types.CommandEnvelope{
		Type: "start_game", Identity: "alice",
		Payload: mustMarshal(t, map[string]any{
			"humans": []map[string]string{{"identity": "alice"}, {"identity": "bob"}},
		}),
	})

	stale := uint64(99)
	err := ra.Dispatch(types.CommandEnvelope{
		Type: "ping", Identity: "alice", ExpectedStateSeq: &stale,
	})
	if err == nil || !types.Is(err, types.ErrSyncRequired) {
		t.Fatalf("expected sync_required, got %v", err)
	}
	if ra.StateSeq() != 1 {
		t.Fatalf("stateSeq mutated by rejected command: %d", ra.StateSeq())
	}
	found := false
	for _, e := range logA.all() {
		if e.Type == "error" {
			found = true
		}
	}
	if !found {
		t.Error("expected an error event delivered to the submitter")
	}
}

func TestNotYourTurnRejected(t *testing.T) {
	ra := newTestRoom(t)
	defer ra.Stop()
	sendA, _ := collectEvents(t)
	sendB, _ := collectEvents(t)
	ra.Subscribe("alice", sendA)
	ra.Subscribe("bob", sendB)
	_ = ra.Dispatch(types.CommandEnvelope{
		Type: "start_game", Identity: "alice",
		Payload: mustMarshal(t, map[string]any{
			"humans": []map[string]string{{"identity": "alice"}, {"identity": "bob"}},
		}),
	})

	err := ra.Dispatch(types.CommandEnvelope{Type: "ping", Identity: "bob"})
	if err == nil || !types.Is(err, types.ErrNotYourTurn) {
		t.Fatalf("expected not_your_turn, got %v", err)
	}
}

func TestMonotonicSequenceAcrossConcurrentSubmits(t *testing.T) {
	ra := newTestRoom(t)
	defer ra.Stop()
	sendA, logA := collectEvents(t)
	sendB, _ := collectEvents(t)
	ra.Subscribe("alice", sendA)
	ra.Subscribe("bob", sendB)
	_ = ra.Dispatch(types.CommandEnvelope{
		Type: "start_game", Identity: "alice",
		Payload: mustMarshal(t, map[string]any{
			"humans": []map[string]string{{"identity": "alice"}, {"identity": "bob"}},
		}),
	})

	var wg sync.WaitGroup
	turn := []string{"alice", "bob", "alice"}
	for _, who := range turn {
		wg.Add(1)
		go func(identity string) {
			defer wg.Done()
			_ = ra.Dispatch(types.CommandEnvelope{Type: "ping", Identity: types.Identity(identity)})
		}(who)
	}
	wg.Wait()
	if ra.StateSeq() < 2 {
		t.Fatalf("stateSeq did not advance: %d", ra.StateSeq())
	}
	var last uint64
	for _, e := range logA.all() {
		if e.Kind != types.EventSnapshot {
			continue
		}
		if e.StateSeq <= last {
			t.Fatalf("snapshot stateSeq %d not above previous %d", e.StateSeq, last)
		}
		last = e.StateSeq
	}
}

func TestIdentitySeatUniquenessRejectsUnseatedIdentity(t *testing.T) {
	ra := newTestRoom(t)
	defer ra.Stop()
	sendA, _ := collectEvents(t)
	sendB, _ := collectEvents(t)
	ra.Subscribe("alice", sendA)
	ra.Subscribe("bob", sendB)
	_ = ra.Dispatch(types.CommandEnvelope{
		Type: "start_game", Identity: "alice",
		Payload: mustMarshal(t, map[string]any{
			"humans": []map[string]string{{"identity": "alice"}, {"identity": "bob"}},
		}),
	})

	err := ra.Dispatch(types.CommandEnvelope{Type: "ping", Identity: "carol"})
	if err == nil || !types.Is(err, types.ErrNotSeated) {
		t.Fatalf("expected not_seated, got %v", err)
	}
}

func TestDisconnectGraceThenReconnectLeavesSeatHuman(t *testing.T) {
	ra := newTestRoom(t)
	defer ra.Stop()
	sendA, _ := collectEvents(t)
	sendB, _ := collectEvents(t)
	ra.Subscribe("alice", sendA)
	ra.Subscribe("bob", sendB)
	_ = ra.Dispatch(types.CommandEnvelope{
		Type: "start_game", Identity: "alice",
		Payload: mustMarshal(t, map[string]any{
			"humans": []map[string]string{{"identity": "alice"}, {"identity": "bob"}},
		}),
	})

	if err := ra.Disconnect("alice"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if ra.seats[0].Binding != BindingHuman {
		t.Fatalf("seat binding = %v, want human during grace", ra.seats[0].Binding)
	}
	if ra.seats[0].Connected {
		t.Fatal("seat should be marked disconnected during grace")
	}
	if err := ra.Reconnect("alice", ""); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if !ra.seats[0].Connected {
		t.Fatal("seat should be reconnected")
	}
	if seat, ok := ra.SeatOf("alice"); !ok || seat != 0 {
		t.Fatalf("SeatOf(alice) = (%d, %v), want (0, true)", seat, ok)
	}
}

func TestGraceExpiryBootsSeatAndBroadcastsToOtherHumans(t *testing.T) {
	ra := newTestRoom(t)
	defer ra.Stop()
	sendA, _ := collectEvents(t)
	sendB, logB := collectEvents(t)
	ra.Subscribe("alice", sendA)
	ra.Subscribe("bob", sendB)
	_ = ra.Dispatch(types.CommandEnvelope{
		Type: "start_game", Identity: "alice",
		Payload: mustMarshal(t, map[string]any{
			"humans": []map[string]string{{"identity": "alice"}, {"identity": "bob"}},
		}),
	})

	if err := ra.Disconnect("alice"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	// Drive the grace timer's callback directly instead of waiting out the
	// real GraceWindow; graceExpired itself carries no fingerprint check
	// (substitution is a one-way door, so a stale fire is still correct).
	if err := ra.post(internalCommand{kind: cmdGraceExpired, seat: 0}); err != nil {
		t.Fatalf("post grace_expired: %v", err)
	}

	if ra.seats[0].Binding != BindingAI {
		t.Fatalf("seat binding = %v, want ai after grace expiry", ra.seats[0].Binding)
	}

	foundBooted := false
	foundSnapshotAfter := false
	for _, e := range logB.all() {
		if e.Type == "player_booted" {
			foundBooted = true
		}
		if foundBooted && e.Kind == types.EventSnapshot {
			foundSnapshotAfter = true
		}
	}
	if !foundBooted {
		t.Error("expected player_booted lifecycle event delivered to bob")
	}
	if !foundSnapshotAfter {
		t.Error("expected a fresh snapshot delivered to bob after the substitution")
	}

	if _, ok := ra.SeatOf("alice"); ok {
		t.Fatal("alice should no longer resolve to a seat once substituted")
	}
}

func TestTurnTimerAutoBootEscalationBootsSeatAndBroadcasts(t *testing.T) {
	ra := newTestRoom(t)
	defer ra.Stop()
	sendA, logA := collectEvents(t)
	sendB, logB := collectEvents(t)
	ra.Subscribe("alice", sendA)
	ra.Subscribe("bob", sendB)
	_ = ra.Dispatch(types.CommandEnvelope{
		Type: "start_game", Identity: "alice",
		Payload: mustMarshal(t, map[string]any{
			"humans": []map[string]string{{"identity": "alice"}, {"identity": "bob"}},
		}),
	})

	// Seat 0 (alice) is current after start_game. Drive BootThreshold
	// reminder ticks directly, bypassing ReminderInterval's real delay,
	// then one more tick for the auto-boot escalation itself.
	fp := fingerprint{stateSeq: ra.StateSeq(), seat: 0}
	for i := 0; i < BootThreshold; i++ {
		if err := ra.post(internalCommand{kind: cmdTimerFire, seat: 0, fp: fp}); err != nil {
			t.Fatalf("post timer_fire (reminder %d): %v", i, err)
		}
	}
	if err := ra.post(internalCommand{kind: cmdTimerFire, seat: 0, fp: fp}); err != nil {
		t.Fatalf("post timer_fire (escalation): %v", err)
	}

	if ra.seats[0].Binding != BindingAI {
		t.Fatalf("seat binding = %v, want ai after auto-boot escalation", ra.seats[0].Binding)
	}

	foundTimedOut := false
	for _, e := range logA.all() {
		if e.Type == "player_timed_out" {
			foundTimedOut = true
		}
	}
	if !foundTimedOut {
		t.Error("expected player_timed_out lifecycle event before escalation")
	}

	foundBooted := false
	foundSnapshotAfter := false
	for _, e := range logB.all() {
		if e.Type == "player_booted" {
			foundBooted = true
		}
		if foundBooted && e.Kind == types.EventSnapshot {
			foundSnapshotAfter = true
		}
	}
	if !foundBooted {
		t.Error("expected player_booted lifecycle event delivered to bob")
	}
	if !foundSnapshotAfter {
		t.Error("expected a fresh snapshot delivered to bob after the substitution")
	}
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
