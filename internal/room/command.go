package room

import (
	"encoding/json"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/qingchang/cardtable/internal/types"
)

// dispatch is the single entry point every internal command kind funnels
// through, always running inside the actor's loop goroutine.
func (ra *RoomActor) dispatch(cmd internalCommand) error {
	defer ra.refreshSeatCache()
	switch cmd.kind {
	case cmdClient:
		return ra.dispatchClient(cmd.envelope)
	case cmdGraceExpired:
		ra.graceExpired(cmd.seat)
		ra.afterSeatChange()
		return nil
	case cmdTimerFire:
		ra.handleTimerFire(cmd)
		return nil
	case cmdAIFire:
		ra.fireAI(cmd)
		return nil
	case cmdDisconnect:
		ra.disconnect(cmd.identity)
		return nil
	case cmdReconnect:
		_, err := ra.attach(cmd.identity, cmd.displayName)
		return err
	default:
		return nil
	}
}

// dispatchClient implements the numbered command-dispatch algorithm from
// spec.md §4.1.
func (ra *RoomActor) dispatchClient(cmd types.CommandEnvelope) error {
	if ra.gameOver && cmd.Type != "request_state" && cmd.Type != "leave_game" {
		ra.emitError(cmd.Identity, types.ErrGameOver, "game is already over")
		return types.NewError(types.ErrGameOver, "game is already over")
	}

	switch cmd.Type {
	case "start_game":
		return ra.handleStartGame(cmd)
	case "request_state":
		return ra.handleRequestState(cmd)
	case "leave_game":
		return ra.handleLeaveGame(cmd)
	case "boot_player":
		return ra.handleBootPlayer(cmd)
	default:
		return ra.handleAction(cmd)
	}
}

func (ra *RoomActor) handleStartGame(cmd types.CommandEnvelope) error {
	if ra.stateSeq != 0 {
		ra.emitError(cmd.Identity, types.ErrInvalidAction, "game already started")
		return types.NewError(types.ErrInvalidAction, "game already started")
	}
	var p struct {
		Humans []humanJoin `json:"humans"`
	}
	_ = json.Unmarshal(cmd.Payload, &p)
	if len(p.Humans) == 0 {
		p.Humans = []humanJoin{{Identity: cmd.Identity}}
	}
	ra.initSeats(p.Humans)
	ra.state = ra.module.Deal(ra.seatCount, ra.settings)
	ra.stateSeq = 1

	ra.broadcastLifecycle("game_started", map[string]any{"roomId": ra.RoomID})
	ra.broadcastSnapshots()
	ra.afterSeatChange()
	return nil
}

func (ra *RoomActor) handleRequestState(cmd types.CommandEnvelope) error {
	seatIdx, ok := ra.seatOf(cmd.Identity)
	if !ok {
		ra.emitError(cmd.Identity, types.ErrNotSeated, "identity is not seated in this room")
		return types.NewError(types.ErrNotSeated, "identity is not seated in this room")
	}
	ra.sendToIdentity(cmd.Identity, ra.snapshotEvent(seatIdx))
	if ra.stateSeq > 0 && ra.module.CurrentSeat(ra.state) == seatIdx && !ra.gameOver {
		ra.emitTurnPrompt(seatIdx)
	}
	return nil
}

func (ra *RoomActor) handleLeaveGame(cmd types.CommandEnvelope) error {
	seatIdx, ok := ra.seatOf(cmd.Identity)
	if !ok {
		return nil
	}
	ra.seats[seatIdx].Connected = false
	ra.disconnect(cmd.Identity)
	ra.broadcastLifecycle("player_left", map[string]any{"seatIndex": seatIdx})
	if ra.humanCount() == 0 && ra.onDestroy != nil {
		go ra.onDestroy(ra.RoomID)
	}
	return nil
}

func (ra *RoomActor) humanCount() int {
	n := 0
	for _, s := range ra.seats {
		if s.Binding == BindingHuman {
			n++
		}
	}
	return n
}

func (ra *RoomActor) handleBootPlayer(cmd types.CommandEnvelope) error {
	if cmd.Identity != ra.HostIdentity {
		ra.emitError(cmd.Identity, types.ErrInvalidAction, "only the host can boot a player")
		return types.NewError(types.ErrInvalidAction, "only the host can boot a player")
	}
	var p struct {
		SeatIndex int `json:"seatIndex"`
	}
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		ra.emitError(cmd.Identity, types.ErrInvalidAction, "invalid boot_player payload")
		return types.NewError(types.ErrInvalidAction, "invalid boot_player payload")
	}
	if ra.timedOutSeat != p.SeatIndex {
		ra.emitError(cmd.Identity, types.ErrInvalidAction, "seat is not currently timed out")
		return types.NewError(types.ErrInvalidAction, "seat is not currently timed out")
	}
	name := ra.seats[p.SeatIndex].DisplayName
	ra.boot(p.SeatIndex)
	ra.logger.Info("player booted",
		zap.String("room_id", ra.RoomID), zap.Int("seat", p.SeatIndex), zap.String("was", name))
	ra.afterSeatChange()
	return nil
}

// handleAction is step 1-10 of spec.md §4.1 for rule-module action
// commands: make_bid, play_card, discard_card, play_cards, pass,
// give_cards.
func (ra *RoomActor) handleAction(cmd types.CommandEnvelope) error {
	// Step 1: expectedStateSeq guard.
	if cmd.ExpectedStateSeq != nil && *cmd.ExpectedStateSeq != ra.stateSeq {
		ra.emitError(cmd.Identity, types.ErrSyncRequired, "state sequence mismatch")
		return types.NewError(types.ErrSyncRequired, "state sequence mismatch")
	}
	if ra.stateSeq == 0 {
		ra.emitError(cmd.Identity, types.ErrInvalidAction, "game has not started")
		return types.NewError(types.ErrInvalidAction, "game has not started")
	}
	// Step 2: resolve seat.
	seatIdx, ok := ra.seatOf(cmd.Identity)
	if !ok {
		ra.emitError(cmd.Identity, types.ErrNotSeated, "identity is not seated in this room")
		return types.NewError(types.ErrNotSeated, "identity is not seated in this room")
	}
	if seatIdx != ra.module.CurrentSeat(ra.state) {
		ra.emitError(cmd.Identity, types.ErrNotYourTurn, "it is not your turn")
		return types.NewError(types.ErrNotYourTurn, "it is not your turn")
	}
	return ra.applyAndSettle(seatIdx, cmd.Type, cmd.Payload, cmd.Identity)
}

// applyAndSettle runs steps 3-10 for a resolved seat and action, shared
// by human commands and AI-fired actions.
func (ra *RoomActor) applyAndSettle(seatIdx int, actionType string, payload []byte, submitter types.Identity) (err error) {
	newState, events, applyErr := ra.module.Apply(ra.state, seatIdx, actionType, payload)
	if applyErr != nil {
		ra.emitError(submitter, types.ErrInvalidAction, applyErr.Error())
		return types.NewError(types.ErrInvalidAction, applyErr.Error())
	}

	// Step 5: commit.
	ra.state = newState
	ra.stateSeq++
	ra.timedOutSeat = -1

	// Step 6: domain events before the snapshot that advances past them
	// (spec.md §9 resolves this ordering explicitly).
	out := make([]domainEventOut, len(events))
	for i, e := range events {
		out[i] = domainEventOut{Type: e.Type, Payload: e.Payload}
	}
	ra.broadcastDomainEvents(out)

	// Step 7: filtered snapshots to every human.
	ra.broadcastSnapshots()

	ra.gameOver = ra.module.GameOver(ra.state)
	ra.afterSeatChange()
	return nil
}

// afterSeatChange implements steps 8-10: arm/disarm the turn timer and
// schedule the next actor (human prompt or AI think delay), or finish
// the game. Also used after a seat substitution changes who is "current"
// without the rule state itself moving.
func (ra *RoomActor) afterSeatChange() {
	if ra.stateSeq == 0 {
		return
	}
	if ra.gameOver {
		ra.disarmTurnTimer()
		// Final per-recipient snapshots already went out in applyAndSettle;
		// this lifecycle message carries no seat-private data of its own.
		ra.broadcastLifecycle("game_over", map[string]any{"roomId": ra.RoomID})
		return
	}
	currentSeat := ra.module.CurrentSeat(ra.state)
	seat := ra.seats[currentSeat]
	if seat.Binding == BindingHuman {
		ra.armTurnTimer(currentSeat)
		ra.emitTurnPrompt(currentSeat)
		return
	}
	ra.disarmTurnTimer()
	ra.scheduleAIAction(currentSeat)
}

func (ra *RoomActor) emitTurnPrompt(seat int) {
	actions, cards, plays := ra.module.ValidActions(ra.state, seat)
	prompt := types.TurnPrompt{Seat: seat, ValidActions: actions, ValidCards: cards, ValidPlays: plays}
	ra.sendToSeat(seat, types.Event{
		Kind:     types.EventTurnPrompt,
		RoomID:   ra.RoomID,
		Type:     "your_turn",
		StateSeq: ra.stateSeq,
		Data:     mustJSON(prompt),
		ServerTS: time.Now().UnixMilli(),
	})
}

// AIThinkMin/Max bound the randomized "think delay" before an AI seat
// acts, so AI turns feel paced rather than instantaneous.
const (
	AIThinkMin = 400 * time.Millisecond
	AIThinkMax = 1400 * time.Millisecond
)

func (ra *RoomActor) scheduleAIAction(seat int) {
	delay := AIThinkMin + time.Duration(rand.Int64N(int64(AIThinkMax-AIThinkMin)))
	if ra.metrics != nil {
		ra.metrics.AIThinkLatency.Observe(float64(delay.Milliseconds()))
	}
	fp := fingerprint{stateSeq: ra.stateSeq, seat: seat}
	time.AfterFunc(delay, func() {
		ra.postInternal(internalCommand{kind: cmdAIFire, seat: seat, fp: fp})
	})
}

func (ra *RoomActor) fireAI(cmd internalCommand) {
	if cmd.fp.stateSeq != ra.stateSeq || ra.seats[cmd.seat].Binding != BindingAI {
		return
	}
	if ra.module.CurrentSeat(ra.state) != cmd.seat {
		return
	}
	action, payload := ra.chooseAIAction(cmd.seat)
	if action == "" {
		return
	}
	_ = ra.applyAndSettle(cmd.seat, action, payload, "")
}

// chooseAIAction delegates the actual decision to the injected AIPolicy
// (internal/bot). A room with no policy configured leaves AI seats idle
// rather than guessing at a kind-specific payload shape.
func (ra *RoomActor) chooseAIAction(seat int) (string, json.RawMessage) {
	if ra.aiPolicy == nil {
		return "", nil
	}
	return ra.aiPolicy(ra.Kind, ra.module, ra.state, seat)
}
