package room

import (
	"time"

	"github.com/qingchang/cardtable/internal/types"
)

// ReminderInterval is the cadence at which a stalled human's turn is
// re-prompted.
const ReminderInterval = 15 * time.Second

// BootThreshold is how many reminders fire before the seat is marked
// timed out and eligible for a boot.
const BootThreshold = 4

// AutoBootDelay is how long the runtime waits after timedOutSeat is set
// before auto-substituting, if the host never issues boot_player. The
// spec leaves the exact interval to the implementation ("a further short
// interval"); one more reminder interval keeps the cadence uniform.
const AutoBootDelay = ReminderInterval

// fingerprint lets a scheduled callback (timer fire, AI think) detect
// that the state it was scheduled against has moved on, so it can no-op
// instead of mutating against stale assumptions.
type fingerprint struct {
	stateSeq uint64
	seat     int
}

// turnTimer is the per-room {Idle, Armed(seat, remindersSent)} state
// machine.
type turnTimer struct {
	armed         bool
	seat          int
	remindersSent int
	pendingTimer  *time.Timer
}

// armTurnTimer starts (or restarts) the reminder cadence for seat's turn.
func (ra *RoomActor) armTurnTimer(seat int) {
	ra.disarmTurnTimer()
	ra.timer.armed = true
	ra.timer.seat = seat
	ra.timer.remindersSent = 0
	ra.scheduleNextTick(seat, ReminderInterval)
}

// disarmTurnTimer cancels the cadence: called on any action from the
// armed seat, on phase change, on substitution, and on game_over.
func (ra *RoomActor) disarmTurnTimer() {
	if ra.timer.pendingTimer != nil {
		ra.timer.pendingTimer.Stop()
		ra.timer.pendingTimer = nil
	}
	ra.timer.armed = false
}

func (ra *RoomActor) scheduleNextTick(seat int, after time.Duration) {
	fp := fingerprint{stateSeq: ra.stateSeq, seat: seat}
	ra.timer.pendingTimer = time.AfterFunc(after, func() {
		ra.postInternal(internalCommand{kind: cmdTimerFire, seat: seat, fp: fp})
	})
}

// handleTimerFire processes a fired reminder/boot tick. It no-ops if the
// fingerprint is stale, which makes cancellation implicit: a timer that
// fires after the turn has already moved on has nothing to do.
func (ra *RoomActor) handleTimerFire(cmd internalCommand) {
	if !ra.timer.armed || cmd.fp.seat != ra.timer.seat || cmd.fp.stateSeq != ra.stateSeq {
		return
	}
	if ra.timedOutSeat == cmd.seat {
		// Already past BootThreshold and waiting on a boot; this tick is
		// the auto-boot escalation.
		if ra.boot(cmd.seat) {
			ra.afterSeatChange()
		}
		return
	}
	ra.timer.remindersSent++
	ra.emitTurnReminder(cmd.seat)
	if ra.timer.remindersSent >= BootThreshold {
		ra.timedOutSeat = cmd.seat
		ra.broadcastLifecycle("player_timed_out", map[string]any{
			"seatIndex":  cmd.seat,
			"playerName": ra.seats[cmd.seat].DisplayName,
		})
		ra.scheduleNextTick(cmd.seat, AutoBootDelay)
		return
	}
	ra.scheduleNextTick(cmd.seat, ReminderInterval)
}

func (ra *RoomActor) emitTurnReminder(seat int) {
	actions, cards, plays := ra.module.ValidActions(ra.state, seat)
	prompt := types.TurnPrompt{Seat: seat, ValidActions: actions, ValidCards: cards, ValidPlays: plays}
	ra.sendToSeat(seat, types.Event{
		Kind:     types.EventTurnReminder,
		RoomID:   ra.RoomID,
		Type:     "turn_reminder",
		StateSeq: ra.stateSeq,
		Data:     mustJSON(prompt),
		ServerTS: time.Now().UnixMilli(),
	})
}
