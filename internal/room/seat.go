package room

import (
	"time"

	"go.uber.org/zap"

	"github.com/qingchang/cardtable/internal/types"
)

// SeatBinding is what occupies a seat: nobody yet, a human, or an AI that
// has taken over for a disconnected/timed-out human.
type SeatBinding int

const (
	BindingEmpty SeatBinding = iota
	BindingHuman
	BindingAI
)

func (b SeatBinding) String() string {
	switch b {
	case BindingHuman:
		return "human"
	case BindingAI:
		return "ai"
	default:
		return "empty"
	}
}

// Seat is one position at the table. It is mutated only from inside the
// room's command loop goroutine, never directly by the gateway or realtime
// layer — those submit internal commands instead (see command.go).
type Seat struct {
	Index       int
	Binding     SeatBinding
	Identity    types.Identity
	DisplayName string
	Connected   bool
	AIName      string
}

// GraceWindow is how long a disconnected human's seat waits before
// substitution with AI.
const GraceWindow = 30 * time.Second

// initSeats binds the given humans to seats 0..len(humans)-1 in join order;
// any remaining seats become AI. Called once, by start_game.
func (ra *RoomActor) initSeats(humans []humanJoin) {
	ra.seats = make([]*Seat, ra.seatCount)
	ra.identityToSeat = make(map[types.Identity]int, len(humans))
	for i := 0; i < ra.seatCount; i++ {
		ra.seats[i] = &Seat{Index: i, Binding: BindingEmpty}
	}
	for i, h := range humans {
		if i >= ra.seatCount {
			break
		}
		ra.seats[i].Binding = BindingHuman
		ra.seats[i].Identity = h.Identity
		ra.seats[i].DisplayName = h.DisplayName
		ra.seats[i].Connected = true
		ra.identityToSeat[h.Identity] = i
	}
	for i := len(humans); i < ra.seatCount; i++ {
		ra.seats[i].Binding = BindingAI
		ra.seats[i].AIName = aiName(i)
	}
}

func aiName(seat int) string {
	names := []string{"Ace", "Birdie", "Comet", "Dash", "Echo", "Flux", "Glimmer", "Haze"}
	return names[seat%len(names)]
}

// seatOf resolves the seat currently bound to identity, per the
// identity-seat uniqueness invariant: at most one seat per identity.
func (ra *RoomActor) seatOf(identity types.Identity) (int, bool) {
	idx, ok := ra.identityToSeat[identity]
	return idx, ok
}

// attach binds identity to a seat: either a fresh join (pre-start, handled
// by initSeats) or a reconnect to a seat this identity previously held.
// Duplicate connections from an already-connected seat are not a seat
// mutation — only the subscriber changes (see Subscribe).
func (ra *RoomActor) attach(identity types.Identity, name string) (int, error) {
	if idx, ok := ra.seatOf(identity); ok {
		seat := ra.seats[idx]
		if seat.Binding == BindingHuman {
			if !seat.Connected {
				ra.cancelGrace(idx)
				seat.Connected = true
				if name != "" {
					seat.DisplayName = name
				}
				if ra.metrics != nil {
					ra.metrics.ReconnectTotal.Inc()
				}
			}
			return idx, nil
		}
		// Binding == BindingAI: substitution is permanent for this room
		// (spec.md §9 resolves this explicitly — no restore once AI has
		// taken the seat).
		return idx, types.NewError(types.ErrNotSeated, "seat was substituted with AI and cannot be restored")
	}
	return -1, types.NewError(types.ErrNotSeated, "identity is not seated in this room")
}

// disconnect marks a human seat disconnected and starts the grace timer.
// The seat stays Human during grace; turn prompts still target it.
func (ra *RoomActor) disconnect(identity types.Identity) {
	idx, ok := ra.seatOf(identity)
	if !ok {
		return
	}
	seat := ra.seats[idx]
	if seat.Binding != BindingHuman || !seat.Connected {
		return
	}
	seat.Connected = false
	ra.armGrace(idx)
}

func (ra *RoomActor) armGrace(seat int) {
	ra.cancelGrace(seat)
	fp := fingerprint{stateSeq: ra.stateSeq, seat: seat}
	ra.graceTimers[seat] = time.AfterFunc(GraceWindow, func() {
		ra.postInternal(internalCommand{kind: cmdGraceExpired, seat: seat, fp: fp})
	})
}

func (ra *RoomActor) cancelGrace(seat int) {
	if t, ok := ra.graceTimers[seat]; ok {
		t.Stop()
		delete(ra.graceTimers, seat)
	}
}

// graceExpired substitutes seat with AI, preserving team, history, and
// hand (the rule module's state is untouched; only the binding flips).
// Idempotent: a second expiration after substitution is a no-op.
func (ra *RoomActor) graceExpired(seat int) {
	s := ra.seats[seat]
	if s.Binding != BindingHuman || s.Connected {
		return
	}
	ra.substituteWithAI(seat)
	ra.logger.Info("seat substituted with AI after disconnect grace expired",
		zap.String("room_id", ra.RoomID), zap.Int("seat", seat))
}

// boot is forced substitution, used by turn-timeout escalation and the
// host's boot_player command.
func (ra *RoomActor) boot(seat int) bool {
	s := ra.seats[seat]
	if s.Binding != BindingHuman {
		return false
	}
	ra.substituteWithAI(seat)
	if ra.metrics != nil {
		ra.metrics.TurnTimerBoots.Inc()
	}
	return true
}

// substituteWithAI flips a seat's binding to AI and broadcasts the
// substitution, per spec.md §4.2: "Emits player_booted and a fresh
// snapshot." Every caller that forces a human out — host boot_player,
// turn-timeout auto-boot escalation, and disconnect-grace expiry — goes
// through here, so none of them can broadcast this inconsistently or
// forget to at all.
func (ra *RoomActor) substituteWithAI(seat int) {
	s := ra.seats[seat]
	identity := s.Identity
	s.Binding = BindingAI
	s.Connected = false
	s.AIName = s.DisplayName
	if s.AIName == "" {
		s.AIName = aiName(seat)
	}
	ra.cancelGrace(seat)
	delete(ra.identityToSeat, identity)
	ra.state = ra.module.Substitute(ra.state, seat)
	if ra.timedOutSeat == seat {
		ra.timedOutSeat = -1
	}
	ra.broadcastLifecycle("player_booted", map[string]any{"seatIndex": seat, "newName": s.AIName})
	ra.broadcastSnapshots()
}

// humanJoin is the Seat Manager's input shape for initSeats.
type humanJoin struct {
	Identity    types.Identity `json:"identity"`
	DisplayName string         `json:"displayName"`
}
