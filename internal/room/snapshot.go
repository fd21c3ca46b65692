package room

import (
	"time"

	"github.com/qingchang/cardtable/internal/types"
)

// snapshotFor builds a fresh, per-recipient filtered view of room state.
// It never mutates and never caches: every call re-renders from current
// state, matching the "no incremental diffing" contract.
func (ra *RoomActor) snapshotFor(seat int) types.Snapshot {
	meta := types.RoomMeta{
		StateSeq:    ra.stateSeq,
		Phase:       ra.module.Phase(ra.state),
		CurrentSeat: ra.module.CurrentSeat(ra.state),
		Dealer:      ra.module.Dealer(ra.state),
		GameOver:    ra.gameOver,
	}
	if ra.timedOutSeat >= 0 {
		meta.TimedOutSeat = ra.timedOutSeat
	}
	return types.Snapshot{
		RoomMeta: meta,
		State:    ra.module.Snapshot(ra.state, seat),
	}
}

func (ra *RoomActor) snapshotEvent(seat int) types.Event {
	return types.Event{
		Kind:     types.EventSnapshot,
		RoomID:   ra.RoomID,
		Type:     "snapshot",
		StateSeq: ra.stateSeq,
		Data:     mustJSON(ra.snapshotFor(seat)),
		ServerTS: time.Now().UnixMilli(),
	}
}

// broadcastSnapshots emits one filtered snapshot per connected/bound
// human recipient. AI seats have no subscriber and are skipped.
func (ra *RoomActor) broadcastSnapshots() {
	start := time.Now()
	for _, seat := range ra.seats {
		if seat.Binding != BindingHuman {
			continue
		}
		ra.sendToIdentity(seat.Identity, ra.snapshotEvent(seat.Index))
	}
	if ra.metrics != nil {
		ra.metrics.BroadcastLatency.Observe(float64(time.Since(start).Milliseconds()))
	}
}

func (ra *RoomActor) sendToSeat(seatIdx int, ev types.Event) {
	if seatIdx < 0 || seatIdx >= len(ra.seats) {
		return
	}
	seat := ra.seats[seatIdx]
	if seat.Binding != BindingHuman {
		return
	}
	ra.sendToIdentity(seat.Identity, ev)
}

func (ra *RoomActor) sendToIdentity(identity types.Identity, ev types.Event) {
	ra.subsMu.RLock()
	sub, ok := ra.subs[identity]
	ra.subsMu.RUnlock()
	if ok && sub.Send != nil {
		sub.Send(ev)
	}
}

func (ra *RoomActor) broadcastDomainEvents(events []domainEventOut) {
	for _, e := range events {
		for _, seat := range ra.seats {
			if seat.Binding != BindingHuman {
				continue
			}
			ra.sendToIdentity(seat.Identity, types.Event{
				Kind:     types.EventDomain,
				RoomID:   ra.RoomID,
				Type:     e.Type,
				StateSeq: ra.stateSeq,
				Data:     e.Payload,
				ServerTS: time.Now().UnixMilli(),
			})
		}
	}
}

func (ra *RoomActor) broadcastLifecycle(typ string, payload any) {
	ev := types.Event{
		Kind:     types.EventLifecycle,
		RoomID:   ra.RoomID,
		Type:     typ,
		StateSeq: ra.stateSeq,
		Data:     mustJSON(payload),
		ServerTS: time.Now().UnixMilli(),
	}
	for _, seat := range ra.seats {
		if seat.Binding != BindingHuman {
			continue
		}
		ra.sendToIdentity(seat.Identity, ev)
	}
}

type domainEventOut struct {
	Type    string
	Payload []byte
}
