// Package room implements the Room Runtime (C2), the Seat Manager (C3,
// seat.go), the Turn Timer (C4, timer.go), and the Snapshot Emitter (C5,
// snapshot.go). A RoomActor owns exactly one game instance: one rule
// module, one command queue, one turn clock. All of it is mutated only
// from inside the actor's own loop goroutine.
package room

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qingchang/cardtable/internal/observability"
	"github.com/qingchang/cardtable/internal/rules"
	"github.com/qingchang/cardtable/internal/types"
)

// Subscriber is a single recipient of a room's events: one connected
// socket session. Send must not block; the realtime layer is expected to
// buffer per-connection.
type Subscriber struct {
	Identity types.Identity
	Send     func(types.Event)
}

const (
	cmdClient       = "client"
	cmdGraceExpired = "grace_expired"
	cmdTimerFire    = "timer_fire"
	cmdAIFire       = "ai_fire"
	cmdDisconnect   = "disconnect"
	cmdReconnect    = "reconnect"
)

type internalCommand struct {
	kind        string
	envelope    types.CommandEnvelope
	seat        int
	fp          fingerprint
	identity    types.Identity
	displayName string
}

type roomRequest struct {
	cmd  internalCommand
	resp chan error
}

// RoomActor is the Room Runtime: one logical executor per room, serializing
// every command and timer callback through cmdCh exactly as the teacher's
// RoomActor.loop does, generalized to call into a pluggable rules.Module
// instead of a fixed engine.
type RoomActor struct {
	RoomID       string
	Kind         types.Kind
	HostIdentity types.Identity

	ctx    context.Context
	cancel context.CancelFunc

	logger  *zap.Logger
	metrics *observability.Metrics

	module    rules.Module
	settings  rules.Settings
	seatCount int

	cmdCh chan roomRequest

	// Mutated only inside loop().
	state        rules.State
	stateSeq     uint64
	gameOver     bool
	timedOutSeat int
	seats        []*Seat
	identityToSeat map[types.Identity]int
	graceTimers  map[int]*time.Timer
	timer        turnTimer

	subsMu sync.RWMutex
	subs   map[types.Identity]Subscriber

	seatCacheMu sync.RWMutex
	seatCache   map[types.Identity]int

	onDestroy func(roomID string)
	aiPolicy  AIPolicy
}

// AIPolicy decides what an AI-bound seat does on its turn. internal/bot
// supplies the real implementation; a nil policy simply leaves AI seats
// idle (the room-package tests use one, including those that substitute
// a seat with AI).
type AIPolicy func(kind types.Kind, module rules.Module, state rules.State, seat int) (action string, payload json.RawMessage)

// NewRoomActor creates a room bound to the given rule module and starts
// its command loop. The game does not begin until a start_game command
// is submitted.
func NewRoomActor(ctx context.Context, roomID string, kind types.Kind, module rules.Module, settings rules.Settings, host types.Identity, logger *zap.Logger, metrics *observability.Metrics, aiPolicy AIPolicy, onDestroy func(string)) *RoomActor {
	actorCtx, cancel := context.WithCancel(ctx)
	ra := &RoomActor{
		RoomID:         roomID,
		Kind:           kind,
		HostIdentity:   host,
		ctx:            actorCtx,
		cancel:         cancel,
		logger:         logger,
		metrics:        metrics,
		module:         module,
		settings:       settings,
		seatCount:      module.SeatCount(settings),
		cmdCh:          make(chan roomRequest, 256),
		identityToSeat: make(map[types.Identity]int),
		graceTimers:    make(map[int]*time.Timer),
		subs:           make(map[types.Identity]Subscriber),
		timedOutSeat:   -1,
		aiPolicy:       aiPolicy,
		onDestroy:      onDestroy,
	}
	go ra.loop()
	return ra
}

// Stop tears down the room's executor and all pending timers.
func (ra *RoomActor) Stop() {
	ra.disarmTurnTimer()
	for seat := range ra.graceTimers {
		ra.cancelGrace(seat)
	}
	ra.cancel()
}

func (ra *RoomActor) loop() {
	for {
		select {
		case <-ra.ctx.Done():
			return
		case req := <-ra.cmdCh:
			err := ra.executeCommand(req.cmd)
			if req.resp != nil {
				req.resp <- err
			}
		}
	}
}

// executeCommand wraps handling with panic recovery: a rule-module fault
// becomes error{internal} and the runtime stays alive with state
// unchanged, per spec.md §4.1 failure semantics.
func (ra *RoomActor) executeCommand(cmd internalCommand) (err error) {
	start := time.Now()
	defer func() {
		if ra.metrics != nil {
			label := cmd.kind
			if cmd.kind == cmdClient {
				label = cmd.envelope.Type
			}
			ra.metrics.CommandLatency.WithLabelValues(label).Observe(float64(time.Since(start).Milliseconds()))
		}
		if recovered := recover(); recovered != nil {
			ra.logger.Error("room actor command panic",
				zap.String("room_id", ra.RoomID),
				zap.Any("panic", recovered),
				zap.ByteString("stack", debug.Stack()))
			err = types.NewError(types.ErrInternal, "internal error")
			if cmd.kind == cmdClient {
				ra.emitError(cmd.envelope.Identity, types.ErrInternal, "internal error")
			}
		}
	}()
	return ra.dispatch(cmd)
}

// Dispatch is the public submit(command) entrypoint for client-issued
// commands. It blocks until the command has been applied (or rejected)
// and all derived events dispatched.
func (ra *RoomActor) Dispatch(cmd types.CommandEnvelope) error {
	return ra.post(internalCommand{kind: cmdClient, envelope: cmd})
}

// Disconnect tells the room's Seat Manager that identity's socket closed.
// Called by the gateway for every room an identity is seated in.
func (ra *RoomActor) Disconnect(identity types.Identity) error {
	return ra.post(internalCommand{kind: cmdDisconnect, identity: identity})
}

// Reconnect tells the room's Seat Manager that identity has a live
// connection again, restoring a still-Human seat held during grace.
// It returns not_seated if the identity never held a seat, or if AI has
// already substituted it (substitution is permanent for this room).
func (ra *RoomActor) Reconnect(identity types.Identity, displayName string) error {
	return ra.post(internalCommand{kind: cmdReconnect, identity: identity, displayName: displayName})
}

// SeatOf exposes the Seat Manager's identity lookup for callers outside
// the loop goroutine (the gateway, fanning disconnects out across every
// room an identity might be seated in). It reads a cache refreshed after
// every loop iteration that can change seat bindings, rather than the
// loop-owned map itself.
func (ra *RoomActor) SeatOf(identity types.Identity) (int, bool) {
	ra.seatCacheMu.RLock()
	defer ra.seatCacheMu.RUnlock()
	idx, ok := ra.seatCache[identity]
	return idx, ok
}

func (ra *RoomActor) refreshSeatCache() {
	cache := make(map[types.Identity]int, len(ra.identityToSeat))
	for id, idx := range ra.identityToSeat {
		cache[id] = idx
	}
	ra.seatCacheMu.Lock()
	ra.seatCache = cache
	ra.seatCacheMu.Unlock()
}

func (ra *RoomActor) post(cmd internalCommand) error {
	resp := make(chan error, 1)
	select {
	case ra.cmdCh <- roomRequest{cmd: cmd, resp: resp}:
	case <-ra.ctx.Done():
		return types.NewError(types.ErrGameLost, "room no longer exists")
	}
	select {
	case err := <-resp:
		return err
	case <-ra.ctx.Done():
		return types.NewError(types.ErrGameLost, "room no longer exists")
	}
}

// postInternal is used by timer/grace callbacks, which do not need to
// block on the result.
func (ra *RoomActor) postInternal(cmd internalCommand) {
	select {
	case ra.cmdCh <- roomRequest{cmd: cmd}:
	case <-ra.ctx.Done():
	}
}

// StateSeq returns the room's current monotonic sequence counter.
func (ra *RoomActor) StateSeq() uint64 { return ra.stateSeq }

// GameOver reports whether the game has finished.
func (ra *RoomActor) GameOver() bool { return ra.gameOver }

// Subscribe registers (or replaces) the live connection for an identity.
// A duplicate connection from an already-seated identity displaces the
// older subscriber without any seat mutation — the newer socket becomes
// authoritative, per spec.md §4.2 edge case.
func (ra *RoomActor) Subscribe(identity types.Identity, send func(types.Event)) {
	ra.subsMu.Lock()
	defer ra.subsMu.Unlock()
	ra.subs[identity] = Subscriber{Identity: identity, Send: send}
}

func (ra *RoomActor) Unsubscribe(identity types.Identity) {
	ra.subsMu.Lock()
	defer ra.subsMu.Unlock()
	delete(ra.subs, identity)
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func (ra *RoomActor) emitError(identity types.Identity, code types.ErrorCode, msg string) {
	if ra.metrics != nil {
		ra.metrics.CommandReject.WithLabelValues(string(code)).Inc()
	}
	ra.sendToIdentity(identity, types.Event{
		Kind:     types.EventError,
		RoomID:   ra.RoomID,
		Type:     "error",
		StateSeq: ra.stateSeq,
		Data:     mustJSON(types.NewError(code, msg)),
		ServerTS: time.Now().UnixMilli(),
	})
}
