// Package registry implements the Runtime Registry (C6): a per-kind
// factory lookup plus a live room directory, the same shape as the
// teacher's RoomManager but generalized to any rules.Module.
package registry

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/qingchang/cardtable/internal/observability"
	"github.com/qingchang/cardtable/internal/room"
	"github.com/qingchang/cardtable/internal/rules"
	"github.com/qingchang/cardtable/internal/rules/euchre"
	"github.com/qingchang/cardtable/internal/rules/president"
	"github.com/qingchang/cardtable/internal/rules/spades"
	"github.com/qingchang/cardtable/internal/types"
)

// factories maps a table kind to the rule module it plays. Registering a
// fourth game is exactly one line here.
var factories = map[types.Kind]func() rules.Module{
	types.KindEuchre:    func() rules.Module { return euchre.New() },
	types.KindPresident: func() rules.Module { return president.New() },
	types.KindSpades:    func() rules.Module { return spades.New() },
}

// Registry owns every live room's RoomActor, keyed by room id. Lookups
// dominate inserts once a server has warmed up, so unlike the teacher's
// RoomManager.mu (a plain Mutex) this uses an RWMutex.
type Registry struct {
	mu    sync.RWMutex
	ctx   context.Context

	rooms map[string]*room.RoomActor

	logger   *zap.Logger
	metrics  *observability.Metrics
	aiPolicy room.AIPolicy
}

// New builds an empty registry. ctx bounds the lifetime of every room
// actor it creates; cancelling it tears every room down.
func New(ctx context.Context, logger *zap.Logger, metrics *observability.Metrics, aiPolicy room.AIPolicy) *Registry {
	return &Registry{
		ctx:      ctx,
		rooms:    make(map[string]*room.RoomActor),
		logger:   logger,
		metrics:  metrics,
		aiPolicy: aiPolicy,
	}
}

// Create starts a new room of the given kind and registers it. It is an
// error to create a room id that already exists — unlike the teacher's
// GetOrCreate, room ids here are minted fresh by the gateway each time a
// table's game starts, so a collision is a caller bug, not a reattachment.
func (r *Registry) Create(roomID string, kind types.Kind, settings rules.Settings, host types.Identity) (*room.RoomActor, error) {
	factory, ok := factories[kind]
	if !ok {
		return nil, types.NewError(types.ErrBadRequest, "unknown table kind: "+string(kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[roomID]; exists {
		return nil, types.NewError(types.ErrBadRequest, "room already exists")
	}

	module := factory()
	ra := room.NewRoomActor(r.ctx, roomID, kind, module, settings, host, r.logger, r.metrics, r.aiPolicy, r.remove)
	r.rooms[roomID] = ra
	if r.metrics != nil {
		r.metrics.RoomsActive.Inc()
	}
	return ra, nil
}

// Get looks up a live room by id.
func (r *Registry) Get(roomID string) (*room.RoomActor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ra, ok := r.rooms[roomID]
	return ra, ok
}

// Remove tears a room down and drops it from the directory. Safe to call
// even if the room never existed or was already removed.
func (r *Registry) Remove(roomID string) {
	r.mu.Lock()
	ra, ok := r.rooms[roomID]
	delete(r.rooms, roomID)
	r.mu.Unlock()
	if ok {
		ra.Stop()
		if r.metrics != nil {
			r.metrics.RoomsActive.Dec()
		}
	}
}

// remove is the onDestroy callback every RoomActor is constructed with: a
// room whose last human has left calls this on itself, mirroring how the
// teacher's handleActorCrash re-inserts into the same map under lock, only
// here the terminal state is deletion rather than restart — there is no
// persisted state to reload from, so a room that empties out is simply
// gone.
func (r *Registry) remove(roomID string) {
	r.Remove(roomID)
}

// Len reports how many rooms are currently live.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
