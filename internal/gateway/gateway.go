// Package gateway implements the Session Gateway (C7): identity restore,
// command routing, and the lobby/table bookkeeping that precedes a room's
// existence. It owns no socket state of its own — the realtime layer calls
// into it and turns its return values into wire messages.
package gateway

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qingchang/cardtable/internal/registry"
	"github.com/qingchang/cardtable/internal/room"
	"github.com/qingchang/cardtable/internal/rules"
	"github.com/qingchang/cardtable/internal/types"
)

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// TableSeat is one occupied lobby seat, before a room exists to track it.
type TableSeat struct {
	Identity    types.Identity `json:"identity"`
	DisplayName string         `json:"displayName"`
}

// Table is a lobby-side table: a kind, a seating list, and (once started)
// the room id it produced. Tables are bookkeeping only — no game logic
// lives here, matching spec.md §4.6's "light orchestration" scope.
type Table struct {
	ID         string         `json:"id"`
	Kind       types.Kind     `json:"kind"`
	Name       string         `json:"name"`
	MaxPlayers int            `json:"maxPlayers"`
	Settings   rules.Settings `json:"settings"`
	Host       types.Identity `json:"host"`
	Seats      []TableSeat    `json:"seats"`
	RoomID     string         `json:"roomId,omitempty"`
}

func (t *Table) seatIndexOf(identity types.Identity) (int, bool) {
	for i, s := range t.Seats {
		if s.Identity == identity {
			return i, true
		}
	}
	return -1, false
}

// Gateway is the Session Gateway. One Gateway is shared by every realtime
// session; it is safe for concurrent use.
type Gateway struct {
	reg    *registry.Registry
	logger *zap.Logger

	mu     sync.Mutex
	tables map[string]*Table

	// identityRooms tracks, per identity, every room id that identity is
	// (or was) seated in — the gateway's own read of what the per-room Seat
	// Manager already knows, kept so a socket close can fan a single
	// disconnect(identity) call out across every room without scanning the
	// whole registry. Per spec.md §4.6.
	identityRooms map[types.Identity]map[string]struct{}
}

// New builds a Session Gateway bound to the given room registry.
func New(reg *registry.Registry, logger *zap.Logger) *Gateway {
	return &Gateway{
		reg:           reg,
		logger:        logger,
		tables:        make(map[string]*Table),
		identityRooms: make(map[types.Identity]map[string]struct{}),
	}
}

func (g *Gateway) addIdentityRoom(identity types.Identity, roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rooms, ok := g.identityRooms[identity]
	if !ok {
		rooms = make(map[string]struct{})
		g.identityRooms[identity] = rooms
	}
	rooms[roomID] = struct{}{}
}

func (g *Gateway) roomsFor(identity types.Identity) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.identityRooms[identity]))
	for roomID := range g.identityRooms[identity] {
		out = append(out, roomID)
	}
	return out
}

// Room looks up a live room by id, for callers (the realtime layer) that
// need to subscribe a socket to its event stream directly.
func (g *Gateway) Room(roomID string) (*room.RoomActor, bool) {
	return g.reg.Get(roomID)
}

// JoinLobby registers the identity's nickname and reattaches it to
// every room it was previously seated in, rebinding any still-Human seat
// held during a disconnect grace window. Per spec.md §4.6: "Reconnecting
// clients echo the identity; the gateway reattaches any prior seat via
// Seat Manager across all rooms." Errors from individual rooms (e.g. a
// seat already substituted with AI) are swallowed here — reattachment is
// best-effort across many rooms, not an all-or-nothing operation.
// subscribe (if non-nil) is called for every room the identity is seated
// in before reconnecting, so the caller's socket is registered to receive
// the room's broadcasts before Reconnect's own snapshot goes out.
func (g *Gateway) JoinLobby(identity types.Identity, nickname string, subscribe func(types.Identity, *room.RoomActor)) {
	for _, roomID := range g.roomsFor(identity) {
		ra, ok := g.reg.Get(roomID)
		if !ok {
			continue
		}
		if subscribe != nil {
			subscribe(identity, ra)
		}
		_ = ra.Reconnect(identity, nickname)
	}
}

// Disconnect fans a socket close out to every room the identity is seated
// in, per spec.md §4.6's "on socket close" contract.
func (g *Gateway) Disconnect(identity types.Identity) {
	for _, roomID := range g.roomsFor(identity) {
		if ra, ok := g.reg.Get(roomID); ok {
			_ = ra.Disconnect(identity)
		}
	}
}

// CreateTable opens a new lobby table with the host occupying seat 0.
func (g *Gateway) CreateTable(host types.Identity, kind types.Kind, name string, maxPlayers int, displayName string, settings rules.Settings) *Table {
	t := &Table{
		ID:         uuid.NewString(),
		Kind:       kind,
		Name:       name,
		MaxPlayers: maxPlayers,
		Settings:   settings,
		Host:       host,
		Seats:      []TableSeat{{Identity: host, DisplayName: displayName}},
	}
	g.mu.Lock()
	g.tables[t.ID] = t
	g.mu.Unlock()
	return t
}

// JoinTable seats identity at an existing pre-start table. seatIndex, if
// >= 0, requests a specific position; -1 means "next free seat".
func (g *Gateway) JoinTable(identity types.Identity, tableID string, seatIndex int, displayName string) (*Table, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tables[tableID]
	if !ok {
		return nil, types.NewError(types.ErrGameLost, "table not found")
	}
	if t.RoomID != "" {
		return nil, types.NewError(types.ErrInvalidAction, "table has already started")
	}
	if _, already := t.seatIndexOf(identity); already {
		return t, nil
	}
	if t.MaxPlayers > 0 && len(t.Seats) >= t.MaxPlayers {
		return nil, types.NewError(types.ErrInvalidAction, "table is full")
	}
	seat := TableSeat{Identity: identity, DisplayName: displayName}
	if seatIndex >= 0 && seatIndex < len(t.Seats) {
		t.Seats[seatIndex] = seat
	} else {
		t.Seats = append(t.Seats, seat)
	}
	return t, nil
}

// LeaveTable removes identity from a pre-start table. The host leaving a
// table with other seated players hands the host role to the next seat in
// join order, mirroring the Seat Manager's own "seat 0 stays canonical"
// convention.
func (g *Gateway) LeaveTable(identity types.Identity, tableID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tables[tableID]
	if !ok {
		return types.NewError(types.ErrGameLost, "table not found")
	}
	idx, ok := t.seatIndexOf(identity)
	if !ok {
		return nil
	}
	t.Seats = append(t.Seats[:idx], t.Seats[idx+1:]...)
	if len(t.Seats) == 0 {
		delete(g.tables, tableID)
		return nil
	}
	if t.Host == identity {
		t.Host = t.Seats[0].Identity
	}
	return nil
}

// ListTables reports every pre-start table, for a lobby_state broadcast.
func (g *Gateway) ListTables() []*Table {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Table, 0, len(g.tables))
	for _, t := range g.tables {
		if t.RoomID == "" {
			out = append(out, t)
		}
	}
	return out
}

// StartGame allocates a room for the table and deals the first hand. Only
// the host may start, matching the host-only authority boot_player already
// carries in spec.md §6. The table's seating order becomes the room's
// initial seat order. subscribe (if non-nil) is called for every seated
// identity right after the room is created but before start_game is
// dispatched, so every currently-connected co-player's socket is already
// registered with the room by the time the first snapshot broadcasts —
// otherwise a seat whose player is online but hasn't subscribed yet would
// silently miss the opening snapshot (room.sendToIdentity is a no-op for
// an identity with no registered subscriber).
func (g *Gateway) StartGame(identity types.Identity, tableID string, subscribe func(types.Identity, *room.RoomActor)) (*room.RoomActor, error) {
	g.mu.Lock()
	t, ok := g.tables[tableID]
	if !ok {
		g.mu.Unlock()
		return nil, types.NewError(types.ErrGameLost, "table not found")
	}
	if identity != t.Host {
		g.mu.Unlock()
		return nil, types.NewError(types.ErrInvalidAction, "only the host can start the game")
	}
	if t.RoomID != "" {
		g.mu.Unlock()
		return nil, types.NewError(types.ErrInvalidAction, "game already started")
	}
	roomID := uuid.NewString()
	t.RoomID = roomID
	seats := append([]TableSeat(nil), t.Seats...)
	g.mu.Unlock()

	ra, err := g.reg.Create(roomID, t.Kind, t.Settings, t.Host)
	if err != nil {
		g.mu.Lock()
		t.RoomID = ""
		g.mu.Unlock()
		return nil, err
	}
	for _, s := range seats {
		g.addIdentityRoom(s.Identity, roomID)
		if subscribe != nil {
			subscribe(s.Identity, ra)
		}
	}
	if err := ra.Dispatch(startGameCommand(t.Host, seats)); err != nil {
		return nil, err
	}
	return ra, nil
}

// RestartGame tears down the table's current room and starts a fresh one
// with the same seating, per spec.md §6: "restart_game (which substitutes
// a fresh room)". The old room's stateSeq and game_over status never
// affect the new one (spec.md §8's restart-flow property).
func (g *Gateway) RestartGame(identity types.Identity, tableID string, subscribe func(types.Identity, *room.RoomActor)) (*room.RoomActor, error) {
	g.mu.Lock()
	t, ok := g.tables[tableID]
	if !ok {
		g.mu.Unlock()
		return nil, types.NewError(types.ErrGameLost, "table not found")
	}
	if identity != t.Host {
		g.mu.Unlock()
		return nil, types.NewError(types.ErrInvalidAction, "only the host can restart the game")
	}
	oldRoomID := t.RoomID
	t.RoomID = ""
	g.mu.Unlock()

	if oldRoomID != "" {
		g.reg.Remove(oldRoomID)
	}
	return g.StartGame(identity, tableID, subscribe)
}

// Dispatch routes an addressed client command to its room's runtime, the
// routing half of spec.md §4.6: "Message routing dispatches every client
// command to the addressed room's runtime." A room id not found in the
// registry is the terminal game_lost case from spec.md §7.
func (g *Gateway) Dispatch(cmd types.CommandEnvelope) error {
	ra, ok := g.reg.Get(cmd.RoomID)
	if !ok {
		return types.NewError(types.ErrGameLost, "room no longer exists")
	}
	err := ra.Dispatch(cmd)
	if err == nil && cmd.Type == "leave_game" {
		g.removeIdentityRoom(cmd.Identity, cmd.RoomID)
	}
	return err
}

func (g *Gateway) removeIdentityRoom(identity types.Identity, roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rooms, ok := g.identityRooms[identity]; ok {
		delete(rooms, roomID)
	}
}

func startGameCommand(host types.Identity, seats []TableSeat) types.CommandEnvelope {
	humans := make([]map[string]string, len(seats))
	for i, s := range seats {
		humans[i] = map[string]string{"identity": string(s.Identity), "displayName": s.DisplayName}
	}
	return types.CommandEnvelope{
		Type:     "start_game",
		Identity: host,
		Payload:  mustJSON(map[string]any{"humans": humans}),
	}
}
