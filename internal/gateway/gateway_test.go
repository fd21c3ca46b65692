package gateway

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/qingchang/cardtable/internal/registry"
	"github.com/qingchang/cardtable/internal/types"
)

func newTestGateway() *Gateway {
	reg := registry.New(context.Background(), zap.NewNop(), nil, nil)
	return New(reg, zap.NewNop())
}

func TestGatewayCreateJoinStartGame(t *testing.T) {
	g := newTestGateway()
	host := types.Identity("host")
	table := g.CreateTable(host, types.KindEuchre, "table one", 4, "Host", nil)

	others := []types.Identity{"p2", "p3", "p4"}
	for _, id := range others {
		if _, err := g.JoinTable(id, table.ID, -1, string(id)); err != nil {
			t.Fatalf("JoinTable(%s): %v", id, err)
		}
	}

	ra, err := g.StartGame(host, table.ID, nil)
	if err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	if ra.Kind != types.KindEuchre {
		t.Errorf("room kind = %v, want euchre", ra.Kind)
	}

	for _, id := range append(others, host) {
		rooms := g.roomsFor(id)
		if len(rooms) != 1 || rooms[0] != ra.RoomID {
			t.Errorf("identityRooms[%s] = %v, want [%s]", id, rooms, ra.RoomID)
		}
	}
}

func TestGatewayStartGameRequiresHost(t *testing.T) {
	g := newTestGateway()
	host := types.Identity("host")
	table := g.CreateTable(host, types.KindEuchre, "table", 4, "Host", nil)
	if _, err := g.JoinTable("intruder", table.ID, -1, "Intruder"); err != nil {
		t.Fatalf("JoinTable: %v", err)
	}

	if _, err := g.StartGame("intruder", table.ID, nil); !types.Is(err, types.ErrInvalidAction) {
		t.Fatalf("StartGame by non-host: err = %v, want invalid_action", err)
	}
}

func TestGatewayJoinTableRejectsUnknownTable(t *testing.T) {
	g := newTestGateway()
	if _, err := g.JoinTable("someone", "no-such-table", -1, "Someone"); !types.Is(err, types.ErrGameLost) {
		t.Fatalf("JoinTable on unknown table: err = %v, want game_lost", err)
	}
}

func TestGatewayDispatchUnknownRoomReturnsGameLost(t *testing.T) {
	g := newTestGateway()
	err := g.Dispatch(types.CommandEnvelope{RoomID: "nope", Type: "request_state", Identity: "anyone"})
	if !types.Is(err, types.ErrGameLost) {
		t.Fatalf("Dispatch to unknown room: err = %v, want game_lost", err)
	}
}

func TestGatewayRestartGameAllocatesFreshRoom(t *testing.T) {
	g := newTestGateway()
	host := types.Identity("host")
	table := g.CreateTable(host, types.KindEuchre, "table", 4, "Host", nil)
	for _, id := range []types.Identity{"p2", "p3", "p4"} {
		if _, err := g.JoinTable(id, table.ID, -1, string(id)); err != nil {
			t.Fatalf("JoinTable: %v", err)
		}
	}
	first, err := g.StartGame(host, table.ID, nil)
	if err != nil {
		t.Fatalf("StartGame: %v", err)
	}

	second, err := g.RestartGame(host, table.ID, nil)
	if err != nil {
		t.Fatalf("RestartGame: %v", err)
	}
	if second.RoomID == first.RoomID {
		t.Errorf("RestartGame reused the old room id %q", first.RoomID)
	}
	if _, ok := g.reg.Get(first.RoomID); ok {
		t.Errorf("old room %q still live in the registry after restart", first.RoomID)
	}
	if _, ok := g.reg.Get(second.RoomID); !ok {
		t.Errorf("new room %q missing from the registry after restart", second.RoomID)
	}
}

func TestGatewayLeaveTableDropsSeatAndReassignsHost(t *testing.T) {
	g := newTestGateway()
	host := types.Identity("host")
	table := g.CreateTable(host, types.KindEuchre, "table", 4, "Host", nil)
	if _, err := g.JoinTable("p2", table.ID, -1, "P2"); err != nil {
		t.Fatalf("JoinTable: %v", err)
	}

	if err := g.LeaveTable(host, table.ID); err != nil {
		t.Fatalf("LeaveTable: %v", err)
	}
	g.mu.Lock()
	remaining := g.tables[table.ID]
	g.mu.Unlock()
	if remaining.Host != "p2" {
		t.Errorf("host after leave = %q, want p2", remaining.Host)
	}
	if len(remaining.Seats) != 1 {
		t.Errorf("seats after leave = %v, want just p2", remaining.Seats)
	}
}

func TestGatewayDisconnectKeepsHostSeated(t *testing.T) {
	g := newTestGateway()
	host := types.Identity("host")
	tableA := g.CreateTable(host, types.KindEuchre, "a", 4, "Host", nil)
	for _, id := range []types.Identity{"p2", "p3", "p4"} {
		g.JoinTable(id, tableA.ID, -1, string(id))
	}
	ra, err := g.StartGame(host, tableA.ID, nil)
	if err != nil {
		t.Fatalf("StartGame: %v", err)
	}

	g.Disconnect(host)
	if _, ok := ra.SeatOf(host); !ok {
		t.Fatalf("host seat vanished entirely after a disconnect (should stay Human during grace)")
	}
}
