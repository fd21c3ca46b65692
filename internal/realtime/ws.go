// Package realtime implements the WebSocket transport: session read/write
// pumps, ping/pong keepalive, and the wire protocol of spec.md §6, exactly
// the teacher's realtime.Session shape generalized from the BotC subscribe/
// command envelope to the card table's lobby + room message set.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/qingchang/cardtable/internal/gateway"
	"github.com/qingchang/cardtable/internal/identity"
	"github.com/qingchang/cardtable/internal/observability"
	"github.com/qingchang/cardtable/internal/room"
	"github.com/qingchang/cardtable/internal/types"
)

// WSMessage is the symmetric envelope every wire message arrives or
// departs in, exactly the teacher's WSMessage{Type, RequestID, Payload}.
type WSMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Server upgrades authenticated HTTP requests to WebSocket sessions. The
// token query parameter is the identity token issued by POST /v1/identity
// (internal/api), parsed here exactly as the teacher parses its JWT.
type Server struct {
	upgrader websocket.Upgrader
	idmgr    *identity.Manager
	gw       *gateway.Gateway
	logger   *zap.Logger
	metrics  *observability.Metrics

	mu       sync.Mutex
	sessions map[types.Identity]*Session
}

func NewServer(idmgr *identity.Manager, gw *gateway.Gateway, logger *zap.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		idmgr:    idmgr,
		gw:       gw,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[types.Identity]*Session),
	}
}

func (ws *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	id, err := ws.idmgr.Parse(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	sess := &Session{
		id:       uuid.NewString(),
		identity: id,
		conn:     conn,
		gw:       ws.gw,
		server:   ws,
		logger:   ws.logger.With(zap.String("session_id", uuid.NewString()[:8]), zap.String("identity", string(id))),
		metrics:  ws.metrics,
		send:     make(chan []byte, 64),
		limiter:  rate.NewLimiter(rate.Limit(10), 20),
	}
	ws.registerSession(sess)
	if ws.metrics != nil {
		ws.metrics.ActiveConnections.Inc()
	}
	go sess.writePump()
	sess.readPump()
	ws.unregisterSession(sess)
	if ws.metrics != nil {
		ws.metrics.ActiveConnections.Dec()
	}
}

func (ws *Server) registerSession(s *Session) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.sessions[s.identity] = s
}

// unregisterSession drops the identity's registration only if s is still
// the session on file for it — a reconnect may have already replaced it,
// matching the room layer's own "newer socket is authoritative" rule.
func (ws *Server) unregisterSession(s *Session) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.sessions[s.identity] == s {
		delete(ws.sessions, s.identity)
	}
}

// broadcastLobby fans a lobby-level event out to every currently connected
// session — the gateway's table bookkeeping has no subscriber list of its
// own (it is "light orchestration" per spec.md §4.6), so the transport
// layer owns fan-out for the messages that precede any room existing.
func (ws *Server) broadcastLobby(msgType string, payload any) {
	ws.mu.Lock()
	sessions := make([]*Session, 0, len(ws.sessions))
	for _, s := range ws.sessions {
		sessions = append(sessions, s)
	}
	ws.mu.Unlock()
	for _, s := range sessions {
		s.sendRaw(WSMessage{Type: msgType, Payload: mustMarshal(payload)})
	}
}

// Session is one connected socket. Exactly one live Session exists per
// identity at a time (a reconnect displaces the prior one).
type Session struct {
	id       string
	identity types.Identity
	nickname string
	conn     *websocket.Conn
	gw       *gateway.Gateway
	server   *Server
	logger   *zap.Logger
	metrics  *observability.Metrics
	send     chan []byte
	limiter  *rate.Limiter
}

func (s *Session) readPump() {
	defer func() {
		s.gw.Disconnect(s.identity)
		s.conn.Close()
	}()
	s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if !s.limiter.Allow() {
			s.sendError("", types.ErrRateLimited, "too many requests")
			continue
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("", types.ErrBadRequest, "invalid json")
			continue
		}
		s.handleMessage(msg)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) handleMessage(msg WSMessage) {
	switch msg.Type {
	case "ping":
		pongPayload := msg.Payload
		if len(pongPayload) == 0 {
			pongPayload = json.RawMessage("{}")
		}
		s.sendRaw(WSMessage{Type: "pong", RequestID: msg.RequestID, Payload: pongPayload})
	case "join_lobby":
		s.handleJoinLobby(msg)
	case "create_table":
		s.handleCreateTable(msg)
	case "join_table":
		s.handleJoinTable(msg)
	case "leave_table":
		s.handleLeaveTable(msg)
	case "start_game":
		s.handleStartGame(msg)
	case "restart_game":
		s.handleRestartGame(msg)
	default:
		// Everything else (request_state, leave_game, boot_player, and the
		// kind-specific action commands) is an already-seated command
		// addressed to a room, routed through the gateway unchanged.
		s.handleRoomCommand(msg)
	}
}

type joinLobbyPayload struct {
	Nickname string `json:"nickname"`
}

func (s *Session) handleJoinLobby(msg WSMessage) {
	var p joinLobbyPayload
	_ = json.Unmarshal(msg.Payload, &p)
	s.nickname = p.Nickname
	s.gw.JoinLobby(s.identity, s.nickname, s.subscribeRoom)
	s.sendRaw(WSMessage{Type: "welcome", RequestID: msg.RequestID, Payload: mustMarshal(map[string]any{"identity": s.identity})})
	s.sendRaw(WSMessage{Type: "lobby_state", Payload: mustMarshal(map[string]any{"tables": s.gw.ListTables()})})
}

type createTablePayload struct {
	Kind       types.Kind     `json:"kind"`
	Name       string         `json:"name"`
	MaxPlayers int            `json:"maxPlayers"`
	Settings   map[string]any `json:"settings"`
}

func (s *Session) handleCreateTable(msg WSMessage) {
	var p createTablePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		s.sendError(msg.RequestID, types.ErrBadRequest, "invalid create_table payload")
		return
	}
	t := s.gw.CreateTable(s.identity, p.Kind, p.Name, p.MaxPlayers, s.nickname, p.Settings)
	s.sendRaw(WSMessage{Type: "joined_table", RequestID: msg.RequestID, Payload: mustMarshal(t)})
	s.server.broadcastLobby("table_updated", t)
}

type joinTablePayload struct {
	TableID   string `json:"tableId"`
	SeatIndex int    `json:"seatIndex"`
}

func (s *Session) handleJoinTable(msg WSMessage) {
	var p joinTablePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		s.sendError(msg.RequestID, types.ErrBadRequest, "invalid join_table payload")
		return
	}
	seatIndex := p.SeatIndex
	if seatIndex == 0 {
		seatIndex = -1
	}
	t, err := s.gw.JoinTable(s.identity, p.TableID, seatIndex, s.nickname)
	if err != nil {
		s.sendAppError(msg.RequestID, err)
		return
	}
	s.sendRaw(WSMessage{Type: "joined_table", RequestID: msg.RequestID, Payload: mustMarshal(t)})
	s.server.broadcastLobby("table_updated", t)
}

type tableIDPayload struct {
	TableID string `json:"tableId"`
}

func (s *Session) handleLeaveTable(msg WSMessage) {
	var p tableIDPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		s.sendError(msg.RequestID, types.ErrBadRequest, "invalid leave_table payload")
		return
	}
	if err := s.gw.LeaveTable(s.identity, p.TableID); err != nil {
		s.sendAppError(msg.RequestID, err)
		return
	}
	s.sendRaw(WSMessage{Type: "left_table", RequestID: msg.RequestID, Payload: mustMarshal(map[string]string{"tableId": p.TableID})})
	s.server.broadcastLobby("table_removed", map[string]string{"tableId": p.TableID})
}

func (s *Session) handleStartGame(msg WSMessage) {
	var p tableIDPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		s.sendError(msg.RequestID, types.ErrBadRequest, "invalid start_game payload")
		return
	}
	ra, err := s.gw.StartGame(s.identity, p.TableID, s.subscribeRoom)
	if err != nil {
		s.sendAppError(msg.RequestID, err)
		return
	}
	s.sendRaw(WSMessage{Type: "game_started", RequestID: msg.RequestID, Payload: mustMarshal(map[string]string{"roomId": ra.RoomID})})
}

func (s *Session) handleRestartGame(msg WSMessage) {
	var p tableIDPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		s.sendError(msg.RequestID, types.ErrBadRequest, "invalid restart_game payload")
		return
	}
	ra, err := s.gw.RestartGame(s.identity, p.TableID, s.subscribeRoom)
	if err != nil {
		s.sendAppError(msg.RequestID, err)
		return
	}
	s.sendRaw(WSMessage{Type: "game_restarting", RequestID: msg.RequestID, Payload: mustMarshal(map[string]string{"roomId": ra.RoomID})})
}

// handleRoomCommand covers every message type already addressed at a live
// room: request_state, leave_game, boot_player, and the per-kind action
// commands (make_bid, play_card, discard_card, play_cards, pass,
// give_cards). The envelope's roomId/expectedStateSeq travel in the same
// JSON payload the rule module itself expects, per spec.md §6.
type roomCommandPayload struct {
	RoomID           string          `json:"roomId"`
	ExpectedStateSeq *uint64         `json:"expectedStateSeq,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

func (s *Session) handleRoomCommand(msg WSMessage) {
	var p roomCommandPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		s.sendError(msg.RequestID, types.ErrBadRequest, "invalid command payload")
		return
	}
	if p.RoomID == "" {
		s.sendError(msg.RequestID, types.ErrBadRequest, "missing roomId")
		return
	}
	// A session only ever learns of a room via join_lobby/start_game, both
	// of which already subscribe it — but request_state from a new socket
	// session that skipped join_lobby has no subscriber yet and needs the
	// same registration,
	// so make sure it exists before the command can produce a broadcast.
	if ra, ok := s.gw.Room(p.RoomID); ok {
		s.subscribeRoom(s.identity, ra)
	}
	cmd := types.CommandEnvelope{
		CommandID:        uuid.NewString(),
		RoomID:           p.RoomID,
		Type:             msg.Type,
		Identity:         s.identity,
		ExpectedStateSeq: p.ExpectedStateSeq,
		Payload:          p.Payload,
	}
	if err := s.gw.Dispatch(cmd); err != nil {
		s.sendAppError(msg.RequestID, err)
	}
}

// subscribeRoom registers this session's send function with a room,
// exactly the shape of room.Subscribe: events arrive asynchronously on
// the room's own goroutine and must never block it, so sendRaw drops a
// message rather than blocking when the socket's outbound buffer is full.
func (s *Session) subscribeRoom(id types.Identity, ra *room.RoomActor) {
	ra.Subscribe(id, func(ev types.Event) {
		s.sendRaw(WSMessage{Type: string(ev.Kind), Payload: mustMarshal(ev)})
	})
}

func (s *Session) sendError(reqID string, code types.ErrorCode, message string) {
	s.sendRaw(WSMessage{Type: "error", RequestID: reqID, Payload: mustMarshal(types.NewError(code, message))})
}

func (s *Session) sendAppError(reqID string, err error) {
	if app, ok := err.(*types.AppError); ok {
		s.sendError(reqID, app.Code, app.Message)
		return
	}
	s.sendError(reqID, types.ErrInternal, err.Error())
}

func (s *Session) sendRaw(msg WSMessage) {
	b, _ := json.Marshal(msg)
	select {
	case s.send <- b:
	default:
	}
}

func mustMarshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
