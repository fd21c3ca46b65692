// Package types holds the wire vocabulary shared by the room runtime, the
// registry, the gateway, and the realtime transport: commands going in,
// events coming out, and the error taxonomy in between.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorCode enumerates every reason a command can fail to apply. Every error
// returned to a client carries one of these; none are broadcast.
type ErrorCode string

const (
	ErrSyncRequired  ErrorCode = "sync_required"
	ErrNotYourTurn   ErrorCode = "not_your_turn"
	ErrInvalidAction ErrorCode = "invalid_action"
	ErrGameLost      ErrorCode = "game_lost"
	ErrNotSeated     ErrorCode = "not_seated"
	ErrGameOver      ErrorCode = "game_over"
	ErrInternal      ErrorCode = "internal"

	// REST-surface codes, carried from the teacher's HTTP error taxonomy.
	ErrUnauthorized ErrorCode = "unauthorized"
	ErrForbidden    ErrorCode = "forbidden"
	ErrBadRequest   ErrorCode = "bad_request"
	ErrRateLimited  ErrorCode = "rate_limited"
)

// AppError is the single error type every component returns. Code is what
// travels to the client; Err (if set) is the wrapped root cause for logs.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

func WrapError(code ErrorCode, msg string, err error) *AppError {
	return &AppError{Code: code, Message: msg, Err: err}
}

func Is(err error, code ErrorCode) bool {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code == code
	}
	return false
}

// Identity is the opaque, server-issued id a client persists across
// reconnects. It is never an authentication mechanism, just a reattachment
// key.
type Identity string

// Kind selects which rule module backs a room.
type Kind string

const (
	KindEuchre    Kind = "euchre"
	KindPresident Kind = "president"
	KindSpades    Kind = "spades"
)

// CommandEnvelope is the uniform shape every client-issued command arrives
// in, regardless of rule-module kind. Payload is module-specific JSON.
type CommandEnvelope struct {
	CommandID        string          `json:"command_id"`
	RoomID           string          `json:"room_id,omitempty"`
	Type             string          `json:"type"`
	Identity         Identity        `json:"identity"`
	ExpectedStateSeq *uint64         `json:"expected_state_seq,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

// EventKind distinguishes the broad categories of server->client events.
type EventKind string

const (
	EventSnapshot     EventKind = "snapshot"
	EventTurnPrompt   EventKind = "turn_prompt"
	EventTurnReminder EventKind = "turn_reminder"
	EventDomain       EventKind = "domain"
	EventLifecycle    EventKind = "lifecycle"
	EventError        EventKind = "error"
)

// Event is what a room emits to one or more recipients. Data holds the
// kind-specific payload (a Snapshot, a TurnPrompt, a domain event body, or
// an AppError).
type Event struct {
	Kind     EventKind       `json:"kind"`
	RoomID   string          `json:"room_id"`
	Type     string          `json:"type"`
	StateSeq uint64          `json:"state_seq,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	ServerTS int64           `json:"server_ts"`
}

// RoomMeta is the runtime metadata every snapshot carries alongside the
// rule module's own filtered state.
type RoomMeta struct {
	StateSeq     uint64 `json:"state_seq"`
	Phase        string `json:"phase"`
	CurrentSeat  int    `json:"current_seat"`
	Dealer       int    `json:"dealer"`
	TimedOutSeat int    `json:"timed_out_seat,omitempty"`
	GameOver     bool   `json:"game_over"`
}

// Snapshot is a per-recipient filtered view of room state.
type Snapshot struct {
	RoomMeta
	State json.RawMessage `json:"state"`
}

// TurnPrompt is directed at the single seat whose turn it is.
type TurnPrompt struct {
	Seat         int        `json:"seat"`
	ValidActions []string   `json:"valid_actions"`
	ValidCards   []string   `json:"valid_cards,omitempty"`
	ValidPlays   [][]string `json:"valid_plays,omitempty"`
}

// Viewer identifies who a snapshot or projection is being built for.
type Viewer struct {
	Identity Identity
	Seat     int
}
