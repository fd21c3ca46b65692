package client

import (
	"encoding/json"

	"github.com/qingchang/cardtable/internal/types"
)

// OutboundCommand is what a transport binding actually sends on the wire.
// RequestID is left for the binding to assign (it is transport-specific
// correlation, not part of reconciliation).
type OutboundCommand struct {
	RoomID           string
	Type             string
	Identity         types.Identity
	ExpectedStateSeq uint64
	Payload          json.RawMessage
}

// Protocol is the Outbound Command Protocol (§4.11): it builds
// correctly stamped outbound commands and reacts to the two error shapes
// a command can come back with.
type Protocol struct {
	identity types.Identity
	roomID   string
	store    *Store
}

// NewProtocol builds a protocol bound to one identity, room, and store.
func NewProtocol(identity types.Identity, roomID string, store *Store) *Protocol {
	return &Protocol{identity: identity, roomID: roomID, store: store}
}

// BuildCommand stamps an outbound action command with
// expectedStateSeq = max(snapshotSeq, lastStateSeq), per spec.md §4.11.
// The store's guard is the only tracker of stateSeq on the client side,
// so "snapshotSeq" and "lastStateSeq" coincide here; the max is kept
// explicit to mirror the spec's formula for callers carrying a separate
// queue-tracked latestStateSeq (see Queue.LatestStateSeq).
func (p *Protocol) BuildCommand(commandType string, payload json.RawMessage, queueLatestStateSeq uint64) OutboundCommand {
	seq := p.store.Guard().ExpectedStateSeq()
	if queueLatestStateSeq > seq {
		seq = queueLatestStateSeq
	}
	return OutboundCommand{
		RoomID:           p.roomID,
		Type:             commandType,
		Identity:         p.identity,
		ExpectedStateSeq: seq,
		Payload:          payload,
	}
}

// HandleError reacts to an error returned for a previously sent command.
// On sync_required it discards local turn affordances and reports that a
// request_state is owed; the caller is responsible for actually sending
// it. On any other error while the store still shows it is our turn, it
// restores local turn state from rules (if a LocalRulesFunc was wired) so
// the player can retry; it leaves the affordance alone otherwise.
func (p *Protocol) HandleError(appErr *types.AppError) (needsResync bool) {
	if appErr == nil {
		return false
	}
	if appErr.Code == types.ErrSyncRequired {
		p.store.Guard().OnSyncRequired()
		p.store.rebuild()
		return true
	}

	p.store.RestoreTurnFromRules()
	return false
}
