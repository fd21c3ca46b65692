// Package bot provides AI seat behavior for disconnected or never-joined
// seats. Unlike the teacher's storyteller-commentary bot (which chatted,
// nominated, and voted on its own timers), a card-table bot only ever acts
// when the room runtime calls it for the one seat it has substituted,
// choosing among the rule module's own reported legal actions.
package bot

import (
	"encoding/json"
	"math/rand/v2"

	"github.com/qingchang/cardtable/internal/room"
	"github.com/qingchang/cardtable/internal/rules"
	"github.com/qingchang/cardtable/internal/rules/euchre"
	"github.com/qingchang/cardtable/internal/rules/president"
	"github.com/qingchang/cardtable/internal/rules/spades"
	"github.com/qingchang/cardtable/internal/types"
)

// Personality defines a bot's decision-making style, carried from the
// teacher's bot.Personality but now expressed through card choices instead
// of chat/vote/nomination chances.
type Personality string

const (
	PersonalityAggressive Personality = "aggressive" // bids/orders up eagerly, plays high
	PersonalityCautious   Personality = "cautious"   // bids/orders up rarely, plays low, passes often
	PersonalityRandom     Personality = "random"      // coin-flip on every judgment call
	PersonalitySmart      Personality = "smart"       // weighs hand strength before committing
)

var rotation = []Personality{PersonalityAggressive, PersonalityCautious, PersonalitySmart, PersonalityRandom}

// Manager hands out a stable personality per seat and exposes a
// room.AIPolicy bound to those personalities. One Manager is shared across
// every room the server hosts — personality is a function of seat index
// alone, not of which room or which identity the seat once held.
type Manager struct{}

// NewManager builds a bot manager. There is no per-room state to own: an
// AI seat's personality is derived from its seat index, so a Manager has
// nothing to track between calls.
func NewManager() *Manager { return &Manager{} }

// Policy returns the room.AIPolicy to inject into every room the registry
// creates.
func (m *Manager) Policy() room.AIPolicy {
	return m.choose
}

func (m *Manager) choose(kind types.Kind, module rules.Module, state rules.State, seat int) (string, json.RawMessage) {
	personality := rotation[seat%len(rotation)]
	actions, cards, _ := module.ValidActions(state, seat)
	if len(actions) == 0 {
		return "", nil
	}
	switch kind {
	case types.KindEuchre:
		return euchreMove(state.(*euchre.State), actions, personality)
	case types.KindPresident:
		return presidentMove(state.(*president.State), actions, personality)
	case types.KindSpades:
		return spadesMove(state.(*spades.State), actions, cards, personality)
	default:
		return "", nil
	}
}

func hasAction(actions []string, want string) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}

func rankOf(card string) string { return card[:1] }
func suitOf(card string) string { return card[1:2] }

// chance returns true with roughly the given probability (0-100),
// weighted by personality the way the teacher's randomChance scaled
// nomination/vote decisions by Personality.
func chance(personality Personality, aggressivePct, cautiousPct, smartPct int) bool {
	var pct int
	switch personality {
	case PersonalityAggressive:
		pct = aggressivePct
	case PersonalityCautious:
		pct = cautiousPct
	case PersonalitySmart:
		pct = smartPct
	default:
		pct = 50
	}
	return rand.IntN(100) < pct
}

func marshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// pickCard chooses among legal cards: aggressive/smart seats play their
// strongest card, cautious seats their weakest, random seats any one of
// them at random.
func pickCard(cards []string, rankOrder map[string]int, personality Personality) string {
	if len(cards) == 0 {
		return ""
	}
	switch personality {
	case PersonalityAggressive, PersonalitySmart:
		best := cards[0]
		for _, c := range cards[1:] {
			if rankOrder[rankOf(c)] > rankOrder[rankOf(best)] {
				best = c
			}
		}
		return best
	case PersonalityCautious:
		worst := cards[0]
		for _, c := range cards[1:] {
			if rankOrder[rankOf(c)] < rankOrder[rankOf(worst)] {
				worst = c
			}
		}
		return worst
	default:
		return cards[rand.IntN(len(cards))]
	}
}
