package bot

import (
	"encoding/json"

	"github.com/qingchang/cardtable/internal/rules/euchre"
	"github.com/qingchang/cardtable/internal/rules/president"
	"github.com/qingchang/cardtable/internal/rules/spades"
)

var euchreRankOrder = map[string]int{"9": 0, "T": 1, "J": 2, "Q": 3, "K": 4, "A": 5}
var suitLetters = []string{"S", "H", "D", "C"}

func countSuit(hand []string, suit string) int {
	n := 0
	for _, c := range hand {
		if suitOf(c) == suit {
			n++
		}
	}
	return n
}

// bestSuit picks the suit (other than exclude) the hand holds the most of.
func bestSuit(hand []string, exclude string) (string, int) {
	best, bestCount := suitLetters[0], -1
	for _, su := range suitLetters {
		if su == exclude {
			continue
		}
		n := countSuit(hand, su)
		if n > bestCount {
			best, bestCount = su, n
		}
	}
	return best, bestCount
}

func euchreMove(s *euchre.State, actions []string, personality Personality) (string, json.RawMessage) {
	switch s.Phase {
	case euchre.PhaseBidding1:
		upSuit := suitOf(s.Upcard)
		strength := countSuit(s.Hands[s.CurrentSeat], upSuit)
		orders := hasAction(actions, "order_up") && (strength >= 3 || (strength == 2 && chance(personality, 75, 25, 55)))
		if orders {
			alone := strength >= 4 && chance(personality, 40, 5, 25)
			return "make_bid", marshal(map[string]any{"action": "order_up", "goingAlone": alone})
		}
		return "make_bid", marshal(map[string]any{"action": "pass"})
	case euchre.PhaseBidding2:
		hand := s.Hands[s.CurrentSeat]
		suit, strength := bestSuit(hand, suitOf(s.Upcard))
		if !hasAction(actions, "pass") {
			return "make_bid", marshal(map[string]any{"action": "call", "suit": suit, "goingAlone": false})
		}
		if strength >= 2 && chance(personality, 70, 20, 50) {
			return "make_bid", marshal(map[string]any{"action": "call", "suit": suit, "goingAlone": false})
		}
		return "make_bid", marshal(map[string]any{"action": "pass"})
	case euchre.PhaseDiscard:
		hand := s.Hands[s.Dealer]
		worst := hand[0]
		for _, c := range hand[1:] {
			if suitOf(c) == s.TrumpSuit {
				continue
			}
			if suitOf(worst) == s.TrumpSuit || euchreRankOrder[rankOf(c)] < euchreRankOrder[rankOf(worst)] {
				worst = c
			}
		}
		return "discard_card", marshal(map[string]any{"cardId": worst})
	case euchre.PhasePlaying:
		cards := legalEuchreCards(s)
		return "play_card", marshal(map[string]any{"cardId": pickCard(cards, euchreRankOrder, personality)})
	default:
		return "", nil
	}
}

// legalEuchreCards mirrors Module.ValidActions' own filtering so the bot
// never offers a card the rule module would reject.
func legalEuchreCards(s *euchre.State) []string {
	hand := s.Hands[s.CurrentSeat]
	if len(s.CurrentTrick) == 0 {
		return hand
	}
	ledSuit := effectiveEuchreSuit(s.CurrentTrick[0].Card, s.TrumpSuit)
	var legal []string
	for _, c := range hand {
		if effectiveEuchreSuit(c, s.TrumpSuit) == ledSuit {
			legal = append(legal, c)
		}
	}
	if len(legal) == 0 {
		return hand
	}
	return legal
}

func effectiveEuchreSuit(card, trump string) string {
	if rankOf(card) == "J" {
		left := map[string]string{"S": "C", "C": "S", "H": "D", "D": "H"}[trump]
		if suitOf(card) == trump || suitOf(card) == left {
			return trump
		}
	}
	return suitOf(card)
}

var presidentRankOrder = map[string]int{
	"3": 0, "4": 1, "5": 2, "6": 3, "7": 4, "8": 5, "9": 6, "T": 7,
	"J": 8, "Q": 9, "K": 10, "A": 11, "2": 12,
}
var presidentRanks = []string{"3", "4", "5", "6", "7", "8", "9", "T", "J", "Q", "K", "A", "2"}

func presidentMove(s *president.State, actions []string, personality Personality) (string, json.RawMessage) {
	switch s.Phase {
	case president.PhaseExchange:
		step := s.ExchangeQueue[s.ExchangeIdx]
		hand := sortedByRank(s.Hands[s.CurrentSeat], presidentRankOrder)
		give := append([]string(nil), hand[:step.Count]...)
		return "give_cards", marshal(map[string]any{"cardIds": give})
	case president.PhasePlaying:
		groups := groupByRank(s.Hands[s.CurrentSeat])
		for _, r := range presidentRanks {
			g := groups[r]
			if len(g) == 0 {
				continue
			}
			if s.PileCount > 0 {
				if len(g) < s.PileCount || presidentRankOrder[r] <= presidentRankOrder[s.PileRank] {
					continue
				}
				return "play_cards", marshal(map[string]any{"cardIds": g[:s.PileCount]})
			}
			return "play_cards", marshal(map[string]any{"cardIds": g[:1]})
		}
		if hasAction(actions, "pass") {
			return "pass", nil
		}
		return "", nil
	default:
		return "", nil
	}
}

func groupByRank(hand []string) map[string][]string {
	g := make(map[string][]string)
	for _, c := range hand {
		r := rankOf(c)
		g[r] = append(g[r], c)
	}
	return g
}

func sortedByRank(hand []string, order map[string]int) []string {
	out := append([]string(nil), hand...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && order[rankOf(out[j-1])] > order[rankOf(out[j])]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

var spadesRankOrder = map[string]int{
	"2": 0, "3": 1, "4": 2, "5": 3, "6": 4, "7": 5, "8": 6, "9": 7, "T": 8,
	"J": 9, "Q": 10, "K": 11, "A": 12,
}

func spadesMove(s *spades.State, actions []string, cards []string, personality Personality) (string, json.RawMessage) {
	switch s.Phase {
	case spades.PhaseBidding:
		hand := s.Hands[s.CurrentSeat]
		bid := 0
		for _, c := range hand {
			r := rankOf(c)
			if r == "A" || r == "K" || (suitOf(c) == "S" && (r == "Q" || r == "J")) {
				bid++
			}
		}
		switch personality {
		case PersonalityAggressive:
			bid++
		case PersonalityCautious:
			if bid > 0 {
				bid--
			}
		case PersonalityRandom:
			bid = len(hand) / 4
		}
		if bid > 13 {
			bid = 13
		}
		if bid < 0 {
			bid = 0
		}
		return "make_bid", marshal(map[string]any{"bid": bid})
	case spades.PhasePlaying:
		return "play_card", marshal(map[string]any{"cardId": pickCard(cards, spadesRankOrder, personality)})
	default:
		return "", nil
	}
}
