// Package spades implements the Spades rule module: fixed 4-seat, 2-team
// trick-taking with a bid-then-play structure, spades always trump, and a
// bag-penalty scoring variant.
package spades

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/qingchang/cardtable/internal/rules"
)

const (
	PhaseBidding  = "bidding"
	PhasePlaying  = "playing"
	PhaseHandOver = "hand_over"
	PhaseGameOver = "game_over"

	seats       = 4
	winScore    = 500
	loseScore   = -200
	bagPenalty  = 100
	bagsPerPenalty = 10
)

var rankOrder = map[string]int{
	"2": 0, "3": 1, "4": 2, "5": 3, "6": 4, "7": 5, "8": 6, "9": 7, "T": 8,
	"J": 9, "Q": 10, "K": 11, "A": 12,
}
var rankList = []string{"2", "3", "4", "5", "6", "7", "8", "9", "T", "J", "Q", "K", "A"}
var suitList = []string{"S", "H", "D", "C"}

// TrickPlay records one card played into the current trick.
type TrickPlay struct {
	Seat int    `json:"seat"`
	Card string `json:"card"`
}

// State is Spades' concrete game state.
type State struct {
	Phase        string
	Dealer       int
	CurrentSeat  int
	Hands        [4][]string
	Bids         [4]int // -1 = not yet bid
	SpadesBroken bool
	CurrentTrick []TrickPlay
	LastTrick    []TrickPlay
	TrickLeader  int
	TricksWon    [4]int
	TeamScores   [2]int
	TeamBags     [2]int
	HandNumber   int
}

func (s *State) Clone() rules.State {
	cp := *s
	cp.Hands = s.Hands
	for i := range s.Hands {
		cp.Hands[i] = append([]string(nil), s.Hands[i]...)
	}
	cp.CurrentTrick = append([]TrickPlay(nil), s.CurrentTrick...)
	cp.LastTrick = append([]TrickPlay(nil), s.LastTrick...)
	return &cp
}

// Module implements rules.Module for Spades.
type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Kind() string { return "spades" }

func (m *Module) SeatCount(settings rules.Settings) int { return seats }

func newDeck() []string {
	deck := make([]string, 0, len(rankList)*len(suitList))
	for _, r := range rankList {
		for _, su := range suitList {
			deck = append(deck, r+su)
		}
	}
	rand.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	return deck
}

func leftOf(seat int) int { return (seat + 1) % seats }
func teamOf(seat int) int { return seat % 2 }

func (m *Module) Deal(seatCount int, settings rules.Settings) rules.State {
	deck := newDeck()
	s := &State{
		Phase:      PhaseBidding,
		HandNumber: 1,
	}
	for i := range s.Bids {
		s.Bids[i] = -1
	}
	for i, c := range deck {
		seat := i % seats
		s.Hands[seat] = append(s.Hands[seat], c)
	}
	for seat := range s.Hands {
		sortHand(s.Hands[seat])
	}
	s.CurrentSeat = leftOf(s.Dealer)
	s.TrickLeader = s.CurrentSeat
	return s
}

func sortHand(hand []string) {
	sort.Slice(hand, func(i, j int) bool {
		si, sj := string(hand[i][1]), string(hand[j][1])
		if si != sj {
			return si < sj
		}
		return rankOrder[string(hand[i][0])] < rankOrder[string(hand[j][0])]
	})
}

func cardRank(card string) string { return string(card[0]) }
func cardSuit(card string) string { return string(card[1]) }

func hasSuit(hand []string, suit string) bool {
	for _, c := range hand {
		if cardSuit(c) == suit {
			return true
		}
	}
	return false
}

func onlySpades(hand []string) bool {
	for _, c := range hand {
		if cardSuit(c) != "S" {
			return false
		}
	}
	return len(hand) > 0
}

func removeCard(hand []string, card string) ([]string, bool) {
	for i, c := range hand {
		if c == card {
			out := append([]string(nil), hand[:i]...)
			out = append(out, hand[i+1:]...)
			return out, true
		}
	}
	return hand, false
}

func (m *Module) Apply(rs rules.State, seat int, action string, raw json.RawMessage) (rules.State, []rules.DomainEvent, error) {
	s := rs.(*State).Clone().(*State)
	switch action {
	case "make_bid":
		return m.applyBid(s, seat, raw)
	case "play_card":
		return m.applyPlay(s, seat, raw)
	default:
		return nil, nil, &rules.ValidationError{Message: fmt.Sprintf("unknown spades action %q", action)}
	}
}

func (m *Module) applyBid(s *State, seat int, raw json.RawMessage) (rules.State, []rules.DomainEvent, error) {
	if s.Phase != PhaseBidding {
		return nil, nil, &rules.ValidationError{Message: "not bidding phase"}
	}
	if seat != s.CurrentSeat {
		return nil, nil, &rules.ValidationError{Message: "not your turn"}
	}
	var p struct {
		Bid int `json:"bid"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.Bid < 0 || p.Bid > 13 {
		return nil, nil, &rules.ValidationError{Message: "bid must be 0-13"}
	}
	s.Bids[seat] = p.Bid
	events := []rules.DomainEvent{{Type: "bid_made", Payload: mustJSON(map[string]any{"seat": seat, "bid": p.Bid})}}

	if allBid(s) {
		s.Phase = PhasePlaying
		s.CurrentSeat = s.TrickLeader
		return s, events, nil
	}
	s.CurrentSeat = leftOf(seat)
	return s, events, nil
}

func allBid(s *State) bool {
	for _, b := range s.Bids {
		if b < 0 {
			return false
		}
	}
	return true
}

func (m *Module) applyPlay(s *State, seat int, raw json.RawMessage) (rules.State, []rules.DomainEvent, error) {
	if s.Phase != PhasePlaying {
		return nil, nil, &rules.ValidationError{Message: "not playing phase"}
	}
	if seat != s.CurrentSeat {
		return nil, nil, &rules.ValidationError{Message: "not your turn"}
	}
	var p struct {
		CardID string `json:"cardId"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.CardID == "" {
		return nil, nil, &rules.ValidationError{Message: "invalid play payload"}
	}
	hand := s.Hands[seat]
	found := false
	for _, c := range hand {
		if c == p.CardID {
			found = true
			break
		}
	}
	if !found {
		return nil, nil, &rules.ValidationError{Message: "card not in hand"}
	}

	if len(s.CurrentTrick) == 0 {
		if cardSuit(p.CardID) == "S" && !s.SpadesBroken && !onlySpades(hand) {
			return nil, nil, &rules.ValidationError{Message: "spades not broken yet"}
		}
	} else {
		ledSuit := cardSuit(s.CurrentTrick[0].Card)
		if cardSuit(p.CardID) != ledSuit && hasSuit(hand, ledSuit) {
			return nil, nil, &rules.ValidationError{Message: "must follow suit"}
		}
	}

	newHand, ok := removeCard(hand, p.CardID)
	if !ok {
		return nil, nil, &rules.ValidationError{Message: "card not in hand"}
	}
	s.Hands[seat] = newHand
	if cardSuit(p.CardID) == "S" {
		s.SpadesBroken = true
	}
	s.CurrentTrick = append(s.CurrentTrick, TrickPlay{Seat: seat, Card: p.CardID})
	events := []rules.DomainEvent{{Type: "card_played", Payload: mustJSON(map[string]any{"seat": seat, "card": p.CardID})}}

	if len(s.CurrentTrick) < seats {
		s.CurrentSeat = leftOf(seat)
		return s, events, nil
	}

	winner := trickWinner(s.CurrentTrick)
	s.TricksWon[winner]++
	s.LastTrick = s.CurrentTrick
	s.CurrentTrick = nil
	s.TrickLeader = winner
	s.CurrentSeat = winner
	events = append(events, rules.DomainEvent{Type: "trick_complete", Payload: mustJSON(map[string]any{"winner": winner})})

	if len(s.Hands[0]) == 0 {
		return m.scoreHand(s, events)
	}
	return s, events, nil
}

func cardScore(card, ledSuit string) int {
	suit := cardSuit(card)
	rank := rankOrder[cardRank(card)]
	if suit == "S" {
		return 100 + rank
	}
	if suit == ledSuit {
		return rank
	}
	return -1
}

func trickWinner(trick []TrickPlay) int {
	ledSuit := cardSuit(trick[0].Card)
	best := trick[0].Seat
	bestScore := cardScore(trick[0].Card, ledSuit)
	for _, tp := range trick[1:] {
		score := cardScore(tp.Card, ledSuit)
		if score > bestScore {
			bestScore = score
			best = tp.Seat
		}
	}
	return best
}

func (m *Module) scoreHand(s *State, events []rules.DomainEvent) (rules.State, []rules.DomainEvent, error) {
	for team := 0; team < 2; team++ {
		contract := 0
		nilBids := []int{}
		for seat := team; seat < seats; seat += 2 {
			if s.Bids[seat] == 0 {
				nilBids = append(nilBids, seat)
			} else {
				contract += s.Bids[seat]
			}
		}
		tricks := s.TricksWon[team] + s.TricksWon[team+2]
		for _, seat := range nilBids {
			if s.TricksWon[seat] == 0 {
				s.TeamScores[team] += bagPenalty
			} else {
				s.TeamScores[team] -= bagPenalty
				tricks -= s.TricksWon[seat]
			}
		}
		if contract > 0 {
			if tricks >= contract {
				s.TeamScores[team] += contract * 10
				bags := tricks - contract
				s.TeamBags[team] += bags
			} else {
				s.TeamScores[team] -= contract * 10
			}
		}
		if s.TeamBags[team] >= bagsPerPenalty {
			s.TeamScores[team] -= bagPenalty
			s.TeamBags[team] -= bagsPerPenalty
		}
	}
	events = append(events, rules.DomainEvent{Type: "hand_complete", Payload: mustJSON(map[string]any{"scores": s.TeamScores, "bags": s.TeamBags})})

	if s.TeamScores[0] >= winScore || s.TeamScores[1] >= winScore || s.TeamScores[0] <= loseScore || s.TeamScores[1] <= loseScore {
		s.Phase = PhaseGameOver
		events = append(events, rules.DomainEvent{Type: "game_complete", Payload: mustJSON(map[string]any{"scores": s.TeamScores})})
		return s, events, nil
	}

	teamScores := s.TeamScores
	teamBags := s.TeamBags
	handNumber := s.HandNumber + 1
	dealer := leftOf(s.Dealer)
	fresh := m.Deal(seats, nil).(*State)
	fresh.TeamScores = teamScores
	fresh.TeamBags = teamBags
	fresh.HandNumber = handNumber
	fresh.Dealer = dealer
	fresh.CurrentSeat = leftOf(dealer)
	fresh.TrickLeader = fresh.CurrentSeat
	*s = *fresh
	return s, events, nil
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

type publicView struct {
	Phase        string      `json:"phase"`
	Dealer       int         `json:"dealer"`
	CurrentSeat  int         `json:"current_seat"`
	Bids         [4]int      `json:"bids"`
	SpadesBroken bool        `json:"spades_broken"`
	Hand         []string    `json:"hand"`
	HandCounts   [4]int      `json:"hand_counts"`
	CurrentTrick []TrickPlay `json:"current_trick"`
	LastTrick    []TrickPlay `json:"last_trick,omitempty"`
	TricksWon    [4]int      `json:"tricks_won"`
	TeamScores   [2]int      `json:"team_scores"`
	TeamBags     [2]int      `json:"team_bags"`
	HandNumber   int         `json:"hand_number"`
}

func (m *Module) Snapshot(rs rules.State, viewerSeat int) json.RawMessage {
	s := rs.(*State)
	v := publicView{
		Phase:        s.Phase,
		Dealer:       s.Dealer,
		CurrentSeat:  s.CurrentSeat,
		Bids:         s.Bids,
		SpadesBroken: s.SpadesBroken,
		CurrentTrick: append([]TrickPlay(nil), s.CurrentTrick...),
		LastTrick:    append([]TrickPlay(nil), s.LastTrick...),
		TricksWon:    s.TricksWon,
		TeamScores:   s.TeamScores,
		TeamBags:     s.TeamBags,
		HandNumber:   s.HandNumber,
	}
	if viewerSeat >= 0 && viewerSeat < seats {
		v.Hand = append([]string(nil), s.Hands[viewerSeat]...)
	}
	for seat := 0; seat < seats; seat++ {
		v.HandCounts[seat] = len(s.Hands[seat])
	}
	return mustJSON(v)
}

func (m *Module) ValidActions(rs rules.State, seat int) ([]string, []string, [][]string) {
	s := rs.(*State)
	if seat != s.CurrentSeat {
		return nil, nil, nil
	}
	switch s.Phase {
	case PhaseBidding:
		return []string{"make_bid"}, nil, nil
	case PhasePlaying:
		hand := s.Hands[seat]
		legal := hand
		if len(s.CurrentTrick) == 0 {
			if !s.SpadesBroken && !onlySpades(hand) {
				filtered := make([]string, 0, len(hand))
				for _, c := range hand {
					if cardSuit(c) != "S" {
						filtered = append(filtered, c)
					}
				}
				legal = filtered
			}
		} else {
			ledSuit := cardSuit(s.CurrentTrick[0].Card)
			if hasSuit(hand, ledSuit) {
				filtered := make([]string, 0, len(hand))
				for _, c := range hand {
					if cardSuit(c) == ledSuit {
						filtered = append(filtered, c)
					}
				}
				legal = filtered
			}
		}
		return []string{"play_card"}, append([]string(nil), legal...), nil
	default:
		return nil, nil, nil
	}
}

func (m *Module) Phase(rs rules.State) string   { return rs.(*State).Phase }
func (m *Module) CurrentSeat(rs rules.State) int { return rs.(*State).CurrentSeat }
func (m *Module) Dealer(rs rules.State) int      { return rs.(*State).Dealer }
func (m *Module) GameOver(rs rules.State) bool    { return rs.(*State).Phase == PhaseGameOver }
func (m *Module) Substitute(rs rules.State, seat int) rules.State { return rs }

var _ rules.Module = (*Module)(nil)
