// Package euchre implements the Euchre rule module: a 4-seat, 2-team,
// 24-card trick-taking game with a bidding phase that names trump.
package euchre

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/qingchang/cardtable/internal/rules"
)

const (
	PhaseBidding1 = "bidding1"
	PhaseBidding2 = "bidding2"
	PhaseDiscard  = "discard"
	PhasePlaying  = "playing"
	PhaseHandOver = "hand_over"
	PhaseGameOver = "game_over"

	winningScore = 10
	seats        = 4
)

var ranks = []string{"9", "T", "J", "Q", "K", "A"}
var suits = []string{"S", "H", "D", "C"}

// State is Euchre's concrete game state.
type State struct {
	Phase         string
	Dealer        int
	CurrentSeat   int
	TrumpSuit     string
	Upcard        string
	Maker         int
	MakerAlone    bool
	SittingOut    int // -1 if nobody sits out
	Hands         [seats][]string
	Kitty         []string
	CurrentTrick  []TrickPlay
	TrickLeader   int
	TricksWon     [seats]int
	Scores        [2]int
	HandNumber    int
	PassesInRound int
	LastTrick     []TrickPlay
}

// TrickPlay pairs a seat with the card it played.
type TrickPlay struct {
	Seat int    `json:"seat"`
	Card string `json:"card"`
}

func (s *State) Clone() rules.State {
	cp := *s
	for i := range s.Hands {
		cp.Hands[i] = append([]string(nil), s.Hands[i]...)
	}
	cp.Kitty = append([]string(nil), s.Kitty...)
	cp.CurrentTrick = append([]TrickPlay(nil), s.CurrentTrick...)
	cp.LastTrick = append([]TrickPlay(nil), s.LastTrick...)
	return &cp
}

// Module implements rules.Module for Euchre.
type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Kind() string { return "euchre" }

func (m *Module) SeatCount(rules.Settings) int { return seats }

func newDeck() []string {
	deck := make([]string, 0, len(ranks)*len(suits))
	for _, su := range suits {
		for _, r := range ranks {
			deck = append(deck, r+su)
		}
	}
	rand.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	return deck
}

func (m *Module) Deal(seatCount int, settings rules.Settings) rules.State {
	deck := newDeck()
	s := &State{
		Phase:         PhaseBidding1,
		Dealer:        0,
		SittingOut:    -1,
		HandNumber:    1,
		PassesInRound: 0,
	}
	idx := 0
	for seat := 0; seat < seats; seat++ {
		s.Hands[seat] = append([]string(nil), deck[idx:idx+5]...)
		idx += 5
	}
	s.Upcard = deck[idx]
	idx++
	s.Kitty = append([]string(nil), deck[idx:]...)
	s.CurrentSeat = leftOf(s.Dealer)
	return s
}

func leftOf(seat int) int { return (seat + 1) % seats }

func partnerOf(seat int) int { return (seat + 2) % seats }

func teamOf(seat int) int { return seat % 2 }

func suitColor(suit string) string {
	if suit == "H" || suit == "D" {
		return "red"
	}
	return "black"
}

func cardSuit(card string) string { return card[len(card)-1:] }
func cardRank(card string) string { return card[:len(card)-1] }

// effectiveSuit returns the suit a card belongs to for trick-following
// purposes: the left bower (same-color jack) counts as trump.
func effectiveSuit(card, trump string) string {
	if trump == "" {
		return cardSuit(card)
	}
	if cardRank(card) == "J" && suitColor(cardSuit(card)) == suitColor(trump) {
		return trump
	}
	return cardSuit(card)
}

func isTrump(card, trump string) bool {
	return trump != "" && effectiveSuit(card, trump) == trump
}

var naturalOrder = map[string]int{"9": 0, "T": 1, "J": 2, "Q": 3, "K": 4, "A": 5}
var trumpOrder = map[string]int{"9": 0, "T": 1, "Q": 2, "K": 3, "A": 4}

// cardScore ranks a card within a trick; higher wins. Cards that cannot win
// the trick (neither trump nor the led suit) score -1.
func cardScore(card, trump, ledSuit string) int {
	if isTrump(card, trump) {
		if cardRank(card) == "J" {
			if cardSuit(card) == trump {
				return 106 // right bower
			}
			return 105 // left bower
		}
		return 100 + trumpOrder[cardRank(card)]
	}
	if effectiveSuit(card, trump) == ledSuit {
		return naturalOrder[cardRank(card)]
	}
	return -1
}

func removeCard(hand []string, card string) ([]string, bool) {
	for i, c := range hand {
		if c == card {
			return append(append([]string(nil), hand[:i]...), hand[i+1:]...), true
		}
	}
	return hand, false
}

func (m *Module) activeSeats(s *State) []int {
	active := make([]int, 0, seats)
	for seat := 0; seat < seats; seat++ {
		if seat != s.SittingOut {
			active = append(active, seat)
		}
	}
	return active
}

func (m *Module) nextActive(s *State, from int) int {
	seat := leftOf(from)
	for seat == s.SittingOut {
		seat = leftOf(seat)
	}
	return seat
}

type bidPayload struct {
	Action     string `json:"action"`
	Suit       string `json:"suit,omitempty"`
	GoingAlone bool   `json:"goingAlone,omitempty"`
}

func (m *Module) Apply(rs rules.State, seat int, action string, raw json.RawMessage) (rules.State, []rules.DomainEvent, error) {
	s := rs.(*State).Clone().(*State)
	switch action {
	case "make_bid":
		return m.applyBid(s, seat, raw)
	case "play_card":
		return m.applyPlay(s, seat, raw)
	case "discard_card":
		return m.applyDiscard(s, seat, raw)
	default:
		return nil, nil, &rules.ValidationError{Message: fmt.Sprintf("unknown euchre action %q", action)}
	}
}

func (m *Module) applyBid(s *State, seat int, raw json.RawMessage) (rules.State, []rules.DomainEvent, error) {
	if s.Phase != PhaseBidding1 && s.Phase != PhaseBidding2 {
		return nil, nil, &rules.ValidationError{Message: "not a bidding phase"}
	}
	if seat != s.CurrentSeat {
		return nil, nil, &rules.ValidationError{Message: "not your turn to bid"}
	}
	var p bidPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, &rules.ValidationError{Message: "invalid bid payload"}
	}

	stuckDealer := s.Phase == PhaseBidding2 && seat == s.Dealer && s.PassesInRound == 3
	if p.Action == "pass" && stuckDealer {
		return nil, nil, &rules.ValidationError{Message: "dealer must name a suit"}
	}

	var events []rules.DomainEvent
	switch p.Action {
	case "pass":
		s.PassesInRound++
		events = append(events, rules.DomainEvent{Type: "bid_made", Payload: mustJSON(map[string]any{"seat": seat, "action": "pass"})})
		if s.Phase == PhaseBidding1 && s.PassesInRound == seats {
			s.Phase = PhaseBidding2
			s.PassesInRound = 0
			s.CurrentSeat = leftOf(s.Dealer)
			return s, events, nil
		}
		s.CurrentSeat = leftOf(s.CurrentSeat)
		return s, events, nil

	case "order_up":
		if s.Phase != PhaseBidding1 {
			return nil, nil, &rules.ValidationError{Message: "order_up only valid in round 1"}
		}
		s.TrumpSuit = cardSuit(s.Upcard)
		s.Maker = seat
		s.MakerAlone = p.GoingAlone
		if p.GoingAlone {
			s.SittingOut = partnerOf(seat)
		}
		s.Phase = PhaseDiscard
		s.CurrentSeat = s.Dealer
		s.Hands[s.Dealer] = append(s.Hands[s.Dealer], s.Upcard)
		events = append(events, rules.DomainEvent{Type: "bid_made", Payload: mustJSON(map[string]any{"seat": seat, "action": "order_up", "suit": s.TrumpSuit, "alone": p.GoingAlone})})
		return s, events, nil

	case "call":
		if s.Phase != PhaseBidding2 {
			return nil, nil, &rules.ValidationError{Message: "call only valid in round 2"}
		}
		if p.Suit == "" || p.Suit == cardSuit(s.Upcard) {
			return nil, nil, &rules.ValidationError{Message: "must name a suit other than the upcard's"}
		}
		valid := false
		for _, su := range suits {
			if su == p.Suit {
				valid = true
			}
		}
		if !valid {
			return nil, nil, &rules.ValidationError{Message: "unknown suit"}
		}
		s.TrumpSuit = p.Suit
		s.Maker = seat
		s.MakerAlone = p.GoingAlone
		if p.GoingAlone {
			s.SittingOut = partnerOf(seat)
		}
		s.Phase = PhasePlaying
		s.TrickLeader = m.nextActive(s, s.Dealer)
		s.CurrentSeat = s.TrickLeader
		events = append(events, rules.DomainEvent{Type: "bid_made", Payload: mustJSON(map[string]any{"seat": seat, "action": "call", "suit": p.Suit, "alone": p.GoingAlone})})
		return s, events, nil

	default:
		return nil, nil, &rules.ValidationError{Message: "unknown bid action"}
	}
}

func (m *Module) applyDiscard(s *State, seat int, raw json.RawMessage) (rules.State, []rules.DomainEvent, error) {
	if s.Phase != PhaseDiscard {
		return nil, nil, &rules.ValidationError{Message: "not discard phase"}
	}
	if seat != s.Dealer {
		return nil, nil, &rules.ValidationError{Message: "only the dealer discards"}
	}
	var p struct {
		CardID string `json:"cardId"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, &rules.ValidationError{Message: "invalid discard payload"}
	}
	hand, ok := removeCard(s.Hands[seat], p.CardID)
	if !ok {
		return nil, nil, &rules.ValidationError{Message: "card not in hand"}
	}
	s.Hands[seat] = hand
	s.Kitty = append(s.Kitty, p.CardID)
	s.Phase = PhasePlaying
	s.TrickLeader = m.nextActive(s, s.Dealer)
	s.CurrentSeat = s.TrickLeader
	return s, nil, nil
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
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, &rules.ValidationError{Message: "invalid play payload"}
	}
	hand := s.Hands[seat]
	if !cardInHand(hand, p.CardID) {
		return nil, nil, &rules.ValidationError{Message: "card not in hand"}
	}
	if len(s.CurrentTrick) > 0 {
		ledSuit := effectiveSuit(s.CurrentTrick[0].Card, s.TrumpSuit)
		if effectiveSuit(p.CardID, s.TrumpSuit) != ledSuit && hasSuit(hand, s.TrumpSuit, ledSuit) {
			return nil, nil, &rules.ValidationError{Message: "must follow suit"}
		}
	}
	newHand, _ := removeCard(hand, p.CardID)
	s.Hands[seat] = newHand
	s.CurrentTrick = append(s.CurrentTrick, TrickPlay{Seat: seat, Card: p.CardID})

	events := []rules.DomainEvent{{Type: "card_played", Payload: mustJSON(map[string]any{"seat": seat, "card": p.CardID})}}

	active := m.activeSeats(s)
	if len(s.CurrentTrick) < len(active) {
		s.CurrentSeat = m.nextActive(s, seat)
		return s, events, nil
	}

	winner := s.CurrentTrick[0].Seat
	best := cardScore(s.CurrentTrick[0].Card, s.TrumpSuit, effectiveSuit(s.CurrentTrick[0].Card, s.TrumpSuit))
	ledSuit := effectiveSuit(s.CurrentTrick[0].Card, s.TrumpSuit)
	for _, tp := range s.CurrentTrick[1:] {
		score := cardScore(tp.Card, s.TrumpSuit, ledSuit)
		if score > best {
			best = score
			winner = tp.Seat
		}
	}
	s.TricksWon[winner]++
	events = append(events, rules.DomainEvent{Type: "trick_complete", Payload: mustJSON(map[string]any{"winner": winner, "trick": s.CurrentTrick})})
	s.LastTrick = s.CurrentTrick
	s.CurrentTrick = nil
	s.TrickLeader = winner
	s.CurrentSeat = winner

	if len(s.Hands[winner]) == 0 || allHandsEmpty(s, active) {
		handEvents := m.scoreHand(s)
		events = append(events, handEvents...)
	}
	return s, events, nil
}

func allHandsEmpty(s *State, active []int) bool {
	for _, seat := range active {
		if len(s.Hands[seat]) > 0 {
			return false
		}
	}
	return true
}

func (m *Module) scoreHand(s *State) []rules.DomainEvent {
	makerTeam := teamOf(s.Maker)
	defTeam := 1 - makerTeam
	makerTricks := 0
	for _, seat := range m.activeSeats(s) {
		if teamOf(seat) == makerTeam {
			makerTricks += s.TricksWon[seat]
		}
	}
	var points int
	var winner int
	switch {
	case makerTricks == 5 && s.MakerAlone:
		points, winner = 4, makerTeam
	case makerTricks == 5:
		points, winner = 2, makerTeam
	case makerTricks >= 3:
		points, winner = 1, makerTeam
	default:
		points, winner = 2, defTeam
	}
	s.Scores[winner] += points
	events := []rules.DomainEvent{{Type: "hand_complete", Payload: mustJSON(map[string]any{"winner_team": winner, "points": points, "scores": s.Scores})}}

	if s.Scores[0] >= winningScore || s.Scores[1] >= winningScore {
		s.Phase = PhaseGameOver
		return append(events, rules.DomainEvent{Type: "game_complete", Payload: mustJSON(map[string]any{"scores": s.Scores})})
	}

	s.Phase = PhaseHandOver
	s.Dealer = leftOf(s.Dealer)
	s.HandNumber++
	fresh := m.Deal(seats, nil).(*State)
	fresh.Dealer = s.Dealer
	fresh.HandNumber = s.HandNumber
	fresh.Scores = s.Scores
	*s = *fresh
	s.Phase = PhaseBidding1
	return events
}

func cardInHand(hand []string, card string) bool {
	for _, c := range hand {
		if c == card {
			return true
		}
	}
	return false
}

func hasSuit(hand []string, trump, suit string) bool {
	for _, c := range hand {
		if effectiveSuit(c, trump) == suit {
			return true
		}
	}
	return false
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

type publicView struct {
	Phase        string           `json:"phase"`
	Dealer       int              `json:"dealer"`
	CurrentSeat  int              `json:"current_seat"`
	TrumpSuit    string           `json:"trump_suit,omitempty"`
	Upcard       string           `json:"upcard,omitempty"`
	Maker        int              `json:"maker"`
	MakerAlone   bool             `json:"maker_alone"`
	SittingOut   int              `json:"sitting_out"`
	Hand         []string         `json:"hand"`
	HandCounts   [seats]int       `json:"hand_counts"`
	CurrentTrick []TrickPlay      `json:"current_trick"`
	LastTrick    []TrickPlay      `json:"last_trick,omitempty"`
	TricksWon    [seats]int       `json:"tricks_won"`
	Scores       [2]int           `json:"scores"`
	HandNumber   int              `json:"hand_number"`
}

func (m *Module) Snapshot(rs rules.State, viewerSeat int) json.RawMessage {
	s := rs.(*State)
	v := publicView{
		Phase:        s.Phase,
		Dealer:       s.Dealer,
		CurrentSeat:  s.CurrentSeat,
		TrumpSuit:    s.TrumpSuit,
		Maker:        s.Maker,
		MakerAlone:   s.MakerAlone,
		SittingOut:   s.SittingOut,
		CurrentTrick: s.CurrentTrick,
		LastTrick:    s.LastTrick,
		TricksWon:    s.TricksWon,
		Scores:       s.Scores,
		HandNumber:   s.HandNumber,
	}
	if s.Phase == PhaseBidding1 {
		v.Upcard = s.Upcard
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
	case PhaseBidding1:
		return []string{"order_up", "pass"}, nil, nil
	case PhaseBidding2:
		if seat == s.Dealer && s.PassesInRound == 3 {
			return []string{"call"}, nil, nil
		}
		return []string{"call", "pass"}, nil, nil
	case PhaseDiscard:
		return []string{"discard_card"}, append([]string(nil), s.Hands[seat]...), nil
	case PhasePlaying:
		hand := s.Hands[seat]
		legal := hand
		if len(s.CurrentTrick) > 0 {
			ledSuit := effectiveSuit(s.CurrentTrick[0].Card, s.TrumpSuit)
			if hasSuit(hand, s.TrumpSuit, ledSuit) {
				legal = nil
				for _, c := range hand {
					if effectiveSuit(c, s.TrumpSuit) == ledSuit {
						legal = append(legal, c)
					}
				}
			}
		}
		return []string{"play_card"}, legal, nil
	default:
		return nil, nil, nil
	}
}

func (m *Module) Phase(rs rules.State) string       { return rs.(*State).Phase }
func (m *Module) CurrentSeat(rs rules.State) int     { return rs.(*State).CurrentSeat }
func (m *Module) Dealer(rs rules.State) int          { return rs.(*State).Dealer }
func (m *Module) GameOver(rs rules.State) bool        { return rs.(*State).Phase == PhaseGameOver }
func (m *Module) Substitute(rs rules.State, seat int) rules.State { return rs }

var _ rules.Module = (*Module)(nil)
