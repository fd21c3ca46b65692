package spades

import (
	"encoding/json"
	"testing"
)

func mustJSONPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

func TestDealGivesEachSeatThirteenCards(t *testing.T) {
	m := New()
	s := m.Deal(4, nil).(*State)
	for seat, h := range s.Hands {
		if len(h) != 13 {
			t.Errorf("seat %d has %d cards, want 13", seat, len(h))
		}
	}
}

func TestBiddingAdvancesToPlayingAfterAllFourBid(t *testing.T) {
	m := New()
	s := m.Deal(4, nil).(*State)
	var rs = s
	for i := 0; i < 4; i++ {
		next, _, err := m.Apply(rs, rs.CurrentSeat, "make_bid", mustJSONPayload(t, struct {
			Bid int `json:"bid"`
		}{Bid: 3}))
		if err != nil {
			t.Fatalf("bid %d: %v", i, err)
		}
		rs = next.(*State)
	}
	if rs.Phase != PhasePlaying {
		t.Fatalf("phase = %s, want %s", rs.Phase, PhasePlaying)
	}
}

func TestCannotLeadSpadesBeforeBroken(t *testing.T) {
	m := New()
	s := &State{
		Phase:       PhasePlaying,
		CurrentSeat: 0,
	}
	for i := range s.Bids {
		s.Bids[i] = 3
	}
	s.Hands[0] = []string{"5S", "6H"}
	_, _, err := m.Apply(s, 0, "play_card", mustJSONPayload(t, struct {
		CardID string `json:"cardId"`
	}{CardID: "5S"}))
	if err == nil {
		t.Fatal("expected spades-not-broken error")
	}
}

func TestMustFollowSuitRejected(t *testing.T) {
	m := New()
	s := &State{
		Phase:       PhasePlaying,
		CurrentSeat: 1,
	}
	s.Hands[1] = []string{"KH", "4S"}
	s.CurrentTrick = []TrickPlay{{Seat: 0, Card: "2H"}}
	_, _, err := m.Apply(s, 1, "play_card", mustJSONPayload(t, struct {
		CardID string `json:"cardId"`
	}{CardID: "4S"}))
	if err == nil {
		t.Fatal("expected must-follow-suit error")
	}
}

func TestTrickWinnerHighestOfLedSuitUnlessTrumped(t *testing.T) {
	trick := []TrickPlay{
		{Seat: 0, Card: "KH"},
		{Seat: 1, Card: "AH"},
		{Seat: 2, Card: "4S"},
		{Seat: 3, Card: "2D"},
	}
	if w := trickWinner(trick); w != 2 {
		t.Errorf("winner = %d, want 2 (only spade played)", w)
	}
}

func TestNilBidMadeAwardsBonus(t *testing.T) {
	m := New()
	s := &State{
		Phase:      PhasePlaying,
		Bids:       [4]int{0, 4, 3, 3},
		TricksWon:  [4]int{0, 6, 4, 3},
		TeamScores: [2]int{0, 0},
	}
	next, _, err := m.scoreHand(s, nil)
	if err != nil {
		t.Fatalf("scoreHand: %v", err)
	}
	ns := next.(*State)
	if ns.TeamScores[0] < bagPenalty {
		t.Errorf("team0 score = %d, want at least the nil bonus of %d", ns.TeamScores[0], bagPenalty)
	}
}
