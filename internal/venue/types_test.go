package venue

import (
	"testing"

	"github.com/updownhft/updownbot/internal/domain"
)

func TestAPIMarketToInstrument(t *testing.T) {
	m := apiMarket{
		ConditionID: "0xabc",
		Question:    "Bitcoin Up or Down - June 5, 3PM ET",
		Slug:        "bitcoin-up-or-down-june-5-3pm-et",
		Active:      true,
		EnableBook:  true,
		Outcomes:    `["Up","Down"]`,
		ClobTokenIDs: `["111","222"]`,
		Volume:      "15000.5",
		MinTickSize: "0.01",
		EndDateISO:  "2026-06-05T19:00:00Z",
	}

	inst, ok := m.toInstrument()
	if !ok {
		t.Fatal("market rejected")
	}
	if inst.ID != "0xabc" {
		t.Errorf("ID = %q, want 0xabc", inst.ID)
	}
	if inst.Symbol != "BTC" {
		t.Errorf("Symbol = %q, want BTC", inst.Symbol)
	}
	if inst.TokenYes != "111" || inst.TokenNo != "222" {
		t.Errorf("tokens = %q/%q, want 111/222", inst.TokenYes, inst.TokenNo)
	}
	if inst.Volume24h != 15000.5 {
		t.Errorf("Volume24h = %v", inst.Volume24h)
	}
	if !inst.Active {
		t.Error("instrument not active")
	}
}

func TestAPIMarketTokenPairFromTypedTokens(t *testing.T) {
	m := apiMarket{
		ID:         "m1",
		Question:   "Ethereum Up or Down",
		Active:     true,
		EnableBook: true,
		EndDateISO: "2026-06-05T19:00:00Z",
		Tokens: []apiToken{
			{TokenID: "333", Outcome: "Down"},
			{TokenID: "444", Outcome: "Up"},
		},
	}

	inst, ok := m.toInstrument()
	if !ok {
		t.Fatal("market rejected")
	}
	if inst.TokenYes != "444" || inst.TokenNo != "333" {
		t.Errorf("tokens = %q/%q, want 444/333", inst.TokenYes, inst.TokenNo)
	}
}

func TestAPIMarketRejectsNonBinary(t *testing.T) {
	m := apiMarket{
		ID:           "m2",
		Question:     "Who wins the election?",
		Active:       true,
		EnableBook:   true,
		EndDateISO:   "2026-11-03T23:00:00Z",
		Outcomes:     `["Alice","Bob","Carol"]`,
		ClobTokenIDs: `["1","2","3"]`,
	}
	if _, ok := m.toInstrument(); ok {
		t.Fatal("three-outcome market accepted")
	}
}

func TestAPIMarketWinnerSide(t *testing.T) {
	m := apiMarket{
		Closed: true,
		Tokens: []apiToken{
			{TokenID: "1", Outcome: "Up", Winner: false},
			{TokenID: "2", Outcome: "Down", Winner: true},
		},
	}
	side, ok := m.winnerSide()
	if !ok || side != domain.TickSideNo {
		t.Fatalf("winner = %v %v, want no", side, ok)
	}
}

func TestBookMessageToTick(t *testing.T) {
	b := bookMessage{
		AssetID:   "111",
		Timestamp: "1750000000000",
		Bids: []priceLevel{
			{Price: "0.40", Size: "100"},
			{Price: "0.52", Size: "80"},
		},
		Asks: []priceLevel{
			{Price: "0.60", Size: "50"},
			{Price: "0.56", Size: "40"},
		},
	}

	tick, ok := b.toTick("inst-1", domain.TickSideYes)
	if !ok {
		t.Fatal("tick rejected")
	}
	if tick.BestBid != 0.52 {
		t.Errorf("BestBid = %v, want 0.52", tick.BestBid)
	}
	if tick.BestAsk != 0.56 {
		t.Errorf("BestAsk = %v, want 0.56", tick.BestAsk)
	}
	if tick.Source != domain.TickSourceVenue {
		t.Errorf("Source = %v", tick.Source)
	}
	if tick.Timestamp.IsZero() {
		t.Error("timestamp not parsed")
	}
}

func TestBookMessageToTickEmptySide(t *testing.T) {
	b := bookMessage{
		AssetID: "111",
		Bids:    []priceLevel{{Price: "0.52", Size: "80"}},
	}
	if _, ok := b.toTick("inst-1", domain.TickSideYes); ok {
		t.Fatal("one-sided book accepted")
	}
}
