package executor

import (
	"context"
	"sync"
	"time"

	"github.com/updownhft/updownbot/internal/domain"
)

// Exchange is the boundary to the execution collaborator. Implementations
// submit fully-formed intents and report the outcome; they never decide.
type Exchange interface {
	PlaceOrder(ctx context.Context, in domain.OrderIntent) (domain.Fill, error)
	CancelQuote(ctx context.Context, instrumentID, quoteID string) error
}

// BookView is the read side of the price cache the paper venue matches
// resting quotes against. A nil view leaves quotes resting forever.
type BookView interface {
	Get(instrumentID string, side domain.TickSide) (domain.Tick, error)
}

// MatchedQuote pairs a resting intent with the fill the paper venue produced
// for it once the market crossed the quote.
type MatchedQuote struct {
	Intent domain.OrderIntent
	Fill   domain.Fill
}

type restingKey struct {
	instrumentID string
	token        domain.TickSide
	side         domain.OrderSide
}

// PaperExchange simulates execution for dry runs: taker intents (arbitrage
// buys, exits) fill immediately at the intent price adjusted by a fixed
// slippage. Market-maker quotes rest on an internal book and fill at their
// quoted price when the cached market crosses them, the way a passive order
// on the real venue would. No external I/O.
type PaperExchange struct {
	Slippage float64 // adverse price adjustment as a fraction, e.g. 0.002
	FeeBps   float64

	book BookView
	now  func() time.Time

	mu      sync.Mutex
	resting map[restingKey]domain.OrderIntent
}

// NewPaperExchange creates the simulator. book may be nil, in which case
// resting quotes never match.
func NewPaperExchange(book BookView, slippage, feeBps float64) *PaperExchange {
	return &PaperExchange{
		Slippage: slippage,
		FeeBps:   feeBps,
		book:     book,
		now:      time.Now,
		resting:  make(map[restingKey]domain.OrderIntent),
	}
}

// PlaceOrder fills taker intents at the slipped price and rests quotes on the
// internal book. A new quote on the same (instrument, token, side) replaces
// the previous one, mirroring the venue's one-quote-per-level contract.
func (p *PaperExchange) PlaceOrder(_ context.Context, in domain.OrderIntent) (domain.Fill, error) {
	fill := domain.Fill{
		IntentID:     in.ID,
		InstrumentID: in.InstrumentID,
		Token:        in.Token,
		Side:         in.Side,
		FilledAt:     p.now().UTC(),
	}

	if in.Reason == domain.ReasonMarketMake {
		p.mu.Lock()
		p.resting[restingKey{in.InstrumentID, in.Token, in.Side}] = in
		p.mu.Unlock()
		fill.Status = domain.FillResting
		fill.Price = in.Price
		return fill, nil
	}

	price := in.Price
	switch in.Side {
	case domain.SideBuy:
		price *= 1 + p.Slippage
	case domain.SideSell:
		price *= 1 - p.Slippage
	}
	if price > 1 {
		price = 1
	}
	if price < 0 {
		price = 0
	}

	fill.Status = domain.FillFilled
	fill.Price = price
	fill.Qty = in.Qty
	fill.Fee = price * in.Qty * p.FeeBps / 10_000
	return fill, nil
}

// CancelQuote lifts the identified quote off the paper book. Canceling a
// quote that already matched or was replaced is a no-op, as on the venue.
func (p *PaperExchange) CancelQuote(_ context.Context, instrumentID, quoteID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, in := range p.resting {
		if k.instrumentID == instrumentID && in.QuoteID == quoteID {
			delete(p.resting, k)
		}
	}
	return nil
}

// MatchResting sweeps the paper book against the cached market and returns a
// fill for every quote the market has crossed: a resting buy matches when the
// best ask trades at or below its price, a resting sell when the best bid
// trades at or above it. Matched quotes leave the book; passive fills pay the
// quoted price plus fees, with no slippage.
func (p *PaperExchange) MatchResting() []MatchedQuote {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.book == nil {
		return nil
	}

	var matched []MatchedQuote
	for k, in := range p.resting {
		tick, err := p.book.Get(k.instrumentID, k.token)
		if err != nil {
			continue
		}

		var crossed bool
		switch k.side {
		case domain.SideBuy:
			crossed = tick.BestAsk > 0 && tick.BestAsk <= in.Price
		case domain.SideSell:
			crossed = tick.BestBid > 0 && tick.BestBid >= in.Price
		}
		if !crossed {
			continue
		}

		delete(p.resting, k)
		matched = append(matched, MatchedQuote{
			Intent: in,
			Fill: domain.Fill{
				IntentID:     in.ID,
				InstrumentID: in.InstrumentID,
				Token:        in.Token,
				Side:         in.Side,
				Status:       domain.FillFilled,
				Price:        in.Price,
				Qty:          in.Qty,
				Fee:          in.Price * in.Qty * p.FeeBps / 10_000,
				FilledAt:     p.now().UTC(),
			},
		})
	}
	return matched
}

// RestingCount reports how many quotes sit on the paper book.
func (p *PaperExchange) RestingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resting)
}
