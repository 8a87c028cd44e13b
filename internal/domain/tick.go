package domain

import "time"

// TickSource identifies which feed produced a tick.
type TickSource string

const (
	TickSourceVenue TickSource = "venue" // binary-market orderbook feed
	TickSourceSpot  TickSource = "spot"  // correlated spot-crypto feed
)

// TickSide distinguishes which outcome token a venue tick belongs to.
type TickSide string

const (
	TickSideYes TickSide = "yes"
	TickSideNo  TickSide = "no"
)

// Tick is one immutable price observation. The price cache retains only the
// latest tick per (instrument, side); older or out-of-order ticks are dropped
// on arrival.
type Tick struct {
	InstrumentID string
	Side         TickSide
	BestBid      float64
	BestAsk      float64
	Size         float64
	Timestamp    time.Time
	Source       TickSource
}

// Mid returns the midpoint of the tick's best bid/ask, or 0 when either side
// is missing.
func (t Tick) Mid() float64 {
	if t.BestBid <= 0 || t.BestAsk <= 0 {
		return 0
	}
	return (t.BestBid + t.BestAsk) / 2
}

// Spread returns ask minus bid, or 0 when either side is missing.
func (t Tick) Spread() float64 {
	if t.BestBid <= 0 || t.BestAsk <= 0 {
		return 0
	}
	return t.BestAsk - t.BestBid
}

// SpotTick is one trade print from the correlated spot feed, used by the
// volatility tracker that feeds the scorer.
type SpotTick struct {
	Symbol    string // e.g. "BTCUSDT"
	Price     float64
	Qty       float64
	Timestamp time.Time
}
