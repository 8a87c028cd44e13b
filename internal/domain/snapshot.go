package domain

import "time"

// MarketSnapshot is the per-cycle, read-only view of one instrument that the
// scorer and strategies consume. It is built by the scanner from metadata plus
// the freshest cached ticks and never survives past the cycle that built it.
type MarketSnapshot struct {
	Instrument Instrument

	BestBidYes float64
	BestAskYes float64
	BestBidNo  float64
	BestAskNo  float64

	SpreadYes float64
	SpreadNo  float64

	Volume24h    float64
	TimeToExpiry time.Duration

	// SpotVolatility is the feed-confirmed volatility of the underlying,
	// sampled from the spot tracker at snapshot build time.
	SpotVolatility float64

	Observed time.Time
}

// EffectiveSpread averages the YES and NO spreads, ignoring a missing side.
func (s MarketSnapshot) EffectiveSpread() float64 {
	switch {
	case s.SpreadYes > 0 && s.SpreadNo > 0:
		return (s.SpreadYes + s.SpreadNo) / 2
	case s.SpreadYes > 0:
		return s.SpreadYes
	case s.SpreadNo > 0:
		return s.SpreadNo
	default:
		return 0
	}
}

// PairCost is the cost of buying one share of each outcome at the current
// best asks. Below 1.00 it is the raw arbitrage signal.
func (s MarketSnapshot) PairCost() float64 {
	if s.BestAskYes <= 0 || s.BestAskNo <= 0 {
		return 1.0
	}
	return s.BestAskYes + s.BestAskNo
}

// MidYes returns the midpoint of the YES book, or 0 when a side is missing.
func (s MarketSnapshot) MidYes() float64 {
	if s.BestBidYes <= 0 || s.BestAskYes <= 0 {
		return 0
	}
	return (s.BestBidYes + s.BestAskYes) / 2
}

// Complete reports whether both sides of the YES book are present; snapshots
// missing their YES book are not scoreable.
func (s MarketSnapshot) Complete() bool {
	return s.BestBidYes > 0 && s.BestAskYes > 0
}
