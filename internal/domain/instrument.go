package domain

import "time"

// Instrument identifies one short-duration binary Up/Down market on the venue:
// one underlying symbol, one expiry, and the token pair for the two outcomes.
// Instruments are immutable once discovered; only Volume24h and Active are
// refreshed from metadata.
type Instrument struct {
	ID        string // venue market / condition ID
	Symbol    string // underlying, e.g. "BTC"
	Question  string
	TokenYes  string // outcome token ID for Up/Yes
	TokenNo   string // outcome token ID for Down/No
	Expiry    time.Time
	TickSize  float64 // minimum price increment, e.g. 0.01
	Volume24h float64
	Active    bool
}

// TimeToExpiry returns the remaining lifetime of the market relative to now.
// Negative once the market has expired.
func (i Instrument) TimeToExpiry(now time.Time) time.Duration {
	return i.Expiry.Sub(now)
}

// Expired reports whether the market has reached settlement time.
func (i Instrument) Expired(now time.Time) bool {
	return !i.Expiry.After(now)
}
