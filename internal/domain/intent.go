package domain

import "time"

// IntentReason classifies why an order intent was generated.
type IntentReason string

const (
	ReasonArbitrage  IntentReason = "arbitrage"
	ReasonMarketMake IntentReason = "market_make"
	ReasonExit       IntentReason = "exit"
	ReasonCancel     IntentReason = "cancel"
)

// OrderSide is the trade direction for a single token.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderIntent is the strategy layer's output: a fully-specified order the
// executor may place. Intents carry the snapshot prices they were priced
// against so staleness can be checked at execution time.
type OrderIntent struct {
	ID           string
	InstrumentID string
	Symbol       string
	Strategy     StrategyName
	Reason       IntentReason
	Side         OrderSide
	Token        TickSide // which outcome token
	Price        float64
	Qty          float64
	PositionID   string // set for exit and accumulation intents
	QuoteID      string // market-maker requote idempotence key
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the intent is too old to execute.
func (i OrderIntent) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// Notional is the dollar value of the intent at its limit price.
func (i OrderIntent) Notional() float64 {
	return i.Price * i.Qty
}

// FillStatus is the terminal outcome of an execution attempt.
type FillStatus string

const (
	FillFilled   FillStatus = "filled"
	FillPartial  FillStatus = "partial"
	FillResting  FillStatus = "resting" // limit quote accepted, not yet matched
	FillRejected FillStatus = "rejected"
	FillTimedOut FillStatus = "timed_out"
	FillCanceled FillStatus = "canceled"
)

// Fill is the executor's report for one intent.
type Fill struct {
	IntentID     string
	InstrumentID string
	PositionID   string
	Token        TickSide
	Side         OrderSide
	Status       FillStatus
	Price        float64 // average fill price
	Qty          float64 // filled quantity, may be < intent qty
	Fee          float64
	FilledAt     time.Time
}

// ExecutionEvent is published on the signal bus after each execution attempt
// so the presentation layer can render activity without polling the store.
type ExecutionEvent struct {
	Intent Fill         `json:"intent"`
	Reason IntentReason `json:"reason"`
	Symbol string       `json:"symbol"`
}
