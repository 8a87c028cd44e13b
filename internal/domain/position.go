package domain

import "time"

// StrategyName tags which strategy owns a position. At most one open position
// may exist per (instrument, strategy) pair.
type StrategyName string

const (
	StrategyGabagool    StrategyName = "gabagool"
	StrategyMarketMaker StrategyName = "market_maker"
)

// PositionStatus is the lifecycle state of a position.
//
//	Pending - entry intent emitted, awaiting fill confirmation
//	Open    - fill confirmed, actively monitored
//	Closing - exit intent emitted (stop-loss, take-profit, settlement)
//	Closed  - terminal; archived, excluded from invariant checks
type PositionStatus string

const (
	PositionPending PositionStatus = "pending"
	PositionOpen    PositionStatus = "open"
	PositionClosing PositionStatus = "closing"
	PositionClosed  PositionStatus = "closed"
)

// CloseReason records why a position left the book.
type CloseReason string

const (
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTakeProfit CloseReason = "take_profit"
	CloseTimeout    CloseReason = "timeout"
	CloseSettlement CloseReason = "settlement"
	CloseManual     CloseReason = "manual"
	CloseFailed     CloseReason = "failed" // Pending that never filled
)

// Position is one open or historical exposure. For gabagool positions both
// outcome legs accumulate here; market-maker positions track one-sided
// inventory through QtyYes/CostYes with Side indicating the leaning token.
// Only the position manager mutates positions; everyone else receives copies.
type Position struct {
	ID           string
	InstrumentID string
	Symbol       string
	Strategy     StrategyName

	QtyYes  float64
	QtyNo   float64
	CostYes float64
	CostNo  float64

	// Reserved is the notional set aside while the entry intent is pending.
	// It counts toward total exposure until fills convert it into real cost,
	// so concurrent pendings cannot overshoot the exposure cap.
	Reserved float64

	CurrentPrice float64 // latest YES mid, refreshed each cycle

	StopLoss   float64 // 0 disables
	TakeProfit float64 // 0 disables

	Status      PositionStatus
	CloseReason CloseReason

	// Settled flips exactly once when settlement profit is recognized;
	// re-evaluating a settled position is a no-op.
	Settled      bool
	LockedProfit float64

	OpenedAt    time.Time
	LastTradeAt time.Time
	ClosedAt    *time.Time
	ExitPrice   float64
}

// AvgYes returns the volume-weighted average YES entry price.
func (p Position) AvgYes() float64 {
	if p.QtyYes <= 0 {
		return 0
	}
	return p.CostYes / p.QtyYes
}

// AvgNo returns the volume-weighted average NO entry price.
func (p Position) AvgNo() float64 {
	if p.QtyNo <= 0 {
		return 0
	}
	return p.CostNo / p.QtyNo
}

// PairCost is AvgYes + AvgNo once both legs exist; 1.0 (no edge) otherwise.
func (p Position) PairCost() float64 {
	if p.QtyYes <= 0 || p.QtyNo <= 0 {
		return 1.0
	}
	return p.AvgYes() + p.AvgNo()
}

// TotalCost is the capital committed to this position.
func (p Position) TotalCost() float64 {
	return p.CostYes + p.CostNo
}

// Exposure is the capital this position consumes from the global budget:
// real cost plus any still-reserved pending notional.
func (p Position) Exposure() float64 {
	if p.Status == PositionClosed {
		return 0
	}
	return p.TotalCost() + p.Reserved
}

// GuaranteedPayout is the settlement payout floor: the smaller leg pays $1
// per share regardless of outcome.
func (p Position) GuaranteedPayout() float64 {
	if p.QtyYes < p.QtyNo {
		return p.QtyYes
	}
	return p.QtyNo
}

// ProfitLocked reports whether the guaranteed payout already exceeds cost.
func (p Position) ProfitLocked() bool {
	return p.GuaranteedPayout()-p.TotalCost() > 0
}

// SimulateBuyYes returns the pair cost that would result from adding qty YES
// shares at price, given the legs already filled. Used to reject accumulation
// that would push AvgYes+AvgNo to or above $1.
func (p Position) SimulateBuyYes(price, qty float64) float64 {
	if qty <= 0 {
		return p.PairCost()
	}
	newAvgYes := (p.CostYes + price*qty) / (p.QtyYes + qty)
	if p.QtyNo <= 0 {
		return 1.0
	}
	return newAvgYes + p.AvgNo()
}

// SimulateBuyNo mirrors SimulateBuyYes for the NO leg.
func (p Position) SimulateBuyNo(price, qty float64) float64 {
	if qty <= 0 {
		return p.PairCost()
	}
	newAvgNo := (p.CostNo + price*qty) / (p.QtyNo + qty)
	if p.QtyYes <= 0 {
		return 1.0
	}
	return p.AvgYes() + newAvgNo
}

// UnrealizedPnL marks the YES leg to CurrentPrice and the NO leg to its
// complement. Meaningful only while the position is open.
func (p Position) UnrealizedPnL() float64 {
	if p.Status != PositionOpen || p.CurrentPrice <= 0 {
		return 0
	}
	yesValue := p.QtyYes * p.CurrentPrice
	noValue := p.QtyNo * (1 - p.CurrentPrice)
	return yesValue + noValue - p.TotalCost()
}

// Terminal reports whether the position has reached a terminal state.
func (p Position) Terminal() bool {
	return p.Status == PositionClosed
}
