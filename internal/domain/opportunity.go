package domain

import "time"

// OpportunityAction is the scorer's recommendation for a candidate market.
type OpportunityAction string

const (
	ActionTrade OpportunityAction = "trade"
	ActionWatch OpportunityAction = "watch"
	ActionSkip  OpportunityAction = "skip"
)

// ScoreBreakdown records the points each criterion contributed to a score,
// for the presentation layer and for tests.
type ScoreBreakdown struct {
	Spread     float64
	Volume     float64
	Volatility float64
	Balance    float64
	Total      float64
	Max        float64
}

// Opportunity is a scored candidate market. Opportunities carry no identity
// across scan cycles: each cycle recomputes them from scratch (or reuses the
// prior value verbatim under the price-delta skip).
type Opportunity struct {
	ID           string
	InstrumentID string
	Symbol       string
	Question     string

	Spread    float64
	Score     int // 1..5
	Volume    float64
	Action    OpportunityAction
	Breakdown ScoreBreakdown

	BestAskYes float64
	BestAskNo  float64
	PairCost   float64

	DetectedAt time.Time
}
