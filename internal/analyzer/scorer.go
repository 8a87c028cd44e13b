// Package analyzer turns market snapshots into scored opportunities. Scoring
// is pure and deterministic: the same snapshot always yields the same score,
// which keeps the decision pipeline testable.
package analyzer

import (
	"time"

	"github.com/google/uuid"

	"github.com/updownhft/updownbot/internal/domain"
)

const criterionMax = 25.0

// Scorer grades snapshots on four equally-weighted criteria (spread width,
// volume, spot volatility, price balance), applies an expiry damping factor,
// and maps the result onto a 1-5 star scale.
type Scorer struct {
	MinSpread float64 // spread earning full spread points
	MinVolume float64 // 24h volume earning full volume points
	VolRef    float64 // spot volatility (stddev / mean) earning full points
	MinWindow time.Duration

	TradeThreshold int
	WatchThreshold int
}

// NewScorer builds a Scorer from the trading thresholds. VolRef defaults to
// 0.2% relative spot movement over the tracker window.
func NewScorer(minSpread, minVolume float64, tradeThreshold, watchThreshold int) Scorer {
	return Scorer{
		MinSpread:      minSpread,
		MinVolume:      minVolume,
		VolRef:         0.002,
		MinWindow:      2 * time.Hour,
		TradeThreshold: tradeThreshold,
		WatchThreshold: watchThreshold,
	}
}

// Score grades one snapshot. Incomplete snapshots score 1 star with action
// skip rather than erroring; one bad instrument must not abort a cycle.
func (s Scorer) Score(snap domain.MarketSnapshot) domain.Opportunity {
	opp := domain.Opportunity{
		ID:           uuid.NewString(),
		InstrumentID: snap.Instrument.ID,
		Symbol:       snap.Instrument.Symbol,
		Question:     snap.Instrument.Question,
		Spread:       snap.EffectiveSpread(),
		Volume:       snap.Volume24h,
		BestAskYes:   snap.BestAskYes,
		BestAskNo:    snap.BestAskNo,
		PairCost:     snap.PairCost(),
		DetectedAt:   snap.Observed,
	}

	if !snap.Complete() {
		opp.Score = 1
		opp.Action = domain.ActionSkip
		return opp
	}

	bd := domain.ScoreBreakdown{
		Spread:     proportional(opp.Spread, s.MinSpread),
		Volume:     proportional(snap.Volume24h, s.MinVolume),
		Volatility: proportional(snap.SpotVolatility, s.VolRef),
		Balance:    balancePoints(snap.MidYes()),
		Max:        4 * criterionMax,
	}
	bd.Total = bd.Spread + bd.Volume + bd.Volatility + bd.Balance

	pct := bd.Total / bd.Max * expiryFactor(snap.TimeToExpiry, s.MinWindow)
	opp.Breakdown = bd
	opp.Score = stars(pct)
	opp.Action = s.action(opp)
	return opp
}

func (s Scorer) action(opp domain.Opportunity) domain.OpportunityAction {
	switch {
	case opp.Spread >= s.MinSpread && opp.Score >= s.TradeThreshold:
		return domain.ActionTrade
	case opp.Score >= s.WatchThreshold:
		return domain.ActionWatch
	default:
		return domain.ActionSkip
	}
}

// proportional awards points linearly up to the reference value, capped at
// the per-criterion maximum.
func proportional(value, ref float64) float64 {
	if ref <= 0 || value <= 0 {
		return 0
	}
	if value >= ref {
		return criterionMax
	}
	return value / ref * criterionMax
}

// balancePoints rewards mids near 0.50, where both outcomes stay liquid.
// A mid pinned at 0 or 1 earns nothing.
func balancePoints(mid float64) float64 {
	if mid <= 0 || mid >= 1 {
		return 0
	}
	dist := mid - 0.5
	if dist < 0 {
		dist = -dist
	}
	return (1 - dist/0.5) * criterionMax
}

// expiryFactor is 1 for markets inside the useful window and decays
// hyperbolically beyond it, so far-dated markets never outrank near ones on
// otherwise equal criteria.
func expiryFactor(tte, window time.Duration) float64 {
	if tte <= 0 {
		return 0
	}
	if window <= 0 || tte <= window {
		return 1
	}
	return float64(window) / float64(tte)
}

// stars maps the damped percentage onto 1-5.
func stars(pct float64) int {
	switch {
	case pct >= 0.80:
		return 5
	case pct >= 0.60:
		return 4
	case pct >= 0.40:
		return 3
	case pct >= 0.20:
		return 2
	default:
		return 1
	}
}
