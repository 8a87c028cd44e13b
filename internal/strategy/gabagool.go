// Package strategy holds the decision logic that turns market snapshots into
// order intents: the gabagool pair-arbitrage detector and the two-sided
// market maker. Strategies are evaluated sequentially by the decision loop
// and never mutate position state themselves.
package strategy

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/updownhft/updownbot/internal/domain"
)

// GabagoolConfig tunes the pair-arbitrage detector.
type GabagoolConfig struct {
	MaxPairCost       float64 // entry requires ask_yes + ask_no below this
	MinImprovement    float64 // accumulation must improve pair cost by at least this
	FirstSideMaxPrice float64 // never open a leg above this price
	OrderSizeUSD      float64
	MaxPerMarket      float64 // total cost ceiling per instrument
	IntentTTL         time.Duration
}

// positionReader is the slice of the position manager the detector consults.
type positionReader interface {
	Get(instrumentID string, strategy domain.StrategyName) (domain.Position, bool)
	CheckAccumulation(notional float64) error
}

// Gabagool accumulates both outcomes of a binary market whenever their
// combined ask cost sits profitably below the guaranteed $1 settlement
// payout.
type Gabagool struct {
	cfg       GabagoolConfig
	positions positionReader
	logger    *slog.Logger
	now       func() time.Time
}

// NewGabagool creates the detector.
func NewGabagool(cfg GabagoolConfig, positions positionReader, logger *slog.Logger) *Gabagool {
	return &Gabagool{
		cfg:       cfg,
		positions: positions,
		logger:    logger.With(slog.String("strategy", "gabagool")),
		now:       time.Now,
	}
}

// Name returns the strategy identifier.
func (g *Gabagool) Name() domain.StrategyName { return domain.StrategyGabagool }

// Evaluate inspects one snapshot and returns buy intents for the legs worth
// taking this cycle. Intents for an existing position carry its PositionID;
// fresh entries leave it empty and the decision loop opens the Pending
// position (running every exposure invariant) before forwarding them.
func (g *Gabagool) Evaluate(snap domain.MarketSnapshot) []domain.OrderIntent {
	pairCost := snap.PairCost()
	if pairCost >= g.cfg.MaxPairCost {
		return nil
	}
	if snap.BestAskYes <= 0 || snap.BestAskNo <= 0 {
		return nil
	}

	pos, held := g.positions.Get(snap.Instrument.ID, domain.StrategyGabagool)
	if held && pos.Status != domain.PositionOpen {
		// Pending entries and exits in flight are left alone.
		return nil
	}

	qty := g.cfg.OrderSizeUSD / pairCost
	if held {
		return g.accumulate(snap, pos, qty)
	}
	return g.enter(snap, qty)
}

// enter builds the initial legs. A leg is only opened below the first-side
// price ceiling; when one side is too expensive the cheap side is taken
// alone and the other leg waits for a better price.
func (g *Gabagool) enter(snap domain.MarketSnapshot, qty float64) []domain.OrderIntent {
	var intents []domain.OrderIntent
	if snap.BestAskYes < g.cfg.FirstSideMaxPrice {
		intents = append(intents, g.buyIntent(snap, domain.TickSideYes, snap.BestAskYes, qty, ""))
	}
	if snap.BestAskNo < g.cfg.FirstSideMaxPrice {
		intents = append(intents, g.buyIntent(snap, domain.TickSideNo, snap.BestAskNo, qty, ""))
	}
	if len(intents) > 0 {
		g.logger.Info("pair entry detected",
			slog.String("instrument", snap.Instrument.ID),
			slog.Float64("pair_cost", snap.PairCost()),
			slog.Int("legs", len(intents)),
		)
	}
	return intents
}

// accumulate adds to an open position only when the fill would leave the
// average pair cost under $1 and improve it by at least the configured
// minimum. Candidates that would violate the post-fill invariant are
// rejected, not averaged in anyway.
func (g *Gabagool) accumulate(snap domain.MarketSnapshot, pos domain.Position, qty float64) []domain.OrderIntent {
	currentPair := pos.PairCost()
	var intents []domain.OrderIntent

	tryLeg := func(side domain.TickSide, ask float64, simulated float64) {
		if ask <= 0 {
			return
		}
		if simulated >= 1.00 {
			return
		}
		if currentPair-simulated < g.cfg.MinImprovement {
			return
		}
		cost := ask * qty
		if g.cfg.MaxPerMarket > 0 && pos.TotalCost()+cost > g.cfg.MaxPerMarket {
			return
		}
		if err := g.positions.CheckAccumulation(cost); err != nil {
			g.logger.Warn("accumulation suppressed",
				slog.String("instrument", snap.Instrument.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		intents = append(intents, g.buyIntent(snap, side, ask, qty, pos.ID))
	}

	tryLeg(domain.TickSideYes, snap.BestAskYes, pos.SimulateBuyYes(snap.BestAskYes, qty))
	tryLeg(domain.TickSideNo, snap.BestAskNo, pos.SimulateBuyNo(snap.BestAskNo, qty))

	if len(intents) > 0 {
		g.logger.Info("pair accumulation",
			slog.String("position_id", pos.ID),
			slog.Float64("pair_cost", currentPair),
			slog.Int("legs", len(intents)),
		)
	}
	return intents
}

func (g *Gabagool) buyIntent(snap domain.MarketSnapshot, side domain.TickSide, price, qty float64, positionID string) domain.OrderIntent {
	now := g.now().UTC()
	return domain.OrderIntent{
		ID:           uuid.NewString(),
		InstrumentID: snap.Instrument.ID,
		Symbol:       snap.Instrument.Symbol,
		Strategy:     domain.StrategyGabagool,
		Reason:       domain.ReasonArbitrage,
		Side:         domain.SideBuy,
		Token:        side,
		Price:        price,
		Qty:          qty,
		PositionID:   positionID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(g.cfg.IntentTTL),
	}
}
