package strategy

import (
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/updownhft/updownbot/internal/domain"
)

// Quote prices are always kept inside the venue's valid band.
const (
	minQuotePrice = 0.01
	maxQuotePrice = 0.99
)

// MarketMakerConfig tunes the two-sided quoter.
type MarketMakerConfig struct {
	Spread           float64 // full quoted spread around mid
	QuoteSize        float64 // shares per side
	MaxInventory     float64 // absolute YES inventory ceiling
	InventorySkew    float64 // price shift at full inventory
	RequoteThreshold float64 // mid drift tolerated before requoting
	QuoteTTL         time.Duration
}

type restingQuote struct {
	quoteID string
	mid     float64
	bid     float64
	ask     float64
}

// MarketMaker quotes symmetric bids and asks on the YES token of markets that
// pass scoring but carry no arbitrage edge. Re-quotes are idempotent against
// unchanged market state; on real movement the old quote is canceled before
// the replacement is placed.
type MarketMaker struct {
	cfg       MarketMakerConfig
	positions positionReader
	logger    *slog.Logger
	now       func() time.Time

	resting map[string]restingQuote // instrumentID -> last placed quote
}

// NewMarketMaker creates the quoter.
func NewMarketMaker(cfg MarketMakerConfig, positions positionReader, logger *slog.Logger) *MarketMaker {
	return &MarketMaker{
		cfg:       cfg,
		positions: positions,
		logger:    logger.With(slog.String("strategy", "market_maker")),
		now:       time.Now,
		resting:   make(map[string]restingQuote),
	}
}

// Name returns the strategy identifier.
func (mm *MarketMaker) Name() domain.StrategyName { return domain.StrategyMarketMaker }

// Evaluate computes the target quote for one snapshot. When the resting
// quote still satisfies the target within tolerance, nothing is emitted.
// Otherwise cancel intents for the resting quote precede the replacements in
// the returned slice; the executor preserves that order.
func (mm *MarketMaker) Evaluate(snap domain.MarketSnapshot) []domain.OrderIntent {
	mid := snap.MidYes()
	if mid <= 0 {
		return nil
	}

	inventory := 0.0
	if pos, held := mm.positions.Get(snap.Instrument.ID, domain.StrategyMarketMaker); held {
		if pos.Status != domain.PositionOpen && pos.Status != domain.PositionPending {
			return nil
		}
		inventory = pos.QtyYes
	}

	bid, ask := mm.targetQuote(mid, inventory, snap.Instrument.TickSize)
	if bid <= 0 && ask <= 0 {
		return nil
	}

	prev, has := mm.resting[snap.Instrument.ID]
	if has && math.Abs(mid-prev.mid) <= mm.cfg.RequoteThreshold {
		// Unchanged market: reuse the resting quote, no churn.
		return nil
	}

	now := mm.now().UTC()
	quoteID := uuid.NewString()
	var intents []domain.OrderIntent

	if has {
		intents = append(intents, domain.OrderIntent{
			ID:           uuid.NewString(),
			InstrumentID: snap.Instrument.ID,
			Symbol:       snap.Instrument.Symbol,
			Strategy:     domain.StrategyMarketMaker,
			Reason:       domain.ReasonCancel,
			Token:        domain.TickSideYes,
			QuoteID:      prev.quoteID,
			CreatedAt:    now,
		})
	}

	if bid > 0 {
		intents = append(intents, mm.quoteIntent(snap, domain.SideBuy, bid, quoteID, now))
	}
	if ask > 0 {
		intents = append(intents, mm.quoteIntent(snap, domain.SideSell, ask, quoteID, now))
	}

	mm.resting[snap.Instrument.ID] = restingQuote{quoteID: quoteID, mid: mid, bid: bid, ask: ask}
	mm.logger.Debug("requote",
		slog.String("instrument", snap.Instrument.ID),
		slog.Float64("mid", mid),
		slog.Float64("bid", bid),
		slog.Float64("ask", ask),
	)
	return intents
}

// targetQuote centers the spread on mid, shifts it against accumulated
// inventory, clips to the valid price band, and snaps to the tick grid.
// A side is suppressed (returned as 0) when inventory is pinned at the cap
// in its direction.
func (mm *MarketMaker) targetQuote(mid, inventory, tickSize float64) (bid, ask float64) {
	half := mm.cfg.Spread / 2

	skew := 0.0
	if mm.cfg.MaxInventory > 0 {
		skew = inventory / mm.cfg.MaxInventory * mm.cfg.InventorySkew
	}

	bid = clampPrice(snapToTick(mid-half-skew, tickSize))
	ask = clampPrice(snapToTick(mid+half-skew, tickSize))

	if mm.cfg.MaxInventory > 0 {
		if inventory >= mm.cfg.MaxInventory {
			bid = 0 // stop buying at the cap
		}
		if inventory <= -mm.cfg.MaxInventory {
			ask = 0
		}
	}
	if bid > 0 && ask > 0 && bid >= ask {
		return 0, 0
	}
	return bid, ask
}

// Forget drops the resting-quote record for an instrument, e.g. after its
// market settled or its quotes were canceled by an exit.
func (mm *MarketMaker) Forget(instrumentID string) {
	delete(mm.resting, instrumentID)
}

func (mm *MarketMaker) quoteIntent(snap domain.MarketSnapshot, side domain.OrderSide, price float64, quoteID string, now time.Time) domain.OrderIntent {
	return domain.OrderIntent{
		ID:           uuid.NewString(),
		InstrumentID: snap.Instrument.ID,
		Symbol:       snap.Instrument.Symbol,
		Strategy:     domain.StrategyMarketMaker,
		Reason:       domain.ReasonMarketMake,
		Side:         side,
		Token:        domain.TickSideYes,
		Price:        price,
		Qty:          mm.cfg.QuoteSize,
		QuoteID:      quoteID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(mm.cfg.QuoteTTL),
	}
}

func clampPrice(p float64) float64 {
	if p < minQuotePrice {
		return minQuotePrice
	}
	if p > maxQuotePrice {
		return maxQuotePrice
	}
	return p
}

func snapToTick(p, tickSize float64) float64 {
	if tickSize <= 0 {
		return p
	}
	return math.Round(p/tickSize) * tickSize
}
