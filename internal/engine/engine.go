// Package engine runs the per-cycle decision loop: refresh the instrument
// universe, rebuild the candidate set, score it, let the strategies speak,
// and hand the surviving intents to the executor.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/updownhft/updownbot/internal/analyzer"
	"github.com/updownhft/updownbot/internal/domain"
	"github.com/updownhft/updownbot/internal/metrics"
	"github.com/updownhft/updownbot/internal/notify"
	"github.com/updownhft/updownbot/internal/position"
	"github.com/updownhft/updownbot/internal/pricecache"
	"github.com/updownhft/updownbot/internal/scanner"
	"github.com/updownhft/updownbot/internal/strategy"
	"github.com/updownhft/updownbot/internal/venue"
)

// InstrumentSource provides instrument discovery and settlement lookups.
// venue.Client is the production implementation.
type InstrumentSource interface {
	DiscoverInstruments(ctx context.Context, symbols []string) ([]domain.Instrument, error)
	GetResolution(ctx context.Context, instrumentID string) (venue.Resolution, error)
}

// FeedControl is the slice of the market-data feed the engine drives:
// book subscriptions follow the instrument universe.
type FeedControl interface {
	Subscribe(ctx context.Context, insts []domain.Instrument) error
	Unsubscribe(ctx context.Context, inst domain.Instrument)
}

// Options tune the decision loop.
type Options struct {
	Symbols      []string
	ScanInterval time.Duration
	RefreshEvery time.Duration // instrument metadata refresh cadence
	FillTimeout  time.Duration // pending entries older than this are failed
	DrainTimeout time.Duration // shutdown wind-down bound, 0 skips the drain
	MMMarkets    int           // market maker quotes the top N candidates

	// SettleGrace bounds how long the engine waits for the venue to report
	// a resolution after expiry before inferring the winner from the last
	// observed mid.
	SettleGrace time.Duration
}

func (o *Options) defaults() {
	if o.ScanInterval <= 0 {
		o.ScanInterval = time.Second
	}
	if o.RefreshEvery <= 0 {
		o.RefreshEvery = time.Minute
	}
	if o.FillTimeout <= 0 {
		o.FillTimeout = 10 * time.Second
	}
	if o.MMMarkets <= 0 {
		o.MMMarkets = 3
	}
	if o.SettleGrace <= 0 {
		o.SettleGrace = 2 * time.Minute
	}
}

// Engine owns the decision cycle. It is the only writer of the instrument
// universe and the only producer on the intent channel, so the strategies
// and the position manager are never raced from here.
type Engine struct {
	opts     Options
	cache    *pricecache.Cache
	scan     *scanner.Scanner
	scorer   analyzer.Scorer
	gabagool *strategy.Gabagool
	mm       *strategy.MarketMaker
	manager  *position.Manager
	source   InstrumentSource
	feed     FeedControl
	intents  chan<- domain.OrderIntent

	oppStore  domain.OpportunityStore // optional
	instStore domain.InstrumentStore  // optional
	instCache domain.InstrumentCache  // optional
	bus       domain.SignalBus        // optional
	notifier  *notify.Notifier        // optional

	logger *slog.Logger
	now    func() time.Time

	universe    map[string]domain.Instrument
	lastMid     map[string]float64
	lastRefresh time.Time
}

// New creates an Engine. The store, cache, and bus arguments may be nil;
// persistence and fan-out are best effort and never block a cycle.
func New(
	cache *pricecache.Cache,
	scan *scanner.Scanner,
	scorer analyzer.Scorer,
	gabagool *strategy.Gabagool,
	mm *strategy.MarketMaker,
	manager *position.Manager,
	source InstrumentSource,
	feed FeedControl,
	intents chan<- domain.OrderIntent,
	opts Options,
	logger *slog.Logger,
) *Engine {
	opts.defaults()
	return &Engine{
		opts:     opts,
		cache:    cache,
		scan:     scan,
		scorer:   scorer,
		gabagool: gabagool,
		mm:       mm,
		manager:  manager,
		source:   source,
		feed:     feed,
		intents:  intents,
		logger:   logger.With(slog.String("component", "engine")),
		now:      time.Now,
		universe: make(map[string]domain.Instrument),
		lastMid:  make(map[string]float64),
	}
}

// WithStores attaches the optional persistence and fan-out sinks.
func (e *Engine) WithStores(opps domain.OpportunityStore, insts domain.InstrumentStore, instCache domain.InstrumentCache, bus domain.SignalBus) *Engine {
	e.oppStore = opps
	e.instStore = insts
	e.instCache = instCache
	e.bus = bus
	return e
}

// WithNotifier attaches the operator notification channel.
func (e *Engine) WithNotifier(n *notify.Notifier) *Engine {
	e.notifier = n
	return e
}

// Run drives the decision loop until ctx is canceled. The first cycle runs
// immediately so a restart does not sit idle for a full interval. On
// cancellation the engine winds down in-flight positions before closing the
// intent channel, which releases the executor.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "decision loop starting",
		slog.Duration("interval", e.opts.ScanInterval),
		slog.Any("symbols", e.opts.Symbols),
	)

	if err := e.manager.Restore(ctx); err != nil {
		return fmt.Errorf("engine: restore positions: %w", err)
	}

	e.Cycle(ctx)

	ticker := time.NewTicker(e.opts.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drainPositions()
			close(e.intents)
			e.logger.Info("decision loop stopped")
			return ctx.Err()
		case <-ticker.C:
			e.Cycle(ctx)
		}
	}
}

// drainPositions keeps a reduced wind-down loop running after cancellation:
// pending entries resolve or expire, exits for closing positions are
// re-submitted at the last observed prices, and exit rules still fire for
// open positions. The loop ends when nothing is left in flight or
// DrainTimeout passes. Open positions with no exit condition are not waited
// on; they persist and are restored on the next start.
func (e *Engine) drainPositions() {
	if e.opts.DrainTimeout <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.DrainTimeout)
	defer cancel()

	e.logger.Info("draining positions", slog.Duration("timeout", e.opts.DrainTimeout))

	ticker := time.NewTicker(e.opts.ScanInterval)
	defer ticker.Stop()

	for {
		e.manager.ExpirePending(ctx, e.opts.FillTimeout)
		e.settleExpired(ctx)

		inflight := 0
		evaluated := make(map[string]bool)
		for _, pos := range e.manager.Open() {
			if pos.Status == domain.PositionPending || pos.Status == domain.PositionClosing {
				inflight++
			}
			if evaluated[pos.InstrumentID] {
				continue
			}
			evaluated[pos.InstrumentID] = true
			for _, in := range e.manager.Evaluate(ctx, e.lastSnapshot(pos.InstrumentID)) {
				e.emit(ctx, in)
			}
		}
		if inflight == 0 {
			e.logger.Info("drain complete")
			return
		}

		select {
		case <-ctx.Done():
			e.logger.Warn("drain window expired", slog.Int("in_flight", inflight))
			return
		case <-ticker.C:
		}
	}
}

// lastSnapshot rebuilds a snapshot from the last observed YES mid, used when
// the feeds are already gone.
func (e *Engine) lastSnapshot(instrumentID string) domain.MarketSnapshot {
	inst, ok := e.universe[instrumentID]
	if !ok {
		inst = domain.Instrument{ID: instrumentID, Active: true}
	}
	mid := e.lastMid[instrumentID]
	return domain.MarketSnapshot{
		Instrument: inst,
		BestBidYes: mid, BestAskYes: mid,
		BestBidNo: 1 - mid, BestAskNo: 1 - mid,
	}
}

// Cycle runs one full decision pass. Exported so tests and the monitor mode
// can single-step the loop.
func (e *Engine) Cycle(ctx context.Context) {
	start := e.now()

	if err := e.refreshInstruments(ctx); err != nil {
		e.logger.WarnContext(ctx, "instrument refresh failed",
			slog.String("error", err.Error()))
	}

	e.manager.ExpirePending(ctx, e.opts.FillTimeout)
	e.settleExpired(ctx)

	candidates := e.scan.Scan(e.instrumentList(), e.manager.HasOpen)

	for i, cand := range candidates {
		if ctx.Err() != nil {
			break
		}

		opp := cand.Opportunity
		if !cand.Reused {
			opp = e.scorer.Score(cand.Snapshot)
			e.scan.Remember(opp)
			e.lastMid[opp.InstrumentID] = cand.Snapshot.MidYes()
			e.publishOpportunity(ctx, opp)
		}
		metrics.Opportunities.WithLabelValues(string(opp.Action)).Inc()

		if cand.Reused {
			// Market has not moved: resting quotes and the prior verdict
			// both stand, nothing to re-decide.
			continue
		}

		for _, in := range e.manager.Evaluate(ctx, cand.Snapshot) {
			e.emit(ctx, in)
		}

		if e.gabagool != nil && e.tradeable(opp, cand.Snapshot.Instrument.ID) {
			e.dispatch(ctx, cand.Snapshot, e.gabagool.Evaluate(cand.Snapshot))
		}
		if e.mm != nil && i < e.opts.MMMarkets && opp.Action != domain.ActionSkip {
			e.dispatch(ctx, cand.Snapshot, e.mm.Evaluate(cand.Snapshot))
		}
	}

	metrics.ScanCycles.Inc()
	metrics.CycleDuration.Observe(e.now().Sub(start).Seconds())
	metrics.OpenPositions.Set(float64(e.manager.OpenCount()))
	metrics.TotalExposure.Set(e.manager.TotalExposure())
}

// tradeable gates pair-arbitrage entries on the scorer's verdict; an
// instrument already holding a position is always re-evaluated so
// accumulation and exits are never starved by a downgraded score.
func (e *Engine) tradeable(opp domain.Opportunity, instrumentID string) bool {
	return opp.Action == domain.ActionTrade || e.manager.HasOpen(instrumentID)
}

// dispatch routes one strategy's intents for one snapshot. Fresh entries
// (buy intents without a position) are registered with the position manager
// first; a risk rejection suppresses the whole entry group so a pair entry
// never goes out half-reserved.
func (e *Engine) dispatch(ctx context.Context, snap domain.MarketSnapshot, intents []domain.OrderIntent) {
	if len(intents) == 0 {
		return
	}

	var entries []domain.OrderIntent
	for _, in := range intents {
		if in.PositionID == "" && in.Side == domain.SideBuy && in.Reason != domain.ReasonCancel {
			entries = append(entries, in)
			continue
		}
		e.emit(ctx, in)
	}
	if len(entries) == 0 {
		return
	}

	strat := entries[0].Strategy
	positionID := ""
	if pos, held := e.manager.Get(snap.Instrument.ID, strat); held {
		// Resting-quote replacement or a second pair leg arriving while the
		// first is pending: attach to the existing position.
		positionID = pos.ID
	} else {
		reserve := 0.0
		for _, in := range entries {
			reserve += in.Notional()
		}
		pos, err := e.manager.OpenPending(ctx, snap.Instrument, strat, reserve)
		if err != nil {
			cause := "open_failed"
			if errors.Is(err, domain.ErrInvariantViolation) {
				cause = "risk_limit"
			}
			for range entries {
				metrics.IntentsSuppressed.WithLabelValues(cause).Inc()
			}
			e.logger.DebugContext(ctx, "entry suppressed",
				slog.String("instrument", snap.Instrument.ID),
				slog.String("strategy", string(strat)),
				slog.String("error", err.Error()),
			)
			return
		}
		positionID = pos.ID
	}

	for _, in := range entries {
		in.PositionID = positionID
		e.emit(ctx, in)
	}
}

// emit hands one intent to the executor without ever blocking the cycle: a
// full channel drops the intent, which the next cycle will re-derive from
// fresh prices anyway.
func (e *Engine) emit(ctx context.Context, in domain.OrderIntent) {
	select {
	case e.intents <- in:
		metrics.IntentsEmitted.WithLabelValues(string(in.Reason)).Inc()
	default:
		metrics.IntentsSuppressed.WithLabelValues("backpressure").Inc()
		e.logger.WarnContext(ctx, "intent dropped, executor backlogged",
			slog.String("intent_id", in.ID),
			slog.String("reason", string(in.Reason)),
		)
	}
}

// refreshInstruments re-discovers the tradeable universe on the configured
// cadence and keeps the feed subscriptions, cache, and store in step.
func (e *Engine) refreshInstruments(ctx context.Context) error {
	now := e.now()
	if !e.lastRefresh.IsZero() && now.Sub(e.lastRefresh) < e.opts.RefreshEvery {
		return nil
	}

	insts, err := e.source.DiscoverInstruments(ctx, e.opts.Symbols)
	if err != nil {
		return fmt.Errorf("engine: discover instruments: %w", err)
	}
	e.lastRefresh = now

	var fresh []domain.Instrument
	for _, inst := range insts {
		if _, known := e.universe[inst.ID]; !known {
			fresh = append(fresh, inst)
		}
		e.universe[inst.ID] = inst
		if e.instCache != nil {
			if err := e.instCache.Set(ctx, inst); err != nil {
				e.logger.DebugContext(ctx, "instrument cache write failed",
					slog.String("error", err.Error()))
			}
		}
	}

	if e.instStore != nil && len(insts) > 0 {
		if err := e.instStore.UpsertBatch(ctx, insts); err != nil {
			e.logger.WarnContext(ctx, "instrument persist failed",
				slog.String("error", err.Error()))
		}
	}

	if len(fresh) > 0 {
		if err := e.feed.Subscribe(ctx, fresh); err != nil {
			return fmt.Errorf("engine: subscribe feed: %w", err)
		}
		e.logger.InfoContext(ctx, "universe refreshed",
			slog.Int("instruments", len(e.universe)),
			slog.Int("new", len(fresh)),
		)
	}
	return nil
}

// settleExpired resolves markets past expiry: the venue's reported winner
// settles any positions, then every per-instrument structure is purged. A
// market whose resolution is not yet published is retried each cycle until
// the grace window runs out, after which the winner is inferred from the
// last observed YES mid.
func (e *Engine) settleExpired(ctx context.Context) {
	now := e.now()
	for id, inst := range e.universe {
		if !inst.Expired(now) {
			continue
		}

		winner, ok := e.resolveWinner(ctx, inst, now)
		if !ok {
			continue // resolution pending, retry next cycle
		}

		for _, strat := range []domain.StrategyName{domain.StrategyGabagool, domain.StrategyMarketMaker} {
			pos, held := e.manager.Get(id, strat)
			if !held {
				continue
			}
			if err := e.manager.Settle(ctx, pos.ID, winner); err != nil {
				e.logger.ErrorContext(ctx, "settlement failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if e.notifier != nil {
				if settled, found := e.manager.GetByID(pos.ID); found {
					e.notifier.Publish(ctx, notify.Closed(settled))
				}
			}
		}

		e.cache.Purge(id)
		e.scan.Forget(id)
		if e.mm != nil {
			e.mm.Forget(id)
		}
		e.feed.Unsubscribe(ctx, inst)
		if e.instCache != nil {
			_ = e.instCache.Invalidate(ctx, id)
		}
		delete(e.universe, id)
		delete(e.lastMid, id)

		e.logger.InfoContext(ctx, "market settled",
			slog.String("instrument", id),
			slog.String("symbol", inst.Symbol),
			slog.String("winner", string(winner)),
		)
	}
}

func (e *Engine) resolveWinner(ctx context.Context, inst domain.Instrument, now time.Time) (domain.TickSide, bool) {
	res, err := e.source.GetResolution(ctx, inst.ID)
	if err == nil && res.Closed && res.Winner != "" {
		return res.Winner, true
	}
	if err != nil {
		e.logger.DebugContext(ctx, "resolution lookup failed",
			slog.String("instrument", inst.ID),
			slog.String("error", err.Error()),
		)
	}

	if now.Sub(inst.Expiry) < e.opts.SettleGrace {
		return "", false
	}

	// Venue never published a winner inside the grace window. The last mid
	// is the best available oracle: above a half the market priced Up.
	mid, seen := e.lastMid[inst.ID]
	if !seen {
		e.logger.WarnContext(ctx, "settling with no price history, assuming NO",
			slog.String("instrument", inst.ID))
		return domain.TickSideNo, true
	}
	if mid >= 0.5 {
		return domain.TickSideYes, true
	}
	return domain.TickSideNo, true
}

func (e *Engine) instrumentList() []domain.Instrument {
	out := make([]domain.Instrument, 0, len(e.universe))
	for _, inst := range e.universe {
		out = append(out, inst)
	}
	return out
}

func (e *Engine) publishOpportunity(ctx context.Context, opp domain.Opportunity) {
	if e.notifier != nil && opp.Action == domain.ActionTrade {
		e.notifier.Publish(ctx, notify.TradeOpportunity(opp))
	}
	if e.oppStore != nil && opp.Action != domain.ActionSkip {
		if err := e.oppStore.Insert(ctx, opp); err != nil {
			e.logger.DebugContext(ctx, "opportunity persist failed",
				slog.String("error", err.Error()))
		}
	}
	if e.bus != nil {
		payload, err := json.Marshal(opp)
		if err != nil {
			return
		}
		if err := e.bus.Publish(ctx, "opportunities", payload); err != nil {
			e.logger.DebugContext(ctx, "opportunity publish failed",
				slog.String("error", err.Error()))
		}
	}
}
