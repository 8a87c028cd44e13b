package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/updownhft/updownbot/internal/analyzer"
	"github.com/updownhft/updownbot/internal/domain"
	"github.com/updownhft/updownbot/internal/position"
	"github.com/updownhft/updownbot/internal/pricecache"
	"github.com/updownhft/updownbot/internal/scanner"
	"github.com/updownhft/updownbot/internal/strategy"
	"github.com/updownhft/updownbot/internal/venue"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	insts       []domain.Instrument
	discoveries int
	resolutions map[string]venue.Resolution
	resErr      error
}

func (s *fakeSource) DiscoverInstruments(ctx context.Context, symbols []string) ([]domain.Instrument, error) {
	s.discoveries++
	return s.insts, nil
}

func (s *fakeSource) GetResolution(ctx context.Context, id string) (venue.Resolution, error) {
	if s.resErr != nil {
		return venue.Resolution{}, s.resErr
	}
	return s.resolutions[id], nil
}

type fakeFeed struct {
	subscribed   []domain.Instrument
	unsubscribed []string
}

func (f *fakeFeed) Subscribe(ctx context.Context, insts []domain.Instrument) error {
	f.subscribed = append(f.subscribed, insts...)
	return nil
}

func (f *fakeFeed) Unsubscribe(ctx context.Context, inst domain.Instrument) {
	f.unsubscribed = append(f.unsubscribed, inst.ID)
}

type harness struct {
	engine  *Engine
	cache   *pricecache.Cache
	manager *position.Manager
	source  *fakeSource
	feed    *fakeFeed
	intents chan domain.OrderIntent
}

func testInstrument(id string, expiry time.Time) domain.Instrument {
	return domain.Instrument{
		ID:        id,
		Symbol:    "BTC",
		Question:  "Bitcoin Up or Down?",
		TokenYes:  id + "-yes",
		TokenNo:   id + "-no",
		Expiry:    expiry,
		TickSize:  0.01,
		Volume24h: 50_000,
		Active:    true,
	}
}

func newHarness(t *testing.T, limits position.Limits, insts ...domain.Instrument) *harness {
	t.Helper()

	cache := pricecache.New(time.Minute)
	scan := scanner.New(cache, nil, scanner.Options{MaxDuration: 2 * time.Hour}, discard())
	scorer := analyzer.NewScorer(0.01, 100, 1, 1)
	manager := position.NewManager(limits, nil, nil, nil, nil, discard())

	gab := strategy.NewGabagool(strategy.GabagoolConfig{
		MaxPairCost:       0.99,
		MinImprovement:    0.01,
		FirstSideMaxPrice: 0.75,
		OrderSizeUSD:      50,
		MaxPerMarket:      500,
		IntentTTL:         5 * time.Second,
	}, manager, discard())
	mm := strategy.NewMarketMaker(strategy.MarketMakerConfig{
		Spread:           0.04,
		QuoteSize:        10,
		MaxInventory:     100,
		InventorySkew:    0.01,
		RequoteThreshold: 0.005,
		QuoteTTL:         10 * time.Second,
	}, manager, discard())

	source := &fakeSource{insts: insts, resolutions: make(map[string]venue.Resolution)}
	feed := &fakeFeed{}
	intents := make(chan domain.OrderIntent, 64)

	eng := New(cache, scan, scorer, gab, mm, manager, source, feed, intents, Options{
		Symbols:     []string{"BTC"},
		MMMarkets:   1,
		SettleGrace: time.Minute,
	}, discard())

	return &harness{engine: eng, cache: cache, manager: manager, source: source, feed: feed, intents: intents}
}

func (h *harness) putBook(instrumentID string, bidYes, askYes, bidNo, askNo float64) {
	now := time.Now().UTC()
	h.cache.Put(domain.Tick{
		InstrumentID: instrumentID, Side: domain.TickSideYes,
		BestBid: bidYes, BestAsk: askYes, Timestamp: now,
	})
	h.cache.Put(domain.Tick{
		InstrumentID: instrumentID, Side: domain.TickSideNo,
		BestBid: bidNo, BestAsk: askNo, Timestamp: now,
	})
}

func (h *harness) drainIntents() []domain.OrderIntent {
	var out []domain.OrderIntent
	for {
		select {
		case in := <-h.intents:
			out = append(out, in)
		default:
			return out
		}
	}
}

func TestCycleEmitsPairEntryWithSharedPosition(t *testing.T) {
	inst := testInstrument("mkt-1", time.Now().Add(30*time.Minute))
	h := newHarness(t, position.Limits{MaxOpenPositions: 5, MaxTotalExposure: 1000}, inst)

	// Both asks cheap: pair cost 0.90, a clean two-leg entry.
	h.putBook(inst.ID, 0.44, 0.45, 0.44, 0.45)

	h.engine.Cycle(context.Background())

	got := h.drainIntents()
	var legs []domain.OrderIntent
	for _, in := range got {
		if in.Reason == domain.ReasonArbitrage {
			legs = append(legs, in)
		}
	}
	if len(legs) != 2 {
		t.Fatalf("arbitrage legs = %d, want 2 (all intents: %d)", len(legs), len(got))
	}
	if legs[0].PositionID == "" || legs[0].PositionID != legs[1].PositionID {
		t.Fatalf("legs carry position IDs %q and %q, want one shared non-empty ID",
			legs[0].PositionID, legs[1].PositionID)
	}

	pos, held := h.manager.Get(inst.ID, domain.StrategyGabagool)
	if !held {
		t.Fatal("no pending position registered for the pair entry")
	}
	if pos.Status != domain.PositionPending {
		t.Fatalf("position status = %s, want pending", pos.Status)
	}
	if len(h.feed.subscribed) != 1 {
		t.Fatalf("feed subscriptions = %d, want 1", len(h.feed.subscribed))
	}
}

func TestCycleSuppressesEntriesOverExposureLimit(t *testing.T) {
	inst := testInstrument("mkt-1", time.Now().Add(30*time.Minute))
	h := newHarness(t, position.Limits{MaxOpenPositions: 5, MaxTotalExposure: 1}, inst)

	h.putBook(inst.ID, 0.44, 0.45, 0.44, 0.45)

	h.engine.Cycle(context.Background())

	for _, in := range h.drainIntents() {
		if in.Side == domain.SideBuy && in.PositionID == "" {
			t.Fatalf("entry intent %s escaped the exposure limit", in.ID)
		}
		if in.Reason == domain.ReasonArbitrage {
			t.Fatalf("arbitrage leg emitted despite exposure limit")
		}
	}
	if _, held := h.manager.Get(inst.ID, domain.StrategyGabagool); held {
		t.Fatal("position registered despite exposure limit")
	}
}

func TestCycleSettlesExpiredMarket(t *testing.T) {
	inst := testInstrument("mkt-1", time.Now().Add(-5*time.Minute))
	h := newHarness(t, position.Limits{MaxOpenPositions: 5, MaxTotalExposure: 1000}, inst)
	h.source.resolutions[inst.ID] = venue.Resolution{Closed: true, Winner: domain.TickSideYes}

	ctx := context.Background()
	pos, err := h.manager.OpenPending(ctx, inst, domain.StrategyGabagool, 50)
	if err != nil {
		t.Fatalf("OpenPending: %v", err)
	}
	err = h.manager.ApplyFill(ctx, pos.ID, domain.Fill{
		InstrumentID: inst.ID,
		Token:        domain.TickSideYes,
		Side:         domain.SideBuy,
		Status:       domain.FillFilled,
		Price:        0.45,
		Qty:          100,
		FilledAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	h.engine.Cycle(ctx)

	if _, held := h.manager.Get(inst.ID, domain.StrategyGabagool); held {
		t.Fatal("position still live after settlement")
	}
	settled, ok := h.manager.GetByID(pos.ID)
	if !ok {
		t.Fatal("settled position not retrievable by ID")
	}
	if settled.Status != domain.PositionClosed || !settled.Settled {
		t.Fatalf("position status = %s settled=%v, want closed and settled",
			settled.Status, settled.Settled)
	}
	if settled.CloseReason != domain.CloseSettlement {
		t.Fatalf("close reason = %s, want settlement", settled.CloseReason)
	}
	if len(h.feed.unsubscribed) != 1 || h.feed.unsubscribed[0] != inst.ID {
		t.Fatalf("feed unsubscriptions = %v, want [%s]", h.feed.unsubscribed, inst.ID)
	}
}

func TestResolveWinnerFallsBackToLastMid(t *testing.T) {
	inst := testInstrument("mkt-1", time.Now().Add(-10*time.Minute))
	h := newHarness(t, position.Limits{}, inst)
	h.source.resErr = errors.New("venue unavailable")

	h.engine.lastMid[inst.ID] = 0.62
	winner, ok := h.engine.resolveWinner(context.Background(), inst, time.Now())
	if !ok || winner != domain.TickSideYes {
		t.Fatalf("winner = %q ok=%v, want YES from mid 0.62", winner, ok)
	}

	h.engine.lastMid[inst.ID] = 0.31
	winner, ok = h.engine.resolveWinner(context.Background(), inst, time.Now())
	if !ok || winner != domain.TickSideNo {
		t.Fatalf("winner = %q ok=%v, want NO from mid 0.31", winner, ok)
	}
}

func TestResolveWinnerWaitsForGraceWindow(t *testing.T) {
	inst := testInstrument("mkt-1", time.Now().Add(-10*time.Second))
	h := newHarness(t, position.Limits{}, inst)
	h.source.resErr = errors.New("venue unavailable")
	h.engine.lastMid[inst.ID] = 0.62

	if _, ok := h.engine.resolveWinner(context.Background(), inst, time.Now()); ok {
		t.Fatal("winner inferred before the grace window elapsed")
	}
}

func TestRunWindsDownClosingExitsOnCancel(t *testing.T) {
	inst := testInstrument("mkt-1", time.Now().Add(30*time.Minute))
	h := newHarness(t, position.Limits{MaxOpenPositions: 5, MaxTotalExposure: 1000, MaxExitRetries: 3}, inst)
	h.engine.opts.ScanInterval = 10 * time.Millisecond
	h.engine.opts.DrainTimeout = 100 * time.Millisecond

	ctx := context.Background()
	pos, err := h.manager.OpenPending(ctx, inst, domain.StrategyGabagool, 50)
	if err != nil {
		t.Fatalf("OpenPending: %v", err)
	}
	h.manager.ApplyFill(ctx, pos.ID, domain.Fill{
		InstrumentID: inst.ID, Token: domain.TickSideYes, Side: domain.SideBuy,
		Status: domain.FillFilled, Price: 0.45, Qty: 100, FilledAt: time.Now(),
	})
	if _, err := h.manager.RequestExit(ctx, pos.ID, domain.CloseManual, 0.45, 0.55); err != nil {
		t.Fatalf("RequestExit: %v", err)
	}
	// The first exit attempt failed; the drain loop owns the retry.
	if _, err := h.manager.ExitFailed(ctx, pos.ID, errors.New("venue rejected")); err != nil {
		t.Fatalf("ExitFailed: %v", err)
	}
	h.engine.lastMid[inst.ID] = 0.45
	h.drainIntents()

	runCtx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.engine.Run(runCtx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	// Run closed the channel after the drain window; ranging terminates.
	var exits int
	for in := range h.intents {
		if in.Reason == domain.ReasonExit {
			exits++
		}
	}
	if exits == 0 {
		t.Fatal("no exit re-submitted for the closing position during the drain window")
	}
}

func TestRefreshDiscoversOncePerInterval(t *testing.T) {
	inst := testInstrument("mkt-1", time.Now().Add(30*time.Minute))
	h := newHarness(t, position.Limits{MaxTotalExposure: 1000}, inst)
	h.engine.opts.RefreshEvery = time.Hour

	ctx := context.Background()
	h.engine.Cycle(ctx)
	h.engine.Cycle(ctx)
	h.engine.Cycle(ctx)

	if h.source.discoveries != 1 {
		t.Fatalf("discoveries = %d, want 1 within the refresh interval", h.source.discoveries)
	}
	if len(h.feed.subscribed) != 1 {
		t.Fatalf("feed subscriptions = %d, want 1", len(h.feed.subscribed))
	}
}
