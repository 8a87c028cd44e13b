package position

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/updownhft/updownbot/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(limits Limits) *Manager {
	return NewManager(limits, nil, nil, nil, nil, discard())
}

func defaultLimits() Limits {
	return Limits{
		MaxOpenPositions: 5,
		MaxTotalExposure: 500,
		MaxExitRetries:   3,
		StopLoss:         0.20,
		TakeProfit:       0.10,
	}
}

func btcInstrument() domain.Instrument {
	return domain.Instrument{ID: "btc-updown", Symbol: "BTC", Expiry: time.Now().Add(2 * time.Hour), Active: true}
}

func buyFill(token domain.TickSide, price, qty float64) domain.Fill {
	return domain.Fill{
		Token:    token,
		Side:     domain.SideBuy,
		Status:   domain.FillFilled,
		Price:    price,
		Qty:      qty,
		FilledAt: time.Now(),
	}
}

func TestOpenPendingInvariants(t *testing.T) {
	ctx := context.Background()
	m := newManager(defaultLimits())
	inst := btcInstrument()

	if _, err := m.OpenPending(ctx, inst, domain.StrategyGabagool, 50); err != nil {
		t.Fatalf("first OpenPending: %v", err)
	}

	// Duplicate (instrument, strategy).
	if _, err := m.OpenPending(ctx, inst, domain.StrategyGabagool, 50); !errors.Is(err, domain.ErrInvariantViolation) {
		t.Errorf("duplicate pending: got %v, want ErrInvariantViolation", err)
	}

	// Same instrument, other strategy is allowed.
	if _, err := m.OpenPending(ctx, inst, domain.StrategyMarketMaker, 50); err != nil {
		t.Errorf("other strategy on same instrument: %v", err)
	}

	// Exposure cap: 100 reserved so far, cap 500.
	big := domain.Instrument{ID: "eth-updown", Symbol: "ETH", Active: true}
	if _, err := m.OpenPending(ctx, big, domain.StrategyGabagool, 450); !errors.Is(err, domain.ErrInvariantViolation) {
		t.Errorf("exposure breach: got %v, want ErrInvariantViolation", err)
	}
}

func TestOpenPositionCountLimit(t *testing.T) {
	ctx := context.Background()
	limits := defaultLimits()
	limits.MaxOpenPositions = 2
	m := newManager(limits)

	for _, id := range []string{"a", "b"} {
		if _, err := m.OpenPending(ctx, domain.Instrument{ID: id, Active: true}, domain.StrategyGabagool, 10); err != nil {
			t.Fatalf("OpenPending %s: %v", id, err)
		}
	}
	if _, err := m.OpenPending(ctx, domain.Instrument{ID: "c", Active: true}, domain.StrategyGabagool, 10); !errors.Is(err, domain.ErrInvariantViolation) {
		t.Errorf("count breach: got %v, want ErrInvariantViolation", err)
	}
}

func TestPendingLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newManager(defaultLimits())

	pos, err := m.OpenPending(ctx, btcInstrument(), domain.StrategyGabagool, 50)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.TotalExposure(); got != 50 {
		t.Errorf("pending exposure = %v, want 50 (reserved)", got)
	}

	if err := m.ApplyFill(ctx, pos.ID, buyFill(domain.TickSideYes, 0.55, 25)); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	got, _ := m.GetByID(pos.ID)
	if got.Status != domain.PositionOpen {
		t.Errorf("status = %s, want open", got.Status)
	}
	if got.Reserved != 0 {
		t.Errorf("reservation not released on fill: %v", got.Reserved)
	}
	if exp := m.TotalExposure(); exp != 0.55*25 {
		t.Errorf("exposure = %v, want %v", exp, 0.55*25)
	}
}

func TestFailedPendingNeverOpens(t *testing.T) {
	ctx := context.Background()
	m := newManager(defaultLimits())

	pos, _ := m.OpenPending(ctx, btcInstrument(), domain.StrategyGabagool, 50)
	if err := m.FailPending(ctx, pos.ID); err != nil {
		t.Fatalf("FailPending: %v", err)
	}

	got, _ := m.GetByID(pos.ID)
	if got.Status != domain.PositionClosed || got.CloseReason != domain.CloseFailed {
		t.Errorf("got %s/%s, want closed/failed", got.Status, got.CloseReason)
	}
	if m.TotalExposure() != 0 {
		t.Errorf("failed pending leaked exposure: %v", m.TotalExposure())
	}

	// The slot is free again.
	if _, err := m.OpenPending(ctx, btcInstrument(), domain.StrategyGabagool, 50); err != nil {
		t.Errorf("reopen after failed pending: %v", err)
	}

	// A failed pending can never receive a late fill.
	if err := m.ApplyFill(ctx, pos.ID, buyFill(domain.TickSideYes, 0.55, 25)); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("late fill: got %v, want ErrInvalidTransition", err)
	}
}

func TestExitFlow(t *testing.T) {
	ctx := context.Background()
	m := newManager(defaultLimits())

	pos, _ := m.OpenPending(ctx, btcInstrument(), domain.StrategyGabagool, 50)
	m.ApplyFill(ctx, pos.ID, buyFill(domain.TickSideYes, 0.55, 25))
	m.ApplyFill(ctx, pos.ID, buyFill(domain.TickSideNo, 0.42, 25))

	intents, err := m.RequestExit(ctx, pos.ID, domain.CloseManual, 0.60, 0.38)
	if err != nil {
		t.Fatalf("RequestExit: %v", err)
	}
	if len(intents) != 2 {
		t.Fatalf("got %d exit intents, want one per held leg", len(intents))
	}
	for _, in := range intents {
		if in.Side != domain.SideSell || in.Reason != domain.ReasonExit {
			t.Errorf("intent %+v is not an exit sell", in)
		}
	}

	m.ApplyExitFill(ctx, pos.ID, domain.Fill{Token: domain.TickSideYes, Side: domain.SideSell,
		Status: domain.FillFilled, Price: 0.60, Qty: 25, FilledAt: time.Now()})
	if got, _ := m.GetByID(pos.ID); got.Status != domain.PositionClosing {
		t.Fatalf("one leg out: status %s, want closing", got.Status)
	}

	m.ApplyExitFill(ctx, pos.ID, domain.Fill{Token: domain.TickSideNo, Side: domain.SideSell,
		Status: domain.FillFilled, Price: 0.38, Qty: 25, FilledAt: time.Now()})
	got, _ := m.GetByID(pos.ID)
	if got.Status != domain.PositionClosed {
		t.Fatalf("status = %s, want closed", got.Status)
	}

	// proceeds 0.60*25 + 0.38*25 = 24.50, cost 0.55*25 + 0.42*25 = 24.25
	wantRealized := 24.50 - 24.25
	if diff := got.LockedProfit - wantRealized; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("realized = %v, want %v", got.LockedProfit, wantRealized)
	}
	if m.TotalExposure() != 0 {
		t.Errorf("closed position still counts toward exposure: %v", m.TotalExposure())
	}
}

func TestExitRetriesEscalate(t *testing.T) {
	ctx := context.Background()
	var alerted bool
	limits := defaultLimits()
	m := NewManager(limits, nil, nil, nil,
		func(ctx context.Context, pos domain.Position, err error) { alerted = true },
		discard())

	pos, _ := m.OpenPending(ctx, btcInstrument(), domain.StrategyGabagool, 50)
	m.ApplyFill(ctx, pos.ID, buyFill(domain.TickSideYes, 0.55, 25))
	m.RequestExit(ctx, pos.ID, domain.CloseStopLoss, 0.40, 0)

	cause := errors.New("venue rejected")
	for i := 1; i < limits.MaxExitRetries; i++ {
		fatal, err := m.ExitFailed(ctx, pos.ID, cause)
		if err != nil || fatal {
			t.Fatalf("attempt %d: fatal=%v err=%v", i, fatal, err)
		}
	}
	fatal, err := m.ExitFailed(ctx, pos.ID, cause)
	if err != nil || !fatal {
		t.Fatalf("final attempt: fatal=%v err=%v, want fatal", fatal, err)
	}
	if !alerted {
		t.Error("fatal alert did not fire")
	}
	// Exposure is never silently abandoned.
	if got, _ := m.GetByID(pos.ID); got.Status != domain.PositionClosing {
		t.Errorf("status = %s, want still closing", got.Status)
	}
}

func TestSettlementScenario(t *testing.T) {
	ctx := context.Background()
	m := newManager(defaultLimits())

	// ask_yes 0.55, ask_no 0.42, pair cost 0.97: both legs filled at size 50.
	pos, _ := m.OpenPending(ctx, btcInstrument(), domain.StrategyGabagool, 48.50)
	m.ApplyFill(ctx, pos.ID, buyFill(domain.TickSideYes, 0.55, 50))
	m.ApplyFill(ctx, pos.ID, buyFill(domain.TickSideNo, 0.42, 50))

	if err := m.Settle(ctx, pos.ID, domain.TickSideYes); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	got, _ := m.GetByID(pos.ID)
	if got.Status != domain.PositionClosed || got.CloseReason != domain.CloseSettlement {
		t.Fatalf("got %s/%s, want closed/settlement", got.Status, got.CloseReason)
	}

	// locked_profit = (1 - 0.97) * 50 = 1.50
	want := 0.03 * 50
	if diff := got.LockedProfit - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("locked profit = %v, want %v", got.LockedProfit, want)
	}
}

func TestSettlementIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newManager(defaultLimits())

	pos, _ := m.OpenPending(ctx, btcInstrument(), domain.StrategyGabagool, 48.50)
	m.ApplyFill(ctx, pos.ID, buyFill(domain.TickSideYes, 0.55, 50))
	m.ApplyFill(ctx, pos.ID, buyFill(domain.TickSideNo, 0.42, 50))

	m.Settle(ctx, pos.ID, domain.TickSideYes)
	first, _ := m.GetByID(pos.ID)

	// Re-evaluating settlement is a no-op: no state change, no double profit.
	if err := m.Settle(ctx, pos.ID, domain.TickSideYes); err != nil {
		t.Fatalf("second Settle: %v", err)
	}
	if err := m.Settle(ctx, pos.ID, domain.TickSideNo); err != nil {
		t.Fatalf("third Settle with flipped winner: %v", err)
	}
	second, _ := m.GetByID(pos.ID)
	if second.LockedProfit != first.LockedProfit || second.Status != first.Status {
		t.Errorf("settlement not idempotent: %+v vs %+v", first, second)
	}
}

func TestEvaluateStopLossAndTakeProfit(t *testing.T) {
	ctx := context.Background()
	m := newManager(defaultLimits())
	inst := btcInstrument()

	pos, _ := m.OpenPending(ctx, inst, domain.StrategyGabagool, 50)
	m.ApplyFill(ctx, pos.ID, buyFill(domain.TickSideYes, 0.50, 100)) // cost 50

	snap := domain.MarketSnapshot{
		Instrument: inst,
		BestBidYes: 0.49, BestAskYes: 0.51,
		BestBidNo: 0.49, BestAskNo: 0.51,
	}
	if got := m.Evaluate(ctx, snap); len(got) != 0 {
		t.Fatalf("flat market emitted %d exits", len(got))
	}

	// Mid 0.38: pnl = (0.38-0.50)*100 = -12 on 50 cost, -24% < -20% stop.
	snap.BestBidYes, snap.BestAskYes = 0.37, 0.39
	intents := m.Evaluate(ctx, snap)
	if len(intents) != 1 {
		t.Fatalf("got %d intents, want 1 stop-loss exit", len(intents))
	}
	got, _ := m.GetByID(pos.ID)
	if got.Status != domain.PositionClosing || got.CloseReason != domain.CloseStopLoss {
		t.Errorf("got %s/%s, want closing/stop_loss", got.Status, got.CloseReason)
	}

	// Second evaluation emits nothing: the exit is still in flight.
	if again := m.Evaluate(ctx, snap); len(again) != 0 {
		t.Errorf("closing position re-emitted %d exits", len(again))
	}
}

func TestEvaluateRetriesClosingExit(t *testing.T) {
	ctx := context.Background()
	m := newManager(defaultLimits())
	inst := btcInstrument()

	base := time.Now()
	m.now = func() time.Time { return base }

	pos, _ := m.OpenPending(ctx, inst, domain.StrategyGabagool, 50)
	m.ApplyFill(ctx, pos.ID, buyFill(domain.TickSideYes, 0.50, 100))

	// Mid 0.38 trips the stop-loss and moves the position to Closing.
	snap := domain.MarketSnapshot{
		Instrument: inst,
		BestBidYes: 0.37, BestAskYes: 0.39,
		BestBidNo: 0.59, BestAskNo: 0.61,
	}
	if got := m.Evaluate(ctx, snap); len(got) != 1 {
		t.Fatalf("stop-loss: got %d intents, want 1", len(got))
	}

	// The first exit is still in flight: nothing is re-submitted yet.
	if got := m.Evaluate(ctx, snap); len(got) != 0 {
		t.Fatalf("in-flight exit re-submitted %d intents", len(got))
	}

	// A reported failure re-arms the retry immediately.
	if fatal, err := m.ExitFailed(ctx, pos.ID, errors.New("venue rejected")); err != nil || fatal {
		t.Fatalf("ExitFailed: fatal=%v err=%v", fatal, err)
	}
	retried := m.Evaluate(ctx, snap)
	if len(retried) != 1 {
		t.Fatalf("after failure: got %d intents, want the exit re-submitted", len(retried))
	}
	if retried[0].Side != domain.SideSell || retried[0].Reason != domain.ReasonExit {
		t.Errorf("retried intent %+v is not an exit sell", retried[0])
	}

	// Without a failure report the next re-submission waits out the window.
	if got := m.Evaluate(ctx, snap); len(got) != 0 {
		t.Fatalf("fresh retry re-submitted %d intents", len(got))
	}
	base = base.Add(exitRetryAfter + time.Second)
	if got := m.Evaluate(ctx, snap); len(got) != 1 {
		t.Fatalf("after the in-flight window: got %d intents, want 1", len(got))
	}

	// The retried exit can still land.
	if err := m.ApplyExitFill(ctx, pos.ID, domain.Fill{Token: domain.TickSideYes, Side: domain.SideSell,
		Status: domain.FillFilled, Price: 0.37, Qty: 100, FilledAt: base}); err != nil {
		t.Fatalf("ApplyExitFill: %v", err)
	}
	if got, _ := m.GetByID(pos.ID); got.Status != domain.PositionClosed {
		t.Errorf("status = %s, want closed", got.Status)
	}
}

func TestHoldTimeoutStartsAtFill(t *testing.T) {
	ctx := context.Background()
	limits := defaultLimits()
	limits.MaxHold = 10 * time.Minute
	m := newManager(limits)
	inst := btcInstrument()

	base := time.Now()
	m.now = func() time.Time { return base }

	pos, _ := m.OpenPending(ctx, inst, domain.StrategyGabagool, 50)

	// The fill confirms five minutes after the intent was admitted.
	fill := buyFill(domain.TickSideYes, 0.50, 100)
	fill.FilledAt = base.Add(5 * time.Minute)
	m.ApplyFill(ctx, pos.ID, fill)

	snap := domain.MarketSnapshot{
		Instrument: inst,
		BestBidYes: 0.49, BestAskYes: 0.51,
		BestBidNo: 0.49, BestAskNo: 0.51,
	}

	// Twelve minutes after admission is only seven minutes held.
	base = base.Add(12 * time.Minute)
	if got := m.Evaluate(ctx, snap); len(got) != 0 {
		t.Fatalf("held 7m of a 10m cap, emitted %d exits", len(got))
	}

	base = base.Add(4 * time.Minute)
	intents := m.Evaluate(ctx, snap)
	if len(intents) != 1 {
		t.Fatalf("held 11m of a 10m cap: got %d intents, want 1", len(intents))
	}
	got, _ := m.GetByID(pos.ID)
	if got.CloseReason != domain.CloseTimeout {
		t.Errorf("close reason = %s, want timeout", got.CloseReason)
	}
}

func TestRestingPendingSurvivesFillTimeout(t *testing.T) {
	ctx := context.Background()
	m := newManager(defaultLimits())

	base := time.Now()
	m.now = func() time.Time { return base }

	maker, _ := m.OpenPending(ctx, btcInstrument(), domain.StrategyMarketMaker, 50)
	taker, _ := m.OpenPending(ctx, btcInstrument(), domain.StrategyGabagool, 50)
	if err := m.MarkResting(ctx, maker.ID); err != nil {
		t.Fatalf("MarkResting: %v", err)
	}

	base = base.Add(time.Hour)
	m.ExpirePending(ctx, 30*time.Second)

	if got, _ := m.GetByID(taker.ID); got.Status != domain.PositionClosed {
		t.Errorf("unfilled taker pending survived the timeout: %s", got.Status)
	}
	got, _ := m.GetByID(maker.ID)
	if got.Status != domain.PositionPending {
		t.Fatalf("resting maker pending expired: %s/%s", got.Status, got.CloseReason)
	}

	// The quote crosses eventually and the position opens as usual.
	fill := buyFill(domain.TickSideYes, 0.45, 50)
	fill.FilledAt = base
	if err := m.ApplyFill(ctx, maker.ID, fill); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if got, _ := m.GetByID(maker.ID); got.Status != domain.PositionOpen {
		t.Errorf("status = %s, want open", got.Status)
	}

	if err := m.MarkResting(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown id: got %v, want ErrNotFound", err)
	}
}

// Random orderings of pending/fill/close sequences must never push exposure
// past the cap.
func TestExposureBoundUnderRandomFills(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		limits := defaultLimits()
		limits.MaxOpenPositions = 10
		m := newManager(limits)

		var pending []string
		for step := 0; step < 200; step++ {
			switch rng.Intn(3) {
			case 0:
				inst := domain.Instrument{ID: string(rune('a'+rng.Intn(10))) + "-mkt", Active: true}
				reserve := 20 + rng.Float64()*80
				if pos, err := m.OpenPending(ctx, inst, domain.StrategyGabagool, reserve); err == nil {
					pending = append(pending, pos.ID)
				}
			case 1:
				if len(pending) > 0 {
					id := pending[rng.Intn(len(pending))]
					price := 0.30 + rng.Float64()*0.4
					pos, ok := m.GetByID(id)
					if !ok {
						continue
					}
					if pos.Status == domain.PositionPending {
						// A limit fill never costs more than the reserved
						// notional.
						qty := pos.Reserved / price * rng.Float64()
						m.ApplyFill(ctx, id, buyFill(domain.TickSideYes, price, qty))
					} else if qty := rng.Float64() * 60; m.CheckAccumulation(price*qty) == nil {
						// Accumulation is exposure-checked before the intent
						// is emitted; model that here.
						m.ApplyFill(ctx, id, buyFill(domain.TickSideYes, price, qty))
					}
				}
			case 2:
				if len(pending) > 0 {
					i := rng.Intn(len(pending))
					m.FailPending(ctx, pending[i])
					pending = append(pending[:i], pending[i+1:]...)
				}
			}

			if exp := m.TotalExposure(); exp > limits.MaxTotalExposure+1e-9 {
				t.Fatalf("trial %d step %d: exposure %v exceeds cap %v", trial, step, exp, limits.MaxTotalExposure)
			}
		}
	}
}
