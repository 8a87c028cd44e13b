package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/updownhft/updownbot/internal/domain"
)

type fakeExchange struct {
	mu       sync.Mutex
	placed   []domain.OrderIntent
	canceled []string
	fill     domain.Fill
	err      error
}

func (f *fakeExchange) PlaceOrder(_ context.Context, in domain.OrderIntent) (domain.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, in)
	if f.err != nil {
		return domain.Fill{}, f.err
	}
	fill := f.fill
	fill.IntentID = in.ID
	fill.InstrumentID = in.InstrumentID
	fill.Token = in.Token
	fill.Side = in.Side
	return fill, nil
}

func (f *fakeExchange) CancelQuote(_ context.Context, _, quoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, quoteID)
	return nil
}

func (f *fakeExchange) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

type fakePositions struct {
	mu        sync.Mutex
	fills     []string
	exitFills []string
	failures  []string
	resting   []string
	fatalAt   int
}

func (f *fakePositions) ApplyFill(_ context.Context, positionID string, _ domain.Fill) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills = append(f.fills, positionID)
	return nil
}

func (f *fakePositions) ApplyExitFill(_ context.Context, positionID string, _ domain.Fill) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exitFills = append(f.exitFills, positionID)
	return nil
}

func (f *fakePositions) ExitFailed(_ context.Context, positionID string, _ error) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, positionID)
	return f.fatalAt > 0 && len(f.failures) >= f.fatalAt, nil
}

func (f *fakePositions) MarkResting(_ context.Context, positionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resting = append(f.resting, positionID)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(ex Exchange, pos positionApplier) *Executor {
	return NewExecutor(nil, ex, pos, nil, nil, Options{}, discard())
}

func intent(reason domain.IntentReason, side domain.OrderSide, price float64) domain.OrderIntent {
	return domain.OrderIntent{
		ID:           "in-1",
		InstrumentID: "inst-1",
		Symbol:       "BTC-1H",
		Strategy:     domain.StrategyGabagool,
		Reason:       reason,
		Side:         side,
		Token:        domain.TickSideYes,
		Price:        price,
		Qty:          25,
		PositionID:   "pos-1",
		CreatedAt:    time.Now().UTC(),
	}
}

func TestProcessRoutesEntryFill(t *testing.T) {
	ex := &fakeExchange{fill: domain.Fill{Status: domain.FillFilled, Price: 0.55, Qty: 25}}
	pos := &fakePositions{}
	e := newTestExecutor(ex, pos)

	e.process(context.Background(), intent(domain.ReasonArbitrage, domain.SideBuy, 0.55))

	if got := ex.placedCount(); got != 1 {
		t.Fatalf("placed = %d, want 1", got)
	}
	if len(pos.fills) != 1 || pos.fills[0] != "pos-1" {
		t.Fatalf("ApplyFill calls = %v, want [pos-1]", pos.fills)
	}
	if len(pos.exitFills) != 0 {
		t.Fatalf("exit fill applied on entry intent")
	}
}

func TestProcessRoutesExitFill(t *testing.T) {
	ex := &fakeExchange{fill: domain.Fill{Status: domain.FillFilled, Price: 0.60, Qty: 25}}
	pos := &fakePositions{}
	e := newTestExecutor(ex, pos)

	e.process(context.Background(), intent(domain.ReasonExit, domain.SideSell, 0.60))

	if len(pos.exitFills) != 1 || pos.exitFills[0] != "pos-1" {
		t.Fatalf("ApplyExitFill calls = %v, want [pos-1]", pos.exitFills)
	}
	if len(pos.fills) != 0 {
		t.Fatalf("entry fill applied on exit intent")
	}
}

func TestProcessSkipsExpiredIntent(t *testing.T) {
	ex := &fakeExchange{fill: domain.Fill{Status: domain.FillFilled}}
	e := newTestExecutor(ex, &fakePositions{})

	in := intent(domain.ReasonArbitrage, domain.SideBuy, 0.55)
	in.ExpiresAt = time.Now().UTC().Add(-time.Second)
	e.process(context.Background(), in)

	if got := ex.placedCount(); got != 0 {
		t.Fatalf("expired intent placed %d orders", got)
	}
}

func TestProcessDeduplicatesIdenticalIntents(t *testing.T) {
	ex := &fakeExchange{fill: domain.Fill{Status: domain.FillFilled, Price: 0.55, Qty: 25}}
	pos := &fakePositions{}
	e := newTestExecutor(ex, pos)

	first := intent(domain.ReasonArbitrage, domain.SideBuy, 0.55)
	second := first
	second.ID = "in-2" // fresh ID, same action
	e.process(context.Background(), first)
	e.process(context.Background(), second)

	if got := ex.placedCount(); got != 1 {
		t.Fatalf("placed = %d, want 1 after dedup", got)
	}

	moved := first
	moved.ID = "in-3"
	moved.Price = 0.56
	e.process(context.Background(), moved)
	if got := ex.placedCount(); got != 2 {
		t.Fatalf("placed = %d, want 2 after price change", got)
	}
}

func TestProcessCancelBypassesExchangeOrder(t *testing.T) {
	ex := &fakeExchange{}
	e := newTestExecutor(ex, &fakePositions{})

	in := intent(domain.ReasonCancel, domain.SideBuy, 0)
	in.QuoteID = "q-7"
	e.process(context.Background(), in)

	if got := ex.placedCount(); got != 0 {
		t.Fatalf("cancel intent placed %d orders", got)
	}
	if len(ex.canceled) != 1 || ex.canceled[0] != "q-7" {
		t.Fatalf("canceled = %v, want [q-7]", ex.canceled)
	}
}

func TestProcessRestingQuoteNotApplied(t *testing.T) {
	ex := &fakeExchange{fill: domain.Fill{Status: domain.FillResting, Price: 0.47}}
	pos := &fakePositions{}
	e := newTestExecutor(ex, pos)

	in := intent(domain.ReasonMarketMake, domain.SideBuy, 0.47)
	in.QuoteID = "q-1"
	e.process(context.Background(), in)

	if len(pos.fills)+len(pos.exitFills) != 0 {
		t.Fatalf("resting quote mutated positions")
	}
	if len(pos.resting) != 1 || pos.resting[0] != "pos-1" {
		t.Fatalf("MarkResting calls = %v, want [pos-1]", pos.resting)
	}
}

func TestExitFailureReportsToManager(t *testing.T) {
	ex := &fakeExchange{err: errors.New("venue unavailable")}
	pos := &fakePositions{}
	e := newTestExecutor(ex, pos)

	e.process(context.Background(), intent(domain.ReasonExit, domain.SideSell, 0.60))

	if len(pos.failures) != 1 || pos.failures[0] != "pos-1" {
		t.Fatalf("ExitFailed calls = %v, want [pos-1]", pos.failures)
	}
}

func TestExitRejectionReportsToManager(t *testing.T) {
	ex := &fakeExchange{fill: domain.Fill{Status: domain.FillRejected}}
	pos := &fakePositions{}
	e := newTestExecutor(ex, pos)

	e.process(context.Background(), intent(domain.ReasonExit, domain.SideSell, 0.60))

	if len(pos.failures) != 1 {
		t.Fatalf("rejected exit not reported, failures = %v", pos.failures)
	}
	if len(pos.exitFills) != 0 {
		t.Fatalf("rejected exit applied as fill")
	}
}

func TestEntryFailureDoesNotEscalate(t *testing.T) {
	ex := &fakeExchange{err: errors.New("venue unavailable")}
	pos := &fakePositions{}
	e := newTestExecutor(ex, pos)

	e.process(context.Background(), intent(domain.ReasonArbitrage, domain.SideBuy, 0.55))

	if len(pos.failures) != 0 {
		t.Fatalf("entry failure escalated as exit failure")
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	ex := &fakeExchange{err: errors.New("venue unavailable")}
	e := NewExecutor(nil, ex, &fakePositions{}, nil, nil, Options{BreakerFailures: 3}, discard())

	for i := 0; i < 5; i++ {
		in := intent(domain.ReasonArbitrage, domain.SideBuy, 0.50+float64(i)*0.01)
		in.ID = "in-" + string(rune('a'+i))
		e.process(context.Background(), in)
	}

	// The breaker trips after three consecutive errors; the remaining
	// intents never reach the exchange.
	if got := ex.placedCount(); got != 3 {
		t.Fatalf("placed = %d, want 3 before breaker opened", got)
	}
}

func TestRunDrainsBufferedIntentsOnCancel(t *testing.T) {
	ex := &fakeExchange{fill: domain.Fill{Status: domain.FillFilled, Price: 0.60, Qty: 25}}
	pos := &fakePositions{}
	ch := make(chan domain.OrderIntent, 2)
	e := NewExecutor(ch, ex, pos, nil, nil, Options{}, discard())

	in := intent(domain.ReasonExit, domain.SideSell, 0.60)
	ch <- in
	in2 := in
	in2.ID = "in-2"
	in2.Price = 0.61
	ch <- in2
	close(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	if len(pos.exitFills) != 2 {
		t.Fatalf("drained exit fills = %d, want 2", len(pos.exitFills))
	}
}

func TestDrainStopsAtTimeoutWhenProducerStaysOpen(t *testing.T) {
	ex := &fakeExchange{fill: domain.Fill{Status: domain.FillFilled, Price: 0.60, Qty: 25}}
	ch := make(chan domain.OrderIntent, 1)
	e := NewExecutor(ch, ex, &fakePositions{}, nil, nil, Options{DrainTimeout: 50 * time.Millisecond}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("drain never gave up with the channel left open")
	}
}
