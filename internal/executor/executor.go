package executor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/updownhft/updownbot/internal/domain"
	"github.com/updownhft/updownbot/internal/metrics"
	"github.com/updownhft/updownbot/internal/notify"
)

// positionApplier is the slice of the position manager the executor needs:
// fills flow into positions, exit outcomes flow back as success or failure.
type positionApplier interface {
	ApplyFill(ctx context.Context, positionID string, fill domain.Fill) error
	ApplyExitFill(ctx context.Context, positionID string, fill domain.Fill) error
	ExitFailed(ctx context.Context, positionID string, cause error) (fatal bool, err error)
	MarkResting(ctx context.Context, positionID string) error
}

// quoteMatcher is implemented by exchanges that hold a resting book and can
// match it against the market between placements. The paper venue does; a
// live venue pushes fills instead and never implements it.
type quoteMatcher interface {
	MatchResting() []MatchedQuote
}

// Options tunes the executor's protective layers.
type Options struct {
	DedupTTL        time.Duration
	BreakerFailures uint32
	BreakerReset    time.Duration
	CleanupInterval time.Duration
	MatchInterval   time.Duration
	DrainTimeout    time.Duration
}

func (o *Options) defaults() {
	if o.DedupTTL <= 0 {
		o.DedupTTL = 30 * time.Second
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerReset <= 0 {
		o.BreakerReset = 30 * time.Second
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = 30 * time.Second
	}
	if o.MatchInterval <= 0 {
		o.MatchInterval = time.Second
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 5 * time.Second
	}
}

// Executor reads order intents from a channel, applies deduplication, expiry,
// and a circuit breaker, places orders through the Exchange interface, and
// routes the resulting fills into the position manager by intent reason.
// Every execution attempt is recorded in the fill store and announced on the
// signal bus so other processes can observe activity without polling.
type Executor struct {
	intentCh  <-chan domain.OrderIntent
	exchange  Exchange
	positions positionApplier
	fills     domain.FillStore
	bus       domain.SignalBus
	dedup     *Dedup
	breaker   *gobreaker.CircuitBreaker[domain.Fill]
	notifier  *notify.Notifier // optional
	opts      Options
	logger    *slog.Logger
}

// NewExecutor creates an Executor. fills and bus may be nil; recording and
// publishing are then skipped.
func NewExecutor(
	intentCh <-chan domain.OrderIntent,
	exchange Exchange,
	positions positionApplier,
	fills domain.FillStore,
	bus domain.SignalBus,
	opts Options,
	logger *slog.Logger,
) *Executor {
	opts.defaults()
	e := &Executor{
		intentCh:  intentCh,
		exchange:  exchange,
		positions: positions,
		fills:     fills,
		bus:       bus,
		dedup:     NewDedup(opts.DedupTTL),
		opts:      opts,
		logger:    logger.With(slog.String("component", "executor")),
	}
	e.breaker = gobreaker.NewCircuitBreaker[domain.Fill](gobreaker.Settings{
		Name:        "exchange",
		MaxRequests: 1,
		Timeout:     opts.BreakerReset,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return e
}

// WithNotifier attaches the operator notification channel.
func (e *Executor) WithNotifier(n *notify.Notifier) *Executor {
	e.notifier = n
	return e
}

// Run starts the executor's main loop. It processes intents until the context
// is cancelled, at which point it keeps draining the channel until the
// producer closes it or DrainTimeout passes, so in-flight exits are not
// silently dropped.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.opts.CleanupInterval)
	defer cleanupTicker.Stop()

	matcher, _ := e.exchange.(quoteMatcher)
	matchTicker := time.NewTicker(e.opts.MatchInterval)
	defer matchTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case in, ok := <-e.intentCh:
			if !ok {
				return nil
			}
			e.process(ctx, in)

		case <-matchTicker.C:
			if matcher != nil {
				e.matchResting(ctx, matcher)
			}

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

// matchResting routes fills for resting quotes the market has crossed through
// the same application path as immediate fills.
func (e *Executor) matchResting(ctx context.Context, matcher quoteMatcher) {
	for _, mq := range matcher.MatchResting() {
		metrics.Fills.WithLabelValues(string(mq.Fill.Status)).Inc()
		e.logger.Info("resting quote matched",
			slog.String("intent_id", mq.Intent.ID),
			slog.String("symbol", mq.Intent.Symbol),
			slog.String("quote_id", mq.Intent.QuoteID),
			slog.Float64("price", mq.Fill.Price),
			slog.Float64("qty", mq.Fill.Qty),
		)
		e.apply(ctx, mq.Intent, mq.Fill, e.logger)
		if e.notifier != nil {
			e.notifier.Publish(ctx, notify.OrderFilled(mq.Intent, mq.Fill))
		}
		e.record(ctx, mq.Intent, mq.Fill)
	}
}

// process handles a single intent through the full validation and execution
// pipeline.
func (e *Executor) process(ctx context.Context, in domain.OrderIntent) {
	log := e.logger.With(
		slog.String("intent_id", in.ID),
		slog.String("symbol", in.Symbol),
		slog.String("reason", string(in.Reason)),
		slog.String("token", string(in.Token)),
		slog.String("side", string(in.Side)),
	)

	// 1. Expiry: an intent priced against a stale snapshot must not execute.
	if in.Expired(time.Now().UTC()) {
		log.Warn("intent expired, skipping", slog.Time("expires_at", in.ExpiresAt))
		metrics.IntentsSuppressed.WithLabelValues("expired").Inc()
		return
	}

	// 2. Deduplication by semantic key.
	if e.dedup.IsDuplicate(in) {
		log.Debug("intent deduplicated, skipping")
		metrics.IntentsSuppressed.WithLabelValues("duplicate").Inc()
		return
	}

	// 3. Quote cancels bypass the breaker; a failed cancel is only logged,
	// the replacement quote supersedes it on the venue side.
	if in.Reason == domain.ReasonCancel {
		if err := e.exchange.CancelQuote(ctx, in.InstrumentID, in.QuoteID); err != nil {
			log.Warn("quote cancel failed", slog.String("error", err.Error()))
			return
		}
		log.Debug("quote canceled", slog.String("quote_id", in.QuoteID))
		e.record(ctx, in, domain.Fill{
			IntentID:     in.ID,
			InstrumentID: in.InstrumentID,
			Token:        in.Token,
			Side:         in.Side,
			Status:       domain.FillCanceled,
			FilledAt:     time.Now().UTC(),
		})
		return
	}

	// 4. Place the order behind the circuit breaker.
	fill, err := e.breaker.Execute(func() (domain.Fill, error) {
		return e.exchange.PlaceOrder(ctx, in)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Warn("circuit breaker open, intent dropped")
			metrics.IntentsSuppressed.WithLabelValues("breaker_open").Inc()
		} else {
			log.Error("order placement failed", slog.String("error", err.Error()))
		}
		e.reportFailure(ctx, in, err, log)
		return
	}

	metrics.Fills.WithLabelValues(string(fill.Status)).Inc()

	switch fill.Status {
	case domain.FillRejected, domain.FillTimedOut:
		log.Warn("order not filled", slog.String("status", string(fill.Status)))
		e.reportFailure(ctx, in, fillError(fill.Status), log)

	case domain.FillResting:
		log.Debug("quote resting",
			slog.String("quote_id", in.QuoteID),
			slog.Float64("price", fill.Price),
		)
		if e.positions != nil && in.PositionID != "" {
			if err := e.positions.MarkResting(ctx, in.PositionID); err != nil {
				log.Warn("resting mark failed", slog.String("error", err.Error()))
			}
		}

	case domain.FillFilled, domain.FillPartial:
		log.Info("order filled",
			slog.Float64("price", fill.Price),
			slog.Float64("qty", fill.Qty),
			slog.Float64("fee", fill.Fee),
		)
		e.apply(ctx, in, fill, log)
		if e.notifier != nil {
			e.notifier.Publish(ctx, notify.OrderFilled(in, fill))
		}
	}

	e.record(ctx, in, fill)
}

// apply routes a fill into the position manager. Exit fills unwind the
// position, everything else accumulates into it.
func (e *Executor) apply(ctx context.Context, in domain.OrderIntent, fill domain.Fill, log *slog.Logger) {
	if e.positions == nil || in.PositionID == "" {
		return
	}

	var err error
	if in.Reason == domain.ReasonExit {
		err = e.positions.ApplyExitFill(ctx, in.PositionID, fill)
	} else {
		err = e.positions.ApplyFill(ctx, in.PositionID, fill)
	}
	if err != nil {
		log.Error("fill application failed",
			slog.String("position_id", in.PositionID),
			slog.String("error", err.Error()),
		)
	}
}

// reportFailure feeds execution failures back to the position manager. Only
// exits escalate; entry and accumulation failures resolve at the cycle level
// when the pending position times out or the next scan re-evaluates.
func (e *Executor) reportFailure(ctx context.Context, in domain.OrderIntent, cause error, log *slog.Logger) {
	if in.Reason != domain.ReasonExit || e.positions == nil || in.PositionID == "" {
		return
	}
	fatal, err := e.positions.ExitFailed(ctx, in.PositionID, cause)
	if err != nil {
		log.Error("exit failure report failed", slog.String("error", err.Error()))
		return
	}
	if fatal {
		log.Error("exit retries exhausted, position requires operator intervention",
			slog.String("position_id", in.PositionID),
		)
	}
}

// record persists the fill and publishes an execution event. Both are
// best-effort; the position state is already consistent in memory.
func (e *Executor) record(ctx context.Context, in domain.OrderIntent, fill domain.Fill) {
	fill.PositionID = in.PositionID
	if e.fills != nil {
		if err := e.fills.Insert(ctx, fill); err != nil {
			e.logger.Warn("fill record failed", slog.String("error", err.Error()))
		}
	}
	if e.bus != nil {
		payload, err := json.Marshal(domain.ExecutionEvent{
			Intent: fill,
			Reason: in.Reason,
			Symbol: in.Symbol,
		})
		if err == nil {
			if err := e.bus.Publish(ctx, "executions", payload); err != nil {
				e.logger.Warn("execution publish failed", slog.String("error", err.Error()))
			}
		}
	}
}

// fillError maps a non-fill status to its sentinel.
func fillError(status domain.FillStatus) error {
	switch status {
	case domain.FillTimedOut:
		return domain.ErrFillTimeout
	default:
		return domain.ErrFillRejected
	}
}

// drain keeps processing intents after context cancellation until the
// producer closes the channel, bounded by DrainTimeout. The engine uses this
// window to flush exits for positions it is winding down.
func (e *Executor) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.DrainTimeout)
	defer cancel()

	for {
		select {
		case in, ok := <-e.intentCh:
			if !ok {
				return
			}
			e.process(ctx, in)
		case <-ctx.Done():
			e.logger.Warn("drain window expired with intents possibly unprocessed")
			return
		}
	}
}
