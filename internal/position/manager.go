// Package position owns the state machine for every open exposure. Exactly
// one Manager instance exists per process; all transitions and all exposure
// invariant checks happen here, under a single-writer discipline driven by
// the decision loop. Concurrent readers receive copies, never live
// references.
package position

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/updownhft/updownbot/internal/domain"
	"github.com/updownhft/updownbot/internal/metrics"
)

// Limits are the risk invariants enforced before any new exposure is created.
type Limits struct {
	MaxOpenPositions int
	MaxTotalExposure float64
	MaxExitRetries   int
	StopLoss         float64 // fraction of cost, 0 disables
	TakeProfit       float64
	MaxHold          time.Duration // 0 disables timeout exits
}

// FatalAlertFunc is invoked when an exit has exhausted its retries and the
// system cannot safely abandon the exposure. Operator intervention required.
type FatalAlertFunc func(ctx context.Context, pos domain.Position, err error)

type strategyKey struct {
	instrumentID string
	strategy     domain.StrategyName
}

// Manager tracks all positions and applies fills, rule-driven exits, and
// settlement. The store and bus are best-effort mirrors; in-memory state is
// authoritative within a run.
type Manager struct {
	mu     sync.RWMutex
	limits Limits
	store  domain.PositionStore
	bus    domain.SignalBus
	audit  domain.AuditStore
	alert  FatalAlertFunc
	logger *slog.Logger

	positions    map[string]*domain.Position
	byStrategy   map[strategyKey]string // non-terminal position per (instrument, strategy)
	exitRetries  map[string]int
	exitAttempts map[string]time.Time // last exit submission per Closing position
	restingQuote map[string]bool      // pendings backed by a resting quote
	fatalExits   int
	now          func() time.Time
}

// exitRetryAfter bounds how long a Closing position waits for its in-flight
// exit to fill or fail before Evaluate re-submits it anyway. A reported
// failure short-circuits the wait.
const exitRetryAfter = 30 * time.Second

// NewManager creates a Manager. store, bus, audit, and alert may be nil.
func NewManager(limits Limits, store domain.PositionStore, bus domain.SignalBus, audit domain.AuditStore, alert FatalAlertFunc, logger *slog.Logger) *Manager {
	return &Manager{
		limits:       limits,
		store:        store,
		bus:          bus,
		audit:        audit,
		alert:        alert,
		logger:       logger.With(slog.String("component", "position_manager")),
		positions:    make(map[string]*domain.Position),
		byStrategy:   make(map[strategyKey]string),
		exitRetries:  make(map[string]int),
		exitAttempts: make(map[string]time.Time),
		restingQuote: make(map[string]bool),
		now:          time.Now,
	}
}

// Restore loads previously persisted open positions into memory, typically at
// startup. Positions already present are not overwritten.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("position: restore: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range open {
		if _, exists := m.positions[pos.ID]; exists {
			continue
		}
		p := pos
		m.positions[p.ID] = &p
		m.byStrategy[strategyKey{p.InstrumentID, p.Strategy}] = p.ID
	}
	m.logger.InfoContext(ctx, "positions restored", slog.Int("count", len(open)))
	return nil
}

// OpenPending creates a Pending position reserving notional against the
// exposure budget. It enforces every risk invariant and returns
// domain.ErrInvariantViolation (wrapped with the reason) when one would be
// breached; the caller suppresses the intent rather than emitting it.
func (m *Manager) OpenPending(ctx context.Context, inst domain.Instrument, strategy domain.StrategyName, reserve float64) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := strategyKey{inst.ID, strategy}
	if _, exists := m.byStrategy[k]; exists {
		return domain.Position{}, fmt.Errorf("position: %s already holds %s: %w", strategy, inst.ID, domain.ErrInvariantViolation)
	}
	if m.openCount() >= m.limits.MaxOpenPositions {
		return domain.Position{}, fmt.Errorf("position: open count at limit %d: %w", m.limits.MaxOpenPositions, domain.ErrInvariantViolation)
	}
	if m.totalExposure()+reserve > m.limits.MaxTotalExposure {
		return domain.Position{}, fmt.Errorf("position: exposure %.2f + %.2f exceeds %.2f: %w",
			m.totalExposure(), reserve, m.limits.MaxTotalExposure, domain.ErrInvariantViolation)
	}

	now := m.now().UTC()
	pos := &domain.Position{
		ID:           uuid.NewString(),
		InstrumentID: inst.ID,
		Symbol:       inst.Symbol,
		Strategy:     strategy,
		Reserved:     reserve,
		StopLoss:     m.limits.StopLoss,
		TakeProfit:   m.limits.TakeProfit,
		Status:       domain.PositionPending,
		OpenedAt:     now,
	}
	m.positions[pos.ID] = pos
	m.byStrategy[k] = pos.ID

	m.persist(ctx, *pos, true)
	m.publish(ctx, "position_pending", *pos)
	return *pos, nil
}

// CheckAccumulation verifies that adding notional to an existing position
// keeps total exposure within budget.
func (m *Manager) CheckAccumulation(notional float64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.totalExposure()+notional > m.limits.MaxTotalExposure {
		return fmt.Errorf("position: accumulation of %.2f exceeds exposure cap %.2f: %w",
			notional, m.limits.MaxTotalExposure, domain.ErrInvariantViolation)
	}
	return nil
}

// ApplyFill applies an entry or accumulation buy fill to a position. The
// first fill confirms a Pending into Open and releases its reservation.
func (m *Manager) ApplyFill(ctx context.Context, positionID string, fill domain.Fill) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return fmt.Errorf("position: apply fill %s: %w", positionID, domain.ErrNotFound)
	}
	if pos.Status != domain.PositionPending && pos.Status != domain.PositionOpen {
		return fmt.Errorf("position: fill on %s position %s: %w", pos.Status, positionID, domain.ErrInvalidTransition)
	}
	if fill.Status != domain.FillFilled && fill.Status != domain.FillPartial {
		return fmt.Errorf("position: non-fill %s applied to %s", fill.Status, positionID)
	}

	if fill.Side == domain.SideSell {
		// Inventory reduction on an open market-maker position: relieve cost
		// basis at the average entry price, keep the realized difference.
		if pos.Status != domain.PositionOpen {
			return fmt.Errorf("position: sell fill on %s position %s: %w", pos.Status, positionID, domain.ErrInvalidTransition)
		}
		switch fill.Token {
		case domain.TickSideYes:
			avg := pos.AvgYes()
			pos.QtyYes -= fill.Qty
			pos.CostYes -= avg * fill.Qty
			pos.LockedProfit += (fill.Price-avg)*fill.Qty - fill.Fee
		case domain.TickSideNo:
			avg := pos.AvgNo()
			pos.QtyNo -= fill.Qty
			pos.CostNo -= avg * fill.Qty
			pos.LockedProfit += (fill.Price-avg)*fill.Qty - fill.Fee
		}
		pos.LastTradeAt = fill.FilledAt
		m.persist(ctx, *pos, false)
		return nil
	}

	cost := fill.Price*fill.Qty + fill.Fee
	switch fill.Token {
	case domain.TickSideYes:
		pos.QtyYes += fill.Qty
		pos.CostYes += cost
	case domain.TickSideNo:
		pos.QtyNo += fill.Qty
		pos.CostNo += cost
	}
	pos.LastTradeAt = fill.FilledAt

	if pos.Status == domain.PositionPending {
		pos.Status = domain.PositionOpen
		pos.Reserved = 0
		// The hold clock starts when the entry is confirmed, not when the
		// intent was admitted; time spent pending does not count.
		pos.OpenedAt = fill.FilledAt.UTC()
		if fill.FilledAt.IsZero() {
			pos.OpenedAt = m.now().UTC()
		}
		delete(m.restingQuote, pos.ID)
		m.publish(ctx, "position_opened", *pos)
		m.logger.InfoContext(ctx, "position opened",
			slog.String("position_id", pos.ID),
			slog.String("instrument", pos.InstrumentID),
			slog.Float64("cost", pos.TotalCost()),
		)
	}

	m.persist(ctx, *pos, false)
	return nil
}

// FailPending closes a Pending that never filled (timeout or rejection).
// No exposure is created; the reservation is released.
func (m *Manager) FailPending(ctx context.Context, positionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failPendingLocked(ctx, positionID)
}

func (m *Manager) failPendingLocked(ctx context.Context, positionID string) error {
	pos, ok := m.positions[positionID]
	if !ok {
		return fmt.Errorf("position: fail pending %s: %w", positionID, domain.ErrNotFound)
	}
	if pos.Status != domain.PositionPending {
		return fmt.Errorf("position: fail on %s position %s: %w", pos.Status, positionID, domain.ErrInvalidTransition)
	}
	m.close(ctx, pos, domain.CloseFailed, 0)
	return nil
}

// ExpirePending fails every Pending older than maxAge whose fill never
// arrived, releasing its reservation. A failed Pending never enters Open.
func (m *Manager) ExpirePending(ctx context.Context, maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	for _, id := range m.byStrategy {
		pos := m.positions[id]
		if m.restingQuote[id] {
			// The entry is live on the book as a maker quote; it fills when
			// the market crosses it, however long that takes.
			continue
		}
		if pos.Status == domain.PositionPending && pos.OpenedAt.Before(cutoff) {
			m.logger.WarnContext(ctx, "pending fill timed out",
				slog.String("position_id", pos.ID),
				slog.String("instrument", pos.InstrumentID),
			)
			m.close(ctx, pos, domain.CloseFailed, 0)
		}
	}
}

// MarkResting records that a Pending entry is resting on the book as a maker
// quote. Resting pendings are exempt from the fill timeout; they confirm when
// the market crosses the quote or fail when the market settles first.
func (m *Manager) MarkResting(_ context.Context, positionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return fmt.Errorf("position: mark resting %s: %w", positionID, domain.ErrNotFound)
	}
	if pos.Status != domain.PositionPending {
		return nil
	}
	m.restingQuote[positionID] = true
	return nil
}

// RequestExit transitions an Open position to Closing and returns sell
// intents for every held leg, priced at the passed bids. The caller forwards
// them to the executor.
func (m *Manager) RequestExit(ctx context.Context, positionID string, reason domain.CloseReason, bidYes, bidNo float64) ([]domain.OrderIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestExitLocked(ctx, positionID, reason, bidYes, bidNo)
}

func (m *Manager) requestExitLocked(ctx context.Context, positionID string, reason domain.CloseReason, bidYes, bidNo float64) ([]domain.OrderIntent, error) {
	pos, ok := m.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("position: exit %s: %w", positionID, domain.ErrNotFound)
	}
	if pos.Status != domain.PositionOpen {
		return nil, fmt.Errorf("position: exit on %s position %s: %w", pos.Status, positionID, domain.ErrInvalidTransition)
	}

	pos.Status = domain.PositionClosing
	pos.CloseReason = reason
	m.exitAttempts[pos.ID] = m.now()
	m.persist(ctx, *pos, false)
	m.publish(ctx, "position_closing", *pos)
	m.logger.InfoContext(ctx, "position closing",
		slog.String("position_id", pos.ID),
		slog.String("reason", string(reason)),
	)
	return m.exitIntents(*pos, bidYes, bidNo), nil
}

// ExitIntents rebuilds the sell intents for a Closing position, used when an
// exit attempt failed and is retried.
func (m *Manager) ExitIntents(positionID string, bidYes, bidNo float64) ([]domain.OrderIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("position: exit intents %s: %w", positionID, domain.ErrNotFound)
	}
	if pos.Status != domain.PositionClosing {
		return nil, fmt.Errorf("position: exit intents on %s position %s: %w", pos.Status, positionID, domain.ErrInvalidTransition)
	}
	return m.exitIntents(*pos, bidYes, bidNo), nil
}

func (m *Manager) exitIntents(pos domain.Position, bidYes, bidNo float64) []domain.OrderIntent {
	now := m.now().UTC()
	var intents []domain.OrderIntent
	if pos.QtyYes > 0 {
		intents = append(intents, domain.OrderIntent{
			ID:           uuid.NewString(),
			InstrumentID: pos.InstrumentID,
			Symbol:       pos.Symbol,
			Strategy:     pos.Strategy,
			Reason:       domain.ReasonExit,
			Side:         domain.SideSell,
			Token:        domain.TickSideYes,
			Price:        bidYes,
			Qty:          pos.QtyYes,
			PositionID:   pos.ID,
			CreatedAt:    now,
		})
	}
	if pos.QtyNo > 0 {
		intents = append(intents, domain.OrderIntent{
			ID:           uuid.NewString(),
			InstrumentID: pos.InstrumentID,
			Symbol:       pos.Symbol,
			Strategy:     pos.Strategy,
			Reason:       domain.ReasonExit,
			Side:         domain.SideSell,
			Token:        domain.TickSideNo,
			Price:        bidNo,
			Qty:          pos.QtyNo,
			PositionID:   pos.ID,
			CreatedAt:    now,
		})
	}
	return intents
}

// ApplyExitFill records proceeds from one exit leg. When every held leg has
// been sold, the position transitions Closing -> Closed.
func (m *Manager) ApplyExitFill(ctx context.Context, positionID string, fill domain.Fill) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return fmt.Errorf("position: exit fill %s: %w", positionID, domain.ErrNotFound)
	}
	if pos.Status != domain.PositionClosing {
		return fmt.Errorf("position: exit fill on %s position %s: %w", pos.Status, positionID, domain.ErrInvalidTransition)
	}

	proceeds := fill.Price*fill.Qty - fill.Fee
	switch fill.Token {
	case domain.TickSideYes:
		pos.QtyYes -= fill.Qty
	case domain.TickSideNo:
		pos.QtyNo -= fill.Qty
	}
	pos.ExitPrice = fill.Price
	pos.LastTradeAt = fill.FilledAt
	pos.LockedProfit += proceeds

	if pos.QtyYes <= 0 && pos.QtyNo <= 0 {
		// LockedProfit accumulated gross proceeds; net out the entry cost.
		m.close(ctx, pos, pos.CloseReason, pos.LockedProfit-pos.TotalCost())
		return nil
	}
	m.persist(ctx, *pos, false)
	return nil
}

// ExitFailed records a failed exit attempt. After MaxExitRetries the fatal
// alert fires; the position stays Closing and keeps being monitored, never
// silently abandoned.
func (m *Manager) ExitFailed(ctx context.Context, positionID string, cause error) (fatal bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return false, fmt.Errorf("position: exit failed %s: %w", positionID, domain.ErrNotFound)
	}
	if pos.Status != domain.PositionClosing {
		return false, fmt.Errorf("position: exit failed on %s position %s: %w", pos.Status, positionID, domain.ErrInvalidTransition)
	}

	// Re-arm the retry: the next cycle re-submits without waiting out the
	// in-flight window.
	delete(m.exitAttempts, positionID)

	m.exitRetries[positionID]++
	retries := m.exitRetries[positionID]
	if retries < m.limits.MaxExitRetries {
		m.logger.WarnContext(ctx, "exit attempt failed, will retry",
			slog.String("position_id", positionID),
			slog.Int("attempt", retries),
			slog.String("error", cause.Error()),
		)
		return false, nil
	}

	exitErr := fmt.Errorf("position %s: %d exit attempts failed: %w", positionID, retries, domain.ErrExitFailure)
	m.logger.ErrorContext(ctx, "exit retries exhausted, operator intervention required",
		slog.String("position_id", positionID),
		slog.String("error", cause.Error()),
	)
	m.fatalExits++
	if m.alert != nil {
		m.alert(ctx, *pos, exitErr)
	}
	return true, nil
}

// FatalExits counts positions whose exit retries have been exhausted. A
// non-zero value means operator intervention is required.
func (m *Manager) FatalExits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fatalExits
}

// Settle recognizes settlement for a position whose market has expired:
// the winning side pays $1 per share, the other $0. Exactly once per
// position; repeated evaluation after settlement is a no-op.
func (m *Manager) Settle(ctx context.Context, positionID string, winner domain.TickSide) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return fmt.Errorf("position: settle %s: %w", positionID, domain.ErrNotFound)
	}
	if pos.Settled || pos.Status == domain.PositionClosed {
		return nil
	}
	if pos.Status == domain.PositionPending {
		return m.failPendingLocked(ctx, positionID)
	}

	payout := pos.QtyNo
	if winner == domain.TickSideYes {
		payout = pos.QtyYes
	}
	pos.Settled = true
	m.close(ctx, pos, domain.CloseSettlement, payout-pos.TotalCost())

	m.logger.InfoContext(ctx, "position settled",
		slog.String("position_id", pos.ID),
		slog.String("winner", string(winner)),
		slog.Float64("locked_profit", pos.LockedProfit),
	)
	return nil
}

// Evaluate runs the per-cycle exit rules for each strategy's position on
// this snapshot's instrument. Open positions are checked against stop-loss,
// take-profit, and the hold timeout and moved to Closing when a threshold is
// crossed. Closing positions whose exit failed, or produced no fill within
// the in-flight window, get their sell intents re-submitted at the current
// bids until the exit lands or ExitFailed escalates.
func (m *Manager) Evaluate(ctx context.Context, snap domain.MarketSnapshot) []domain.OrderIntent {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []domain.OrderIntent

	for _, strategy := range []domain.StrategyName{domain.StrategyGabagool, domain.StrategyMarketMaker} {
		id, ok := m.byStrategy[strategyKey{snap.Instrument.ID, strategy}]
		if !ok {
			continue
		}
		pos := m.positions[id]

		if pos.Status == domain.PositionClosing {
			if last, ok := m.exitAttempts[id]; ok && now.Sub(last) < exitRetryAfter {
				continue
			}
			m.exitAttempts[id] = now
			m.logger.InfoContext(ctx, "retrying exit",
				slog.String("position_id", id),
				slog.Int("failed_attempts", m.exitRetries[id]),
			)
			out = append(out, m.exitIntents(*pos, snap.BestBidYes, snap.BestBidNo)...)
			continue
		}
		if pos.Status != domain.PositionOpen {
			continue
		}

		if mid := snap.MidYes(); mid > 0 {
			pos.CurrentPrice = mid
		}

		reason, hit := m.exitRule(*pos, now)
		if !hit {
			continue
		}
		intents, err := m.requestExitLocked(ctx, pos.ID, reason, snap.BestBidYes, snap.BestBidNo)
		if err != nil {
			m.logger.WarnContext(ctx, "exit request failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, intents...)
	}
	return out
}

func (m *Manager) exitRule(pos domain.Position, now time.Time) (domain.CloseReason, bool) {
	cost := pos.TotalCost()
	if cost > 0 {
		frac := pos.UnrealizedPnL() / cost
		if pos.StopLoss > 0 && frac <= -pos.StopLoss {
			return domain.CloseStopLoss, true
		}
		if pos.TakeProfit > 0 && frac >= pos.TakeProfit {
			return domain.CloseTakeProfit, true
		}
	}
	if m.limits.MaxHold > 0 && now.Sub(pos.OpenedAt) >= m.limits.MaxHold {
		return domain.CloseTimeout, true
	}
	return "", false
}

// close finalizes a position. realized lands in LockedProfit.
func (m *Manager) close(ctx context.Context, pos *domain.Position, reason domain.CloseReason, realized float64) {
	now := m.now().UTC()
	pos.Status = domain.PositionClosed
	pos.CloseReason = reason
	pos.Reserved = 0
	pos.LockedProfit = realized
	pos.ClosedAt = &now

	delete(m.byStrategy, strategyKey{pos.InstrumentID, pos.Strategy})
	delete(m.exitRetries, pos.ID)
	delete(m.exitAttempts, pos.ID)
	delete(m.restingQuote, pos.ID)

	if realized > 0 {
		metrics.LockedProfit.Add(realized)
	}

	m.persist(ctx, *pos, false)
	m.publish(ctx, "position_closed", *pos)
	m.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", pos.ID),
		slog.String("reason", string(reason)),
		slog.Float64("realized", realized),
	)
}

// HasOpen reports whether any strategy holds a non-terminal position on the
// instrument. The scanner uses it for active-position priority.
func (m *Manager) HasOpen(instrumentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, strategy := range []domain.StrategyName{domain.StrategyGabagool, domain.StrategyMarketMaker} {
		if _, ok := m.byStrategy[strategyKey{instrumentID, strategy}]; ok {
			return true
		}
	}
	return false
}

// Get returns a copy of the strategy's non-terminal position on the
// instrument.
func (m *Manager) Get(instrumentID string, strategy domain.StrategyName) (domain.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byStrategy[strategyKey{instrumentID, strategy}]
	if !ok {
		return domain.Position{}, false
	}
	return *m.positions[id], true
}

// GetByID returns a copy of any tracked position.
func (m *Manager) GetByID(positionID string) (domain.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Open returns copies of every non-terminal position.
func (m *Manager) Open() []domain.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Position, 0, len(m.byStrategy))
	for _, id := range m.byStrategy {
		out = append(out, *m.positions[id])
	}
	return out
}

// TotalExposure returns the committed-plus-reserved capital.
func (m *Manager) TotalExposure() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalExposure()
}

// OpenCount returns the number of non-terminal positions.
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openCount()
}

func (m *Manager) totalExposure() float64 {
	var sum float64
	for _, id := range m.byStrategy {
		sum += m.positions[id].Exposure()
	}
	return sum
}

func (m *Manager) openCount() int { return len(m.byStrategy) }

func (m *Manager) persist(ctx context.Context, pos domain.Position, create bool) {
	if m.store == nil {
		return
	}
	var err error
	if create {
		err = m.store.Create(ctx, pos)
	} else {
		err = m.store.Update(ctx, pos)
	}
	if err != nil {
		m.logger.WarnContext(ctx, "position persist failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) publish(ctx context.Context, event string, pos domain.Position) {
	if m.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"event":       event,
		"position_id": pos.ID,
		"instrument":  pos.InstrumentID,
		"strategy":    string(pos.Strategy),
		"status":      string(pos.Status),
		"cost":        pos.TotalCost(),
		"reason":      string(pos.CloseReason),
	})
	if err := m.bus.Publish(ctx, "positions", payload); err != nil {
		m.logger.WarnContext(ctx, "position event publish failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
	if m.audit != nil {
		if err := m.audit.Log(ctx, event, map[string]any{
			"position_id": pos.ID,
			"instrument":  pos.InstrumentID,
			"strategy":    string(pos.Strategy),
		}); err != nil {
			m.logger.WarnContext(ctx, "audit log failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
