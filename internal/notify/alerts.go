package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/updownhft/updownbot/internal/domain"
)

// FatalAlert adapts the Notifier to the position manager's operator alert
// hook. It fires when exit retries are exhausted and a position is stuck in
// Closing, which requires manual intervention.
func FatalAlert(n *Notifier) func(ctx context.Context, pos domain.Position, cause error) {
	return func(ctx context.Context, pos domain.Position, cause error) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		n.Publish(ctx, Event{
			Type:       EventError,
			Fatal:      true,
			Symbol:     pos.Symbol,
			Strategy:   string(pos.Strategy),
			PositionID: pos.ID,
			Amount:     pos.Exposure(),
			Detail: fmt.Sprintf(
				"could not be closed after repeated attempts, last error: %v. manual intervention required.", cause),
		})
	}
}

// Closed reports a position reaching a terminal state with its realized
// profit, covering settlements as well as ordinary exits.
func Closed(pos domain.Position) Event {
	return Event{
		Type:       EventPositionClosed,
		Symbol:     pos.Symbol,
		Strategy:   string(pos.Strategy),
		PositionID: pos.ID,
		Amount:     pos.LockedProfit,
		Detail:     "close reason: " + string(pos.CloseReason),
	}
}

// OrderFilled reports an executed order with its notional.
func OrderFilled(in domain.OrderIntent, fill domain.Fill) Event {
	return Event{
		Type:       EventOrderFilled,
		Symbol:     in.Symbol,
		Strategy:   string(in.Strategy),
		PositionID: in.PositionID,
		Amount:     fill.Price * fill.Qty,
		Detail:     fmt.Sprintf("%s %s %.2f @ %.4f (%s)", in.Side, in.Token, fill.Qty, fill.Price, in.Reason),
	}
}

// TradeOpportunity reports a market the scorer rated tradeable.
func TradeOpportunity(opp domain.Opportunity) Event {
	return Event{
		Type:   EventOpportunity,
		Symbol: opp.Symbol,
		Detail: fmt.Sprintf("score %d/5, spread %.4f, pair cost %.4f", opp.Score, opp.Spread, opp.PairCost),
	}
}
