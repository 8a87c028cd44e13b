// Package notify pushes operator alerts for trading events to the configured
// channels (Telegram, Discord). Events carry typed trading context and are
// filtered by the notify.events config list; fatal escalations always go out.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// EventType names a notifiable trading event. The notify.events config list
// filters on these values.
type EventType string

const (
	EventOpportunity    EventType = "opportunity"
	EventOrderFilled    EventType = "order_filled"
	EventPositionClosed EventType = "position_closed"
	EventError          EventType = "error"
)

// Event is one operator notification. Senders render it themselves, so each
// channel can apply its own markup.
type Event struct {
	Type       EventType
	Symbol     string
	Strategy   string
	PositionID string
	Amount     float64 // dollars: fill notional, realized profit, or stuck exposure
	Detail     string
	Fatal      bool // bypasses the event filter, reserved for escalations
}

// Title renders the one-line headline for the event.
func (e Event) Title() string {
	switch e.Type {
	case EventOpportunity:
		return "Opportunity: " + e.Symbol
	case EventOrderFilled:
		return "Filled: " + e.Symbol
	case EventPositionClosed:
		return "Closed: " + e.Symbol
	case EventError:
		if e.Fatal {
			return "EXIT FAILED: " + e.Symbol
		}
		return "Error: " + e.Symbol
	default:
		return e.Symbol
	}
}

// Body renders the detail lines for the event, skipping empty fields.
func (e Event) Body() string {
	var lines []string
	if e.Strategy != "" {
		lines = append(lines, "strategy: "+e.Strategy)
	}
	if e.PositionID != "" {
		lines = append(lines, "position: "+e.PositionID)
	}
	if e.Amount != 0 {
		lines = append(lines, fmt.Sprintf("amount: $%.2f", e.Amount))
	}
	if e.Detail != "" {
		lines = append(lines, e.Detail)
	}
	return strings.Join(lines, "\n")
}

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, ev Event) error
	Name() string
}

// Notifier fans events out to the configured senders. Delivery is best
// effort: a failing channel is logged and never blocks trading.
type Notifier struct {
	senders []Sender
	events  map[EventType]bool // allowed types; empty allows all
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders. Only events whose
// type appears in events pass the filter; an empty list allows everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[EventType]bool, len(events))
	for _, e := range events {
		allowed[EventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Publish delivers ev to every sender. Filtered types are dropped unless the
// event is fatal; an operator must always see an escalation.
func (n *Notifier) Publish(ctx context.Context, ev Event) {
	if !ev.Fatal && len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", string(ev.Type)))
		return
	}

	for _, s := range n.senders {
		if err := s.Send(ctx, ev); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", string(ev.Type)),
		)
	}
}
