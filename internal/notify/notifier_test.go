package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/updownhft/updownbot/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	sent []Event
	err  error
}

func (f *fakeSender) Send(_ context.Context, ev Event) error {
	f.sent = append(f.sent, ev)
	return f.err
}

func (f *fakeSender) Name() string { return "fake" }

func TestPublishFiltersByEventType(t *testing.T) {
	s := &fakeSender{}
	n := NewNotifier([]Sender{s}, []string{"order_filled", "error"}, discard())
	ctx := context.Background()

	n.Publish(ctx, Event{Type: EventOrderFilled, Symbol: "BTC-1H"})
	n.Publish(ctx, Event{Type: EventOpportunity, Symbol: "BTC-1H"})

	if len(s.sent) != 1 || s.sent[0].Type != EventOrderFilled {
		t.Fatalf("sent = %+v, want the order_filled event only", s.sent)
	}
}

func TestPublishFatalBypassesFilter(t *testing.T) {
	s := &fakeSender{}
	n := NewNotifier([]Sender{s}, []string{"opportunity"}, discard())

	n.Publish(context.Background(), Event{Type: EventError, Fatal: true, Symbol: "BTC-1H"})

	if len(s.sent) != 1 {
		t.Fatalf("fatal event filtered out, sent = %+v", s.sent)
	}
}

func TestPublishSurvivesFailingSender(t *testing.T) {
	broken := &fakeSender{err: errors.New("webhook down")}
	healthy := &fakeSender{}
	n := NewNotifier([]Sender{broken, healthy}, nil, discard())

	n.Publish(context.Background(), Event{Type: EventPositionClosed, Symbol: "BTC-1H"})

	if len(healthy.sent) != 1 {
		t.Fatal("healthy sender skipped after a sibling failed")
	}
}

func TestFatalAlertCarriesExposure(t *testing.T) {
	s := &fakeSender{}
	n := NewNotifier([]Sender{s}, []string{"opportunity"}, discard())

	alert := FatalAlert(n)
	alert(context.Background(), domain.Position{
		ID: "pos-1", Symbol: "BTC-1H", Strategy: domain.StrategyGabagool,
		Status: domain.PositionClosing, CostYes: 40, CostNo: 8.5,
	}, errors.New("venue rejected"))

	if len(s.sent) != 1 {
		t.Fatal("fatal alert did not reach the sender")
	}
	ev := s.sent[0]
	if !ev.Fatal || ev.Type != EventError {
		t.Fatalf("event = %+v, want a fatal error event", ev)
	}
	if ev.Amount != 48.5 {
		t.Fatalf("amount = %v, want the stuck exposure 48.5", ev.Amount)
	}
	if !strings.Contains(ev.Title(), "BTC-1H") {
		t.Fatalf("title = %q, want the symbol", ev.Title())
	}
	if !strings.Contains(ev.Body(), "venue rejected") {
		t.Fatalf("body = %q, want the cause", ev.Body())
	}
}

func TestEventRendering(t *testing.T) {
	ev := Closed(domain.Position{
		ID: "pos-9", Symbol: "ETH-1H", Strategy: domain.StrategyMarketMaker,
		CloseReason: domain.CloseSettlement, LockedProfit: 1.50,
	})
	if ev.Title() != "Closed: ETH-1H" {
		t.Fatalf("title = %q", ev.Title())
	}
	body := ev.Body()
	for _, want := range []string{"pos-9", "$1.50", "settlement"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body = %q, missing %q", body, want)
		}
	}
}
