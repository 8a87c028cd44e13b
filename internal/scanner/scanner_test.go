package scanner

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/updownhft/updownbot/internal/domain"
	"github.com/updownhft/updownbot/internal/pricecache"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func instrument(id, symbol string, volume float64, tte time.Duration) domain.Instrument {
	return domain.Instrument{
		ID:        id,
		Symbol:    symbol,
		Expiry:    time.Now().Add(tte),
		Volume24h: volume,
		Active:    true,
	}
}

func putBook(c *pricecache.Cache, inst string, bidYes, askYes float64) {
	now := time.Now()
	c.Put(domain.Tick{InstrumentID: inst, Side: domain.TickSideYes,
		BestBid: bidYes, BestAsk: askYes, Timestamp: now, Source: domain.TickSourceVenue})
	c.Put(domain.Tick{InstrumentID: inst, Side: domain.TickSideNo,
		BestBid: 1 - askYes, BestAsk: 1 - bidYes, Timestamp: now, Source: domain.TickSourceVenue})
}

func newScanner(c *pricecache.Cache, deltaSkip float64) *Scanner {
	return New(c, nil, Options{
		MinVolume:      1000,
		MaxDuration:    24 * time.Hour,
		PriceDeltaSkip: deltaSkip,
	}, discard())
}

func noPositions(string) bool { return false }

func TestScanFilters(t *testing.T) {
	c := pricecache.New(time.Minute)
	s := newScanner(c, 0)

	insts := []domain.Instrument{
		instrument("ok", "BTC", 5000, time.Hour),
		instrument("thin", "BTC", 100, time.Hour),          // below min volume
		instrument("far", "BTC", 5000, 48*time.Hour),       // beyond max duration
		instrument("expired", "BTC", 5000, -time.Minute),   // already settled
		instrument("no-tick", "ETH", 5000, time.Hour),      // nothing cached
	}
	inactive := instrument("inactive", "BTC", 5000, time.Hour)
	inactive.Active = false
	insts = append(insts, inactive)

	for _, id := range []string{"ok", "thin", "far", "expired", "inactive"} {
		putBook(c, id, 0.48, 0.52)
	}

	got := s.Scan(insts, noPositions)
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}
	if got[0].Snapshot.Instrument.ID != "ok" {
		t.Errorf("candidate = %s, want ok", got[0].Snapshot.Instrument.ID)
	}
}

func TestScanOrdering(t *testing.T) {
	c := pricecache.New(time.Minute)
	s := newScanner(c, 0)

	insts := []domain.Instrument{
		instrument("small", "BTC", 2000, time.Hour),
		instrument("big", "ETH", 90000, time.Hour),
		instrument("held", "SOL", 1500, time.Hour),
	}
	for _, i := range insts {
		putBook(c, i.ID, 0.48, 0.52)
	}

	held := func(id string) bool { return id == "held" }
	got := s.Scan(insts, held)
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	order := []string{got[0].Snapshot.Instrument.ID, got[1].Snapshot.Instrument.ID, got[2].Snapshot.Instrument.ID}
	want := []string{"held", "big", "small"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestScanDeltaSkipReusesPrior(t *testing.T) {
	c := pricecache.New(time.Minute)
	s := newScanner(c, 0.005)

	insts := []domain.Instrument{instrument("m1", "BTC", 5000, time.Hour)}
	putBook(c, "m1", 0.48, 0.52)

	// First cycle: never seen, full snapshot.
	got := s.Scan(insts, noPositions)
	if len(got) != 1 || got[0].Reused {
		t.Fatalf("first cycle should produce a fresh candidate, got %+v", got)
	}

	s.Remember(domain.Opportunity{InstrumentID: "m1", Score: 4, Volume: 5000,
		Action: domain.ActionWatch})

	// Unchanged prices: prior opportunity reused verbatim.
	got = s.Scan(insts, noPositions)
	if len(got) != 1 || !got[0].Reused {
		t.Fatalf("unchanged market should reuse prior opportunity, got %+v", got)
	}
	if got[0].Opportunity.Score != 4 {
		t.Errorf("reused score = %d, want 4", got[0].Opportunity.Score)
	}

	// A real move disarms the skip.
	putBook(c, "m1", 0.53, 0.57)
	got = s.Scan(insts, noPositions)
	if len(got) != 1 || got[0].Reused {
		t.Fatal("moved market must be rescored")
	}
}

func TestScanActivePositionBypassesSkip(t *testing.T) {
	c := pricecache.New(time.Minute)
	s := newScanner(c, 0.005)

	insts := []domain.Instrument{instrument("m1", "BTC", 5000, time.Hour)}
	putBook(c, "m1", 0.48, 0.52)

	s.Scan(insts, noPositions)
	s.Remember(domain.Opportunity{InstrumentID: "m1", Score: 4, Volume: 5000})

	held := func(id string) bool { return id == "m1" }
	got := s.Scan(insts, held)
	if len(got) != 1 || got[0].Reused {
		t.Fatal("instrument with an open position must always be rescored")
	}
}

func TestForgetDropsPrior(t *testing.T) {
	c := pricecache.New(time.Minute)
	s := newScanner(c, 0.005)

	insts := []domain.Instrument{instrument("m1", "BTC", 5000, time.Hour)}
	putBook(c, "m1", 0.48, 0.52)

	s.Scan(insts, noPositions)
	s.Remember(domain.Opportunity{InstrumentID: "m1", Score: 4, Volume: 5000})
	s.Forget("m1")

	got := s.Scan(insts, noPositions)
	if len(got) != 1 || got[0].Reused {
		t.Fatal("forgotten instrument must be rescored even when unmoved")
	}
}
