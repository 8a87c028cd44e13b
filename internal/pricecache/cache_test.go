package pricecache

import (
	"errors"
	"testing"
	"time"

	"github.com/updownhft/updownbot/internal/domain"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(ttl time.Duration) (*Cache, *time.Time) {
	c := New(ttl)
	now := t0
	c.now = func() time.Time { return now }
	return c, &now
}

func tick(inst string, side domain.TickSide, bid, ask float64, ts time.Time) domain.Tick {
	return domain.Tick{
		InstrumentID: inst,
		Side:         side,
		BestBid:      bid,
		BestAsk:      ask,
		Timestamp:    ts,
		Source:       domain.TickSourceVenue,
	}
}

func TestGetReturnsLatestTick(t *testing.T) {
	c, _ := newTestCache(500 * time.Millisecond)

	c.Put(tick("m1", domain.TickSideYes, 0.40, 0.44, t0.Add(-100*time.Millisecond)))
	c.Put(tick("m1", domain.TickSideYes, 0.41, 0.45, t0.Add(-50*time.Millisecond)))

	got, err := c.Get("m1", domain.TickSideYes)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.BestBid != 0.41 || got.BestAsk != 0.45 {
		t.Errorf("got bid=%v ask=%v, want 0.41/0.45", got.BestBid, got.BestAsk)
	}
}

func TestOutOfOrderTickDropped(t *testing.T) {
	c, _ := newTestCache(500 * time.Millisecond)

	c.Put(tick("m1", domain.TickSideYes, 0.41, 0.45, t0.Add(-50*time.Millisecond)))
	c.Put(tick("m1", domain.TickSideYes, 0.30, 0.34, t0.Add(-200*time.Millisecond)))

	got, err := c.Get("m1", domain.TickSideYes)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.BestBid != 0.41 {
		t.Errorf("stale tick overwrote fresh one: bid=%v", got.BestBid)
	}
}

func TestGetErrors(t *testing.T) {
	c, now := newTestCache(500 * time.Millisecond)

	if _, err := c.Get("m1", domain.TickSideYes); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("empty cache: got %v, want ErrNotFound", err)
	}

	c.Put(tick("m1", domain.TickSideYes, 0.40, 0.44, t0))
	*now = t0.Add(501 * time.Millisecond)
	if _, err := c.Get("m1", domain.TickSideYes); !errors.Is(err, domain.ErrFeedStale) {
		t.Errorf("expired entry: got %v, want ErrFeedStale", err)
	}
}

func TestSnapshotRequiresBothSides(t *testing.T) {
	c, _ := newTestCache(500 * time.Millisecond)
	inst := domain.Instrument{ID: "m1", Symbol: "BTC", Volume24h: 5000}

	c.Put(tick("m1", domain.TickSideYes, 0.52, 0.58, t0))
	if _, err := c.Snapshot(inst); !errors.Is(err, domain.ErrSnapshotIncomplete) {
		t.Fatalf("one-sided snapshot: got %v, want ErrSnapshotIncomplete", err)
	}

	c.Put(tick("m1", domain.TickSideNo, 0.38, 0.42, t0))
	snap, err := c.Snapshot(inst)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.BestAskYes != 0.58 || snap.BestAskNo != 0.42 {
		t.Errorf("asks = %v/%v, want 0.58/0.42", snap.BestAskYes, snap.BestAskNo)
	}
	if got := snap.PairCost(); got != 1.00 {
		t.Errorf("PairCost = %v, want 1.00", got)
	}
	if snap.Volume24h != 5000 {
		t.Errorf("Volume24h = %v, want 5000", snap.Volume24h)
	}
}

func TestMovedRelativeThreshold(t *testing.T) {
	c, _ := newTestCache(time.Second)

	c.Put(tick("m1", domain.TickSideYes, 0.49, 0.51, t0))
	c.Put(tick("m1", domain.TickSideNo, 0.49, 0.51, t0))

	// Never marked: always counts as moved.
	if !c.Moved("m1", 0.005) {
		t.Fatal("unseen instrument should count as moved")
	}

	c.MarkSeen("m1")
	if c.Moved("m1", 0.005) {
		t.Fatal("no price change after MarkSeen should not count as moved")
	}

	// 0.2% move on the YES mid: under the 0.5% threshold.
	c.Put(tick("m1", domain.TickSideYes, 0.491, 0.511, t0.Add(10*time.Millisecond)))
	if c.Moved("m1", 0.005) {
		t.Error("0.2%% move should stay under a 0.5%% threshold")
	}

	// 2% move: over the threshold.
	c.Put(tick("m1", domain.TickSideYes, 0.50, 0.52, t0.Add(20*time.Millisecond)))
	if !c.Moved("m1", 0.005) {
		t.Error("2%% move should exceed a 0.5%% threshold")
	}
}

func TestAgeAndPurge(t *testing.T) {
	c, now := newTestCache(time.Second)

	if _, ok := c.Age("m1"); ok {
		t.Fatal("Age on empty cache should report not found")
	}

	c.Put(tick("m1", domain.TickSideYes, 0.40, 0.44, t0.Add(-300*time.Millisecond)))
	c.Put(tick("m1", domain.TickSideNo, 0.55, 0.59, t0.Add(-100*time.Millisecond)))
	*now = t0

	age, ok := c.Age("m1")
	if !ok {
		t.Fatal("Age: not found")
	}
	if age != 300*time.Millisecond {
		t.Errorf("Age = %v, want 300ms (staler side)", age)
	}

	c.Purge("m1")
	if _, err := c.Get("m1", domain.TickSideYes); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("after Purge: got %v, want ErrNotFound", err)
	}
}
