// Package pricecache holds the latest quote per instrument token in memory.
// The decision loop reads from it on every cycle; feed listeners write into
// it from their own goroutines. Entries expire after a short TTL so the
// engine never trades on prices the feed stopped refreshing.
package pricecache

import (
	"math"
	"sync"
	"time"

	"github.com/updownhft/updownbot/internal/domain"
)

type entry struct {
	tick domain.Tick
	seen float64 // mid price at the last MarkSeen, 0 if never seen
	has  bool
}

type key struct {
	instrumentID string
	side         domain.TickSide
}

// Cache is a TTL-bounded store of the freshest tick per (instrument, side).
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[key]*entry
	now     func() time.Time
}

// New creates a Cache whose entries expire ttl after their tick timestamp.
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[key]*entry),
		now:     time.Now,
	}
}

// Put stores a tick, replacing any older tick for the same token. Ticks that
// arrive out of order are dropped.
func (c *Cache) Put(t domain.Tick) {
	k := key{t.InstrumentID, t.Side}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[k]; ok {
		if t.Timestamp.Before(e.tick.Timestamp) {
			return
		}
		e.tick = t
		e.has = true
		return
	}
	c.entries[k] = &entry{tick: t, has: true}
}

// Get returns the cached tick for the token. It returns domain.ErrNotFound
// when no tick was ever stored and domain.ErrFeedStale when the stored tick
// is older than the TTL.
func (c *Cache) Get(instrumentID string, side domain.TickSide) (domain.Tick, error) {
	c.mu.RLock()
	e, ok := c.entries[key{instrumentID, side}]
	c.mu.RUnlock()

	if !ok || !e.has {
		return domain.Tick{}, domain.ErrNotFound
	}
	if c.now().Sub(e.tick.Timestamp) > c.ttl {
		return domain.Tick{}, domain.ErrFeedStale
	}
	return e.tick, nil
}

// Snapshot assembles a two-sided market snapshot for inst from the cached
// YES and NO ticks. It returns domain.ErrSnapshotIncomplete when either side
// is missing and domain.ErrFeedStale when either side expired.
func (c *Cache) Snapshot(inst domain.Instrument) (domain.MarketSnapshot, error) {
	now := c.now()

	yes, err := c.Get(inst.ID, domain.TickSideYes)
	if err != nil {
		return domain.MarketSnapshot{}, snapErr(err)
	}
	no, err := c.Get(inst.ID, domain.TickSideNo)
	if err != nil {
		return domain.MarketSnapshot{}, snapErr(err)
	}

	return domain.MarketSnapshot{
		Instrument:   inst,
		BestBidYes:   yes.BestBid,
		BestAskYes:   yes.BestAsk,
		BestBidNo:    no.BestBid,
		BestAskNo:    no.BestAsk,
		SpreadYes:    yes.Spread(),
		SpreadNo:     no.Spread(),
		Volume24h:    inst.Volume24h,
		TimeToExpiry: inst.TimeToExpiry(now),
		Observed:     now,
	}, nil
}

func snapErr(err error) error {
	if err == domain.ErrNotFound {
		return domain.ErrSnapshotIncomplete
	}
	return err
}

// Moved reports whether either side's mid has moved by more than threshold
// (relative to the price at the last MarkSeen) since the instrument was last
// marked seen. A side that was never marked counts as moved.
func (c *Cache) Moved(instrumentID string, threshold float64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, side := range []domain.TickSide{domain.TickSideYes, domain.TickSideNo} {
		e, ok := c.entries[key{instrumentID, side}]
		if !ok || !e.has {
			continue
		}
		if e.seen == 0 {
			return true
		}
		mid := e.tick.Mid()
		if math.Abs(mid-e.seen)/e.seen > threshold {
			return true
		}
	}
	return false
}

// MarkSeen records the current mids as the baseline for the next Moved call.
func (c *Cache) MarkSeen(instrumentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, side := range []domain.TickSide{domain.TickSideYes, domain.TickSideNo} {
		if e, ok := c.entries[key{instrumentID, side}]; ok && e.has {
			e.seen = e.tick.Mid()
		}
	}
}

// Age returns how old the freshest tick for the instrument is, considering
// both sides; the staler side wins. It returns false when no tick exists.
func (c *Cache) Age(instrumentID string) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	var oldest time.Duration
	found := false
	for _, side := range []domain.TickSide{domain.TickSideYes, domain.TickSideNo} {
		e, ok := c.entries[key{instrumentID, side}]
		if !ok || !e.has {
			continue
		}
		age := now.Sub(e.tick.Timestamp)
		if !found || age > oldest {
			oldest = age
		}
		found = true
	}
	return oldest, found
}

// Purge drops all entries for an instrument, typically after settlement.
func (c *Cache) Purge(instrumentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key{instrumentID, domain.TickSideYes})
	delete(c.entries, key{instrumentID, domain.TickSideNo})
}
