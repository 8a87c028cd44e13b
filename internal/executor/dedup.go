package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/updownhft/updownbot/internal/domain"
)

// Dedup prevents semantically identical intents from being executed more
// than once within a time-to-live window. Intent IDs are fresh every cycle,
// so duplicates are recognized by what the intent does, not by its ID.
// Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats an intent as a duplicate when its key
// was seen within ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// key collapses an intent to its actionable identity. Cancel intents key on
// the quote they target, everything else on venue, side, and price.
func key(in domain.OrderIntent) string {
	if in.Reason == domain.ReasonCancel {
		return fmt.Sprintf("cancel|%s|%s", in.InstrumentID, in.QuoteID)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%.4f|%s",
		in.Strategy, in.InstrumentID, in.Token, in.Side, in.Price, in.Reason)
}

// IsDuplicate reports whether an equivalent intent was executed within the
// TTL window. A fresh intent is recorded and passes.
func (d *Dedup) IsDuplicate(in domain.OrderIntent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := key(in)
	now := time.Now()
	if lastSeen, ok := d.seen[k]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[k] = now
	return false
}

// Cleanup removes expired entries. Called periodically by the executor to
// prevent unbounded growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
}
