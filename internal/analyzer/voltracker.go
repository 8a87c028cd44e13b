package analyzer

import (
	"math"
	"sync"
	"time"

	"github.com/updownhft/updownbot/internal/domain"
)

// pricePoint records a single spot observation at a point in time.
type pricePoint struct {
	price float64
	time  time.Time
}

// VolTracker maintains a sliding window of spot prices per symbol and exposes
// the relative volatility the scorer consumes. Spot feed listeners call Track
// from their own goroutines; the decision loop reads concurrently.
type VolTracker struct {
	mu      sync.RWMutex
	history map[string][]pricePoint
	window  time.Duration
}

// NewVolTracker creates a tracker whose window controls how far back history
// extends; points older than the window are discarded on every Track call.
func NewVolTracker(window time.Duration) *VolTracker {
	return &VolTracker{
		history: make(map[string][]pricePoint),
		window:  window,
	}
}

// Track records a spot trade print and trims points outside the window.
func (vt *VolTracker) Track(t domain.SpotTick) {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	vt.history[t.Symbol] = append(vt.history[t.Symbol], pricePoint{
		price: t.Price,
		time:  t.Timestamp,
	})
	vt.trim(t.Symbol, t.Timestamp)
}

// Volatility returns the population standard deviation of the windowed
// prices divided by their mean, so BTC and ETH are comparable on one scale.
// Fewer than two points yields 0.
func (vt *VolTracker) Volatility(symbol string) float64 {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	pts := vt.history[symbol]
	if len(pts) < 2 {
		return 0
	}

	var sum float64
	for _, p := range pts {
		sum += p.price
	}
	mean := sum / float64(len(pts))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, p := range pts {
		d := p.price - mean
		variance += d * d
	}
	variance /= float64(len(pts))
	return math.Sqrt(variance) / mean
}

// LastPrice returns the most recent windowed price for symbol, or 0.
func (vt *VolTracker) LastPrice(symbol string) float64 {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	pts := vt.history[symbol]
	if len(pts) == 0 {
		return 0
	}
	return pts[len(pts)-1].price
}

// trim removes all points older than the window relative to now.
// The caller must hold vt.mu.
func (vt *VolTracker) trim(symbol string, now time.Time) {
	cutoff := now.Add(-vt.window)
	pts := vt.history[symbol]

	i := 0
	for i < len(pts) && pts[i].time.Before(cutoff) {
		i++
	}
	if i > 0 {
		vt.history[symbol] = pts[i:]
	}
}
