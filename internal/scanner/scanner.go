// Package scanner rebuilds the candidate set of tradeable markets each
// decision cycle from instrument metadata joined with the freshest cached
// ticks.
package scanner

import (
	"log/slog"
	"sort"
	"time"

	"github.com/updownhft/updownbot/internal/analyzer"
	"github.com/updownhft/updownbot/internal/domain"
	"github.com/updownhft/updownbot/internal/pricecache"
)

// Options are the scan-time filters.
type Options struct {
	MinVolume      float64
	MaxDuration    time.Duration
	PriceDeltaSkip float64 // relative mid move below which scoring is reused
}

// Candidate is one scannable market for the current cycle. When Reused is
// set, the prior cycle's opportunity is carried verbatim and the scorer is
// not consulted again.
type Candidate struct {
	Snapshot    domain.MarketSnapshot
	Reused      bool
	Opportunity domain.Opportunity // valid only when Reused
}

// Scanner joins metadata with cached prices. It remembers the last scored
// opportunity per instrument so unchanged markets can skip rescoring; markets
// holding an open position always get a full pass.
type Scanner struct {
	cache  *pricecache.Cache
	vol    *analyzer.VolTracker
	logger *slog.Logger
	opts   Options

	prior map[string]domain.Opportunity
	now   func() time.Time

	// SpotSymbol maps an instrument underlying to its spot feed symbol.
	SpotSymbol func(symbol string) string
}

// New creates a Scanner.
func New(cache *pricecache.Cache, vol *analyzer.VolTracker, opts Options, logger *slog.Logger) *Scanner {
	return &Scanner{
		cache:      cache,
		vol:        vol,
		logger:     logger.With(slog.String("component", "scanner")),
		opts:       opts,
		prior:      make(map[string]domain.Opportunity),
		now:        time.Now,
		SpotSymbol: func(symbol string) string { return symbol + "USDT" },
	}
}

// Scan builds this cycle's ordered candidate set. hasPosition reports whether
// an instrument currently holds an open position; such instruments sort
// first and never reuse a stale opportunity. Instruments without a fresh
// two-sided book are excluded from the cycle, not treated as zero-priced.
func (s *Scanner) Scan(instruments []domain.Instrument, hasPosition func(instrumentID string) bool) []Candidate {
	now := s.now()
	out := make([]Candidate, 0, len(instruments))

	for _, inst := range instruments {
		if !inst.Active || inst.Expired(now) {
			continue
		}
		if s.opts.MaxDuration > 0 && inst.TimeToExpiry(now) > s.opts.MaxDuration {
			continue
		}
		if inst.Volume24h < s.opts.MinVolume {
			continue
		}

		active := hasPosition != nil && hasPosition(inst.ID)

		if !active && s.opts.PriceDeltaSkip > 0 && !s.cache.Moved(inst.ID, s.opts.PriceDeltaSkip) {
			if prev, ok := s.prior[inst.ID]; ok {
				out = append(out, Candidate{Reused: true, Opportunity: prev,
					Snapshot: domain.MarketSnapshot{Instrument: inst}})
				continue
			}
		}

		snap, err := s.cache.Snapshot(inst)
		if err != nil {
			s.logger.Debug("instrument excluded from cycle",
				slog.String("instrument", inst.ID),
				slog.String("reason", err.Error()))
			continue
		}
		if s.vol != nil {
			snap.SpotVolatility = s.vol.Volatility(s.SpotSymbol(inst.Symbol))
		}

		out = append(out, Candidate{Snapshot: snap})
	}

	sort.SliceStable(out, func(i, j int) bool {
		ai := hasPosition != nil && hasPosition(out[i].instrumentID())
		aj := hasPosition != nil && hasPosition(out[j].instrumentID())
		if ai != aj {
			return ai
		}
		return out[i].volume() > out[j].volume()
	})
	return out
}

// Remember records the scored opportunity for an instrument and marks its
// current prices as seen, arming the delta skip for the next cycle.
func (s *Scanner) Remember(opp domain.Opportunity) {
	s.prior[opp.InstrumentID] = opp
	s.cache.MarkSeen(opp.InstrumentID)
}

// Forget drops the remembered opportunity, typically after settlement.
func (s *Scanner) Forget(instrumentID string) {
	delete(s.prior, instrumentID)
}

func (c Candidate) instrumentID() string {
	if c.Reused {
		return c.Opportunity.InstrumentID
	}
	return c.Snapshot.Instrument.ID
}

func (c Candidate) volume() float64 {
	if c.Reused {
		return c.Opportunity.Volume
	}
	return c.Snapshot.Volume24h
}
