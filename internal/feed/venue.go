package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/updownhft/updownbot/internal/domain"
	"github.com/updownhft/updownbot/internal/metrics"
	"github.com/updownhft/updownbot/internal/pricecache"
	"github.com/updownhft/updownbot/internal/venue"
)

// tickBuffer bounds the channel between the WebSocket read loop and the
// cache writer. A full buffer drops the oldest tick; the book snapshot that
// follows supersedes it anyway.
const tickBuffer = 1024

// VenueFeed connects to the venue's market data WebSocket, subscribes to the
// book channel for tracked instruments, and writes the resulting best bid/ask
// ticks into the price cache. The feed is the only writer of venue ticks;
// the decision loop never blocks on it.
type VenueFeed struct {
	client *venue.BookClient
	cache  *pricecache.Cache
	ticks  chan domain.Tick
	logger *slog.Logger
}

// NewVenueFeed creates a feed writing into cache through client.
func NewVenueFeed(client *venue.BookClient, cache *pricecache.Cache, logger *slog.Logger) *VenueFeed {
	f := &VenueFeed{
		client: client,
		cache:  cache,
		ticks:  make(chan domain.Tick, tickBuffer),
		logger: logger.With(slog.String("component", "venue_feed")),
	}
	client.OnTick(f.enqueue)
	client.OnReconnect(func() {
		metrics.FeedReconnects.WithLabelValues(string(domain.TickSourceVenue)).Inc()
	})
	return f
}

// Subscribe registers instruments for book updates.
func (f *VenueFeed) Subscribe(ctx context.Context, insts []domain.Instrument) error {
	return f.client.SubscribeInstruments(ctx, insts)
}

// Unsubscribe drops one instrument from the book stream, typically after it
// expires and settles.
func (f *VenueFeed) Unsubscribe(ctx context.Context, inst domain.Instrument) {
	if err := f.client.UnsubscribeInstrument(ctx, inst); err != nil {
		f.logger.Debug("unsubscribe failed",
			slog.String("instrument_id", inst.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Run connects the client and pumps ticks into the cache until ctx is
// cancelled.
func (f *VenueFeed) Run(ctx context.Context) error {
	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := f.client.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}
	defer f.client.Close()

	f.logger.Info("venue feed started")
	defer f.logger.Info("venue feed stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick := <-f.ticks:
			f.cache.Put(tick)
			metrics.TicksReceived.WithLabelValues(string(domain.TickSourceVenue)).Inc()
		}
	}
}

// enqueue hands a tick from the WebSocket read loop to the cache writer.
// Runs on the client's goroutine and must not block.
func (f *VenueFeed) enqueue(tick domain.Tick) {
	select {
	case f.ticks <- tick:
	default:
		// Buffer full. Drop the oldest tick to make room for the newest.
		select {
		case <-f.ticks:
		default:
		}
		select {
		case f.ticks <- tick:
		default:
		}
	}
}
