package feed

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/updownhft/updownbot/internal/analyzer"
	"github.com/updownhft/updownbot/internal/domain"
	"github.com/updownhft/updownbot/internal/metrics"
)

// SpotFeed streams aggregated trades for the underlying spot symbols from
// Binance and feeds them into the volatility tracker used by the scorer.
// The feed reconnects when the stream drops.
type SpotFeed struct {
	symbols   []string
	vol       *analyzer.VolTracker
	reconnect time.Duration
	logger    *slog.Logger
}

// NewSpotFeed creates a feed for the given symbols, e.g. ["BTCUSDT",
// "ETHUSDT"]. useTestnet routes the stream to the Binance testnet.
func NewSpotFeed(symbols []string, vol *analyzer.VolTracker, reconnect time.Duration, useTestnet bool, logger *slog.Logger) *SpotFeed {
	if useTestnet {
		binance.UseTestnet = true
	}
	if reconnect <= 0 {
		reconnect = 2 * time.Second
	}
	return &SpotFeed{
		symbols:   symbols,
		vol:       vol,
		reconnect: reconnect,
		logger:    logger.With(slog.String("component", "spot_feed")),
	}
}

// Run streams trades until ctx is cancelled, reconnecting on stream errors.
func (f *SpotFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no spot symbols configured, exiting")
		return nil
	}

	f.logger.Info("spot feed started", slog.Int("symbols", len(f.symbols)))
	defer f.logger.Info("spot feed stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := f.stream(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn("spot stream disconnected, reconnecting",
				slog.String("error", err.Error()),
			)
			metrics.FeedReconnects.WithLabelValues(string(domain.TickSourceSpot)).Inc()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnect):
		}
	}
}

// stream opens one combined aggregate-trade stream and blocks until it ends.
func (f *SpotFeed) stream(ctx context.Context) error {
	errCh := make(chan error, 1)

	doneC, stopC, err := binance.WsCombinedAggTradeServe(f.symbols, f.handleTrade, func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		close(stopC)
		<-doneC
		return ctx.Err()
	case err := <-errCh:
		close(stopC)
		<-doneC
		return err
	case <-doneC:
		return nil
	}
}

func (f *SpotFeed) handleTrade(event *binance.WsAggTradeEvent) {
	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil || price <= 0 {
		return
	}
	qty, _ := strconv.ParseFloat(event.Quantity, 64)

	f.vol.Track(domain.SpotTick{
		Symbol:    event.Symbol,
		Price:     price,
		Qty:       qty,
		Timestamp: time.UnixMilli(event.TradeTime).UTC(),
	})
	metrics.TicksReceived.WithLabelValues(string(domain.TickSourceSpot)).Inc()
}
