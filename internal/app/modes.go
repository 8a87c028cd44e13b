package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/updownhft/updownbot/internal/analyzer"
	"github.com/updownhft/updownbot/internal/domain"
	"github.com/updownhft/updownbot/internal/engine"
	"github.com/updownhft/updownbot/internal/executor"
	"github.com/updownhft/updownbot/internal/feed"
	"github.com/updownhft/updownbot/internal/notify"
	"github.com/updownhft/updownbot/internal/pipeline"
	"github.com/updownhft/updownbot/internal/position"
	"github.com/updownhft/updownbot/internal/pricecache"
	"github.com/updownhft/updownbot/internal/scanner"
	"github.com/updownhft/updownbot/internal/server"
	"github.com/updownhft/updownbot/internal/server/handler"
	"github.com/updownhft/updownbot/internal/server/ws"
	"github.com/updownhft/updownbot/internal/strategy"
	"github.com/updownhft/updownbot/internal/venue"
)

const (
	// tradingLock guards the intent-producing loop so two instances never
	// trade the same account. Renewed while held; freed within one TTL on
	// crash.
	tradingLock    = "trading"
	tradingLockTTL = 30 * time.Second

	intentBuffer = 256
)

// tradingStack bundles the in-process components of one trading run.
type tradingStack struct {
	cache     *pricecache.Cache
	manager   *position.Manager
	engine    *engine.Engine
	executor  *executor.Executor
	venueFeed *feed.VenueFeed
	spotFeed  *feed.SpotFeed // nil when the spot feed is disabled
}

// buildTradingStack assembles the cache, scanner, strategies, feeds, engine,
// and executor. withStrategies false builds a scan-and-score stack that never
// produces entries, used by monitor mode.
func (a *App) buildTradingStack(deps *Dependencies, withStrategies bool) *tradingStack {
	cfg := a.cfg

	cache := pricecache.New(cfg.Trading.CacheTTL.Duration)

	var vol *analyzer.VolTracker
	var spotFeed *feed.SpotFeed
	if cfg.Spot.Enabled {
		window := time.Duration(cfg.Spot.WindowSec) * time.Second
		vol = analyzer.NewVolTracker(window)
		spotFeed = feed.NewSpotFeed(
			cfg.Spot.Symbols,
			vol,
			time.Duration(cfg.Spot.ReconnectMs)*time.Millisecond,
			cfg.Spot.UseTestnet,
			a.logger,
		)
	}

	scan := scanner.New(cache, vol, scanner.Options{
		MinVolume:      cfg.Trading.MinVolume,
		MaxDuration:    cfg.Trading.MaxDuration.Duration,
		PriceDeltaSkip: cfg.Trading.PriceDeltaSkip,
	}, a.logger)

	scorer := analyzer.NewScorer(
		cfg.Trading.MinSpread,
		cfg.Trading.MinVolume,
		cfg.Trading.TradeThreshold,
		cfg.Trading.WatchThreshold,
	)

	manager := position.NewManager(position.Limits{
		MaxOpenPositions: cfg.Trading.MaxOpenPositions,
		MaxTotalExposure: cfg.Trading.MaxTotalExposure,
		MaxExitRetries:   cfg.Executor.MaxExitRetries,
		StopLoss:         cfg.Trading.StopLoss,
		TakeProfit:       cfg.Trading.TakeProfit,
		MaxHold:          cfg.Trading.MaxHold.Duration,
	}, deps.PositionStore, deps.SignalBus, deps.AuditStore, notify.FatalAlert(deps.Notifier), a.logger)

	var gabagool *strategy.Gabagool
	var mm *strategy.MarketMaker
	if withStrategies && cfg.Gabagool.Enabled {
		gabagool = strategy.NewGabagool(strategy.GabagoolConfig{
			MaxPairCost:       cfg.Gabagool.MaxPairCost,
			MinImprovement:    cfg.Gabagool.MinImprovement,
			FirstSideMaxPrice: cfg.Gabagool.FirstSideMaxPrice,
			OrderSizeUSD:      cfg.Trading.OrderSizeUSD,
			MaxPerMarket:      cfg.Gabagool.MaxPerMarket,
			IntentTTL:         cfg.Executor.IntentTTL.Duration,
		}, manager, a.logger)
	}
	if withStrategies && cfg.MarketMaker.Enabled {
		mm = strategy.NewMarketMaker(strategy.MarketMakerConfig{
			Spread:           cfg.MarketMaker.Spread,
			QuoteSize:        cfg.MarketMaker.QuoteSize,
			MaxInventory:     cfg.MarketMaker.MaxInventory,
			InventorySkew:    cfg.MarketMaker.InventorySkew,
			RequoteThreshold: cfg.MarketMaker.RequoteThreshold,
			QuoteTTL:         cfg.MarketMaker.QuoteTTL.Duration,
		}, manager, a.logger)
	}

	discoveryHost := cfg.Venue.GammaHost
	if discoveryHost == "" {
		discoveryHost = cfg.Venue.RestHost
	}
	venueClient := venue.NewClient(discoveryHost, cfg.Venue.RateLimit, cfg.Venue.RateBurst)
	bookClient := venue.NewBookClient(cfg.Venue.WsHost)
	venueFeed := feed.NewVenueFeed(bookClient, cache, a.logger)

	if !cfg.Executor.Paper {
		// Live order placement needs venue credentials and signing, which
		// this build does not carry. Orders still flow end to end.
		a.logger.Warn("live execution not available, falling back to paper fills")
	}
	exchange := executor.NewPaperExchange(cache, cfg.Executor.PaperSlippage, cfg.Executor.PaperFeeBps)

	intents := make(chan domain.OrderIntent, intentBuffer)

	exec := executor.NewExecutor(intents, exchange, manager, deps.FillStore, deps.SignalBus, executor.Options{
		DedupTTL:        cfg.Executor.DedupTTL.Duration,
		BreakerFailures: cfg.Executor.BreakerFailures,
		BreakerReset:    time.Duration(cfg.Executor.BreakerResetSec) * time.Second,
		DrainTimeout:    cfg.Executor.DrainTimeout.Duration,
	}, a.logger).WithNotifier(deps.Notifier)

	eng := engine.New(cache, scan, scorer, gabagool, mm, manager, venueClient, venueFeed, intents, engine.Options{
		Symbols:      cfg.Venue.Symbols,
		ScanInterval: cfg.Trading.ScanInterval.Duration,
		RefreshEvery: time.Duration(cfg.Venue.RefreshSec) * time.Second,
		FillTimeout:  cfg.Executor.FillTimeout.Duration,
		DrainTimeout: cfg.Executor.DrainTimeout.Duration,
		MMMarkets:    cfg.MarketMaker.MaxMarkets,
	}, a.logger).WithStores(deps.OpportunityStore, deps.InstrumentStore, deps.InstrumentCache, deps.SignalBus).
		WithNotifier(deps.Notifier)

	return &tradingStack{
		cache:     cache,
		manager:   manager,
		engine:    eng,
		executor:  exec,
		venueFeed: venueFeed,
		spotFeed:  spotFeed,
	}
}

// runTradingStack starts the feed, executor, and engine goroutines plus the
// archive schedule, and blocks until one fails or the context is canceled.
func (a *App) runTradingStack(ctx context.Context, deps *Dependencies, stack *tradingStack) error {
	unlock, err := deps.LockManager.Acquire(ctx, tradingLock, tradingLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("app: another instance is already trading: %w", err)
		}
		return fmt.Errorf("app: acquire trading lock: %w", err)
	}
	defer unlock()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := stack.venueFeed.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("venue feed: %w", err)
		}
		return nil
	})

	if stack.spotFeed != nil {
		g.Go(func() error {
			if err := stack.spotFeed.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("spot feed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := stack.executor.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("executor: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := stack.engine.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("engine: %w", err)
		}
		return nil
	})

	if deps.Archiver != nil && a.cfg.S3.ArchiveCron != "" {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.S3.RetentionDays, a.logger)
		g.Go(func() error {
			if err := archiver.RunCron(ctx, a.cfg.S3.ArchiveCron); err != nil && ctx.Err() == nil {
				return fmt.Errorf("archiver: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// TradeMode runs the feeds, decision engine, and executor without the HTTP
// surface.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	stack := a.buildTradingStack(deps, true)
	return a.runTradingStack(ctx, deps, stack)
}

// MonitorMode scans and scores markets, publishing opportunities, but the
// strategies are left out so no order intent is ever produced.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	stack := a.buildTradingStack(deps, false)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := stack.venueFeed.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("venue feed: %w", err)
		}
		return nil
	})
	if stack.spotFeed != nil {
		g.Go(func() error {
			if err := stack.spotFeed.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("spot feed: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := stack.engine.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("engine: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// ServerMode serves the HTTP and WebSocket API over stored state, without
// running the engine.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, nil)
	return g.Wait()
}

// FullMode runs the trading stack and the API server side by side.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	stack := a.buildTradingStack(deps, true)

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, stack.manager)
	}
	g.Go(func() error {
		return a.runTradingStack(ctx, deps, stack)
	})
	return g.Wait()
}

// startServer registers the API goroutines on g. manager may be nil, in
// which case positions and status are served from the store alone.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, manager *position.Manager) {
	pingers := map[string]handler.Pinger{"redis": deps.Redis}
	if deps.Postgres != nil {
		pingers["postgres"] = deps.Postgres
	}

	var live handler.LivePositions
	var status handler.EngineStatus
	if manager != nil {
		live = manager
		status = manager
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(pingers, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, status, time.Now().UTC()),
		Positions: handler.NewPositionHandler(live, deps.PositionStore, deps.FillStore, a.logger),
	}
	if deps.OpportunityStore != nil {
		handlers.Opportunities = handler.NewOpportunityHandler(deps.OpportunityStore, a.logger)
	}
	if deps.InstrumentStore != nil {
		handlers.Instruments = handler.NewInstrumentHandler(deps.InstrumentStore, a.logger)
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  time.Second,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			return nil
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		}
	})
}
