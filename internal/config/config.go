// Package config defines the top-level configuration for the up/down trading
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPDOWN_* environment variables.
type Config struct {
	Venue       VenueConfig       `toml:"venue"`
	Spot        SpotConfig        `toml:"spot"`
	Trading     TradingConfig     `toml:"trading"`
	Gabagool    GabagoolConfig    `toml:"gabagool"`
	MarketMaker MarketMakerConfig `toml:"market_maker"`
	Executor    ExecutorConfig    `toml:"executor"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// VenueConfig holds prediction-market venue API endpoints.
type VenueConfig struct {
	RestHost   string   `toml:"rest_host"`
	GammaHost  string   `toml:"gamma_host"`
	WsHost     string   `toml:"ws_host"`
	APIKey     string   `toml:"api_key"`
	Symbols    []string `toml:"symbols"`
	RateLimit  float64  `toml:"rate_limit"`  // requests per second
	RateBurst  int      `toml:"rate_burst"`  // bucket size
	RefreshSec int      `toml:"refresh_sec"` // instrument metadata refresh
}

// SpotConfig holds the Binance spot feed parameters used for volatility
// estimation on the underlying assets.
type SpotConfig struct {
	Enabled     bool     `toml:"enabled"`
	Symbols     []string `toml:"symbols"` // e.g. BTCUSDT, ETHUSDT
	WindowSec   int      `toml:"window_sec"`
	UseTestnet  bool     `toml:"use_testnet"`
	ReconnectMs int      `toml:"reconnect_ms"`
}

// TradingConfig holds scanner and risk parameters shared by all strategies.
type TradingConfig struct {
	MinSpread        float64  `toml:"min_spread"`
	TradeThreshold   int      `toml:"trade_threshold"` // 1-5 stars
	WatchThreshold   int      `toml:"watch_threshold"`
	CapitalPerTrade  float64  `toml:"capital_per_trade"`
	MaxOpenPositions int      `toml:"max_open_positions"`
	MaxTotalExposure float64  `toml:"max_total_exposure"`
	MinVolume        float64  `toml:"min_volume"`
	MaxDuration      duration `toml:"max_duration"` // longest time-to-expiry worth scanning
	OrderSizeUSD     float64  `toml:"order_size_usd"`
	ScanInterval     duration `toml:"scan_interval"`
	CacheTTL         duration `toml:"cache_ttl"`
	PriceDeltaSkip   float64  `toml:"price_delta_skip"` // relative, per side
	StopLoss         float64  `toml:"stop_loss"`        // fraction of cost, 0 disables
	TakeProfit       float64  `toml:"take_profit"`
	MaxHold          duration `toml:"max_hold"` // 0 disables timeout exits
	FeedStaleAfter   duration `toml:"feed_stale_after"`
}

// GabagoolConfig holds pair-arbitrage strategy parameters.
type GabagoolConfig struct {
	Enabled           bool    `toml:"enabled"`
	MaxPairCost       float64 `toml:"max_pair_cost"`
	MinImprovement    float64 `toml:"min_improvement"`
	FirstSideMaxPrice float64 `toml:"first_side_max_price"`
	MaxPerMarket      float64 `toml:"max_per_market"`
}

// MarketMakerConfig holds two-sided quoting parameters.
type MarketMakerConfig struct {
	Enabled          bool     `toml:"enabled"`
	Spread           float64  `toml:"spread"` // full quoted spread
	QuoteSize        float64  `toml:"quote_size"`
	MaxInventory     float64  `toml:"max_inventory"`
	InventorySkew    float64  `toml:"inventory_skew"` // price shift per unit of normalized inventory
	RequoteThreshold float64  `toml:"requote_threshold"`
	MaxMarkets       int      `toml:"max_markets"`
	QuoteTTL         duration `toml:"quote_ttl"`
}

// ExecutorConfig holds order execution parameters.
type ExecutorConfig struct {
	Paper           bool     `toml:"paper"`
	FillTimeout     duration `toml:"fill_timeout"`
	DrainTimeout    duration `toml:"drain_timeout"`
	MaxExitRetries  int      `toml:"max_exit_retries"`
	DedupTTL        duration `toml:"dedup_ttl"`
	IntentTTL       duration `toml:"intent_ttl"`
	BreakerFailures uint32   `toml:"breaker_failures"`
	BreakerResetSec int      `toml:"breaker_reset_sec"`
	PaperSlippage   float64  `toml:"paper_slippage"`
	PaperFeeBps     float64  `toml:"paper_fee_bps"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for history
// archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
	ArchiveCron    string `toml:"archive_cron"` // 5-field cron, empty disables scheduling
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`    // empty disables auth
	RateLimit   int      `toml:"rate_limit"` // requests per second per client IP, 0 disables
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "500ms", "1s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			RestHost:   "https://clob.polymarket.com",
			GammaHost:  "https://gamma-api.polymarket.com",
			WsHost:     "wss://ws-subscriptions-clob.polymarket.com",
			Symbols:    []string{"BTC", "ETH"},
			RateLimit:  8,
			RateBurst:  16,
			RefreshSec: 60,
		},
		Spot: SpotConfig{
			Enabled:     true,
			Symbols:     []string{"BTCUSDT", "ETHUSDT"},
			WindowSec:   300,
			ReconnectMs: 2000,
		},
		Trading: TradingConfig{
			MinSpread:        0.04,
			TradeThreshold:   4,
			WatchThreshold:   3,
			CapitalPerTrade:  50,
			MaxOpenPositions: 5,
			MaxTotalExposure: 500,
			MinVolume:        1000,
			MaxDuration:      duration{24 * time.Hour},
			OrderSizeUSD:     25,
			ScanInterval:     duration{1 * time.Second},
			CacheTTL:         duration{500 * time.Millisecond},
			PriceDeltaSkip:   0.005,
			StopLoss:         0.20,
			TakeProfit:       0.10,
			MaxHold:          duration{0},
			FeedStaleAfter:   duration{5 * time.Second},
		},
		Gabagool: GabagoolConfig{
			Enabled:           true,
			MaxPairCost:       0.98,
			MinImprovement:    0.005,
			FirstSideMaxPrice: 0.60,
			MaxPerMarket:      100,
		},
		MarketMaker: MarketMakerConfig{
			Enabled:          false,
			Spread:           0.04,
			QuoteSize:        25,
			MaxInventory:     200,
			InventorySkew:    0.01,
			RequoteThreshold: 0.005,
			MaxMarkets:       3,
			QuoteTTL:         duration{10 * time.Second},
		},
		Executor: ExecutorConfig{
			Paper:           true,
			FillTimeout:     duration{10 * time.Second},
			DrainTimeout:    duration{30 * time.Second},
			MaxExitRetries:  3,
			DedupTTL:        duration{30 * time.Second},
			IntentTTL:       duration{5 * time.Second},
			BreakerFailures: 5,
			BreakerResetSec: 30,
			PaperSlippage:   0.002,
			PaperFeeBps:     0,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "updownbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "updownbot-data",
			ForcePathStyle: true,
			RetentionDays:  90,
			ArchiveCron:    "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity", "order_filled", "position_closed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue
	if c.Venue.RestHost == "" {
		errs = append(errs, "venue: rest_host must not be empty")
	}
	if c.Venue.WsHost == "" {
		errs = append(errs, "venue: ws_host must not be empty")
	}
	if c.Venue.RateLimit <= 0 {
		errs = append(errs, "venue: rate_limit must be > 0")
	}
	if c.Venue.RateBurst < 1 {
		errs = append(errs, "venue: rate_burst must be >= 1")
	}

	// Spot
	if c.Spot.Enabled && len(c.Spot.Symbols) == 0 {
		errs = append(errs, "spot: symbols must not be empty when enabled")
	}
	if c.Spot.WindowSec <= 0 {
		errs = append(errs, "spot: window_sec must be > 0")
	}

	// Trading
	if c.Trading.MinSpread <= 0 || c.Trading.MinSpread >= 1 {
		errs = append(errs, fmt.Sprintf("trading: min_spread must be in (0,1), got %v", c.Trading.MinSpread))
	}
	if c.Trading.TradeThreshold < 1 || c.Trading.TradeThreshold > 5 {
		errs = append(errs, "trading: trade_threshold must be 1-5")
	}
	if c.Trading.WatchThreshold < 1 || c.Trading.WatchThreshold > c.Trading.TradeThreshold {
		errs = append(errs, "trading: watch_threshold must be 1..trade_threshold")
	}
	if c.Trading.CapitalPerTrade <= 0 {
		errs = append(errs, "trading: capital_per_trade must be > 0")
	}
	if c.Trading.MaxOpenPositions < 1 {
		errs = append(errs, "trading: max_open_positions must be >= 1")
	}
	if c.Trading.MaxTotalExposure < c.Trading.CapitalPerTrade {
		errs = append(errs, "trading: max_total_exposure must be >= capital_per_trade")
	}
	if c.Trading.OrderSizeUSD <= 0 {
		errs = append(errs, "trading: order_size_usd must be > 0")
	}
	if c.Trading.MaxDuration.Duration <= 0 {
		errs = append(errs, "trading: max_duration must be > 0")
	}
	if c.Trading.ScanInterval.Duration <= 0 {
		errs = append(errs, "trading: scan_interval must be > 0")
	}
	if c.Trading.CacheTTL.Duration <= 0 {
		errs = append(errs, "trading: cache_ttl must be > 0")
	}
	if c.Trading.PriceDeltaSkip < 0 {
		errs = append(errs, "trading: price_delta_skip must be >= 0")
	}

	// Gabagool
	if c.Gabagool.Enabled {
		if c.Gabagool.MaxPairCost <= 0 || c.Gabagool.MaxPairCost >= 1 {
			errs = append(errs, fmt.Sprintf("gabagool: max_pair_cost must be in (0,1), got %v", c.Gabagool.MaxPairCost))
		}
		if c.Gabagool.MinImprovement < 0 {
			errs = append(errs, "gabagool: min_improvement must be >= 0")
		}
		if c.Gabagool.FirstSideMaxPrice <= 0 || c.Gabagool.FirstSideMaxPrice >= 1 {
			errs = append(errs, "gabagool: first_side_max_price must be in (0,1)")
		}
	}

	// Market maker
	if c.MarketMaker.Enabled {
		if c.MarketMaker.Spread <= 0 || c.MarketMaker.Spread >= 1 {
			errs = append(errs, "market_maker: spread must be in (0,1)")
		}
		if c.MarketMaker.QuoteSize <= 0 {
			errs = append(errs, "market_maker: quote_size must be > 0")
		}
		if c.MarketMaker.MaxMarkets < 1 {
			errs = append(errs, "market_maker: max_markets must be >= 1")
		}
	}

	// Executor
	if c.Executor.FillTimeout.Duration <= 0 {
		errs = append(errs, "executor: fill_timeout must be > 0")
	}
	if c.Executor.DrainTimeout.Duration <= 0 {
		errs = append(errs, "executor: drain_timeout must be > 0")
	}
	if c.Executor.MaxExitRetries < 1 {
		errs = append(errs, "executor: max_exit_retries must be >= 1")
	}
	if !c.Executor.Paper && c.Venue.APIKey == "" {
		errs = append(errs, "venue: api_key is required for live execution")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
