package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies UPDOWN_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known UPDOWN_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.RestHost, "UPDOWN_VENUE_REST_HOST")
	setStr(&cfg.Venue.GammaHost, "UPDOWN_VENUE_GAMMA_HOST")
	setStr(&cfg.Venue.WsHost, "UPDOWN_VENUE_WS_HOST")
	setStr(&cfg.Venue.APIKey, "UPDOWN_VENUE_API_KEY")
	setStringSlice(&cfg.Venue.Symbols, "UPDOWN_VENUE_SYMBOLS")
	setFloat64(&cfg.Venue.RateLimit, "UPDOWN_VENUE_RATE_LIMIT")
	setInt(&cfg.Venue.RateBurst, "UPDOWN_VENUE_RATE_BURST")
	setInt(&cfg.Venue.RefreshSec, "UPDOWN_VENUE_REFRESH_SEC")

	// ── Spot ──
	setBool(&cfg.Spot.Enabled, "UPDOWN_SPOT_ENABLED")
	setStringSlice(&cfg.Spot.Symbols, "UPDOWN_SPOT_SYMBOLS")
	setInt(&cfg.Spot.WindowSec, "UPDOWN_SPOT_WINDOW_SEC")
	setBool(&cfg.Spot.UseTestnet, "UPDOWN_SPOT_USE_TESTNET")

	// ── Trading ──
	setFloat64(&cfg.Trading.MinSpread, "UPDOWN_TRADING_MIN_SPREAD")
	setInt(&cfg.Trading.TradeThreshold, "UPDOWN_TRADING_TRADE_THRESHOLD")
	setInt(&cfg.Trading.WatchThreshold, "UPDOWN_TRADING_WATCH_THRESHOLD")
	setFloat64(&cfg.Trading.CapitalPerTrade, "UPDOWN_TRADING_CAPITAL_PER_TRADE")
	setInt(&cfg.Trading.MaxOpenPositions, "UPDOWN_TRADING_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Trading.MaxTotalExposure, "UPDOWN_TRADING_MAX_TOTAL_EXPOSURE")
	setFloat64(&cfg.Trading.MinVolume, "UPDOWN_TRADING_MIN_VOLUME")
	setDuration(&cfg.Trading.MaxDuration, "UPDOWN_TRADING_MAX_DURATION")
	setFloat64(&cfg.Trading.OrderSizeUSD, "UPDOWN_TRADING_ORDER_SIZE_USD")
	setDuration(&cfg.Trading.ScanInterval, "UPDOWN_TRADING_SCAN_INTERVAL")
	setDuration(&cfg.Trading.CacheTTL, "UPDOWN_TRADING_CACHE_TTL")
	setFloat64(&cfg.Trading.PriceDeltaSkip, "UPDOWN_TRADING_PRICE_DELTA_SKIP")
	setFloat64(&cfg.Trading.StopLoss, "UPDOWN_TRADING_STOP_LOSS")
	setFloat64(&cfg.Trading.TakeProfit, "UPDOWN_TRADING_TAKE_PROFIT")
	setDuration(&cfg.Trading.MaxHold, "UPDOWN_TRADING_MAX_HOLD")

	// ── Gabagool ──
	setBool(&cfg.Gabagool.Enabled, "UPDOWN_GABAGOOL_ENABLED")
	setFloat64(&cfg.Gabagool.MaxPairCost, "UPDOWN_GABAGOOL_MAX_PAIR_COST")
	setFloat64(&cfg.Gabagool.MinImprovement, "UPDOWN_GABAGOOL_MIN_IMPROVEMENT")
	setFloat64(&cfg.Gabagool.FirstSideMaxPrice, "UPDOWN_GABAGOOL_FIRST_SIDE_MAX_PRICE")
	setFloat64(&cfg.Gabagool.MaxPerMarket, "UPDOWN_GABAGOOL_MAX_PER_MARKET")

	// ── Market maker ──
	setBool(&cfg.MarketMaker.Enabled, "UPDOWN_MARKET_MAKER_ENABLED")
	setFloat64(&cfg.MarketMaker.Spread, "UPDOWN_MARKET_MAKER_SPREAD")
	setFloat64(&cfg.MarketMaker.QuoteSize, "UPDOWN_MARKET_MAKER_QUOTE_SIZE")
	setFloat64(&cfg.MarketMaker.MaxInventory, "UPDOWN_MARKET_MAKER_MAX_INVENTORY")
	setFloat64(&cfg.MarketMaker.InventorySkew, "UPDOWN_MARKET_MAKER_INVENTORY_SKEW")
	setFloat64(&cfg.MarketMaker.RequoteThreshold, "UPDOWN_MARKET_MAKER_REQUOTE_THRESHOLD")
	setInt(&cfg.MarketMaker.MaxMarkets, "UPDOWN_MARKET_MAKER_MAX_MARKETS")

	// ── Executor ──
	setBool(&cfg.Executor.Paper, "UPDOWN_EXECUTOR_PAPER")
	setDuration(&cfg.Executor.FillTimeout, "UPDOWN_EXECUTOR_FILL_TIMEOUT")
	setDuration(&cfg.Executor.DrainTimeout, "UPDOWN_EXECUTOR_DRAIN_TIMEOUT")
	setInt(&cfg.Executor.MaxExitRetries, "UPDOWN_EXECUTOR_MAX_EXIT_RETRIES")
	setDuration(&cfg.Executor.DedupTTL, "UPDOWN_EXECUTOR_DEDUP_TTL")
	setDuration(&cfg.Executor.IntentTTL, "UPDOWN_EXECUTOR_INTENT_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "UPDOWN_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "UPDOWN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "UPDOWN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "UPDOWN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "UPDOWN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "UPDOWN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "UPDOWN_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "UPDOWN_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "UPDOWN_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "UPDOWN_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "UPDOWN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UPDOWN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UPDOWN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UPDOWN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "UPDOWN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "UPDOWN_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "UPDOWN_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "UPDOWN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "UPDOWN_S3_REGION")
	setStr(&cfg.S3.Bucket, "UPDOWN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "UPDOWN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "UPDOWN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "UPDOWN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "UPDOWN_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "UPDOWN_S3_RETENTION_DAYS")
	setStr(&cfg.S3.ArchiveCron, "UPDOWN_S3_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "UPDOWN_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "UPDOWN_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "UPDOWN_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "UPDOWN_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "UPDOWN_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UPDOWN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UPDOWN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UPDOWN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "UPDOWN_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "UPDOWN_MODE")
	setStr(&cfg.LogLevel, "UPDOWN_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
