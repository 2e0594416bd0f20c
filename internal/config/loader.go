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
// built-in defaults, applies TRADEDESK_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEDESK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Store ──
	setStr(&cfg.Store.Driver, "TRADEDESK_STORE_DRIVER")
	setStr(&cfg.Store.SQLitePath, "TRADEDESK_STORE_SQLITE_PATH")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "TRADEDESK_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "DATABASE_URL") // platform convention
	setStr(&cfg.Supabase.Host, "TRADEDESK_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "TRADEDESK_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "TRADEDESK_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "TRADEDESK_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "TRADEDESK_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "TRADEDESK_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "TRADEDESK_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "TRADEDESK_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "TRADEDESK_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADEDESK_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADEDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEDESK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEDESK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEDESK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEDESK_REDIS_TLS_ENABLED")

	// ── S3 / Archive ──
	setStr(&cfg.S3.Endpoint, "TRADEDESK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEDESK_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEDESK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEDESK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEDESK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEDESK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEDESK_S3_FORCE_PATH_STYLE")
	setBool(&cfg.Archive.Enabled, "TRADEDESK_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "TRADEDESK_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "TRADEDESK_ARCHIVE_INTERVAL")

	// ── Feed ──
	setStringSlice(&cfg.Feed.Symbols, "TRADEDESK_FEED_SYMBOLS")
	setBool(&cfg.Feed.WSEnabled, "TRADEDESK_FEED_WS_ENABLED")
	setStr(&cfg.Feed.RESTBaseURL, "TRADEDESK_FEED_REST_BASE_URL")
	setDuration(&cfg.Feed.StaleAfter, "TRADEDESK_FEED_STALE_AFTER")
	setDuration(&cfg.Feed.SnapshotInterval, "TRADEDESK_FEED_SNAPSHOT_INTERVAL")
	setDuration(&cfg.Feed.BackoffMin, "TRADEDESK_FEED_BACKOFF_MIN")
	setDuration(&cfg.Feed.BackoffMax, "TRADEDESK_FEED_BACKOFF_MAX")

	// ── Sweeper ──
	setBool(&cfg.Sweeper.Enabled, "TRADEDESK_SWEEPER_ENABLED")
	setDuration(&cfg.Sweeper.Interval, "TRADEDESK_SWEEPER_INTERVAL")
	setDuration(&cfg.Sweeper.LeaseTTL, "TRADEDESK_SWEEPER_LEASE_TTL")
	setInt(&cfg.Sweeper.BatchSize, "TRADEDESK_SWEEPER_BATCH_SIZE")

	// ── Trading / Wallet ──
	setInt(&cfg.Trading.MaxLeverage, "TRADEDESK_TRADING_MAX_LEVERAGE")
	setFloat64(&cfg.Trading.DemoResetAmount, "TRADEDESK_TRADING_DEMO_RESET_AMOUNT")
	setFloat64(&cfg.Trading.MinOrderAmount, "TRADEDESK_TRADING_MIN_ORDER_AMOUNT")
	setFloat64(&cfg.Wallet.MinWithdrawal, "TRADEDESK_WALLET_MIN_WITHDRAWAL")
	setFloat64(&cfg.Wallet.MinRealDeposit, "TRADEDESK_WALLET_MIN_REAL_DEPOSIT")

	// ── Midtrans ──
	setStr(&cfg.Midtrans.ServerKey, "TRADEDESK_MIDTRANS_SERVER_KEY")
	setStr(&cfg.Midtrans.ServerKey, "MIDTRANS_SERVER_KEY") // name used by the hosted functions
	setStr(&cfg.Midtrans.EncryptedServerKeyPath, "TRADEDESK_MIDTRANS_ENCRYPTED_SERVER_KEY_PATH")
	setStr(&cfg.Midtrans.KeyPassword, "TRADEDESK_MIDTRANS_KEY_PASSWORD")
	setStr(&cfg.Midtrans.ClientKey, "TRADEDESK_MIDTRANS_CLIENT_KEY")
	setStr(&cfg.Midtrans.SnapURL, "TRADEDESK_MIDTRANS_SNAP_URL")

	// ── Auth ──
	setStr(&cfg.Auth.SessionSecret, "TRADEDESK_AUTH_SESSION_SECRET")
	setDuration(&cfg.Auth.TokenTTL, "TRADEDESK_AUTH_TOKEN_TTL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADEDESK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADEDESK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADEDESK_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "TRADEDESK_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "TRADEDESK_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADEDESK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEDESK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEDESK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADEDESK_NOTIFY_EVENTS")

	// ── Telemetry ──
	setBool(&cfg.Telemetry.Enabled, "TRADEDESK_TELEMETRY_ENABLED")
	setStr(&cfg.Telemetry.ServiceName, "TRADEDESK_TELEMETRY_SERVICE_NAME")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADEDESK_MODE")
	setStr(&cfg.LogLevel, "TRADEDESK_LOG_LEVEL")
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
