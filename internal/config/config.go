// Package config defines the top-level configuration for the trade desk
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADEDESK_* environment variables.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	Supabase  SupabaseConfig  `toml:"supabase"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Feed      FeedConfig      `toml:"feed"`
	Sweeper   SweeperConfig   `toml:"sweeper"`
	Trading   TradingConfig   `toml:"trading"`
	Wallet    WalletConfig    `toml:"wallet"`
	Midtrans  MidtransConfig  `toml:"midtrans"`
	Auth      AuthConfig      `toml:"auth"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver     string `toml:"driver"`
	SQLitePath string `toml:"sqlite_path"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
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

// RedisConfig holds Redis connection parameters. When disabled, marks, leases
// and pub/sub stay in process.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the cold export of closed trades.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// FeedConfig controls the exchange price feed.
type FeedConfig struct {
	Symbols          []string `toml:"symbols"`
	WSEnabled        bool     `toml:"ws_enabled"`
	RESTBaseURL      string   `toml:"rest_base_url"`
	StaleAfter       duration `toml:"stale_after"`
	SnapshotInterval duration `toml:"snapshot_interval"`
	BackoffMin       duration `toml:"backoff_min"`
	BackoffMax       duration `toml:"backoff_max"`
}

// SweeperConfig controls the expiration sweeper.
type SweeperConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	LeaseTTL  duration `toml:"lease_ttl"`
	BatchSize int      `toml:"batch_size"`
}

// TradingConfig holds order-entry limits.
type TradingConfig struct {
	MaxLeverage     int     `toml:"max_leverage"`
	DemoResetAmount float64 `toml:"demo_reset_amount"`
	MinOrderAmount  float64 `toml:"min_order_amount"`
}

// WalletConfig holds deposit and withdrawal limits.
type WalletConfig struct {
	MinWithdrawal  float64 `toml:"min_withdrawal"`
	MinRealDeposit float64 `toml:"min_real_deposit"`
}

// MidtransConfig holds payment gateway credentials. The server key may be
// given in plain text or sealed on disk with `tradedeskctl seal-secret`.
type MidtransConfig struct {
	ServerKey              string `toml:"server_key"`
	EncryptedServerKeyPath string `toml:"encrypted_server_key_path"`
	KeyPassword            string `toml:"key_password"`
	ClientKey              string `toml:"client_key"`
	SnapURL                string `toml:"snap_url"`
}

// AuthConfig holds session token parameters.
type AuthConfig struct {
	SessionSecret string   `toml:"session_secret"`
	TokenTTL      duration `toml:"token_ttl"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is the number of order requests a user may make per RateWindow.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Store: StoreConfig{
			Driver:     "postgres",
			SQLitePath: "tradedesk.db",
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradedesk-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Feed: FeedConfig{
			Symbols:          append([]string(nil), defaultSymbols...),
			WSEnabled:        true,
			RESTBaseURL:      "https://api.binance.com",
			StaleAfter:       duration{30 * time.Second},
			SnapshotInterval: duration{30 * time.Second},
			BackoffMin:       duration{time.Second},
			BackoffMax:       duration{60 * time.Second},
		},
		Sweeper: SweeperConfig{
			Enabled:   true,
			Interval:  duration{time.Second},
			LeaseTTL:  duration{30 * time.Second},
			BatchSize: 100,
		},
		Trading: TradingConfig{
			MaxLeverage:     100,
			DemoResetAmount: 100000,
			MinOrderAmount:  0,
		},
		Wallet: WalletConfig{
			MinWithdrawal:  10,
			MinRealDeposit: 10000,
		},
		Auth: AuthConfig{
			TokenTTL: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   30,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_expired", "trade_closed", "deposit_settled", "error"},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "tradedesk",
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var defaultSymbols = []string{"BTC/USDT", "ETH/USDT", "BNB/USDT", "SOL/USDT"}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"sweeper": true,
	"feed":    true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, sweeper, feed, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Store
	switch c.Store.Driver {
	case "postgres":
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 {
			errs = append(errs, "supabase: pool_min_conns must be >= 0")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store: sqlite_path must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite)", c.Store.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	} else if c.Mode == "feed" {
		// A standalone feed process has nobody to hand marks to without Redis.
		errs = append(errs, "redis: must be enabled for mode feed")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Feed
	if len(c.Feed.Symbols) == 0 {
		errs = append(errs, "feed: symbols must not be empty")
	}
	for _, s := range c.Feed.Symbols {
		if strings.Count(s, "/") != 1 {
			errs = append(errs, fmt.Sprintf("feed: symbol %q must be BASE/QUOTE", s))
		}
	}
	if c.Feed.BackoffMin.Duration <= 0 || c.Feed.BackoffMax.Duration < c.Feed.BackoffMin.Duration {
		errs = append(errs, "feed: backoff_min must be > 0 and <= backoff_max")
	}

	// Sweeper
	if c.Sweeper.Enabled {
		if c.Sweeper.Interval.Duration <= 0 {
			errs = append(errs, "sweeper: interval must be > 0")
		}
		if c.Sweeper.LeaseTTL.Duration <= c.Sweeper.Interval.Duration {
			errs = append(errs, "sweeper: lease_ttl must exceed interval")
		}
		if c.Sweeper.BatchSize < 1 {
			errs = append(errs, "sweeper: batch_size must be >= 1")
		}
	}

	// Trading
	if c.Trading.MaxLeverage < 1 {
		errs = append(errs, "trading: max_leverage must be >= 1")
	}
	if c.Trading.DemoResetAmount <= 0 {
		errs = append(errs, "trading: demo_reset_amount must be > 0")
	}
	if c.Trading.MinOrderAmount < 0 {
		errs = append(errs, "trading: min_order_amount must be >= 0")
	}

	// Wallet
	if c.Wallet.MinWithdrawal <= 0 {
		errs = append(errs, "wallet: min_withdrawal must be > 0")
	}
	if c.Wallet.MinRealDeposit <= 0 {
		errs = append(errs, "wallet: min_real_deposit must be > 0")
	}

	// Midtrans
	if c.Midtrans.EncryptedServerKeyPath != "" && c.Midtrans.KeyPassword == "" {
		errs = append(errs, "midtrans: key_password is required when encrypted_server_key_path is set")
	}

	// Auth and Server
	serves := c.Mode == "server" || c.Mode == "full"
	if serves && c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if len(c.Auth.SessionSecret) < 16 {
			errs = append(errs, "auth: session_secret must be at least 16 characters")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		errs = append(errs, "auth: token_ttl must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
