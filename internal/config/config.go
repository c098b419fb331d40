// Package config defines the top-level configuration for the dutchbook engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DUTCHBOOK_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Engine     EngineConfig     `toml:"engine"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	FunderAddress    string `toml:"funder_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// EngineConfig holds evaluation, sizing, and risk parameters.
type EngineConfig struct {
	Symbols          []string `toml:"symbols"`
	MaxCombinedPrice float64  `toml:"max_combined_price"`
	MaxPositionUSD   float64  `toml:"max_position_usd"`
	MinOrderUSD      float64  `toml:"min_order_usd"`
	MaxOrderUSD      float64  `toml:"max_order_usd"`
	SlippageBuffer   float64  `toml:"slippage_buffer"`

	BootstrapImbalanceRatio float64 `toml:"bootstrap_imbalance_ratio"`
	RampImbalanceRatio      float64 `toml:"ramp_imbalance_ratio"`
	SteadyImbalanceRatio    float64 `toml:"steady_imbalance_ratio"`
	BootstrapMinutes        float64 `toml:"bootstrap_minutes"`
	RampMinutes             float64 `toml:"ramp_minutes"`

	SubmitTimeout    duration `toml:"submit_timeout"`
	ResolutionCutoff duration `toml:"resolution_cutoff"`
	PollInterval     duration `toml:"poll_interval"`
	QueueDepth       int      `toml:"queue_depth"`
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
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5s", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5s" or "1m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the production default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 0,
		},
		Engine: EngineConfig{
			Symbols:          []string{"BTC"},
			MaxCombinedPrice: 0.97,
			MaxPositionUSD:   100,
			MinOrderUSD:      5,
			MaxOrderUSD:      25,
			SlippageBuffer:   0.02,

			BootstrapImbalanceRatio: 12.0,
			RampImbalanceRatio:      3.0,
			SteadyImbalanceRatio:    1.3,
			BootstrapMinutes:        1.0,
			RampMinutes:             2.0,

			SubmitTimeout:    duration{5 * time.Second},
			ResolutionCutoff: duration{30 * time.Second},
			PollInterval:     duration{10 * time.Second},
			QueueDepth:       16,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dutchbook",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dutchbook-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"unwind_failed", "stream_down", "error"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":    true,
	"paper":   true,
	"monitor": true,
	"replay":  true,
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

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper, monitor, replay)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is only needed when orders actually reach the venue.
	if strings.ToLower(c.Mode) == "live" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for live mode")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0 (EOA), 1 (proxy), or 2 (safe), got %d", c.Polymarket.SignatureType))
	}
	if c.Polymarket.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		errs = append(errs, "wallet: funder_address is required when polymarket.signature_type is 1 or 2")
	}

	// API creds must be set together, or all empty.
	ak := c.Polymarket.ApiKey != ""
	as := c.Polymarket.ApiSecret != ""
	ap := c.Polymarket.ApiPassphrase != ""
	if (ak || as || ap) && !(ak && as && ap) {
		errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
	}

	// Engine
	if len(c.Engine.Symbols) == 0 {
		errs = append(errs, "engine: symbols must not be empty")
	}
	if c.Engine.MaxCombinedPrice <= 0 || c.Engine.MaxCombinedPrice >= 1.0 {
		errs = append(errs, fmt.Sprintf("engine: max_combined_price must be in (0, 1), got %g", c.Engine.MaxCombinedPrice))
	}
	if c.Engine.MaxPositionUSD <= 0 {
		errs = append(errs, "engine: max_position_usd must be > 0")
	}
	if c.Engine.MinOrderUSD < 0 {
		errs = append(errs, "engine: min_order_usd must be >= 0")
	}
	if c.Engine.MaxOrderUSD <= 0 {
		errs = append(errs, "engine: max_order_usd must be > 0")
	}
	if c.Engine.MinOrderUSD > c.Engine.MaxOrderUSD {
		errs = append(errs, "engine: min_order_usd must not exceed max_order_usd")
	}
	if c.Engine.SlippageBuffer < 0 {
		errs = append(errs, "engine: slippage_buffer must be >= 0")
	}
	if c.Engine.BootstrapImbalanceRatio < 1 || c.Engine.RampImbalanceRatio < 1 || c.Engine.SteadyImbalanceRatio < 1 {
		errs = append(errs, "engine: imbalance ratios must be >= 1")
	}
	if c.Engine.BootstrapMinutes >= c.Engine.RampMinutes {
		errs = append(errs, "engine: bootstrap_minutes must be below ramp_minutes")
	}
	if c.Engine.SubmitTimeout.Duration <= 0 {
		errs = append(errs, "engine: submit_timeout must be > 0")
	}
	if c.Engine.ResolutionCutoff.Duration < 0 {
		errs = append(errs, "engine: resolution_cutoff must be >= 0")
	}
	if c.Engine.PollInterval.Duration <= 0 {
		errs = append(errs, "engine: poll_interval must be > 0")
	}
	if c.Engine.QueueDepth < 1 {
		errs = append(errs, "engine: queue_depth must be >= 1")
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
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

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
