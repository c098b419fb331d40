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
// built-in defaults, applies DUTCHBOOK_* environment variable overrides, and
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

// applyEnvOverrides reads well-known DUTCHBOOK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// Wallet
	setStr(&cfg.Wallet.PrivateKey, "DUTCHBOOK_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.FunderAddress, "DUTCHBOOK_WALLET_FUNDER_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "DUTCHBOOK_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "DUTCHBOOK_WALLET_KEY_PASSWORD")

	// Polymarket
	setStr(&cfg.Polymarket.ClobHost, "DUTCHBOOK_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "DUTCHBOOK_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "DUTCHBOOK_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "DUTCHBOOK_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "DUTCHBOOK_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ApiKey, "DUTCHBOOK_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "DUTCHBOOK_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "DUTCHBOOK_POLYMARKET_API_PASSPHRASE")

	// Engine
	setStringSlice(&cfg.Engine.Symbols, "DUTCHBOOK_ENGINE_SYMBOLS")
	setFloat64(&cfg.Engine.MaxCombinedPrice, "DUTCHBOOK_ENGINE_MAX_COMBINED_PRICE")
	setFloat64(&cfg.Engine.MaxPositionUSD, "DUTCHBOOK_ENGINE_MAX_POSITION_USD")
	setFloat64(&cfg.Engine.MinOrderUSD, "DUTCHBOOK_ENGINE_MIN_ORDER_USD")
	setFloat64(&cfg.Engine.MaxOrderUSD, "DUTCHBOOK_ENGINE_MAX_ORDER_USD")
	setFloat64(&cfg.Engine.SlippageBuffer, "DUTCHBOOK_ENGINE_SLIPPAGE_BUFFER")
	setFloat64(&cfg.Engine.BootstrapImbalanceRatio, "DUTCHBOOK_ENGINE_BOOTSTRAP_IMBALANCE_RATIO")
	setFloat64(&cfg.Engine.RampImbalanceRatio, "DUTCHBOOK_ENGINE_RAMP_IMBALANCE_RATIO")
	setFloat64(&cfg.Engine.SteadyImbalanceRatio, "DUTCHBOOK_ENGINE_STEADY_IMBALANCE_RATIO")
	setFloat64(&cfg.Engine.BootstrapMinutes, "DUTCHBOOK_ENGINE_BOOTSTRAP_MINUTES")
	setFloat64(&cfg.Engine.RampMinutes, "DUTCHBOOK_ENGINE_RAMP_MINUTES")
	setDuration(&cfg.Engine.SubmitTimeout, "DUTCHBOOK_ENGINE_SUBMIT_TIMEOUT")
	setDuration(&cfg.Engine.ResolutionCutoff, "DUTCHBOOK_ENGINE_RESOLUTION_CUTOFF")
	setDuration(&cfg.Engine.PollInterval, "DUTCHBOOK_ENGINE_POLL_INTERVAL")
	setInt(&cfg.Engine.QueueDepth, "DUTCHBOOK_ENGINE_QUEUE_DEPTH")

	// Postgres
	setStr(&cfg.Postgres.DSN, "DUTCHBOOK_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DUTCHBOOK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DUTCHBOOK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DUTCHBOOK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DUTCHBOOK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DUTCHBOOK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DUTCHBOOK_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DUTCHBOOK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DUTCHBOOK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DUTCHBOOK_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setBool(&cfg.Redis.Enabled, "DUTCHBOOK_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DUTCHBOOK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DUTCHBOOK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DUTCHBOOK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DUTCHBOOK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DUTCHBOOK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DUTCHBOOK_REDIS_TLS_ENABLED")

	// S3
	setBool(&cfg.S3.Enabled, "DUTCHBOOK_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DUTCHBOOK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DUTCHBOOK_S3_REGION")
	setStr(&cfg.S3.Bucket, "DUTCHBOOK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DUTCHBOOK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DUTCHBOOK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DUTCHBOOK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DUTCHBOOK_S3_FORCE_PATH_STYLE")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "DUTCHBOOK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DUTCHBOOK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DUTCHBOOK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DUTCHBOOK_NOTIFY_EVENTS")

	// Top-level
	setStr(&cfg.Mode, "DUTCHBOOK_MODE")
	setStr(&cfg.LogLevel, "DUTCHBOOK_LOG_LEVEL")
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
