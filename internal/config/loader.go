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
// built-in defaults, applies PAIRBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
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

// applyEnvOverrides reads well-known PAIRBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.IndexerURL, "PAIRBOT_EXCHANGE_INDEXER_URL")
	setStr(&cfg.Exchange.Address, "PAIRBOT_EXCHANGE_ADDRESS")
	setInt(&cfg.Exchange.SubaccountNumber, "PAIRBOT_EXCHANGE_SUBACCOUNT_NUMBER")
	setFloat64(&cfg.Exchange.RequestsPerSecond, "PAIRBOT_EXCHANGE_REQUESTS_PER_SECOND")
	setFloat64(&cfg.Exchange.PaperCollateral, "PAIRBOT_EXCHANGE_PAPER_COLLATERAL")
	setStr(&cfg.Exchange.PaperStatePath, "PAIRBOT_EXCHANGE_PAPER_STATE_PATH")

	// ── Strategy ──
	setFloat64(&cfg.Strategy.ZScoreThreshold, "PAIRBOT_STRATEGY_ZSCORE_THRESHOLD")
	setInt(&cfg.Strategy.ZScoreWindow, "PAIRBOT_STRATEGY_ZSCORE_WINDOW")
	setStr(&cfg.Strategy.Resolution, "PAIRBOT_STRATEGY_RESOLUTION")
	setFloat64(&cfg.Strategy.USDPerTrade, "PAIRBOT_STRATEGY_USD_PER_TRADE")
	setFloat64(&cfg.Strategy.USDMinCollateral, "PAIRBOT_STRATEGY_USD_MIN_COLLATERAL")
	setBool(&cfg.Strategy.CloseAtZScoreCross, "PAIRBOT_STRATEGY_CLOSE_AT_ZSCORE_CROSS")
	setStr(&cfg.Strategy.PairsPath, "PAIRBOT_STRATEGY_PAIRS_PATH")
	setDuration(&cfg.Strategy.PollInterval, "PAIRBOT_STRATEGY_POLL_INTERVAL")

	// ── Ledger ──
	setStr(&cfg.Ledger.Backend, "PAIRBOT_LEDGER_BACKEND")
	setStr(&cfg.Ledger.Path, "PAIRBOT_LEDGER_PATH")
	setStr(&cfg.Ledger.Key, "PAIRBOT_LEDGER_KEY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PAIRBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PAIRBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PAIRBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PAIRBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PAIRBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PAIRBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PAIRBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PAIRBOT_POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PAIRBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PAIRBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PAIRBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAIRBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAIRBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "PAIRBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.LockKey, "PAIRBOT_REDIS_LOCK_KEY")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PAIRBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAIRBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAIRBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAIRBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAIRBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PAIRBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PAIRBOT_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAIRBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAIRBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAIRBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.SlackWebhookURL, "PAIRBOT_NOTIFY_SLACK_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PAIRBOT_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "PAIRBOT_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "PAIRBOT_METRICS_ADDR")

	// ── Top-level ──
	setStr(&cfg.Mode, "PAIRBOT_MODE")
	setStr(&cfg.LogLevel, "PAIRBOT_LOG_LEVEL")
	setBool(&cfg.AbortAllPositions, "PAIRBOT_ABORT_ALL_POSITIONS")
	setBool(&cfg.FindCointegrated, "PAIRBOT_FIND_COINTEGRATED")
	setBool(&cfg.PlaceTrades, "PAIRBOT_PLACE_TRADES")
	setBool(&cfg.ManageExits, "PAIRBOT_MANAGE_EXITS")
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
