// Package config defines the top-level configuration for the pairs trading
// bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PAIRBOT_* environment variables.
type Config struct {
	Exchange  ExchangeConfig  `toml:"exchange"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Execution ExecutionConfig `toml:"execution"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Metrics   MetricsConfig   `toml:"metrics"`

	// Mode selects what the process does: trade, scan or abort.
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	// Feature flags read once at startup.
	AbortAllPositions bool `toml:"abort_all_positions"`
	FindCointegrated  bool `toml:"find_cointegrated"`
	PlaceTrades       bool `toml:"place_trades"`
	ManageExits       bool `toml:"manage_exits"`
}

// ExchangeConfig holds the indexer endpoint and the paper venue settings.
type ExchangeConfig struct {
	IndexerURL        string   `toml:"indexer_url"`
	Address           string   `toml:"address"`
	SubaccountNumber  int      `toml:"subaccount_number"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Timeout           duration `toml:"timeout"`
	PaperCollateral   float64  `toml:"paper_collateral"`
	PaperMargin       float64  `toml:"paper_margin_fraction"`
	PaperStatePath    string   `toml:"paper_state_path"`
}

// StrategyConfig holds signal and sizing parameters.
type StrategyConfig struct {
	ZScoreThreshold    float64  `toml:"zscore_threshold"`
	ZScoreWindow       int      `toml:"zscore_window"`
	Resolution         string   `toml:"resolution"`
	CandleLimit        int      `toml:"candle_limit"`
	HistoryWindows     int      `toml:"history_windows"`
	USDPerTrade        float64  `toml:"usd_per_trade"`
	USDMinCollateral   float64  `toml:"usd_min_collateral"`
	CloseAtZScoreCross bool     `toml:"close_at_zscore_cross"`
	EntrySlippage      float64  `toml:"entry_slippage"`
	ExitSlippage       float64  `toml:"exit_slippage"`
	FailsafeLow        float64  `toml:"failsafe_low"`
	FailsafeHigh       float64  `toml:"failsafe_high"`
	PairsPath          string   `toml:"pairs_path"`
	PValueThreshold    float64  `toml:"pvalue_threshold"`
	PollInterval       duration `toml:"poll_interval"`
}

// ExecutionConfig holds the fill-confirmation schedule.
type ExecutionConfig struct {
	SettleDelay         duration `toml:"settle_delay"`
	RecheckDelay        duration `toml:"recheck_delay"`
	MaxAttempts         int      `toml:"max_attempts"`
	ConfirmTimeout      duration `toml:"confirm_timeout"`
	UnwindSettleDelay   duration `toml:"unwind_settle_delay"`
	InterOrderPause     duration `toml:"inter_order_pause"`
	CancelUnconfirmed   bool     `toml:"cancel_unconfirmed"`
	ShutdownGracePeriod duration `toml:"shutdown_grace_period"`
}

// LedgerConfig selects where open pair positions are persisted.
type LedgerConfig struct {
	// Backend is file, postgres or s3.
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	Key     string `toml:"key"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the instance lock.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LockKey    string   `toml:"lock_key"`
	LockTTL    duration `toml:"lock_ttl"`
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

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPI       string   `toml:"telegram_api"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	SlackWebhookURL   string   `toml:"slack_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			IndexerURL:        "https://indexer.dydx.trade",
			RequestsPerSecond: 5,
			Timeout:           duration{15 * time.Second},
			PaperCollateral:   1000,
			PaperMargin:       0.1,
			PaperStatePath:    "data/paper_state.json",
		},
		Strategy: StrategyConfig{
			ZScoreThreshold:    1.5,
			ZScoreWindow:       21,
			Resolution:         "1HOUR",
			CandleLimit:        100,
			HistoryWindows:     4,
			USDPerTrade:        50,
			USDMinCollateral:   100,
			CloseAtZScoreCross: true,
			EntrySlippage:      0.01,
			ExitSlippage:       0.05,
			FailsafeLow:        0.05,
			FailsafeHigh:       1.7,
			PairsPath:          "data/cointegrated_pairs.csv",
			PValueThreshold:    0.05,
			PollInterval:       duration{time.Minute},
		},
		Execution: ExecutionConfig{
			SettleDelay:         duration{2 * time.Second},
			RecheckDelay:        duration{15 * time.Second},
			MaxAttempts:         2,
			ConfirmTimeout:      duration{30 * time.Second},
			UnwindSettleDelay:   duration{2 * time.Second},
			InterOrderPause:     duration{time.Second},
			CancelUnconfirmed:   true,
			ShutdownGracePeriod: duration{10 * time.Second},
		},
		Ledger: LedgerConfig{
			Backend: "file",
			Path:    "data/bot_agents.json",
			Key:     "ledger/bot_agents.json",
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "postgres",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   4,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			LockKey: "pairbot",
			LockTTL: duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "pairbot-data",
			ForcePathStyle: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9102",
		},
		Mode:             "trade",
		LogLevel:         "info",
		FindCointegrated: false,
		PlaceTrades:      true,
		ManageExits:      true,
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade": true,
	"scan":  true,
	"abort": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"file":     true,
	"postgres": true,
	"s3":       true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, scan, abort)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.IndexerURL == "" {
		errs = append(errs, "exchange: indexer_url must not be empty")
	}
	if c.Exchange.RequestsPerSecond <= 0 {
		errs = append(errs, "exchange: requests_per_second must be > 0")
	}
	if c.Exchange.PaperCollateral <= 0 {
		errs = append(errs, "exchange: paper_collateral must be > 0")
	}
	if c.Exchange.PaperMargin <= 0 || c.Exchange.PaperMargin > 1 {
		errs = append(errs, fmt.Sprintf("exchange: paper_margin_fraction must be in (0, 1], got %v", c.Exchange.PaperMargin))
	}

	// Strategy
	s := c.Strategy
	if s.ZScoreThreshold <= 0 {
		errs = append(errs, "strategy: zscore_threshold must be > 0")
	}
	if s.ZScoreWindow < 2 {
		errs = append(errs, "strategy: zscore_window must be >= 2")
	}
	if s.CandleLimit < s.ZScoreWindow {
		errs = append(errs, fmt.Sprintf("strategy: candle_limit %d is shorter than zscore_window %d", s.CandleLimit, s.ZScoreWindow))
	}
	if s.HistoryWindows < 1 {
		errs = append(errs, "strategy: history_windows must be >= 1")
	}
	if s.Resolution == "" {
		errs = append(errs, "strategy: resolution must not be empty")
	}
	if s.USDPerTrade <= 0 {
		errs = append(errs, "strategy: usd_per_trade must be > 0")
	}
	if s.USDMinCollateral < 0 {
		errs = append(errs, "strategy: usd_min_collateral must be >= 0")
	}
	if s.EntrySlippage < 0 || s.EntrySlippage >= 1 {
		errs = append(errs, "strategy: entry_slippage must be in [0, 1)")
	}
	if s.ExitSlippage < 0 || s.ExitSlippage >= 1 {
		errs = append(errs, "strategy: exit_slippage must be in [0, 1)")
	}
	if s.FailsafeLow <= 0 || s.FailsafeLow >= 1 {
		errs = append(errs, "strategy: failsafe_low must be in (0, 1)")
	}
	if s.FailsafeHigh <= 1 {
		errs = append(errs, "strategy: failsafe_high must be > 1")
	}
	if s.PairsPath == "" {
		errs = append(errs, "strategy: pairs_path must not be empty")
	}
	if s.PValueThreshold <= 0 || s.PValueThreshold >= 1 {
		errs = append(errs, "strategy: pvalue_threshold must be in (0, 1)")
	}
	if s.PollInterval.Duration <= 0 {
		errs = append(errs, "strategy: poll_interval must be > 0")
	}

	// Execution
	if c.Execution.MaxAttempts < 1 {
		errs = append(errs, "execution: max_attempts must be >= 1")
	}
	if c.Execution.SettleDelay.Duration < 0 || c.Execution.RecheckDelay.Duration < 0 {
		errs = append(errs, "execution: delays must not be negative")
	}

	// Ledger
	backend := strings.ToLower(c.Ledger.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("ledger: unknown backend %q (valid: file, postgres, s3)", c.Ledger.Backend))
	}
	if backend == "file" && c.Ledger.Path == "" {
		errs = append(errs, "ledger: path must be set for the file backend")
	}
	if backend == "s3" {
		if c.Ledger.Key == "" {
			errs = append(errs, "ledger: key must be set for the s3 backend")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if backend == "postgres" && strings.TrimSpace(c.Postgres.DSN) == "" {
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

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be at least 1s")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
