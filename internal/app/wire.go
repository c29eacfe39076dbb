package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pairbot/statarb/internal/agent"
	s3blob "github.com/pairbot/statarb/internal/blob/s3"
	"github.com/pairbot/statarb/internal/cache/redis"
	"github.com/pairbot/statarb/internal/config"
	"github.com/pairbot/statarb/internal/domain"
	"github.com/pairbot/statarb/internal/ledger"
	"github.com/pairbot/statarb/internal/market"
	"github.com/pairbot/statarb/internal/metrics"
	"github.com/pairbot/statarb/internal/notify"
	"github.com/pairbot/statarb/internal/pairs"
	"github.com/pairbot/statarb/internal/platform/indexer"
	"github.com/pairbot/statarb/internal/platform/paper"
	"github.com/pairbot/statarb/internal/store/postgres"
	"github.com/pairbot/statarb/internal/trader"
)

// Dependencies bundles every component the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Indexer *indexer.Client
	Broker  *paper.Broker
	Prices  *market.Prices
	Ledger  domain.LedgerStore
	Pairs   *pairs.File

	// Locks is nil when the single-instance lock is disabled.
	Locks domain.LockManager

	Notifier *notify.Notifier
	// Metrics is nil when the endpoint is disabled; its methods are no-ops.
	Metrics *metrics.Metrics

	Clock agent.Clock
	Entry *trader.Entry
	Exit  *trader.Exit
	Abort *trader.Abort
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Clock: agent.SystemClock{}}

	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	// --- Exchange ---
	deps.Indexer = indexer.NewClient(indexer.Config{
		BaseURL:           cfg.Exchange.IndexerURL,
		Address:           cfg.Exchange.Address,
		SubaccountNumber:  cfg.Exchange.SubaccountNumber,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		Timeout:           cfg.Exchange.Timeout.Duration,
	}, logger)

	broker, err := paper.New(deps.Indexer, paper.Config{
		InitialCollateral: cfg.Exchange.PaperCollateral,
		MarginFraction:    cfg.Exchange.PaperMargin,
		Resolution:        cfg.Strategy.Resolution,
		StatePath:         cfg.Exchange.PaperStatePath,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: paper broker: %w", err)
	}
	deps.Broker = broker

	deps.Prices = market.NewPrices(deps.Indexer, market.Config{
		Resolution: cfg.Strategy.Resolution,
		Limit:      cfg.Strategy.CandleLimit,
		Windows:    cfg.Strategy.HistoryWindows,
	}, logger)
	deps.Pairs = pairs.NewFile(cfg.Strategy.PairsPath, logger)

	// --- Ledger ---
	store, closeLedger, err := wireLedger(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeLedger)
	deps.Ledger = store

	// --- Redis instance lock ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Locks = redis.NewLockManager(redisClient, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.SlackWebhookURL != "" {
		senders = append(senders, notify.NewSlackSender(cfg.Notify.SlackWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Trading ---
	tcfg := traderConfig(cfg)
	opener := agent.New(agent.Config{
		Client:        deps.Broker,
		Notifier:      deps.Notifier,
		Clock:         deps.Clock,
		ConfirmPolicy: confirmPolicy(cfg),
		UnwindPolicy:  unwindPolicy(cfg),
		Metrics:       deps.Metrics,
		Logger:        logger,
	})
	deps.Entry = trader.NewEntry(trader.EntryDeps{
		Exchange: deps.Broker,
		Prices:   deps.Prices,
		Pairs:    deps.Pairs,
		Ledger:   deps.Ledger,
		Opener:   opener,
		Metrics:  deps.Metrics,
		Logger:   logger,
	}, tcfg)
	deps.Exit = trader.NewExit(trader.ExitDeps{
		Exchange: deps.Broker,
		Prices:   deps.Prices,
		Ledger:   deps.Ledger,
		Notifier: deps.Notifier,
		Clock:    deps.Clock,
		Metrics:  deps.Metrics,
		Logger:   logger,
	}, tcfg)
	deps.Abort = trader.NewAbort(deps.Broker, deps.Prices, deps.Ledger, deps.Clock, tcfg, logger)

	return deps, cleanup, nil
}

// wireLedger opens the configured ledger backend.
func wireLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.LedgerStore, func(), error) {
	noop := func() {}

	switch strings.ToLower(cfg.Ledger.Backend) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				pgClient.Close()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		return postgres.NewLedgerStore(pgClient.Pool()), pgClient.Close, nil

	case "s3":
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		return s3blob.NewLedgerStore(s3blob.NewReader(s3Client), s3blob.NewWriter(s3Client), cfg.Ledger.Key), noop, nil

	default:
		return ledger.NewFileStore(cfg.Ledger.Path), noop, nil
	}
}

func traderConfig(cfg *config.Config) trader.Config {
	s := cfg.Strategy
	return trader.Config{
		ZScoreThreshold:    s.ZScoreThreshold,
		ZScoreWindow:       s.ZScoreWindow,
		USDPerTrade:        s.USDPerTrade,
		USDMinCollateral:   s.USDMinCollateral,
		CloseAtZScoreCross: s.CloseAtZScoreCross,
		EntrySlippage:      s.EntrySlippage,
		ExitSlippage:       s.ExitSlippage,
		FailsafeLow:        s.FailsafeLow,
		FailsafeHigh:       s.FailsafeHigh,
		ClosePause:         cfg.Execution.InterOrderPause.Duration,
	}
}

func confirmPolicy(cfg *config.Config) agent.Policy {
	e := cfg.Execution
	return agent.Policy{
		SettleDelay:       e.SettleDelay.Duration,
		RecheckDelay:      e.RecheckDelay.Duration,
		MaxAttempts:       e.MaxAttempts,
		Timeout:           e.ConfirmTimeout.Duration,
		CancelUnconfirmed: e.CancelUnconfirmed,
	}
}

// unwindPolicy checks the failsafe order once and leaves it in place.
func unwindPolicy(cfg *config.Config) agent.Policy {
	return agent.Policy{
		SettleDelay: cfg.Execution.UnwindSettleDelay.Duration,
		MaxAttempts: 1,
	}
}
