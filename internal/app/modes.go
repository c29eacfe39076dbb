package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pairbot/statarb/internal/agent"
	"github.com/pairbot/statarb/internal/domain"
	"github.com/pairbot/statarb/internal/notify"
	"github.com/pairbot/statarb/internal/signal"
)

// pass is one unit of trading work: an entry, exit or abort run.
type pass interface {
	Run(ctx context.Context) error
}

// TradeMode optionally flattens the account and refreshes the pairs table,
// then polls exits and entries until ctx is cancelled or a leg is stranded.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Bool("abort_all_positions", a.cfg.AbortAllPositions),
		slog.Bool("find_cointegrated", a.cfg.FindCointegrated),
		slog.Bool("manage_exits", a.cfg.ManageExits),
		slog.Bool("place_trades", a.cfg.PlaceTrades),
	)

	if a.cfg.AbortAllPositions {
		if err := a.AbortMode(ctx, deps); err != nil {
			return err
		}
	}
	if a.cfg.FindCointegrated {
		if err := a.ScanMode(ctx, deps); err != nil {
			return err
		}
	}

	var exit, entry pass
	if a.cfg.ManageExits {
		exit = deps.Exit
	}
	if a.cfg.PlaceTrades {
		entry = deps.Entry
	}
	if exit == nil && entry == nil {
		a.logger.InfoContext(ctx, "exits and entries disabled, nothing to trade")
		return nil
	}
	return a.tradeLoop(ctx, exit, entry, deps.Clock)
}

// tradeLoop runs exits then entries every poll interval. Pass failures are
// logged and retried next cycle; a stranded leg ends the loop.
func (a *App) tradeLoop(ctx context.Context, exit, entry pass, clock agent.Clock) error {
	interval := a.cfg.Strategy.PollInterval.Duration
	for cycle := 1; ; cycle++ {
		log := a.logger.With(slog.Int("cycle", cycle))

		if exit != nil {
			if err := exit.Run(ctx); err != nil {
				log.ErrorContext(ctx, "exit pass failed", slog.String("error", err.Error()))
			}
		}
		if entry != nil {
			if err := entry.Run(ctx); err != nil {
				if errors.Is(err, domain.ErrStrandedLeg) {
					log.ErrorContext(ctx, "stranded leg, stopping", slog.String("error", err.Error()))
					return err
				}
				log.ErrorContext(ctx, "entry pass failed", slog.String("error", err.Error()))
			}
		}

		if err := clock.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// ScanMode rebuilds the cointegrated pairs table from historical prices.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "scanning for cointegrated pairs")

	table, err := deps.Prices.ConstructMarketPrices(ctx)
	if err != nil {
		return fmt.Errorf("app: scan: %w", err)
	}
	found := signal.FindCointegratedPairs(table.Series, signal.ScanConfig{
		PValueThreshold: a.cfg.Strategy.PValueThreshold,
	}, a.logger)
	if err := deps.Pairs.Save(found); err != nil {
		return fmt.Errorf("app: scan: %w", err)
	}

	a.logger.InfoContext(ctx, "pairs table written",
		slog.Int("markets", len(table.Series)),
		slog.Int("samples", len(table.Times)),
		slog.Int("pairs", len(found)),
		slog.String("path", a.cfg.Strategy.PairsPath),
	)
	a.announce(ctx, deps.Notifier, notify.EventScan, fmt.Sprintf("%d cointegrated pairs found", len(found)))
	return nil
}

// AbortMode cancels every open order, closes every position and clears the
// ledger.
func (a *App) AbortMode(ctx context.Context, deps *Dependencies) error {
	a.logger.WarnContext(ctx, "closing all open positions")
	if err := deps.Abort.Run(ctx); err != nil {
		a.announce(ctx, deps.Notifier, notify.EventAbort, fmt.Sprintf("abort incomplete: %v", err))
		return err
	}
	a.announce(ctx, deps.Notifier, notify.EventAbort, "all positions closed")
	return nil
}
