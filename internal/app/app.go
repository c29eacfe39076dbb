// Package app provides the top-level application lifecycle for the pairs
// trading bot. It wires together every dependency (exchange, ledger backend,
// instance lock, notifications, metrics) and runs the configured mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pairbot/statarb/internal/config"
	"github.com/pairbot/statarb/internal/domain"
	"github.com/pairbot/statarb/internal/metrics"
	"github.com/pairbot/statarb/internal/notify"
)

// ErrLeaseLost stops the process when another instance took over the lock.
var ErrLeaseLost = errors.New("app: instance lock lost")

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, announces the
// launch, takes the instance lock, runs the selected mode alongside the
// metrics server, and blocks until the mode finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("ledger", a.cfg.Ledger.Backend),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	a.announce(ctx, deps.Notifier, notify.EventLaunch, "bot launch successful")

	if deps.Locks != nil {
		lease, err := deps.Locks.Acquire(ctx, a.cfg.Redis.LockKey, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: instance lock: %w", err)
		}
		a.closers = append(a.closers, lease.Release)
		var cancel context.CancelFunc
		ctx, cancel = withLease(ctx, lease)
		defer cancel()
	}

	runErr := a.serve(ctx, deps)

	msg := "bot stopped"
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		msg = fmt.Sprintf("bot stopped: %v", runErr)
	}
	a.announce(ctx, deps.Notifier, notify.EventStop, msg)
	return runErr
}

// serve runs the mode and, when enabled, the metrics endpoint. The endpoint
// stops once the mode returns.
func (a *App) serve(ctx context.Context, deps *Dependencies) error {
	g, gctx := errgroup.WithContext(ctx)
	modeCtx, done := context.WithCancel(gctx)
	defer done()

	if deps.Metrics != nil {
		g.Go(func() error {
			return metrics.Serve(modeCtx, a.cfg.Metrics.Addr, deps.Metrics, a.logger)
		})
	}
	g.Go(func() error {
		defer done()
		return a.runMode(modeCtx, deps)
	})

	err := g.Wait()
	if cause := context.Cause(ctx); errors.Is(cause, ErrLeaseLost) {
		return cause
	}
	return err
}

func (a *App) runMode(ctx context.Context, deps *Dependencies) error {
	switch strings.ToLower(a.cfg.Mode) {
	case "trade":
		return a.TradeMode(ctx, deps)
	case "scan":
		return a.ScanMode(ctx, deps)
	case "abort":
		return a.AbortMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// announce sends a lifecycle notification. Delivery problems are logged and
// never block shutdown.
func (a *App) announce(ctx context.Context, n *notify.Notifier, event, msg string) {
	grace := a.cfg.Execution.ShutdownGracePeriod.Duration
	if grace <= 0 {
		grace = 10 * time.Second
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := n.Notify(nctx, event, msg); err != nil {
		a.logger.Warn("lifecycle notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// withLease returns a context cancelled with ErrLeaseLost when the lease
// can no longer be renewed.
func withLease(ctx context.Context, lease domain.Lease) (context.Context, context.CancelFunc) {
	lctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-lease.Lost():
			cancel(ErrLeaseLost)
		case <-lctx.Done():
		}
	}()
	return lctx, func() { cancel(context.Canceled) }
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
