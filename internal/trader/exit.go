package trader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pairbot/statarb/internal/agent"
	"github.com/pairbot/statarb/internal/domain"
	"github.com/pairbot/statarb/internal/metrics"
	"github.com/pairbot/statarb/internal/signal"
)

// ExitExchange is the exchange surface the reconciler uses.
type ExitExchange interface {
	Markets(ctx context.Context) (map[string]domain.Market, error)
	OpenPositions(ctx context.Context) ([]domain.ExchangePosition, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
}

// Exit reconciles ledger entries against the exchange and closes pairs
// whose spread has crossed back through the mean.
type Exit struct {
	ex      ExitExchange
	prices  CloseSource
	ledger   domain.LedgerStore
	notifier domain.Notifier
	clock    agent.Clock
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// ExitDeps wires an Exit.
type ExitDeps struct {
	Exchange ExitExchange
	Prices   CloseSource
	Ledger   domain.LedgerStore
	// Notifier is alerted when a pair is left half closed. Optional.
	Notifier domain.Notifier
	Clock    agent.Clock
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// NewExit creates an Exit.
func NewExit(deps ExitDeps, cfg Config) *Exit {
	clock := deps.Clock
	if clock == nil {
		clock = agent.SystemClock{}
	}
	return &Exit{
		ex:       deps.Exchange,
		prices:   deps.Prices,
		ledger:   deps.Ledger,
		notifier: deps.Notifier,
		clock:    clock,
		cfg:      cfg,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With(slog.String("component", "exit")),
	}
}

// Exit results, also used as metric labels.
const (
	exitClosed    = "closed"
	exitHeld      = "held"
	exitMismatch  = "mismatch"
	exitDataError = "data_error"
	exitFailed    = "close_failed"

	// Leg 1 was closed but leg 2 was not. The entry stays in the ledger and
	// reads as a mismatch from the next pass on.
	exitHalfClosed = "half_closed"
)

// Run performs one reconciliation pass. Only entries whose closing orders
// both went through are removed; everything else is written back unchanged
// in a single save.
func (x *Exit) Run(ctx context.Context) error {
	start := time.Now()
	defer func() { x.metrics.ObserveCycle("exit", time.Since(start)) }()

	positions, err := x.ledger.Load(ctx)
	if err != nil {
		return fmt.Errorf("trader: exit: load ledger: %w", err)
	}
	if len(positions) == 0 {
		x.metrics.SetOpenPairs(0)
		return nil
	}

	live, err := x.ex.OpenPositions(ctx)
	if err != nil {
		x.logger.Warn("open positions unavailable, skipping exit pass", slog.String("error", err.Error()))
		return nil
	}
	liveMarkets := make(map[string]bool, len(live))
	for _, p := range live {
		liveMarkets[p.Market] = true
	}
	markets, err := x.ex.Markets(ctx)
	if err != nil {
		x.logger.Warn("markets unavailable, skipping exit pass", slog.String("error", err.Error()))
		return nil
	}

	kept := make([]domain.PairPosition, 0, len(positions))
	for i, p := range positions {
		if ctx.Err() != nil {
			kept = append(kept, positions[i:]...)
			break
		}
		result := x.reconcile(ctx, p, liveMarkets, markets)
		x.metrics.PairExit(result)
		if result != exitClosed {
			kept = append(kept, p)
		}
	}

	if err := x.ledger.Save(context.WithoutCancel(ctx), kept); err != nil {
		return fmt.Errorf("trader: exit: save ledger: %w", err)
	}
	x.metrics.SetOpenPairs(len(kept))
	x.logger.Info("exit pass complete",
		slog.Int("checked", len(positions)),
		slog.Int("remaining", len(kept)),
	)
	return nil
}

func (x *Exit) reconcile(ctx context.Context, p domain.PairPosition, liveMarkets map[string]bool, markets map[string]domain.Market) string {
	log := x.logger.With(
		slog.String("id", p.ID),
		slog.String("market_1", p.Leg1.Market),
		slog.String("market_2", p.Leg2.Market),
	)

	for _, leg := range []domain.Leg{p.Leg1, p.Leg2} {
		order, err := x.ex.GetOrder(ctx, leg.OrderID)
		if err != nil {
			log.Warn("order lookup failed, entry kept",
				slog.String("order_id", leg.OrderID),
				slog.String("error", err.Error()),
			)
			return exitDataError
		}
		if !leg.Matches(order) || !liveMarkets[leg.Market] {
			log.Warn("ledger entry does not match exchange, entry kept",
				slog.String("order_id", leg.OrderID),
				slog.String("exchange_market", order.Market),
				slog.String("exchange_size", order.Size.String()),
				slog.String("exchange_side", string(order.Side)),
				slog.Bool("position_open", liveMarkets[leg.Market]),
			)
			return exitMismatch
		}
	}

	s1, err := x.prices.RecentCloses(ctx, p.Leg1.Market)
	if err != nil {
		log.Warn("prices unavailable, entry kept", slog.String("error", err.Error()))
		return exitDataError
	}
	s2, err := x.prices.RecentCloses(ctx, p.Leg2.Market)
	if err != nil {
		log.Warn("prices unavailable, entry kept", slog.String("error", err.Error()))
		return exitDataError
	}
	info1, ok1 := markets[p.Leg1.Market]
	info2, ok2 := markets[p.Leg2.Market]
	if !ok1 || !ok2 {
		log.Warn("market metadata missing, entry kept")
		return exitDataError
	}

	if !x.cfg.CloseAtZScoreCross {
		return exitHeld
	}
	z, err := signal.CurrentZScore(s1, s2, p.HedgeRatio, x.cfg.ZScoreWindow)
	if err != nil {
		log.Warn("z-score undefined, entry kept", slog.String("error", err.Error()))
		return exitDataError
	}
	x.metrics.SetZScore(p.Leg1.Market+"/"+p.Leg2.Market, z)
	if !signal.ExitTriggered(p.ZScore, z) {
		log.Debug("exit not triggered", slog.Float64("entry_z", p.ZScore), slog.Float64("current_z", z))
		return exitHeld
	}
	log.Info("exit triggered", slog.Float64("entry_z", p.ZScore), slog.Float64("current_z", z))

	if err := x.close(ctx, p.Leg1, s1[len(s1)-1], info1); err != nil {
		log.Error("closing leg 1 failed, entry kept", slog.String("error", err.Error()))
		return exitFailed
	}
	if err := x.clock.Sleep(ctx, x.cfg.ClosePause); err != nil {
		log.Warn("interrupted between closing orders", slog.String("error", err.Error()))
	}
	if err := x.close(context.WithoutCancel(ctx), p.Leg2, s2[len(s2)-1], info2); err != nil {
		log.Error("pair half closed, leg 2 still open", slog.String("error", err.Error()))
		x.alert(ctx, fmt.Sprintf("Pair %s half closed: %s was closed but closing %s %s %s failed: %v. Close it manually.",
			p.ID, p.Leg1.Market, p.Leg2.Side, p.Leg2.Size, p.Leg2.Market, err), log)
		return exitHalfClosed
	}
	log.Info("pair closed")
	return exitClosed
}

func (x *Exit) alert(ctx context.Context, msg string, log *slog.Logger) {
	if x.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := x.notifier.SendMessage(nctx, msg); err != nil {
		log.Error("half closed alert not delivered", slog.String("error", err.Error()))
	}
}

// close submits a reduce-only order flattening leg. A canceled order is a
// failure.
func (x *Exit) close(ctx context.Context, leg domain.Leg, lastClose float64, info domain.Market) error {
	side := leg.Side.Opposite()
	order, err := x.ex.PlaceOrder(ctx, domain.OrderRequest{
		ClientID:    uuid.NewString(),
		Market:      leg.Market,
		Side:        side,
		Size:        leg.Size,
		Price:       FormatPrice(aggressivePrice(side, lastClose, x.cfg.ExitSlippage), info.TickSize),
		ReduceOnly:  true,
		TimeInForce: domain.TimeInForceFOK,
	})
	if err != nil {
		return fmt.Errorf("place close on %s: %w", leg.Market, err)
	}
	x.metrics.OrderPlaced(leg.Market, string(side), true)
	if order.Status.Canceled() {
		return fmt.Errorf("close on %s canceled", leg.Market)
	}
	return nil
}
