// Package trader drives the trading cycle: opening new pair positions,
// reconciling and closing existing ones, and the emergency abort.
package trader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pairbot/statarb/internal/agent"
	"github.com/pairbot/statarb/internal/domain"
	"github.com/pairbot/statarb/internal/metrics"
	"github.com/pairbot/statarb/internal/signal"
)

// CloseSource supplies the recent close series for a market, oldest first.
type CloseSource interface {
	RecentCloses(ctx context.Context, market string) ([]float64, error)
}

// EntryExchange is the exchange surface the entry pass reads.
type EntryExchange interface {
	Account(ctx context.Context) (domain.Account, error)
	Markets(ctx context.Context) (map[string]domain.Market, error)
	OpenPositions(ctx context.Context) ([]domain.ExchangePosition, error)
}

// Opener runs one two-legged entry attempt.
type Opener interface {
	Open(ctx context.Context, p agent.Params) (agent.Result, error)
}

// Entry scans the pairs table and opens positions on triggered signals.
type Entry struct {
	ex      EntryExchange
	prices  CloseSource
	pairs   domain.PairsSource
	ledger  domain.LedgerStore
	opener  Opener
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// EntryDeps wires an Entry.
type EntryDeps struct {
	Exchange EntryExchange
	Prices   CloseSource
	Pairs    domain.PairsSource
	Ledger   domain.LedgerStore
	Opener   Opener
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// NewEntry creates an Entry.
func NewEntry(deps EntryDeps, cfg Config) *Entry {
	return &Entry{
		ex:      deps.Exchange,
		prices:  deps.Prices,
		pairs:   deps.Pairs,
		ledger:  deps.Ledger,
		opener:  deps.Opener,
		cfg:     cfg,
		metrics: deps.Metrics,
		logger:  deps.Logger.With(slog.String("component", "entry")),
	}
}

// errHalt stops the scan for the rest of the cycle.
var errHalt = errors.New("halt scan")

// Run performs one entry pass. Newly LIVE positions are appended to the
// ledger, which is saved once at the end, also when the pass is cut short.
// A stranded leg is returned after the save.
func (e *Entry) Run(ctx context.Context) error {
	start := time.Now()
	defer func() { e.metrics.ObserveCycle("entry", time.Since(start)) }()

	pairs, err := e.pairs.Pairs(ctx)
	if err != nil {
		return fmt.Errorf("trader: entry: load pairs: %w", err)
	}
	markets, err := e.ex.Markets(ctx)
	if err != nil {
		return fmt.Errorf("trader: entry: markets: %w", err)
	}
	positions, err := e.ledger.Load(ctx)
	if err != nil {
		return fmt.Errorf("trader: entry: load ledger: %w", err)
	}
	live, err := e.ex.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("trader: entry: open positions: %w", err)
	}

	busy := make(map[string]bool)
	for _, p := range positions {
		for _, m := range p.Markets() {
			busy[m] = true
		}
	}
	for _, p := range live {
		busy[p.Market] = true
	}

	opened := 0
	var fatal error
	for _, pair := range pairs {
		if ctx.Err() != nil {
			break
		}
		pos, err := e.consider(ctx, pair, markets, busy)
		if errors.Is(err, errHalt) {
			break
		}
		if err != nil {
			fatal = err
			break
		}
		if pos == nil {
			continue
		}
		positions = append(positions, *pos)
		busy[pair.BaseMarket] = true
		busy[pair.QuoteMarket] = true
		opened++
	}

	if opened > 0 || fatal != nil {
		if err := e.ledger.Save(context.WithoutCancel(ctx), positions); err != nil {
			return errors.Join(fatal, fmt.Errorf("trader: entry: save ledger: %w", err))
		}
	}
	e.metrics.SetOpenPairs(len(positions))
	e.logger.Info("entry pass complete",
		slog.Int("pairs", len(pairs)),
		slog.Int("opened", opened),
		slog.Int("ledger_size", len(positions)),
	)
	return fatal
}

// consider evaluates one pair. It returns the new LIVE position, nil when
// the pair is skipped, errHalt to stop the scan, or a fatal error.
func (e *Entry) consider(ctx context.Context, pair domain.CointegratedPair, markets map[string]domain.Market, busy map[string]bool) (*domain.PairPosition, error) {
	log := e.logger.With(
		slog.String("base_market", pair.BaseMarket),
		slog.String("quote_market", pair.QuoteMarket),
	)

	s1, err := e.prices.RecentCloses(ctx, pair.BaseMarket)
	if err != nil {
		log.Warn("base prices unavailable", slog.String("error", err.Error()))
		return nil, nil
	}
	s2, err := e.prices.RecentCloses(ctx, pair.QuoteMarket)
	if err != nil {
		log.Warn("quote prices unavailable", slog.String("error", err.Error()))
		return nil, nil
	}
	if len(s1) == 0 || len(s1) != len(s2) {
		log.Debug("price series unusable", slog.Int("base_len", len(s1)), slog.Int("quote_len", len(s2)))
		return nil, nil
	}

	z, err := signal.CurrentZScore(s1, s2, pair.HedgeRatio, e.cfg.ZScoreWindow)
	if err != nil {
		log.Debug("z-score undefined", slog.String("error", err.Error()))
		return nil, nil
	}
	e.metrics.SetZScore(pair.BaseMarket+"/"+pair.QuoteMarket, z)
	if !signal.EntryTriggered(z, e.cfg.ZScoreThreshold) {
		return nil, nil
	}
	log = log.With(slog.Float64("z_score", z))

	if busy[pair.BaseMarket] || busy[pair.QuoteMarket] {
		log.Info("signal ignored, market already has a position")
		return nil, nil
	}
	baseInfo, ok1 := markets[pair.BaseMarket]
	quoteInfo, ok2 := markets[pair.QuoteMarket]
	if !ok1 || !ok2 {
		log.Warn("signal ignored", slog.String("error", domain.ErrUnknownMarket.Error()))
		return nil, nil
	}

	params := e.buildParams(pair, z, s1[len(s1)-1], s2[len(s2)-1], baseInfo, quoteInfo)
	if !params.Size1.IsPositive() || params.Size1.LessThan(baseInfo.MinOrderSize) ||
		!params.Size2.IsPositive() || params.Size2.LessThan(quoteInfo.MinOrderSize) {
		log.Info("signal ignored, order size below market minimum",
			slog.String("base_size", params.Size1.String()),
			slog.String("quote_size", params.Size2.String()),
		)
		return nil, nil
	}

	acct, err := e.ex.Account(ctx)
	if err != nil {
		log.Warn("account unavailable, halting entry pass", slog.String("error", err.Error()))
		return nil, errHalt
	}
	e.metrics.SetFreeCollateral(acct.FreeCollateral)
	if acct.FreeCollateral < e.cfg.USDMinCollateral {
		log.Info("free collateral below minimum, halting entry pass",
			slog.Float64("free_collateral", acct.FreeCollateral),
			slog.Float64("minimum", e.cfg.USDMinCollateral),
		)
		return nil, errHalt
	}

	res, err := e.opener.Open(ctx, params)
	if err != nil {
		return nil, err
	}
	if res.Position.Status != domain.PairStatusLive {
		log.Warn("entry attempt not live",
			slog.String("status", string(res.Position.Status)),
			slog.String("comments", res.Position.Comments),
		)
		return nil, nil
	}
	log.Info("pair position live", slog.String("id", res.Position.ID))
	return &res.Position, nil
}

func (e *Entry) buildParams(pair domain.CointegratedPair, z, basePrice, quotePrice float64, baseInfo, quoteInfo domain.Market) agent.Params {
	baseSide, quoteSide := signal.EntrySides(z)

	failsafe := basePrice * e.cfg.FailsafeHigh
	if baseSide == domain.OrderSideBuy {
		// The unwind of a long base leg sells.
		failsafe = basePrice * e.cfg.FailsafeLow
	}

	failsafePrice := FormatPrice(failsafe, baseInfo.TickSize)
	if !failsafePrice.IsPositive() {
		failsafePrice = baseInfo.TickSize
	}

	return agent.Params{
		Market1:        pair.BaseMarket,
		Market2:        pair.QuoteMarket,
		Side1:          baseSide,
		Side2:          quoteSide,
		Size1:          FormatSize(e.cfg.USDPerTrade/basePrice, baseInfo.StepSize),
		Size2:          FormatSize(e.cfg.USDPerTrade/quotePrice, quoteInfo.StepSize),
		Price1:         FormatPrice(aggressivePrice(baseSide, basePrice, e.cfg.EntrySlippage), baseInfo.TickSize),
		Price2:         FormatPrice(aggressivePrice(quoteSide, quotePrice, e.cfg.EntrySlippage), quoteInfo.TickSize),
		FailsafePrice1: failsafePrice,
		ZScore:         z,
		HedgeRatio:     pair.HedgeRatio,
		HalfLife:       pair.HalfLife,
	}
}
