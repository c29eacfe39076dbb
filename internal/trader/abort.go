package trader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pairbot/statarb/internal/agent"
	"github.com/pairbot/statarb/internal/domain"
)

// AbortExchange is the exchange surface needed to flatten the account.
type AbortExchange interface {
	Markets(ctx context.Context) (map[string]domain.Market, error)
	OpenPositions(ctx context.Context) ([]domain.ExchangePosition, error)
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	CancelAllOrders(ctx context.Context, market string) error
}

// Abort cancels every order, closes every position and clears the ledger.
type Abort struct {
	ex     AbortExchange
	prices CloseSource
	ledger domain.LedgerStore
	clock  agent.Clock
	cfg    Config
	logger *slog.Logger
}

// NewAbort creates an Abort.
func NewAbort(ex AbortExchange, prices CloseSource, ledger domain.LedgerStore, clock agent.Clock, cfg Config, logger *slog.Logger) *Abort {
	if clock == nil {
		clock = agent.SystemClock{}
	}
	return &Abort{
		ex:     ex,
		prices: prices,
		ledger: ledger,
		clock:  clock,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "abort")),
	}
}

// Run flattens the account. Closing continues past individual failures; the
// ledger is cleared only when every position was closed.
func (a *Abort) Run(ctx context.Context) error {
	if err := a.ex.CancelAllOrders(ctx, ""); err != nil {
		return fmt.Errorf("trader: abort: cancel orders: %w", err)
	}
	positions, err := a.ex.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("trader: abort: open positions: %w", err)
	}
	markets, err := a.ex.Markets(ctx)
	if err != nil {
		return fmt.Errorf("trader: abort: markets: %w", err)
	}

	var errs []error
	for i, p := range positions {
		if i > 0 {
			if err := a.clock.Sleep(ctx, a.cfg.ClosePause); err != nil {
				return errors.Join(append(errs, err)...)
			}
		}
		if err := a.closePosition(ctx, p, markets[p.Market]); err != nil {
			a.logger.Error("close failed", slog.String("market", p.Market), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		a.logger.Info("position closed", slog.String("market", p.Market), slog.String("size", p.Size.String()))
	}
	if len(errs) > 0 {
		return fmt.Errorf("trader: abort: %w", errors.Join(errs...))
	}

	if err := a.ledger.Save(ctx, nil); err != nil {
		return fmt.Errorf("trader: abort: clear ledger: %w", err)
	}
	a.logger.Info("all positions closed", slog.Int("count", len(positions)))
	return nil
}

func (a *Abort) closePosition(ctx context.Context, p domain.ExchangePosition, info domain.Market) error {
	side := domain.OrderSideSell
	mult := a.cfg.FailsafeLow
	if p.Side == "SHORT" {
		side = domain.OrderSideBuy
		mult = a.cfg.FailsafeHigh
	}

	closes, err := a.prices.RecentCloses(ctx, p.Market)
	if err != nil {
		return fmt.Errorf("%s prices: %w", p.Market, err)
	}
	if len(closes) == 0 {
		return fmt.Errorf("%s prices: %w", p.Market, domain.ErrInsufficientData)
	}
	price := FormatPrice(closes[len(closes)-1]*mult, info.TickSize)
	if !price.IsPositive() {
		price = info.TickSize
	}
	if !price.IsPositive() {
		price = decimal.NewFromFloat(closes[len(closes)-1] * mult)
	}

	order, err := a.ex.PlaceOrder(ctx, domain.OrderRequest{
		ClientID:    uuid.NewString(),
		Market:      p.Market,
		Side:        side,
		Size:        p.Size,
		Price:       price,
		ReduceOnly:  true,
		TimeInForce: domain.TimeInForceFOK,
	})
	if err != nil {
		return fmt.Errorf("%s close order: %w", p.Market, err)
	}
	if order.Status.Canceled() {
		return fmt.Errorf("%s close order canceled", p.Market)
	}
	return nil
}
