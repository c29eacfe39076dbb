// Package paper is an in-memory order venue. Market data comes from a real
// feed; orders, positions and collateral are simulated.
package paper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pairbot/statarb/internal/domain"
)

// MarketData is the feed the broker prices fills against.
type MarketData interface {
	Markets(ctx context.Context) (map[string]domain.Market, error)
	Candles(ctx context.Context, market string, q domain.CandleQuery) ([]domain.Candle, error)
}

// Config configures the simulation.
type Config struct {
	InitialCollateral float64
	// MarginFraction is the initial margin held per unit of notional.
	MarginFraction float64
	// Resolution of the candle whose close is the fill reference.
	Resolution string
	// StatePath, when set, persists orders and positions across restarts.
	StatePath string
	// OrderHistory caps how many orders are retained. Working orders and
	// fills on markets that still hold a position are never dropped.
	OrderHistory int
}

const defaultOrderHistory = 1000

type position struct {
	Size       decimal.Decimal `json:"size"` // signed: long > 0
	EntryPrice decimal.Decimal `json:"entry_price"`
}

type state struct {
	Cash      decimal.Decimal         `json:"cash"`
	Orders    map[string]domain.Order `json:"orders"`
	Positions map[string]*position    `json:"positions"`
}

// Broker simulates fill-or-kill limit orders. A buy fills when its limit is
// at or above the reference close, a sell when at or below; otherwise the
// order is canceled. Reduce-only orders must shrink an existing position.
type Broker struct {
	data   MarketData
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
	st state
}

// New creates a broker, restoring saved state when cfg.StatePath exists.
func New(data MarketData, cfg Config, logger *slog.Logger) (*Broker, error) {
	if cfg.MarginFraction <= 0 {
		cfg.MarginFraction = 0.1
	}
	if cfg.Resolution == "" {
		cfg.Resolution = "1MIN"
	}
	if cfg.OrderHistory <= 0 {
		cfg.OrderHistory = defaultOrderHistory
	}
	b := &Broker{
		data:   data,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "paper_broker")),
		now:    func() time.Time { return time.Now().UTC() },
		st: state{
			Cash:      decimal.NewFromFloat(cfg.InitialCollateral),
			Orders:    make(map[string]domain.Order),
			Positions: make(map[string]*position),
		},
	}
	if cfg.StatePath != "" {
		if err := b.restore(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Broker) Markets(ctx context.Context) (map[string]domain.Market, error) {
	return b.data.Markets(ctx)
}

func (b *Broker) Candles(ctx context.Context, market string, q domain.CandleQuery) ([]domain.Candle, error) {
	return b.data.Candles(ctx, market, q)
}

// PlaceOrder prices the order against the latest close and settles it
// immediately.
func (b *Broker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if req.Market == "" || !req.Size.IsPositive() || !req.Price.IsPositive() {
		return domain.Order{}, fmt.Errorf("paper: place order: %w", domain.ErrInvalidOrder)
	}
	ref, err := b.referencePrice(ctx, req.Market)
	if err != nil {
		return domain.Order{}, fmt.Errorf("paper: place order %s: %w", req.Market, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	order := domain.Order{
		ID:         uuid.NewString(),
		ClientID:   req.ClientID,
		Market:     req.Market,
		Side:       req.Side,
		Size:       req.Size,
		Price:      req.Price,
		ReduceOnly: req.ReduceOnly,
		Status:     domain.OrderStatusCanceled,
		CreatedAt:  b.now(),
	}

	reason := b.rejectReason(req, ref)
	if reason == "" {
		b.fill(req, ref)
		order.Status = domain.OrderStatusFilled
	}
	b.st.Orders[order.ID] = order
	b.prune()
	b.logger.Info("paper order",
		slog.String("order_id", order.ID),
		slog.String("market", req.Market),
		slog.String("side", string(req.Side)),
		slog.String("size", req.Size.String()),
		slog.String("limit", req.Price.String()),
		slog.String("reference", ref.String()),
		slog.String("status", string(order.Status)),
		slog.String("reason", reason),
	)
	if err := b.persist(); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (b *Broker) rejectReason(req domain.OrderRequest, ref decimal.Decimal) string {
	switch req.Side {
	case domain.OrderSideBuy:
		if req.Price.LessThan(ref) {
			return "limit below market"
		}
	case domain.OrderSideSell:
		if req.Price.GreaterThan(ref) {
			return "limit above market"
		}
	default:
		return "unknown side"
	}

	pos := b.st.Positions[req.Market]
	if req.ReduceOnly {
		if pos == nil || pos.Size.IsZero() {
			return "reduce-only without position"
		}
		if (pos.Size.IsPositive()) == (req.Side == domain.OrderSideBuy) {
			return "reduce-only would increase position"
		}
		if req.Size.GreaterThan(pos.Size.Abs()) {
			return "reduce-only larger than position"
		}
		return ""
	}

	margin := req.Size.Mul(ref).Mul(decimal.NewFromFloat(b.cfg.MarginFraction))
	if margin.GreaterThan(b.freeCollateralLocked()) {
		return "insufficient collateral"
	}
	return ""
}

// fill applies a fill of req at price to the book. Realised PnL moves to cash.
func (b *Broker) fill(req domain.OrderRequest, price decimal.Decimal) {
	delta := req.Size
	if req.Side == domain.OrderSideSell {
		delta = delta.Neg()
	}
	pos := b.st.Positions[req.Market]
	if pos == nil {
		pos = &position{}
		b.st.Positions[req.Market] = pos
	}

	switch {
	case pos.Size.IsZero() || pos.Size.Sign() == delta.Sign():
		// Opening or adding: weighted average entry.
		newSize := pos.Size.Add(delta)
		cost := pos.Size.Abs().Mul(pos.EntryPrice).Add(delta.Abs().Mul(price))
		pos.EntryPrice = cost.Div(newSize.Abs())
		pos.Size = newSize
	default:
		closed := decimal.Min(pos.Size.Abs(), delta.Abs())
		pnl := price.Sub(pos.EntryPrice).Mul(closed)
		if pos.Size.IsNegative() {
			pnl = pnl.Neg()
		}
		b.st.Cash = b.st.Cash.Add(pnl)
		pos.Size = pos.Size.Add(delta)
		if pos.Size.IsZero() {
			delete(b.st.Positions, req.Market)
		} else if pos.Size.Sign() == delta.Sign() {
			// Flipped through zero: the remainder opens at the fill price.
			pos.EntryPrice = price
		}
	}
}

// prune drops the oldest settled orders beyond cfg.OrderHistory. Must be
// called with b.mu held.
func (b *Broker) prune() {
	excess := len(b.st.Orders) - b.cfg.OrderHistory
	if excess <= 0 {
		return
	}
	var stale []domain.Order
	for _, o := range b.st.Orders {
		switch o.Status {
		case domain.OrderStatusOpen, domain.OrderStatusPending:
			continue
		case domain.OrderStatusFilled:
			if _, held := b.st.Positions[o.Market]; held {
				continue
			}
		}
		stale = append(stale, o)
	}
	slices.SortFunc(stale, func(x, y domain.Order) int { return x.CreatedAt.Compare(y.CreatedAt) })
	for _, o := range stale[:min(excess, len(stale))] {
		delete(b.st.Orders, o.ID)
	}
}

func (b *Broker) GetOrder(_ context.Context, id string) (domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.st.Orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("paper: get order %s: %w", id, domain.ErrNotFound)
	}
	return o, nil
}

// CancelOrder cancels a working order. Fill-or-kill orders are never left
// working, so this only validates the id.
func (b *Broker) CancelOrder(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.st.Orders[id]
	if !ok {
		return fmt.Errorf("paper: cancel order %s: %w", id, domain.ErrNotFound)
	}
	if o.Status == domain.OrderStatusOpen || o.Status == domain.OrderStatusPending {
		o.Status = domain.OrderStatusCanceled
		b.st.Orders[id] = o
		return b.persist()
	}
	return nil
}

// CancelAllOrders cancels working orders on market, or on every market when
// market is empty.
func (b *Broker) CancelAllOrders(_ context.Context, market string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, o := range b.st.Orders {
		if market != "" && o.Market != market {
			continue
		}
		if o.Status == domain.OrderStatusOpen || o.Status == domain.OrderStatusPending {
			o.Status = domain.OrderStatusCanceled
			b.st.Orders[id] = o
		}
	}
	return b.persist()
}

func (b *Broker) OpenPositions(_ context.Context) ([]domain.ExchangePosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.ExchangePosition, 0, len(b.st.Positions))
	for market, p := range b.st.Positions {
		side := "LONG"
		if p.Size.IsNegative() {
			side = "SHORT"
		}
		out = append(out, domain.ExchangePosition{Market: market, Side: side, Size: p.Size.Abs()})
	}
	return out, nil
}

// Account reports cash as equity; unrealised PnL is not marked.
func (b *Broker) Account(_ context.Context) (domain.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.Account{
		Equity:         b.st.Cash.InexactFloat64(),
		FreeCollateral: b.freeCollateralLocked().InexactFloat64(),
	}, nil
}

func (b *Broker) freeCollateralLocked() decimal.Decimal {
	used := decimal.Zero
	mf := decimal.NewFromFloat(b.cfg.MarginFraction)
	for _, p := range b.st.Positions {
		used = used.Add(p.Size.Abs().Mul(p.EntryPrice).Mul(mf))
	}
	return b.st.Cash.Sub(used)
}

func (b *Broker) referencePrice(ctx context.Context, market string) (decimal.Decimal, error) {
	candles, err := b.data.Candles(ctx, market, domain.CandleQuery{Resolution: b.cfg.Resolution, Limit: 1})
	if err != nil {
		return decimal.Zero, err
	}
	if len(candles) == 0 {
		return decimal.Zero, fmt.Errorf("no price for %s: %w", market, domain.ErrInsufficientData)
	}
	return decimal.NewFromFloat(candles[len(candles)-1].Close), nil
}

func (b *Broker) restore() error {
	data, err := os.ReadFile(b.cfg.StatePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("paper: read state: %w", err)
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("paper: decode state: %w", err)
	}
	if st.Orders == nil {
		st.Orders = make(map[string]domain.Order)
	}
	if st.Positions == nil {
		st.Positions = make(map[string]*position)
	}
	b.st = st
	return nil
}

// persist must be called with b.mu held.
func (b *Broker) persist() error {
	if b.cfg.StatePath == "" {
		return nil
	}
	data, err := json.Marshal(b.st)
	if err != nil {
		return fmt.Errorf("paper: encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.cfg.StatePath), 0o755); err != nil {
		return fmt.Errorf("paper: create state dir: %w", err)
	}
	if err := renameio.WriteFile(b.cfg.StatePath, data, 0o644); err != nil {
		return fmt.Errorf("paper: write state: %w", err)
	}
	return nil
}

var _ domain.Exchange = (*Broker)(nil)
