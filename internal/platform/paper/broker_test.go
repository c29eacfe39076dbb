package paper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pairbot/statarb/internal/domain"
)

type staticData struct {
	closes map[string]float64
}

func (s *staticData) Markets(context.Context) (map[string]domain.Market, error) {
	out := make(map[string]domain.Market, len(s.closes))
	for m := range s.closes {
		out[m] = domain.Market{Ticker: m, Status: "ACTIVE"}
	}
	return out, nil
}

func (s *staticData) Candles(_ context.Context, market string, _ domain.CandleQuery) ([]domain.Candle, error) {
	c, ok := s.closes[market]
	if !ok {
		return nil, domain.ErrUnknownMarket
	}
	return []domain.Candle{{Market: market, StartedAt: time.Now(), Close: c}}, nil
}

func newBroker(t *testing.T, cfg Config, closes map[string]float64) *Broker {
	t.Helper()
	if cfg.InitialCollateral == 0 {
		cfg.InitialCollateral = 1000
	}
	b, err := New(&staticData{closes: closes}, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func req(market string, side domain.OrderSide, size, price string, reduceOnly bool) domain.OrderRequest {
	return domain.OrderRequest{
		Market: market, Side: side, Size: d(size), Price: d(price),
		ReduceOnly: reduceOnly, TimeInForce: domain.TimeInForceFOK,
	}
}

func TestMarketableOrderFills(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, Config{}, map[string]float64{"BTC-USD": 100})

	o, err := b.PlaceOrder(ctx, req("BTC-USD", domain.OrderSideBuy, "1", "101", false))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if o.Status != domain.OrderStatusFilled {
		t.Fatalf("status = %s", o.Status)
	}
	got, err := b.GetOrder(ctx, o.ID)
	if err != nil || got.Status != domain.OrderStatusFilled || !got.Size.Equal(d("1")) {
		t.Fatalf("GetOrder = %+v, %v", got, err)
	}

	positions, _ := b.OpenPositions(ctx)
	if len(positions) != 1 || positions[0].Side != "LONG" || !positions[0].Size.Equal(d("1")) {
		t.Fatalf("positions = %+v", positions)
	}
	acct, _ := b.Account(ctx)
	if acct.FreeCollateral != 990 {
		t.Errorf("free collateral = %v, want 990", acct.FreeCollateral)
	}
}

func TestUnmarketableOrderIsCanceled(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, Config{}, map[string]float64{"ETH-USD": 50})

	o, err := b.PlaceOrder(ctx, req("ETH-USD", domain.OrderSideSell, "1", "55", false))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if o.Status != domain.OrderStatusCanceled {
		t.Fatalf("status = %s, want CANCELED", o.Status)
	}
	if positions, _ := b.OpenPositions(ctx); len(positions) != 0 {
		t.Errorf("positions = %+v", positions)
	}
}

func TestReduceOnlyRules(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, Config{}, map[string]float64{"SOL-USD": 20})

	if o, _ := b.PlaceOrder(ctx, req("SOL-USD", domain.OrderSideSell, "1", "19", true)); o.Status != domain.OrderStatusCanceled {
		t.Fatalf("reduce-only without position: %s", o.Status)
	}
	if _, err := b.PlaceOrder(ctx, req("SOL-USD", domain.OrderSideSell, "2", "19", false)); err != nil {
		t.Fatal(err)
	}
	if o, _ := b.PlaceOrder(ctx, req("SOL-USD", domain.OrderSideSell, "1", "19", true)); o.Status != domain.OrderStatusCanceled {
		t.Errorf("reduce-only increasing a short: %s", o.Status)
	}
	if o, _ := b.PlaceOrder(ctx, req("SOL-USD", domain.OrderSideBuy, "3", "21", true)); o.Status != domain.OrderStatusCanceled {
		t.Errorf("reduce-only larger than position: %s", o.Status)
	}
	if o, _ := b.PlaceOrder(ctx, req("SOL-USD", domain.OrderSideBuy, "2", "21", true)); o.Status != domain.OrderStatusFilled {
		t.Fatalf("closing reduce-only: %s", o.Status)
	}
	if positions, _ := b.OpenPositions(ctx); len(positions) != 0 {
		t.Errorf("position not closed: %+v", positions)
	}
}

func TestRealisedPnLMovesCash(t *testing.T) {
	ctx := context.Background()
	data := &staticData{closes: map[string]float64{"BTC-USD": 100}}
	b, err := New(data, Config{InitialCollateral: 1000}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.PlaceOrder(ctx, req("BTC-USD", domain.OrderSideBuy, "2", "100", false)); err != nil {
		t.Fatal(err)
	}
	data.closes["BTC-USD"] = 110
	if _, err := b.PlaceOrder(ctx, req("BTC-USD", domain.OrderSideSell, "2", "100", true)); err != nil {
		t.Fatal(err)
	}
	acct, _ := b.Account(ctx)
	if acct.Equity != 1020 {
		t.Errorf("equity = %v, want 1020", acct.Equity)
	}
}

func TestInsufficientCollateralCancels(t *testing.T) {
	b := newBroker(t, Config{InitialCollateral: 10}, map[string]float64{"BTC-USD": 60000})
	o, err := b.PlaceOrder(context.Background(), req("BTC-USD", domain.OrderSideBuy, "1", "61000", false))
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != domain.OrderStatusCanceled {
		t.Errorf("status = %s", o.Status)
	}
}

func TestUnknownOrder(t *testing.T) {
	b := newBroker(t, Config{}, nil)
	if _, err := b.GetOrder(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "paper.json")
	closes := map[string]float64{"ETH-USD": 3000}

	first := newBroker(t, Config{StatePath: path}, closes)
	o, err := first.PlaceOrder(ctx, req("ETH-USD", domain.OrderSideSell, "0.1", "2900", false))
	if err != nil {
		t.Fatal(err)
	}

	second := newBroker(t, Config{StatePath: path}, closes)
	got, err := second.GetOrder(ctx, o.ID)
	if err != nil || got.Status != domain.OrderStatusFilled {
		t.Fatalf("restored order = %+v, %v", got, err)
	}
	positions, _ := second.OpenPositions(ctx)
	if len(positions) != 1 || positions[0].Side != "SHORT" {
		t.Fatalf("restored positions = %+v", positions)
	}
}

func TestOrderHistoryPrunesSettledOrders(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t, Config{OrderHistory: 3}, map[string]float64{"BTC-USD": 100, "ETH-USD": 50})
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	tick := 0
	b.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	place := func(r domain.OrderRequest) domain.Order {
		t.Helper()
		o, err := b.PlaceOrder(ctx, r)
		if err != nil {
			t.Fatalf("PlaceOrder: %v", err)
		}
		return o
	}
	held := place(req("BTC-USD", domain.OrderSideBuy, "1", "101", false))
	var canceled []domain.Order
	for range 4 {
		canceled = append(canceled, place(req("ETH-USD", domain.OrderSideSell, "1", "55", false)))
	}

	if len(b.st.Orders) != 3 {
		t.Fatalf("retained %d orders, want 3", len(b.st.Orders))
	}
	if _, err := b.GetOrder(ctx, held.ID); err != nil {
		t.Fatalf("fill on a held market was dropped: %v", err)
	}
	for _, o := range canceled[:2] {
		if _, err := b.GetOrder(ctx, o.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("oldest canceled order %s kept: %v", o.ID, err)
		}
	}

	if o := place(req("BTC-USD", domain.OrderSideSell, "1", "99", true)); o.Status != domain.OrderStatusFilled {
		t.Fatalf("close status = %s", o.Status)
	}
	if _, err := b.GetOrder(ctx, held.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("fill on a flat market should be prunable, got %v", err)
	}
}
