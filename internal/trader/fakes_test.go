package trader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pairbot/statarb/internal/agent"
	"github.com/pairbot/statarb/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeExchange struct {
	mu          sync.Mutex
	account     domain.Account
	accountErr  error
	accountHits int
	markets     map[string]domain.Market
	positions   []domain.ExchangePosition
	posErr      error
	orders      map[string]domain.Order
	orderErr    map[string]error
	placeErr    map[string]error // by market
	placeStatus domain.OrderStatus
	placed      []domain.OrderRequest
	cancelAll   int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		account:     domain.Account{Equity: 1000, FreeCollateral: 1000},
		markets:     map[string]domain.Market{},
		orders:      map[string]domain.Order{},
		orderErr:    map[string]error{},
		placeErr:    map[string]error{},
		placeStatus: domain.OrderStatusFilled,
	}
}

func (f *fakeExchange) addMarket(ticker, tick, step string) {
	f.markets[ticker] = domain.Market{
		Ticker: ticker, Status: "ACTIVE",
		TickSize: dec(tick), StepSize: dec(step), MinOrderSize: dec(step),
	}
}

func (f *fakeExchange) Account(context.Context) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountHits++
	return f.account, f.accountErr
}

func (f *fakeExchange) Markets(context.Context) (map[string]domain.Market, error) {
	return f.markets, nil
}

func (f *fakeExchange) OpenPositions(context.Context) ([]domain.ExchangePosition, error) {
	return f.positions, f.posErr
}

func (f *fakeExchange) GetOrder(_ context.Context, id string) (domain.Order, error) {
	if err := f.orderErr[id]; err != nil {
		return domain.Order{}, err
	}
	o, ok := f.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.placeErr[req.Market]; err != nil {
		return domain.Order{}, err
	}
	f.placed = append(f.placed, req)
	return domain.Order{
		ID: fmt.Sprintf("close-%d", len(f.placed)), Market: req.Market, Side: req.Side,
		Size: req.Size, Price: req.Price, ReduceOnly: req.ReduceOnly, Status: f.placeStatus,
	}, nil
}

func (f *fakeExchange) CancelAllOrders(context.Context, string) error {
	f.cancelAll++
	return nil
}

type fakePrices map[string][]float64

func (p fakePrices) RecentCloses(_ context.Context, market string) ([]float64, error) {
	s, ok := p[market]
	if !ok {
		return nil, fmt.Errorf("no candles for %s", market)
	}
	return s, nil
}

type memLedger struct {
	positions []domain.PairPosition
	saves     int
	loadErr   error
}

func (m *memLedger) Load(context.Context) ([]domain.PairPosition, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make([]domain.PairPosition, len(m.positions))
	copy(out, m.positions)
	return out, nil
}

func (m *memLedger) Save(_ context.Context, positions []domain.PairPosition) error {
	m.saves++
	m.positions = append([]domain.PairPosition(nil), positions...)
	return nil
}

type staticPairs []domain.CointegratedPair

func (s staticPairs) Pairs(context.Context) ([]domain.CointegratedPair, error) { return s, nil }

type fakeOpener struct {
	calls  []agent.Params
	status domain.PairStatus
	err    error
}

func (o *fakeOpener) Open(_ context.Context, p agent.Params) (agent.Result, error) {
	o.calls = append(o.calls, p)
	status := o.status
	if status == "" {
		status = domain.PairStatusLive
	}
	return agent.Result{Position: domain.PairPosition{
		ID:         fmt.Sprintf("pos-%d", len(o.calls)),
		Leg1:       domain.Leg{Market: p.Market1, OrderID: "o1", Size: p.Size1, Side: p.Side1},
		Leg2:       domain.Leg{Market: p.Market2, OrderID: "o2", Size: p.Size2, Side: p.Side2},
		HedgeRatio: p.HedgeRatio,
		ZScore:     p.ZScore,
		HalfLife:   p.HalfLife,
		Status:     status,
	}}, o.err
}

type fakeNotifier struct {
	messages []string
}

func (n *fakeNotifier) SendMessage(_ context.Context, text string) error {
	n.messages = append(n.messages, text)
	return nil
}

type noSleep struct{}

func (noSleep) Now() time.Time { return time.Unix(0, 0) }

func (noSleep) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// flat returns n copies of v.
func flat(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// withLast returns s with its final element replaced.
func withLast(s []float64, v float64) []float64 {
	out := append([]float64(nil), s...)
	out[len(out)-1] = v
	return out
}
