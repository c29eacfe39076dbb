package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pairbot/statarb/internal/domain"
)

// legPlan scripts the exchange's behaviour for one kind of order.
type legPlan struct {
	placeErr error
	getErr   error
	statuses []domain.OrderStatus // returned in order; the last one repeats
}

type fakeClient struct {
	mu       sync.Mutex
	plans    map[string]legPlan // keyed by market, or market+"/unwind" for reduce-only
	placed   []domain.OrderRequest
	orders   map[string]domain.OrderRequest
	checks   map[string]int
	canceled []string
}

func newFakeClient(plans map[string]legPlan) *fakeClient {
	return &fakeClient{
		plans:  plans,
		orders: make(map[string]domain.OrderRequest),
		checks: make(map[string]int),
	}
}

func planKey(req domain.OrderRequest) string {
	if req.ReduceOnly {
		return req.Market + "/unwind"
	}
	return req.Market
}

func (f *fakeClient) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.plans[planKey(req)].placeErr; err != nil {
		return domain.Order{}, err
	}
	f.placed = append(f.placed, req)
	id := fmt.Sprintf("ord-%d", len(f.placed))
	f.orders[id] = req
	return domain.Order{ID: id, ClientID: req.ClientID, Market: req.Market, Side: req.Side, Size: req.Size, Status: domain.OrderStatusPending}, nil
}

func (f *fakeClient) GetOrder(_ context.Context, id string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	plan := f.plans[planKey(req)]
	if plan.getErr != nil {
		return domain.Order{}, plan.getErr
	}
	n := f.checks[id]
	f.checks[id] = n + 1
	status := domain.OrderStatusOpen
	if len(plan.statuses) > 0 {
		if n >= len(plan.statuses) {
			n = len(plan.statuses) - 1
		}
		status = plan.statuses[n]
	}
	return domain.Order{ID: id, Market: req.Market, Side: req.Side, Size: req.Size, ReduceOnly: req.ReduceOnly, Status: status}, nil
}

func (f *fakeClient) CancelOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
	return nil
}

func (f *fakeClient) reduceOnly() []domain.OrderRequest {
	var out []domain.OrderRequest
	for _, r := range f.placed {
		if r.ReduceOnly {
			out = append(out, r)
		}
	}
	return out
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (n *fakeNotifier) SendMessage(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return n.err
}

func testParams() Params {
	return Params{
		Market1:        "BTC-USD",
		Market2:        "ETH-USD",
		Side1:          domain.OrderSideBuy,
		Side2:          domain.OrderSideSell,
		Size1:          decimal.RequireFromString("0.002"),
		Size2:          decimal.RequireFromString("0.03"),
		Price1:         decimal.RequireFromString("50500"),
		Price2:         decimal.RequireFromString("2970"),
		FailsafePrice1: decimal.RequireFromString("2500"),
		ZScore:         -2.1,
		HedgeRatio:     16.4,
		HalfLife:       7,
	}
}

func newTestAgent(client *fakeClient, n *fakeNotifier, clock *fakeClock) *Agent {
	cfg := Config{
		Client: client,
		Clock:  clock,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if n != nil {
		cfg.Notifier = n
	}
	return New(cfg)
}

var filled = []domain.OrderStatus{domain.OrderStatusFilled}

func TestOpenBothLegsFilledIsLive(t *testing.T) {
	client := newFakeClient(map[string]legPlan{
		"BTC-USD": {statuses: filled},
		"ETH-USD": {statuses: filled},
	})
	clock := newFakeClock()
	a := newTestAgent(client, &fakeNotifier{}, clock)

	res, err := a.Open(context.Background(), testParams())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pos := res.Position
	if pos.Status != domain.PairStatusLive {
		t.Fatalf("status = %s, comments %q", pos.Status, pos.Comments)
	}
	if pos.Leg1.OrderID != "ord-1" || pos.Leg2.OrderID != "ord-2" {
		t.Errorf("order ids = %s, %s", pos.Leg1.OrderID, pos.Leg2.OrderID)
	}
	if !pos.Leg1.Size.Equal(testParams().Size1) || pos.Leg2.Side != domain.OrderSideSell {
		t.Errorf("legs not recorded as submitted: %+v %+v", pos.Leg1, pos.Leg2)
	}
	if pos.HedgeRatio != 16.4 || pos.ZScore != -2.1 || pos.HalfLife != 7 {
		t.Errorf("signal values not carried: %+v", pos)
	}
	want := []State{StateLeg1Submitted, StateLeg1Confirmed, StateLeg2Submitted, StateLive}
	if fmt.Sprint(res.Transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", res.Transitions, want)
	}
	if len(client.reduceOnly()) != 0 {
		t.Error("no reduce-only order expected on success")
	}
	if fmt.Sprint(clock.sleeps) != fmt.Sprint([]time.Duration{2 * time.Second, 2 * time.Second}) {
		t.Errorf("sleeps = %v", clock.sleeps)
	}
	for _, r := range client.placed {
		if r.TimeInForce != domain.TimeInForceFOK {
			t.Errorf("order on %s placed with %s", r.Market, r.TimeInForce)
		}
	}
}

func TestLeg1CanceledNeverSubmitsLeg2(t *testing.T) {
	client := newFakeClient(map[string]legPlan{
		"BTC-USD": {statuses: []domain.OrderStatus{domain.OrderStatusCanceled}},
		"ETH-USD": {statuses: filled},
	})
	n := &fakeNotifier{}
	a := newTestAgent(client, n, newFakeClock())

	res, err := a.Open(context.Background(), testParams())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(client.placed) != 1 {
		t.Fatalf("placed %d orders, want only leg 1", len(client.placed))
	}
	if res.Position.Status != domain.PairStatusError {
		t.Errorf("status = %s, want ERROR", res.Position.Status)
	}
	if !strings.Contains(res.Position.Comments, "BTC-USD") {
		t.Errorf("comments %q should name leg 1 market", res.Position.Comments)
	}
	if len(n.messages) != 0 {
		t.Error("no alert expected when nothing is stranded")
	}
}

func TestLeg1UnfilledIsCanceledAfterRecheck(t *testing.T) {
	client := newFakeClient(map[string]legPlan{
		"BTC-USD": {statuses: []domain.OrderStatus{domain.OrderStatusOpen}},
	})
	clock := newFakeClock()
	a := newTestAgent(client, nil, clock)

	res, err := a.Open(context.Background(), testParams())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if res.Position.Status != domain.PairStatusError {
		t.Errorf("status = %s", res.Position.Status)
	}
	if fmt.Sprint(clock.sleeps) != fmt.Sprint([]time.Duration{2 * time.Second, 15 * time.Second}) {
		t.Errorf("sleeps = %v, want settle then recheck", clock.sleeps)
	}
	if len(client.canceled) != 1 || client.canceled[0] != "ord-1" {
		t.Errorf("canceled = %v, want [ord-1]", client.canceled)
	}
	if len(client.placed) != 1 {
		t.Errorf("leg 2 must not be submitted, placed %d", len(client.placed))
	}
}

func TestLeg2UnfilledUnwindsLeg1(t *testing.T) {
	client := newFakeClient(map[string]legPlan{
		"BTC-USD":        {statuses: filled},
		"ETH-USD":        {statuses: []domain.OrderStatus{domain.OrderStatusOpen}},
		"BTC-USD/unwind": {statuses: filled},
	})
	n := &fakeNotifier{}
	a := newTestAgent(client, n, newFakeClock())
	p := testParams()

	res, err := a.Open(context.Background(), p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	unwinds := client.reduceOnly()
	if len(unwinds) != 1 {
		t.Fatalf("reduce-only orders = %d, want exactly 1", len(unwinds))
	}
	u := unwinds[0]
	if u.Market != p.Market1 || u.Side != domain.OrderSideSell || !u.Size.Equal(p.Size1) || !u.Price.Equal(p.FailsafePrice1) {
		t.Errorf("unwind order = %+v", u)
	}
	if res.Position.Status != domain.PairStatusError {
		t.Errorf("status = %s, want ERROR", res.Position.Status)
	}
	if !strings.Contains(res.Position.Comments, "ETH-USD") {
		t.Errorf("comments %q should name leg 2 market", res.Position.Comments)
	}
	if len(n.messages) != 0 {
		t.Errorf("alert sent after a confirmed unwind: %v", n.messages)
	}
	if last := res.Transitions[len(res.Transitions)-1]; last != StateError {
		t.Errorf("final state = %s", last)
	}
	// leg 2 was cancelled after its window, the unwind was not.
	if fmt.Sprint(client.canceled) != "[ord-2]" {
		t.Errorf("canceled = %v", client.canceled)
	}
}

func TestLeg2PlacementErrorUnwindsLeg1(t *testing.T) {
	client := newFakeClient(map[string]legPlan{
		"BTC-USD":        {statuses: filled},
		"ETH-USD":        {placeErr: errors.New("insufficient margin")},
		"BTC-USD/unwind": {statuses: filled},
	})
	a := newTestAgent(client, &fakeNotifier{}, newFakeClock())

	res, err := a.Open(context.Background(), testParams())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(client.reduceOnly()) != 1 {
		t.Fatalf("expected a single unwind, placed %+v", client.placed)
	}
	if !strings.Contains(res.Position.Comments, "insufficient margin") {
		t.Errorf("comments %q should carry the exchange error", res.Position.Comments)
	}
}

func TestUnwindNotFilledIsStranded(t *testing.T) {
	client := newFakeClient(map[string]legPlan{
		"BTC-USD":        {statuses: filled},
		"ETH-USD":        {statuses: []domain.OrderStatus{domain.OrderStatusCanceled}},
		"BTC-USD/unwind": {statuses: []domain.OrderStatus{domain.OrderStatusOpen}},
	})
	n := &fakeNotifier{}
	a := newTestAgent(client, n, newFakeClock())

	res, err := a.Open(context.Background(), testParams())
	var stranded *StrandedLegError
	if !errors.As(err, &stranded) {
		t.Fatalf("err = %v, want *StrandedLegError", err)
	}
	if !errors.Is(err, domain.ErrStrandedLeg) {
		t.Error("stranded error should match domain.ErrStrandedLeg")
	}
	if stranded.Market != "BTC-USD" || stranded.OrderID != "ord-1" || stranded.Code != CodeUnwindNotFilled {
		t.Errorf("stranded = %+v", stranded)
	}
	if len(n.messages) != 1 {
		t.Fatalf("alerts = %d, want exactly 1", len(n.messages))
	}
	if !strings.Contains(n.messages[0], "Code red") {
		t.Errorf("alert = %q", n.messages[0])
	}
	if len(client.reduceOnly()) != 1 {
		t.Errorf("reduce-only orders = %d, want 1", len(client.reduceOnly()))
	}
	if len(client.canceled) != 0 {
		t.Errorf("unwind order must be left working, canceled %v", client.canceled)
	}
	if res.Position.Status != domain.PairStatusError {
		t.Errorf("status = %s", res.Position.Status)
	}
}

func TestUnwindRejectedIsStrandedEvenIfAlertFails(t *testing.T) {
	client := newFakeClient(map[string]legPlan{
		"BTC-USD":        {statuses: filled},
		"ETH-USD":        {statuses: []domain.OrderStatus{domain.OrderStatusCanceled}},
		"BTC-USD/unwind": {placeErr: errors.New("reduce-only rejected")},
	})
	n := &fakeNotifier{err: errors.New("telegram down")}
	a := newTestAgent(client, n, newFakeClock())

	_, err := a.Open(context.Background(), testParams())
	var stranded *StrandedLegError
	if !errors.As(err, &stranded) {
		t.Fatalf("err = %v, want *StrandedLegError", err)
	}
	if stranded.Code != CodeUnwindRejected {
		t.Errorf("code = %d", stranded.Code)
	}
	if len(n.messages) != 1 {
		t.Errorf("alert attempts = %d, want 1", len(n.messages))
	}
}

func TestInvalidParamsFailWithoutOrders(t *testing.T) {
	client := newFakeClient(nil)
	a := newTestAgent(client, nil, newFakeClock())
	p := testParams()
	p.Size2 = decimal.Zero

	res, err := a.Open(context.Background(), p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if res.Position.Status != domain.PairStatusFailed {
		t.Errorf("status = %s, want FAILED", res.Position.Status)
	}
	if len(client.placed) != 0 {
		t.Errorf("placed %d orders", len(client.placed))
	}
}

func TestCancelledContextFailsBeforeSubmission(t *testing.T) {
	client := newFakeClient(nil)
	a := newTestAgent(client, nil, newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, _ := a.Open(ctx, testParams())
	if res.Position.Status != domain.PairStatusFailed || len(client.placed) != 0 {
		t.Errorf("status = %s, placed = %d", res.Position.Status, len(client.placed))
	}
}

func TestStatusLookupErrorIsError(t *testing.T) {
	client := newFakeClient(map[string]legPlan{
		"BTC-USD": {getErr: errors.New("indexer timeout")},
	})
	a := newTestAgent(client, nil, newFakeClock())

	res, err := a.Open(context.Background(), testParams())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if res.Position.Status != domain.PairStatusError {
		t.Errorf("status = %s", res.Position.Status)
	}
	if !strings.Contains(res.Position.Comments, "indexer timeout") {
		t.Errorf("comments = %q", res.Position.Comments)
	}
	if len(client.canceled) != 1 {
		t.Errorf("order with unknown state should be cancelled, got %v", client.canceled)
	}
}

func TestConfirmWindowBoundsRechecks(t *testing.T) {
	client := newFakeClient(map[string]legPlan{
		"BTC-USD": {statuses: []domain.OrderStatus{domain.OrderStatusOpen, domain.OrderStatusFilled}},
	})
	clock := newFakeClock()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	order, _ := client.PlaceOrder(context.Background(), domain.OrderRequest{Market: "BTC-USD"})

	p := DefaultConfirmPolicy()
	p.Timeout = 10 * time.Second
	c := confirm(context.Background(), client, clock, p, order.ID, log)

	if c.Outcome != OutcomeUnconfirmed {
		t.Fatalf("outcome = %s, a fill after the window must not count", c)
	}
	if c.Checks != 1 {
		t.Errorf("checks = %d, want 1", c.Checks)
	}
}

func TestSystemClockMicrosecondPrecision(t *testing.T) {
	now := SystemClock{}.Now()
	if now.Location() != time.UTC {
		t.Errorf("location = %v", now.Location())
	}
	if now.Nanosecond()%1000 != 0 {
		t.Errorf("now = %v carries sub-microsecond digits", now)
	}
}
