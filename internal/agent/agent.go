// Package agent opens a two-legged pair position: submit leg 1, confirm it,
// submit leg 2, confirm it, and unwind leg 1 when leg 2 does not fill.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pairbot/statarb/internal/domain"
	"github.com/pairbot/statarb/internal/metrics"
)

// State is a step of the entry state machine.
type State string

const (
	StateInit                State = "INIT"
	StateLeg1Submitted       State = "LEG1_SUBMITTED"
	StateLeg1Confirmed       State = "LEG1_CONFIRMED"
	StateLeg2Submitted       State = "LEG2_SUBMITTED"
	StateLive                State = "LIVE"
	StateLeg1UnwindSubmitted State = "LEG1_UNWIND_SUBMITTED"
	StateLeg1UnwindConfirmed State = "LEG1_UNWIND_CONFIRMED"
	StateError               State = "ERROR"
	StateFailed              State = "FAILED"
	StateStranded            State = "STRANDED"
)

// Escalation codes carried in the operator alert.
const (
	CodeUnwindNotFilled = 100
	CodeUnwindRejected  = 101
)

// StrandedLegError reports a filled leg 1 that could not be unwound. The
// process must stop trading when it sees one.
type StrandedLegError struct {
	Market  string
	OrderID string
	Code    int
	Cause   error
}

func (e *StrandedLegError) Error() string {
	msg := fmt.Sprintf("agent: stranded leg on %s (order %s, code %d)", e.Market, e.OrderID, e.Code)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StrandedLegError) Unwrap() []error {
	if e.Cause == nil {
		return []error{domain.ErrStrandedLeg}
	}
	return []error{domain.ErrStrandedLeg, e.Cause}
}

// Params describes one entry attempt. Prices are already tick-formatted and
// sizes step-formatted.
type Params struct {
	Market1        string
	Market2        string
	Side1          domain.OrderSide
	Side2          domain.OrderSide
	Size1          decimal.Decimal
	Size2          decimal.Decimal
	Price1         decimal.Decimal
	Price2         decimal.Decimal
	FailsafePrice1 decimal.Decimal
	ZScore         float64
	HedgeRatio     float64
	HalfLife       float64
}

func (p Params) validate() error {
	var errs []error
	if p.Market1 == "" || p.Market2 == "" {
		errs = append(errs, errors.New("both markets are required"))
	}
	if p.Market1 == p.Market2 {
		errs = append(errs, errors.New("legs must trade different markets"))
	}
	if !p.Size1.IsPositive() || !p.Size2.IsPositive() {
		errs = append(errs, errors.New("sizes must be positive"))
	}
	if !p.Price1.IsPositive() || !p.Price2.IsPositive() || !p.FailsafePrice1.IsPositive() {
		errs = append(errs, errors.New("prices must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidOrder, errors.Join(errs...))
	}
	return nil
}

// Config wires the collaborators of an Agent. Zero policies fall back to the
// defaults.
type Config struct {
	Client        OrderClient
	Notifier      domain.Notifier
	Clock         Clock
	ConfirmPolicy Policy
	UnwindPolicy  Policy
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Agent executes entry attempts. It is safe to reuse across attempts but not
// for concurrent ones.
type Agent struct {
	client   OrderClient
	notifier domain.Notifier
	clock    Clock
	confirm  Policy
	unwind   Policy
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates an Agent.
func New(cfg Config) *Agent {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.ConfirmPolicy == (Policy{}) {
		cfg.ConfirmPolicy = DefaultConfirmPolicy()
	}
	if cfg.UnwindPolicy == (Policy{}) {
		cfg.UnwindPolicy = DefaultUnwindPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Agent{
		client:   cfg.Client,
		notifier: cfg.Notifier,
		clock:    cfg.Clock,
		confirm:  cfg.ConfirmPolicy,
		unwind:   cfg.UnwindPolicy,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With(slog.String("component", "agent")),
	}
}

// attempt carries the state of one run of Open.
type attempt struct {
	params  Params
	pos     domain.PairPosition
	state   State
	history []State
	log     *slog.Logger
}

func (at *attempt) to(s State) {
	at.log.Debug("state transition", slog.String("from", string(at.state)), slog.String("to", string(s)))
	at.state = s
	at.history = append(at.history, s)
}

func (at *attempt) finish(status domain.PairStatus, state State, comment string) {
	at.pos.Status = status
	if comment != "" {
		if at.pos.Comments != "" {
			at.pos.Comments += "; "
		}
		at.pos.Comments += comment
	}
	at.to(state)
}

// Result is what Open returns alongside any fatal error.
type Result struct {
	Position domain.PairPosition
	// Transitions lists the states visited after INIT, in order.
	Transitions []State
}

// Open runs one entry attempt. The returned position always carries a
// status; only LIVE positions belong in the ledger. The error is non-nil
// only for a *StrandedLegError, which is fatal to the trading loop.
func (a *Agent) Open(ctx context.Context, p Params) (Result, error) {
	at := &attempt{
		params: p,
		state:  StateInit,
		log: a.logger.With(
			slog.String("market_1", p.Market1),
			slog.String("market_2", p.Market2),
		),
		pos: domain.PairPosition{
			ID:         uuid.NewString(),
			Leg1:       domain.Leg{Market: p.Market1, Size: p.Size1, Side: p.Side1},
			Leg2:       domain.Leg{Market: p.Market2, Size: p.Size2, Side: p.Side2},
			HedgeRatio: p.HedgeRatio,
			ZScore:     p.ZScore,
			HalfLife:   p.HalfLife,
		},
	}

	err := a.run(ctx, at)
	a.metrics.PairEntry(string(at.pos.Status))
	at.log.Info("entry attempt finished",
		slog.String("status", string(at.pos.Status)),
		slog.String("state", string(at.state)),
		slog.String("comments", at.pos.Comments),
	)
	return Result{Position: at.pos, Transitions: at.history}, err
}

func (a *Agent) run(ctx context.Context, at *attempt) error {
	p := at.params
	if err := p.validate(); err != nil {
		at.finish(domain.PairStatusFailed, StateFailed, err.Error())
		return nil
	}
	if err := ctx.Err(); err != nil {
		at.finish(domain.PairStatusFailed, StateFailed, "aborted before submission: "+err.Error())
		return nil
	}

	// Leg 1.
	order1, err := a.place(ctx, p.Market1, p.Side1, p.Size1, p.Price1, false)
	if err != nil {
		at.finish(domain.PairStatusError, StateError, fmt.Sprintf("market 1 %s: %v", p.Market1, err))
		return nil
	}
	at.pos.Leg1.OrderID = order1.ID
	at.pos.Leg1.SubmittedAt = a.clock.Now()
	at.to(StateLeg1Submitted)

	c1 := confirm(ctx, a.client, a.clock, a.confirm, order1.ID, at.log)
	if !c1.Filled() {
		at.finish(domain.PairStatusError, StateError, fmt.Sprintf("%s failed to fill: %s", p.Market1, c1))
		return nil
	}
	at.to(StateLeg1Confirmed)

	// Leg 2.
	order2, err := a.place(ctx, p.Market2, p.Side2, p.Size2, p.Price2, false)
	if err != nil {
		at.pos.Comments = fmt.Sprintf("market 2 %s: %v", p.Market2, err)
		return a.unwindLeg1(ctx, at)
	}
	at.pos.Leg2.OrderID = order2.ID
	at.pos.Leg2.SubmittedAt = a.clock.Now()
	at.to(StateLeg2Submitted)

	c2 := confirm(ctx, a.client, a.clock, a.confirm, order2.ID, at.log)
	if !c2.Filled() {
		at.pos.Comments = fmt.Sprintf("%s failed to fill: %s", p.Market2, c2)
		return a.unwindLeg1(ctx, at)
	}

	at.pos.OpenedAt = a.clock.Now()
	at.finish(domain.PairStatusLive, StateLive, "")
	return nil
}

// unwindLeg1 closes the filled leg 1 with a reduce-only order at the
// failsafe price. The unwind runs even when ctx is already cancelled.
func (a *Agent) unwindLeg1(ctx context.Context, at *attempt) error {
	ctx = context.WithoutCancel(ctx)
	p := at.params
	at.log.Warn("unwinding leg 1",
		slog.String("order_id", at.pos.Leg1.OrderID),
		slog.String("reason", at.pos.Comments),
	)

	order, err := a.place(ctx, p.Market1, p.Side1.Opposite(), p.Size1, p.FailsafePrice1, true)
	if err != nil {
		return a.escalate(ctx, at, CodeUnwindRejected, err)
	}
	at.to(StateLeg1UnwindSubmitted)

	c := confirm(ctx, a.client, a.clock, a.unwind, order.ID, at.log)
	if !c.Filled() {
		return a.escalate(ctx, at, CodeUnwindNotFilled, fmt.Errorf("unwind order %s %s", order.ID, c))
	}
	a.metrics.Unwind("filled")
	at.to(StateLeg1UnwindConfirmed)
	at.finish(domain.PairStatusError, StateError, "leg 1 unwound")
	return nil
}

func (a *Agent) escalate(ctx context.Context, at *attempt, code int, cause error) error {
	a.metrics.Unwind("stranded")
	at.finish(domain.PairStatusError, StateStranded, fmt.Sprintf("unwind failed: %v", cause))

	msg := fmt.Sprintf("Failed to execute. Code red. Error code: %d. Market %s order %s is stranded: %v",
		code, at.params.Market1, at.pos.Leg1.OrderID, cause)
	at.log.Error("stranded leg", slog.Int("code", code), slog.String("error", cause.Error()))

	if a.notifier != nil {
		nctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := a.notifier.SendMessage(nctx, msg); err != nil {
			at.log.Error("stranded leg alert not delivered", slog.String("error", err.Error()))
		}
	}
	return &StrandedLegError{
		Market:  at.params.Market1,
		OrderID: at.pos.Leg1.OrderID,
		Code:    code,
		Cause:   cause,
	}
}

func (a *Agent) place(ctx context.Context, market string, side domain.OrderSide, size, price decimal.Decimal, reduceOnly bool) (domain.Order, error) {
	req := domain.OrderRequest{
		ClientID:    uuid.NewString(),
		Market:      market,
		Side:        side,
		Size:        size,
		Price:       price,
		ReduceOnly:  reduceOnly,
		TimeInForce: domain.TimeInForceFOK,
	}
	order, err := a.client.PlaceOrder(ctx, req)
	if err != nil {
		return domain.Order{}, err
	}
	a.metrics.OrderPlaced(market, string(side), reduceOnly)
	a.logger.Info("order placed",
		slog.String("market", market),
		slog.String("side", string(side)),
		slog.String("size", size.String()),
		slog.String("price", price.String()),
		slog.Bool("reduce_only", reduceOnly),
		slog.String("order_id", order.ID),
	)
	return order, nil
}
