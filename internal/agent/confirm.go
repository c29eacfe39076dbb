package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pairbot/statarb/internal/domain"
)

// Clock abstracts time so the polling schedule can be driven by tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock. Readings are truncated to microseconds, the
// finest precision every ledger backend stores.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Policy is the fill-confirmation schedule: wait SettleDelay, check, then
// wait RecheckDelay between each further check, for at most MaxAttempts
// checks. A check that would start after Timeout has elapsed is not made and
// the order counts as unconfirmed, whatever happens to it later.
type Policy struct {
	SettleDelay  time.Duration
	RecheckDelay time.Duration
	MaxAttempts  int
	Timeout      time.Duration
	// CancelUnconfirmed cancels the order when the window closes without a fill.
	CancelUnconfirmed bool
}

// DefaultConfirmPolicy checks after 2s and again after a further 15s, then
// cancels.
func DefaultConfirmPolicy() Policy {
	return Policy{
		SettleDelay:       2 * time.Second,
		RecheckDelay:      15 * time.Second,
		MaxAttempts:       2,
		Timeout:           30 * time.Second,
		CancelUnconfirmed: true,
	}
}

// DefaultUnwindPolicy makes a single check 2s after the failsafe order is
// placed and never cancels it.
func DefaultUnwindPolicy() Policy {
	return Policy{
		SettleDelay: 2 * time.Second,
		MaxAttempts: 1,
	}
}

// Outcome classifies how a confirmation attempt ended. These are expected
// results, not faults.
type Outcome int

const (
	OutcomeFilled Outcome = iota
	OutcomeCanceled
	OutcomeUnconfirmed
	OutcomeFault
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFilled:
		return "filled"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeUnconfirmed:
		return "unconfirmed"
	case OutcomeFault:
		return "fault"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Confirmation is the result of polling one order.
type Confirmation struct {
	Outcome    Outcome
	LastStatus domain.OrderStatus
	Checks     int
	Err        error
}

// Filled reports whether the order reached the FILLED state in time.
func (c Confirmation) Filled() bool { return c.Outcome == OutcomeFilled }

func (c Confirmation) String() string {
	if c.Err != nil {
		return fmt.Sprintf("%s: %v", c.Outcome, c.Err)
	}
	if c.LastStatus != "" {
		return fmt.Sprintf("%s (last status %s)", c.Outcome, c.LastStatus)
	}
	return c.Outcome.String()
}

// OrderClient is the slice of the exchange the state machine talks to.
type OrderClient interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	CancelOrder(ctx context.Context, id string) error
}

// confirm polls orderID according to p. A CANCELED status ends polling at
// once; any error from the exchange ends it as a fault.
func confirm(ctx context.Context, client OrderClient, clock Clock, p Policy, orderID string, log *slog.Logger) Confirmation {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	start := clock.Now()

	var res Confirmation
	for i := 0; i < attempts; i++ {
		delay := p.SettleDelay
		if i > 0 {
			delay = p.RecheckDelay
		}
		if p.Timeout > 0 && clock.Now().Sub(start)+delay > p.Timeout {
			break
		}
		if err := clock.Sleep(ctx, delay); err != nil {
			res.Outcome, res.Err = OutcomeFault, err
			cancelOrder(ctx, client, p, orderID, log)
			return res
		}

		order, err := client.GetOrder(ctx, orderID)
		res.Checks++
		if err != nil {
			res.Outcome, res.Err = OutcomeFault, err
			cancelOrder(ctx, client, p, orderID, log)
			return res
		}
		res.LastStatus = order.Status
		log.Debug("order status checked",
			slog.String("order_id", orderID),
			slog.String("status", string(order.Status)),
			slog.Int("check", res.Checks),
		)

		switch {
		case order.Status == domain.OrderStatusFilled:
			res.Outcome = OutcomeFilled
			return res
		case order.Status.Canceled():
			res.Outcome = OutcomeCanceled
			return res
		}
	}

	res.Outcome = OutcomeUnconfirmed
	cancelOrder(ctx, client, p, orderID, log)
	return res
}

// cancelOrder withdraws an order whose fill could not be confirmed. It runs
// detached from ctx so a shutdown does not leave the order resting.
func cancelOrder(ctx context.Context, client OrderClient, p Policy, orderID string, log *slog.Logger) {
	if !p.CancelUnconfirmed {
		return
	}
	if err := client.CancelOrder(context.WithoutCancel(ctx), orderID); err != nil {
		log.Warn("cancel of unconfirmed order failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
}
