package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PairStatus is the outcome of a two-legged entry attempt.
type PairStatus string

const (
	PairStatusLive   PairStatus = "LIVE"
	PairStatusError  PairStatus = "ERROR"
	PairStatusFailed PairStatus = "FAILED"
)

// Leg is one side of a pair position as submitted to the exchange.
type Leg struct {
	Market      string          `json:"market"`
	OrderID     string          `json:"order_id"`
	Size        decimal.Decimal `json:"size"`
	Side        OrderSide       `json:"side"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// Matches reports whether an exchange order record agrees with the leg on
// market, size and side.
func (l Leg) Matches(o Order) bool {
	return l.Market == o.Market && l.Size.Equal(o.Size) && l.Side == o.Side
}

// PairPosition is a ledger entry: a live two-legged position together with
// the signal values it was opened on.
type PairPosition struct {
	ID         string     `json:"id"`
	Leg1       Leg        `json:"leg_1"`
	Leg2       Leg        `json:"leg_2"`
	HedgeRatio float64    `json:"hedge_ratio"`
	ZScore     float64    `json:"z_score"`
	HalfLife   float64    `json:"half_life"`
	Status     PairStatus `json:"pair_status"`
	Comments   string     `json:"comments,omitempty"`
	OpenedAt   time.Time  `json:"opened_at"`
}

// Markets returns both leg markets.
func (p PairPosition) Markets() [2]string {
	return [2]string{p.Leg1.Market, p.Leg2.Market}
}

// Equal compares two entries field by field, using value equality for
// decimals and instants.
func (p PairPosition) Equal(o PairPosition) bool {
	return p.ID == o.ID &&
		legEqual(p.Leg1, o.Leg1) &&
		legEqual(p.Leg2, o.Leg2) &&
		p.HedgeRatio == o.HedgeRatio &&
		p.ZScore == o.ZScore &&
		p.HalfLife == o.HalfLife &&
		p.Status == o.Status &&
		p.Comments == o.Comments &&
		p.OpenedAt.Equal(o.OpenedAt)
}

func legEqual(a, b Leg) bool {
	return a.Market == b.Market &&
		a.OrderID == b.OrderID &&
		a.Size.Equal(b.Size) &&
		a.Side == b.Side &&
		a.SubmittedAt.Equal(b.SubmittedAt)
}

// CointegratedPair is one accepted row of the offline cointegration scan.
type CointegratedPair struct {
	BaseMarket  string
	QuoteMarket string
	PValue      float64
	HedgeRatio  float64
	HalfLife    float64
}
