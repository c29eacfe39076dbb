package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Market holds the trading metadata of one perpetual market.
type Market struct {
	Ticker       string
	Status       string
	Type         string
	TickSize     decimal.Decimal
	StepSize     decimal.Decimal
	MinOrderSize decimal.Decimal
	OraclePrice  float64
}

// Tradeable reports whether new orders can be placed on the market.
func (m Market) Tradeable() bool {
	switch strings.ToUpper(m.Status) {
	case "ACTIVE", "ONLINE":
	default:
		return false
	}
	return m.Type == "" || strings.EqualFold(m.Type, "PERPETUAL")
}

// Candle is a single OHLC bar; only the close is consumed by the signal engine.
type Candle struct {
	Market    string
	StartedAt time.Time
	Close     float64
}

// CandleQuery selects candles for one market. Zero From/To means "most recent".
type CandleQuery struct {
	Resolution string
	Limit      int
	From       time.Time
	To         time.Time
}

// ExchangePosition is an open perpetual position as reported by the exchange.
type ExchangePosition struct {
	Market string
	Side   string // LONG or SHORT
	Size   decimal.Decimal
}

// Account is the subset of subaccount state the core needs.
type Account struct {
	Equity         float64
	FreeCollateral float64
}
