package trader

import (
	"time"

	"github.com/pairbot/statarb/internal/signal"
)

// Config holds the trading parameters shared by entry, exit and abort.
type Config struct {
	ZScoreThreshold    float64
	ZScoreWindow       int
	USDPerTrade        float64
	USDMinCollateral   float64
	CloseAtZScoreCross bool
	// EntrySlippage is the fractional price allowance on entry legs.
	EntrySlippage float64
	// ExitSlippage is the fractional price allowance on closing orders.
	ExitSlippage float64
	// FailsafeLow and FailsafeHigh multiply the reference price for the
	// leg 1 unwind: low when the unwind sells, high when it buys.
	FailsafeLow  float64
	FailsafeHigh float64
	// ClosePause separates the two closing orders of a pair.
	ClosePause time.Duration
}

// DefaultConfig matches the production parameters.
func DefaultConfig() Config {
	return Config{
		ZScoreThreshold:    1.5,
		ZScoreWindow:       signal.DefaultZScoreWindow,
		USDPerTrade:        50,
		USDMinCollateral:   100,
		CloseAtZScoreCross: true,
		EntrySlippage:      0.01,
		ExitSlippage:       0.05,
		FailsafeLow:        0.05,
		FailsafeHigh:       1.7,
		ClosePause:         time.Second,
	}
}
