package signal

import (
	"math"

	"github.com/pairbot/statarb/internal/domain"
)

// EntryTriggered reports whether the spread has deviated far enough to open
// a position.
func EntryTriggered(z, threshold float64) bool {
	return math.Abs(z) >= threshold
}

// ExitTriggered reports whether a position opened at entryZ should close at
// currentZ: the spread must have crossed the mean since entry and sit at
// least as far from it as it did at entry.
func ExitTriggered(entryZ, currentZ float64) bool {
	levelCheck := math.Abs(currentZ) >= math.Abs(entryZ)
	crossCheck := (currentZ < 0 && entryZ > 0) || (currentZ > 0 && entryZ < 0)
	return levelCheck && crossCheck
}

// EntrySides assigns sides for a spread z-score: a negative z means the base
// market is cheap relative to the quote, so buy base and sell quote.
func EntrySides(z float64) (base, quote domain.OrderSide) {
	if z < 0 {
		return domain.OrderSideBuy, domain.OrderSideSell
	}
	return domain.OrderSideSell, domain.OrderSideBuy
}
