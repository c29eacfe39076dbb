// Package signal computes the statistical quantities that drive the pairs
// strategy: hedge ratios, spreads, rolling z-scores, half-lives and the
// Engle-Granger cointegration test, plus the entry and exit triggers derived
// from them.
package signal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/pairbot/statarb/internal/domain"
)

// DefaultZScoreWindow is the rolling window used when none is configured.
const DefaultZScoreWindow = 21

// Spread returns a - hedgeRatio*b element-wise. Both series must have the
// same non-zero length.
func Spread(a, b []float64, hedgeRatio float64) ([]float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, fmt.Errorf("signal: spread: %w", domain.ErrInsufficientData)
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("signal: spread: %d vs %d: %w", len(a), len(b), domain.ErrLengthMismatch)
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - hedgeRatio*b[i]
	}
	return out, nil
}

// ZScore standardises spread against its trailing window: element i is
// (spread[i] - mean) / stddev over spread[i-window+1 .. i], using the sample
// standard deviation. Elements without a full window are NaN. The output is
// aligned with the input and has the same length.
func ZScore(spread []float64, window int) ([]float64, error) {
	if len(spread) < 2 {
		return nil, fmt.Errorf("signal: zscore over %d samples: %w", len(spread), domain.ErrInsufficientData)
	}
	if window < 2 {
		window = DefaultZScoreWindow
	}

	out := make([]float64, len(spread))
	for i := range spread {
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		mean, std := stat.MeanStdDev(spread[i-window+1:i+1], nil)
		out[i] = (spread[i] - mean) / std
	}
	return out, nil
}

// Latest returns the last z-score, the only value consulted for trading
// decisions. It fails when the value is not a finite number (short window or
// zero variance).
func Latest(zscores []float64) (float64, error) {
	if len(zscores) == 0 {
		return 0, fmt.Errorf("signal: latest zscore: %w", domain.ErrInsufficientData)
	}
	z := zscores[len(zscores)-1]
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return 0, fmt.Errorf("signal: latest zscore is %v: %w", z, domain.ErrInsufficientData)
	}
	return z, nil
}

// CurrentZScore builds the spread of a and b with the given hedge ratio and
// returns its latest rolling z-score.
func CurrentZScore(a, b []float64, hedgeRatio float64, window int) (float64, error) {
	spread, err := Spread(a, b, hedgeRatio)
	if err != nil {
		return 0, err
	}
	zs, err := ZScore(spread, window)
	if err != nil {
		return 0, err
	}
	return Latest(zs)
}
