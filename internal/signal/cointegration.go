package signal

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/pairbot/statarb/internal/domain"
)

// DefaultPValueThreshold is the significance level a pair must beat.
const DefaultPValueThreshold = 0.05

// HedgeRatio regresses a on b through the origin and returns the slope.
func HedgeRatio(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("signal: hedge ratio: %w", domain.ErrLengthMismatch)
	}
	if len(a) < 2 {
		return 0, fmt.Errorf("signal: hedge ratio: %w", domain.ErrInsufficientData)
	}
	_, beta := stat.LinearRegression(b, a, nil, true)
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		return 0, fmt.Errorf("signal: hedge ratio is %v", beta)
	}
	return beta, nil
}

// HalfLife estimates the mean-reversion half-life of a spread, in samples,
// from the regression of its first difference on its lagged level.
func HalfLife(spread []float64) (float64, error) {
	if len(spread) < 3 {
		return 0, fmt.Errorf("signal: half life: %w", domain.ErrInsufficientData)
	}
	lag := spread[:len(spread)-1]
	ret := make([]float64, len(lag))
	for i := range lag {
		ret[i] = spread[i+1] - lag[i]
	}
	_, beta := stat.LinearRegression(lag, ret, nil, false)
	if beta == 0 || math.IsNaN(beta) {
		return 0, fmt.Errorf("signal: half life: degenerate slope %v", beta)
	}
	return math.Round(-math.Ln2 / beta), nil
}

// Coint runs the Engle-Granger two-step test: regress a on b with a
// constant, then test the residuals for a unit root. It returns the ADF
// t-statistic and its approximate p-value.
func Coint(a, b []float64) (tstat, pvalue float64, err error) {
	if len(a) != len(b) {
		return 0, 0, fmt.Errorf("signal: coint: %w", domain.ErrLengthMismatch)
	}
	n := len(a)
	if n < 10 {
		return 0, 0, fmt.Errorf("signal: coint: %w", domain.ErrInsufficientData)
	}

	x := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
		x.Set(i, 1, b[i])
	}
	fit, err := ols(x, a)
	if err != nil {
		return 0, 0, fmt.Errorf("signal: coint: %w", err)
	}

	resid := make([]float64, n)
	for i := range resid {
		resid[i] = a[i] - fit.beta[0] - fit.beta[1]*b[i]
	}
	if fit.ssr < 1e-12*float64(n) {
		// Perfectly collinear series are trivially cointegrated.
		return math.Inf(-1), 0, nil
	}

	tstat, err = adfStat(resid)
	if err != nil {
		return 0, 0, fmt.Errorf("signal: coint: %w", err)
	}
	return tstat, mackinnonP(tstat), nil
}

// ScanConfig tunes FindCointegratedPairs.
type ScanConfig struct {
	PValueThreshold float64
}

// Analyze computes the full cointegration result for one ordered pair.
func Analyze(base, quote string, a, b []float64) (domain.CointegratedPair, error) {
	_, p, err := Coint(a, b)
	if err != nil {
		return domain.CointegratedPair{}, err
	}
	hedge, err := HedgeRatio(a, b)
	if err != nil {
		return domain.CointegratedPair{}, err
	}
	spread, err := Spread(a, b, hedge)
	if err != nil {
		return domain.CointegratedPair{}, err
	}
	halfLife, err := HalfLife(spread)
	if err != nil {
		return domain.CointegratedPair{}, err
	}
	return domain.CointegratedPair{
		BaseMarket:  base,
		QuoteMarket: quote,
		PValue:      p,
		HedgeRatio:  hedge,
		HalfLife:    halfLife,
	}, nil
}

// FindCointegratedPairs tests every unordered pair of markets in prices and
// returns those whose p-value is below the threshold. A pair that cannot be
// evaluated is logged and skipped; it never aborts the scan. Markets are
// visited in name order so results are deterministic.
func FindCointegratedPairs(prices map[string][]float64, cfg ScanConfig, logger *slog.Logger) []domain.CointegratedPair {
	threshold := cfg.PValueThreshold
	if threshold <= 0 {
		threshold = DefaultPValueThreshold
	}
	log := logger.With(slog.String("component", "cointegration"))

	markets := make([]string, 0, len(prices))
	for m := range prices {
		markets = append(markets, m)
	}
	sort.Strings(markets)

	var accepted []domain.CointegratedPair
	for i := 0; i < len(markets); i++ {
		for j := i + 1; j < len(markets); j++ {
			base, quote := markets[i], markets[j]
			a, b := prices[base], prices[quote]
			if len(a) == 0 || len(a) != len(b) {
				log.Warn("pair skipped: unaligned series",
					slog.String("base_market", base),
					slog.String("quote_market", quote),
					slog.Int("base_len", len(a)),
					slog.Int("quote_len", len(b)),
				)
				continue
			}
			res, err := Analyze(base, quote, a, b)
			if err != nil {
				log.Warn("pair skipped",
					slog.String("base_market", base),
					slog.String("quote_market", quote),
					slog.String("error", err.Error()),
				)
				continue
			}
			if res.PValue < threshold {
				accepted = append(accepted, res)
			}
		}
	}

	log.Info("cointegration scan complete",
		slog.Int("markets", len(markets)),
		slog.Int("accepted", len(accepted)),
	)
	return accepted
}
