package signal

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// olsFit is the part of an ordinary least squares fit the tests need.
type olsFit struct {
	beta []float64
	se   []float64
	ssr  float64
	nobs int
}

// aic follows the Gaussian log-likelihood convention.
func (f olsFit) aic() float64 {
	n := float64(f.nobs)
	llf := -n / 2 * (math.Log(2*math.Pi) + math.Log(f.ssr/n) + 1)
	return -2*llf + 2*float64(len(f.beta))
}

// ols regresses y on the columns of x.
func ols(x *mat.Dense, y []float64) (olsFit, error) {
	n, k := x.Dims()
	if n != len(y) {
		return olsFit{}, fmt.Errorf("ols: %d rows vs %d observations", n, len(y))
	}
	if n <= k {
		return olsFit{}, fmt.Errorf("ols: %d observations for %d regressors", n, k)
	}

	var xtx, inv mat.Dense
	xtx.Mul(x.T(), x)
	if err := inv.Inverse(&xtx); err != nil {
		return olsFit{}, fmt.Errorf("ols: singular design: %w", err)
	}

	yv := mat.NewVecDense(n, y)
	xty := mat.NewVecDense(k, nil)
	xty.MulVec(x.T(), yv)
	b := mat.NewVecDense(k, nil)
	b.MulVec(&inv, xty)

	fitted := mat.NewVecDense(n, nil)
	fitted.MulVec(x, b)
	var ssr float64
	for i := 0; i < n; i++ {
		r := y[i] - fitted.AtVec(i)
		ssr += r * r
	}

	sigma2 := ssr / float64(n-k)
	fit := olsFit{beta: make([]float64, k), se: make([]float64, k), ssr: ssr, nobs: n}
	for j := 0; j < k; j++ {
		fit.beta[j] = b.AtVec(j)
		fit.se[j] = math.Sqrt(sigma2 * inv.At(j, j))
	}
	return fit, nil
}

// adfDesign builds the no-constant ADF regression with `lags` lagged
// differences, dropping the first `skip` usable rows so that fits with
// different lag orders share a sample.
func adfDesign(y []float64, lags, skip int) (*mat.Dense, []float64) {
	dy := make([]float64, len(y)-1)
	for i := 1; i < len(y); i++ {
		dy[i-1] = y[i] - y[i-1]
	}

	start := skip
	if start < lags {
		start = lags
	}
	rows := len(dy) - start
	x := mat.NewDense(rows, lags+1, nil)
	resp := make([]float64, rows)
	for r := 0; r < rows; r++ {
		t := start + r
		resp[r] = dy[t]
		x.Set(r, 0, y[t])
		for i := 1; i <= lags; i++ {
			x.Set(r, i, dy[t-i])
		}
	}
	return x, resp
}

var errShortSeries = errors.New("series too short for adf")

// adfStat runs an augmented Dickey-Fuller test without deterministic terms,
// selecting the lag order by AIC over 0..maxlag, and returns the t-statistic
// of the lagged level.
func adfStat(y []float64) (float64, error) {
	nobs := len(y)
	maxlag := int(math.Ceil(12 * math.Pow(float64(nobs)/100, 0.25)))
	if limit := nobs/2 - 2; maxlag > limit {
		maxlag = limit
	}
	if maxlag < 0 || nobs < 8 {
		return 0, errShortSeries
	}

	best, bestAIC := 0, math.Inf(1)
	for lag := 0; lag <= maxlag; lag++ {
		x, resp := adfDesign(y, lag, maxlag)
		fit, err := ols(x, resp)
		if err != nil {
			continue
		}
		if a := fit.aic(); a < bestAIC {
			best, bestAIC = lag, a
		}
	}
	if math.IsInf(bestAIC, 1) {
		return 0, fmt.Errorf("adf: no lag order could be fitted")
	}

	x, resp := adfDesign(y, best, best)
	fit, err := ols(x, resp)
	if err != nil {
		return 0, fmt.Errorf("adf: refit at lag %d: %w", best, err)
	}
	if fit.se[0] == 0 {
		return 0, fmt.Errorf("adf: zero standard error")
	}
	return fit.beta[0] / fit.se[0], nil
}

// MacKinnon (1994/2010) response-surface coefficients for the Engle-Granger
// test with a constant and two variables.
var (
	egMaxStat  = 0.92
	egMinStat  = -18.86
	egStarStat = -2.62
	egSmallP   = []float64{2.92, 1.5012, 3.9796e-2}
	egLargeP   = []float64{2.1945, 6.4695e-1, -2.9198e-1, -4.2377e-2}
)

// mackinnonP approximates the p-value of an Engle-Granger t-statistic.
func mackinnonP(tstat float64) float64 {
	if tstat > egMaxStat {
		return 1
	}
	if tstat < egMinStat {
		return 0
	}
	coef := egLargeP
	if tstat <= egStarStat {
		coef = egSmallP
	}
	var poly, pow float64 = 0, 1
	for _, c := range coef {
		poly += c * pow
		pow *= tstat
	}
	return normCDF(poly)
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}
