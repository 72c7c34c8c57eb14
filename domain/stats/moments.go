package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// zeroVarianceEps treats sample deviations below this as a constant series.
const zeroVarianceEps = 1e-12

// Moments summarises a return series for the Sharpe computations.
type Moments struct {
	N        int     `json:"n"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	Skew     float64 `json:"skew"`
	Kurtosis float64 `json:"kurtosis"` // non-excess; 3 for a normal distribution
}

// ComputeMoments returns sample moments. Skew and kurtosis fall back to the normal
// values when the sample is too small for the unbiased estimators.
func ComputeMoments(returns []float64) Moments {
	m := Moments{N: len(returns), Kurtosis: 3}
	if len(returns) == 0 {
		return m
	}
	m.Mean = stat.Mean(returns, nil)
	if len(returns) < 2 {
		return m
	}
	m.StdDev = stat.StdDev(returns, nil)
	if m.StdDev < zeroVarianceEps {
		m.StdDev = 0
		return m
	}
	if skew := stat.Skew(returns, nil); isFinite(skew) {
		m.Skew = skew
	}
	if exk := stat.ExKurtosis(returns, nil); isFinite(exk) {
		m.Kurtosis = exk + 3
	}
	return m
}

// ZeroVariance reports whether every return is identical
func (m Moments) ZeroVariance() bool {
	return m.StdDev == 0
}

// Sharpe is mean over sample standard deviation, per trial. Zero variance gives 0.
func (m Moments) Sharpe() float64 {
	if m.ZeroVariance() {
		return 0
	}
	return m.Mean / m.StdDev
}

// SharpeRatio computes the per-trial Sharpe ratio of a series
func SharpeRatio(returns []float64) float64 {
	return ComputeMoments(returns).Sharpe()
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
