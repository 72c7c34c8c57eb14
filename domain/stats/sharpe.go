package stats

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"hypogate/domain/core"
)

// eulerGamma is the Euler-Mascheroni constant used by the expected maximum of N normals.
const eulerGamma = 0.5772156649015329

// DeflationParams configures the deflated Sharpe ratio.
type DeflationParams struct {
	// TrialCount is the number of hypotheses/experiments attempted in the family. Must be >= 1.
	TrialCount int
	// MinSample is the hypothesis' declared minimum outcome count.
	MinSample int
	// SharpeVariance is the variance of Sharpe ratios across the family. When <= 0 the
	// estimator variance of the observed Sharpe ratio is used instead.
	SharpeVariance float64
}

// DeflatedSharpeResult carries the deflation breakdown stored on the audit.
type DeflatedSharpeResult struct {
	Observed          float64 `json:"observed"`
	Deflated          float64 `json:"deflated"`
	Probability       float64 `json:"probability"`
	ExpectedMaxSharpe float64 `json:"expected_max_sharpe"`
	SharpeVariance    float64 `json:"sharpe_variance"`
	TrialCount        int     `json:"trial_count"`
	Moments           Moments `json:"moments"`
}

// ComputeDeflatedSharpe follows Bailey & Lopez de Prado. Deflated is the DSR test statistic
//
//	(SR - SR0) * sqrt(T-1) / sqrt(1 - skew*SR + (kurt-1)/4 * SR^2)
//
// where SR0 is the expected maximum Sharpe ratio of TrialCount unskilled trials.
// A zero-variance series deflates to exactly 0.
func ComputeDeflatedSharpe(returns []float64, p DeflationParams) (DeflatedSharpeResult, error) {
	if p.TrialCount < 1 {
		return DeflatedSharpeResult{}, fmt.Errorf("%w: trial count %d < 1", core.ErrInsufficientTrials, p.TrialCount)
	}
	t := len(returns)
	minSample := p.MinSample
	if minSample < 2 {
		minSample = 2
	}
	if t < minSample {
		return DeflatedSharpeResult{}, fmt.Errorf("%w: %d outcomes < minimum sample %d", core.ErrInsufficientTrials, t, minSample)
	}

	m := ComputeMoments(returns)
	res := DeflatedSharpeResult{TrialCount: p.TrialCount, Moments: m}
	if m.ZeroVariance() {
		res.Probability = 0.5
		return res, nil
	}

	sr := m.Sharpe()
	res.Observed = sr

	denom := 1 - m.Skew*sr + (m.Kurtosis-1)/4*sr*sr
	if denom <= zeroVarianceEps {
		// Moment estimates are inconsistent; stay neutral.
		res.Probability = 0.5
		return res, nil
	}

	v := p.SharpeVariance
	if v <= 0 {
		v = denom / float64(t-1)
	}
	res.SharpeVariance = v
	res.ExpectedMaxSharpe = ExpectedMaxSharpe(v, p.TrialCount)

	res.Deflated = (sr - res.ExpectedMaxSharpe) * math.Sqrt(float64(t-1)) / math.Sqrt(denom)
	res.Probability = distuv.UnitNormal.CDF(res.Deflated)
	return res, nil
}

// ExpectedMaxSharpe approximates E[max SR] over n independent trials with zero true Sharpe.
func ExpectedMaxSharpe(variance float64, n int) float64 {
	if n <= 1 || variance <= 0 {
		return 0
	}
	nf := float64(n)
	z1 := distuv.UnitNormal.Quantile(1 - 1/nf)
	z2 := distuv.UnitNormal.Quantile(1 - 1/(nf*math.E))
	return math.Sqrt(variance) * ((1-eulerGamma)*z1 + eulerGamma*z2)
}

// FamilySharpeVariance is the sample variance of observed Sharpe ratios across a family.
// Returns 0 when fewer than two ratios are available.
func FamilySharpeVariance(sharpes []float64) float64 {
	finite := make([]float64, 0, len(sharpes))
	for _, s := range sharpes {
		if isFinite(s) {
			finite = append(finite, s)
		}
	}
	if len(finite) < 2 {
		return 0
	}
	v, err := stats.SampleVariance(finite)
	if err != nil {
		return 0
	}
	return v
}
