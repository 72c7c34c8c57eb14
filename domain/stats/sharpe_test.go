package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypogate/domain/core"
)

var sampleReturns = []float64{0.02, -0.01, 0.03, 0.01, -0.005, 0.015, 0.02, -0.02, 0.01, 0.025}

func TestComputeDeflatedSharpe_ConstantReturnsAreNeutral(t *testing.T) {
	tests := []struct {
		name   string
		value  float64
		trials int
	}{
		{"positive constant", 0.01, 1},
		{"zero constant", 0, 5},
		{"negative constant", -0.02, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			returns := make([]float64, 16)
			for i := range returns {
				returns[i] = tt.value
			}
			res, err := ComputeDeflatedSharpe(returns, DeflationParams{TrialCount: tt.trials, MinSample: 15})
			require.NoError(t, err)
			assert.Equal(t, 0.0, res.Deflated)
			assert.Equal(t, 0.0, res.Observed)
			assert.False(t, math.IsNaN(res.Probability))
			assert.False(t, math.IsInf(res.Deflated, 0))
		})
	}
}

func TestComputeDeflatedSharpe_SingleTrialMatchesProbabilisticSharpe(t *testing.T) {
	res, err := ComputeDeflatedSharpe(sampleReturns, DeflationParams{TrialCount: 1, MinSample: 10})
	require.NoError(t, err)

	assert.InDelta(t, 0.5851156974023861, res.Observed, 1e-9)
	assert.Equal(t, 0.0, res.ExpectedMaxSharpe)
	assert.InDelta(t, 1.419761420220235, res.Deflated, 1e-6)
	assert.InDelta(t, 0.9221614249322883, res.Probability, 1e-6)
}

func TestComputeDeflatedSharpe_FamilyVarianceDeflates(t *testing.T) {
	res, err := ComputeDeflatedSharpe(sampleReturns, DeflationParams{TrialCount: 10, MinSample: 10, SharpeVariance: 0.04})
	require.NoError(t, err)

	assert.InDelta(t, 0.31491966026915, res.ExpectedMaxSharpe, 1e-6)
	assert.InDelta(t, 0.6556206082339131, res.Deflated, 1e-6)
	assert.Less(t, res.Deflated, 1.419761420220235)
}

func TestComputeDeflatedSharpe_MoreTrialsDeflateMore(t *testing.T) {
	prev := math.Inf(1)
	for _, n := range []int{1, 2, 5, 20, 100, 1000} {
		res, err := ComputeDeflatedSharpe(sampleReturns, DeflationParams{TrialCount: n, MinSample: 2})
		require.NoError(t, err)
		assert.Less(t, res.Deflated, prev, "trial count %d", n)
		prev = res.Deflated
	}
}

func TestComputeDeflatedSharpe_Preconditions(t *testing.T) {
	_, err := ComputeDeflatedSharpe(sampleReturns, DeflationParams{TrialCount: 0, MinSample: 2})
	assert.ErrorIs(t, err, core.ErrInsufficientTrials)

	_, err = ComputeDeflatedSharpe(sampleReturns[:5], DeflationParams{TrialCount: 3, MinSample: 15})
	assert.ErrorIs(t, err, core.ErrInsufficientTrials)
	assert.True(t, core.IsStatisticalPrecondition(err))

	_, err = ComputeDeflatedSharpe(sampleReturns[:1], DeflationParams{TrialCount: 1})
	assert.ErrorIs(t, err, core.ErrInsufficientTrials)
}

func TestExpectedMaxSharpe(t *testing.T) {
	assert.Equal(t, 0.0, ExpectedMaxSharpe(0.1, 1))
	assert.Equal(t, 0.0, ExpectedMaxSharpe(0, 50))
	assert.Greater(t, ExpectedMaxSharpe(0.1, 100), ExpectedMaxSharpe(0.1, 10))
	assert.Greater(t, ExpectedMaxSharpe(0.2, 10), ExpectedMaxSharpe(0.1, 10))
}

func TestFamilySharpeVariance(t *testing.T) {
	assert.Equal(t, 0.0, FamilySharpeVariance(nil))
	assert.Equal(t, 0.0, FamilySharpeVariance([]float64{0.4}))
	assert.Equal(t, 0.0, FamilySharpeVariance([]float64{0.4, math.NaN()}))
	assert.InDelta(t, 0.02, FamilySharpeVariance([]float64{0.1, 0.3}), 1e-12)
}
