package gate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypogate/domain/core"
	"hypogate/domain/gate"
	"hypogate/domain/hypothesis"
)

func TestRunBatch_IsolatesHypotheses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "hp", 15, "BTC")
	f.seed(t, "hp", 0, 16, 15)
	f.stats.On("Compute", core.HypothesisID("hp"), 16).Return(passing(), nil).Once()

	f.register(t, "hf", 15, "BTC")
	f.seed(t, "hf", 0, 16, 8)
	weak := passing()
	weak.PBO = 0.65
	f.stats.On("Compute", core.HypothesisID("hf"), 16).Return(weak, nil).Once()

	f.register(t, "hs", 30, "BTC")
	f.seed(t, "hs", 0, 10, 0)

	f.register(t, "hd", 15, "BTC")
	f.seed(t, "hd", 0, 16, 12)
	f.stats.On("Compute", core.HypothesisID("hd"), 16).
		Return(gate.Statistics{}, fmt.Errorf("deflated sharpe: %w", core.ErrInsufficientTrials))

	f.register(t, "hm", 15)
	f.seed(t, "hm", 0, 16, 15)
	f.stats.On("Compute", core.HypothesisID("hm"), 16).Return(passing(), nil).Once()

	f.register(t, "hx", 15, "BTC")
	require.NoError(t, f.store.UpdateHypothesisStatus(ctx, "hx", hypothesis.StatusFalsified))

	report, err := f.gate.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Total, "falsified hypotheses are not listed")
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, 1, report.Deferred)
	assert.Equal(t, 1, report.Errored)
	require.Len(t, report.Items, 5)

	byID := make(map[core.HypothesisID]BatchItem)
	for _, it := range report.Items {
		byID[it.HypothesisID] = it
	}
	assert.Equal(t, BatchErrored, byID["hm"].Outcome)
	assert.Equal(t, KindIntegrity, byID["hm"].ErrorKind)
	assert.Equal(t, gate.StateFailed, byID["hm"].State)
	assert.Equal(t, KindDeferred, byID["hd"].ErrorKind)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Evaluations.WithLabelValues("PASS")))

	// eligibility exists iff a PASS audit exists
	for _, id := range []core.HypothesisID{"hp", "hf", "hs", "hd", "hm"} {
		audits, err := f.store.ListAudits(ctx, id)
		require.NoError(t, err)
		hasPass := false
		for _, a := range audits {
			if a.Verdict == gate.VerdictPass {
				hasPass = true
			}
		}
		_, err = f.store.LatestEligibility(ctx, id)
		hasEntry := err == nil
		if !hasEntry {
			assert.True(t, errors.Is(err, core.ErrNoEligibility))
		}
		assert.Equal(t, hasPass, hasEntry, "hypothesis %s", id)
	}

	second, err := f.gate.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Skipped, "passed and unchanged failed hypotheses are skipped")
	assert.Equal(t, 1, second.Pending)
	assert.Equal(t, 1, second.Deferred)
	f.stats.AssertNumberOfCalls(t, "Compute", 5)
}

func TestRunBatch_FailedWithNewOutcomesIsReevaluated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "h1", 15, "BTC")
	f.seed(t, "h1", 0, 16, 8)
	weak := passing()
	weak.DeflatedSharpe = 0.2
	f.stats.On("Compute", core.HypothesisID("h1"), 16).Return(weak, nil).Once()

	report, err := f.gate.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	f.seed(t, "h1", 16, 2, 2)
	f.stats.On("Compute", core.HypothesisID("h1"), 18).Return(passing(), nil).Once()

	report, err = f.gate.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Passed)

	audits, err := f.store.ListAudits(ctx, "h1")
	require.NoError(t, err)
	assert.Len(t, audits, 2)
	f.stats.AssertExpectations(t)
}

func TestRunBatch_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.register(t, "h1", 15, "BTC")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.gate.RunBatch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Skipped)
	f.stats.AssertNotCalled(t, "Compute")
}
