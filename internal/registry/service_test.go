package registry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypogate/adapters/memory"
	"hypogate/domain/core"
	"hypogate/domain/hypothesis"
)

var now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newService() *Service {
	return NewService(memory.NewStore(), core.NewFixedClock(now), zerolog.Nop())
}

func validHypothesis(cohort core.CohortID) hypothesis.Hypothesis {
	return hypothesis.Hypothesis{
		CohortID:         cohort,
		Name:             "basis dislocation",
		Direction:        hypothesis.DirectionShort,
		EvaluationWindow: 6 * time.Hour,
		MinimumSample:    30,
		SuccessCriterion: hypothesis.SuccessCriterion{Kind: hypothesis.CriterionWindowReturn},
		AssetUniverse:    []string{" btc", "ETH", "btc "},
	}
}

func TestRegisterDefaults(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	c, err := svc.RegisterCohort(ctx, hypothesis.Cohort{Name: "crypto perps", PriorTrials: 3})
	require.NoError(t, err)
	assert.False(t, c.ID.IsEmpty())
	assert.Equal(t, now, c.CreatedAt)

	h, err := svc.RegisterHypothesis(ctx, validHypothesis(c.ID))
	require.NoError(t, err)
	assert.False(t, h.ID.IsEmpty())
	assert.Equal(t, hypothesis.StatusIncubation, h.Status)
	assert.Equal(t, now, h.ActivatedAt)
	assert.Equal(t, []string{"BTC", "ETH"}, h.AssetUniverse)

	got, err := svc.Get(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, h.Name, got.Name)
}

func TestRegisterHypothesisRejects(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	c, err := svc.RegisterCohort(ctx, hypothesis.Cohort{ID: "c1", Name: "fx"})
	require.NoError(t, err)

	_, err = svc.RegisterHypothesis(ctx, validHypothesis("missing"))
	assert.ErrorIs(t, err, core.ErrUnknownCohort)

	bad := validHypothesis(c.ID)
	bad.MinimumSample = 1
	_, err = svc.RegisterHypothesis(ctx, bad)
	assert.ErrorIs(t, err, core.ErrInvalidHypothesis)
}

func TestRegisterHypothesisKeepsExisting(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, core.NewFixedClock(now), zerolog.Nop())
	ctx := context.Background()
	c, err := svc.RegisterCohort(ctx, hypothesis.Cohort{ID: "c1", Name: "fx"})
	require.NoError(t, err)

	orig := validHypothesis(c.ID)
	orig.ID = "h1"
	orig.ActivatedAt = now.Add(-48 * time.Hour)
	_, err = svc.RegisterHypothesis(ctx, orig)
	require.NoError(t, err)

	again := validHypothesis(c.ID)
	again.ID = "h1"
	again.Direction = hypothesis.DirectionLong
	again.MinimumSample = 2
	again.AssetUniverse = []string{"SOL"}
	again.ActivatedAt = now
	_, err = svc.RegisterHypothesis(ctx, again)
	assert.ErrorIs(t, err, core.ErrDuplicateHypothesis)

	got, err := svc.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(-48*time.Hour), got.ActivatedAt)
	assert.Equal(t, 30, got.MinimumSample)
	assert.Equal(t, hypothesis.DirectionShort, got.Direction)
	assert.Equal(t, []string{"BTC", "ETH"}, got.AssetUniverse)
}

func TestUpdateStatus(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	c, err := svc.RegisterCohort(ctx, hypothesis.Cohort{ID: "c1", Name: "fx"})
	require.NoError(t, err)
	h, err := svc.RegisterHypothesis(ctx, validHypothesis(c.ID))
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(ctx, h.ID, hypothesis.StatusFalsified)
	require.NoError(t, err)
	assert.Equal(t, hypothesis.StatusFalsified, updated.Status)

	_, err = svc.UpdateStatus(ctx, h.ID, hypothesis.Status("ARCHIVED"))
	assert.ErrorIs(t, err, core.ErrInvalidHypothesis)
	_, err = svc.UpdateStatus(ctx, "nope", hypothesis.StatusCandidate)
	assert.ErrorIs(t, err, core.ErrUnknownHypothesis)
}
