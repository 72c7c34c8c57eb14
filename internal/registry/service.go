// Package registry registers cohorts and hypotheses on behalf of the research generators.
// The gate itself only reads what is registered here.
package registry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"hypogate/domain/core"
	"hypogate/domain/hypothesis"
	"hypogate/ports"
)

// Service registers cohorts and hypotheses
type Service struct {
	repo   ports.RegistryPort
	clock  core.Clock
	logger zerolog.Logger
}

// NewService creates a registry service
func NewService(repo ports.RegistryPort, clock core.Clock, logger zerolog.Logger) *Service {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Service{repo: repo, clock: clock, logger: logger}
}

// RegisterCohort stores a cohort, generating an id when none is given
func (s *Service) RegisterCohort(ctx context.Context, c hypothesis.Cohort) (hypothesis.Cohort, error) {
	if c.ID.IsEmpty() {
		c.ID = core.CohortID(core.NewID())
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock.Now()
	}
	if err := c.Validate(); err != nil {
		return hypothesis.Cohort{}, err
	}
	if err := s.repo.SaveCohort(ctx, c); err != nil {
		return hypothesis.Cohort{}, err
	}
	s.logger.Debug().Str("cohort_id", c.ID.String()).Int("prior_trials", c.PriorTrials).Msg("cohort registered")
	return c, nil
}

// RegisterHypothesis stores a new hypothesis. It defaults to INCUBATION, activated now.
// The cohort must already exist, and a registered id is never overwritten: activation,
// window and sample size are fixed once outcomes can be recorded against them.
func (s *Service) RegisterHypothesis(ctx context.Context, h hypothesis.Hypothesis) (hypothesis.Hypothesis, error) {
	now := s.clock.Now()
	if h.ID.IsEmpty() {
		h.ID = core.HypothesisID(core.NewID())
	}
	if h.Status == "" {
		h.Status = hypothesis.StatusIncubation
	}
	if h.ActivatedAt.IsZero() {
		h.ActivatedAt = now
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.AssetUniverse = h.NormalizedUniverse()
	if err := h.Validate(); err != nil {
		return hypothesis.Hypothesis{}, err
	}
	if _, err := s.repo.GetCohort(ctx, h.CohortID); err != nil {
		return hypothesis.Hypothesis{}, err
	}
	if err := s.repo.CreateHypothesis(ctx, h); err != nil {
		return hypothesis.Hypothesis{}, err
	}
	s.logger.Debug().
		Str("hypothesis_id", h.ID.String()).
		Str("cohort_id", h.CohortID.String()).
		Str("status", string(h.Status)).
		Msg("hypothesis registered")
	return h, nil
}

// UpdateStatus moves a hypothesis through the research lifecycle
func (s *Service) UpdateStatus(ctx context.Context, id core.HypothesisID, status hypothesis.Status) (hypothesis.Hypothesis, error) {
	if !status.Valid() {
		return hypothesis.Hypothesis{}, fmt.Errorf("%w: %v", core.ErrInvalidHypothesis, core.NewValidationError("status", string(status)))
	}
	if err := s.repo.UpdateHypothesisStatus(ctx, id, status); err != nil {
		return hypothesis.Hypothesis{}, err
	}
	h, err := s.repo.GetHypothesis(ctx, id)
	if err != nil {
		return hypothesis.Hypothesis{}, err
	}
	return *h, nil
}

// Get returns a registered hypothesis
func (s *Service) Get(ctx context.Context, id core.HypothesisID) (*hypothesis.Hypothesis, error) {
	return s.repo.GetHypothesis(ctx, id)
}
