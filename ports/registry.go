package ports

import (
	"context"

	"hypogate/domain/core"
	"hypogate/domain/hypothesis"
)

// CohortRepository manages evaluation cohorts
type CohortRepository interface {
	SaveCohort(ctx context.Context, cohort hypothesis.Cohort) error
	// GetCohort returns core.ErrUnknownCohort when the cohort does not exist
	GetCohort(ctx context.Context, id core.CohortID) (*hypothesis.Cohort, error)
}

// HypothesisRepository defines the interface for hypothesis registry operations.
// Hypotheses are written by upstream generators and are read-only to the gate.
type HypothesisRepository interface {
	// CreateHypothesis inserts a new hypothesis. Fails with core.ErrDuplicateHypothesis when
	// the id is taken and core.ErrUnknownCohort when the cohort foreign key does not resolve.
	CreateHypothesis(ctx context.Context, h hypothesis.Hypothesis) error

	// UpdateHypothesisStatus changes only the lifecycle status
	UpdateHypothesisStatus(ctx context.Context, id core.HypothesisID, status hypothesis.Status) error

	// GetHypothesis returns core.ErrUnknownHypothesis when the id does not exist
	GetHypothesis(ctx context.Context, id core.HypothesisID) (*hypothesis.Hypothesis, error)

	// ListByCohort returns every hypothesis in a cohort ordered by id
	ListByCohort(ctx context.Context, cohortID core.CohortID) ([]hypothesis.Hypothesis, error)

	// ListEvaluable returns hypotheses whose status allows gate evaluation, ordered by id
	ListEvaluable(ctx context.Context) ([]hypothesis.Hypothesis, error)
}

// RegistryPort combines cohort and hypothesis access
type RegistryPort interface {
	CohortRepository
	HypothesisRepository
}
