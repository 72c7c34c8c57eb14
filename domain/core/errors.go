package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound          = errors.New("resource not found")
	ErrUnknownHypothesis = fmt.Errorf("%w: hypothesis", ErrNotFound)
	ErrUnknownCohort     = fmt.Errorf("%w: cohort", ErrNotFound)
	ErrNoEligibility     = fmt.Errorf("%w: eligibility entry", ErrNotFound)

	// Caller / data errors
	ErrInvalidWindow        = errors.New("evaluation window has not elapsed")
	ErrInvalidOutcome       = errors.New("invalid outcome")
	ErrInvalidHypothesis    = errors.New("invalid hypothesis")
	ErrDuplicateOutcome     = errors.New("outcome already recorded for trigger")
	ErrDuplicateHypothesis  = errors.New("hypothesis already registered")
	ErrMissingAssetUniverse = errors.New("asset universe is empty")

	// Statistical preconditions
	ErrInsufficientTrials = errors.New("insufficient trials for sharpe deflation")
	ErrInsufficientData   = errors.New("insufficient data for analysis")

	// Gate state errors
	ErrAlreadyPromoted   = errors.New("hypothesis already promoted")
	ErrNotEvaluable      = errors.New("hypothesis is not evaluable")
	ErrLockHeld          = errors.New("evaluation lock held by another run")
	ErrInvalidGate       = errors.New("unknown eligibility gate")
	ErrEligibilityExists = errors.New("eligibility version already exists")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewUnknownHypothesisError(id HypothesisID) error {
	return fmt.Errorf("%w %s", ErrUnknownHypothesis, id)
}

func NewValidationError(field string, reason string) error {
	return fmt.Errorf("validation failed for %s: %s", field, reason)
}

// IsNotFoundError reports whether err is any not-found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStatisticalPrecondition reports errors that resolve themselves once more data arrives.
// The gate defers these to the next scheduled run.
func IsStatisticalPrecondition(err error) bool {
	return errors.Is(err, ErrInsufficientTrials) ||
		errors.Is(err, ErrInsufficientData)
}

// IsDataIntegrityError reports caller/data errors that abort a single hypothesis' evaluation
// and must be escalated rather than retried.
func IsDataIntegrityError(err error) bool {
	return errors.Is(err, ErrUnknownHypothesis) ||
		errors.Is(err, ErrUnknownCohort) ||
		errors.Is(err, ErrMissingAssetUniverse) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrInvalidOutcome) ||
		errors.Is(err, ErrInvalidHypothesis)
}
