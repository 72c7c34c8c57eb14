package hypothesis

import (
	"fmt"
	"strings"
	"time"

	"hypogate/domain/core"
)

// Status is the research lifecycle status owned by the generators.
type Status string

const (
	StatusIncubation Status = "INCUBATION"
	StatusCandidate  Status = "CANDIDATE"
	StatusWeakened   Status = "WEAKENED"
	StatusFalsified  Status = "FALSIFIED"
	StatusPromoted   Status = "PROMOTED"
)

// Valid reports whether s is part of the lifecycle
func (s Status) Valid() bool {
	switch s {
	case StatusIncubation, StatusCandidate, StatusWeakened, StatusFalsified, StatusPromoted:
		return true
	}
	return false
}

// Evaluable reports whether the gate may score a hypothesis in this status
func (s Status) Evaluable() bool {
	return s == StatusIncubation || s == StatusCandidate || s == StatusWeakened
}

// Direction of the trade implied by the trigger condition
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Sign returns +1 for long and -1 for short
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// CriterionKind selects how a single outcome is scored as win or loss
type CriterionKind string

const (
	// CriterionWindowReturn wins when the window-end return exceeds MinReturn.
	CriterionWindowReturn CriterionKind = "WINDOW_RETURN"
	// CriterionMFETarget wins when the favorable excursion reaches TargetReturn
	// without the adverse excursion touching -StopReturn first.
	CriterionMFETarget CriterionKind = "MFE_TARGET"
)

// SuccessCriterion defines a win for a single trial
type SuccessCriterion struct {
	Kind         CriterionKind `json:"kind" yaml:"kind"`
	MinReturn    float64       `json:"min_return,omitempty" yaml:"min_return"`
	TargetReturn float64       `json:"target_return,omitempty" yaml:"target_return"`
	StopReturn   float64       `json:"stop_return,omitempty" yaml:"stop_return"`
}

// Validate checks the criterion parameters
func (c SuccessCriterion) Validate() error {
	switch c.Kind {
	case CriterionWindowReturn:
		return nil
	case CriterionMFETarget:
		if c.TargetReturn <= 0 {
			return core.NewValidationError("success_criterion.target_return", "must be positive")
		}
		if c.StopReturn < 0 {
			return core.NewValidationError("success_criterion.stop_return", "must not be negative")
		}
		return nil
	default:
		return core.NewValidationError("success_criterion.kind", fmt.Sprintf("unsupported kind %q", c.Kind))
	}
}

// IsWin scores a trial from direction-adjusted returns. fav >= 0 and adv <= 0.
func (c SuccessCriterion) IsWin(windowReturn, fav, adv float64) bool {
	switch c.Kind {
	case CriterionMFETarget:
		if c.StopReturn > 0 && adv <= -c.StopReturn {
			return false
		}
		return fav >= c.TargetReturn
	default:
		return windowReturn > c.MinReturn
	}
}

// Cohort is the explicit evaluation family a hypothesis belongs to.
type Cohort struct {
	ID          core.CohortID `json:"id" db:"id"`
	Name        string        `json:"name" db:"name"`
	AssetClass  string        `json:"asset_class" db:"asset_class"`
	Regime      string        `json:"regime" db:"regime"`
	PriorTrials int           `json:"prior_trials" db:"prior_trials"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}

// Validate checks required cohort fields
func (c Cohort) Validate() error {
	if c.ID.String() == "" {
		return core.NewValidationError("cohort.id", "required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return core.NewValidationError("cohort.name", "required")
	}
	if c.PriorTrials < 0 {
		return core.NewValidationError("cohort.prior_trials", "must not be negative")
	}
	return nil
}

// Hypothesis is a falsifiable claim about market behavior. Read-only to the gate.
type Hypothesis struct {
	ID               core.HypothesisID `json:"id"`
	CohortID         core.CohortID     `json:"cohort_id"`
	Name             string            `json:"name"`
	AssetClassFilter string            `json:"asset_class_filter"`
	RegimeFilter     string            `json:"regime_filter"`
	TriggerCondition string            `json:"trigger_condition"`
	Direction        Direction         `json:"direction"`
	EvaluationWindow time.Duration     `json:"evaluation_window"`
	MinimumSample    int               `json:"minimum_sample"`
	SuccessCriterion SuccessCriterion  `json:"success_criterion"`
	AssetUniverse    []string          `json:"asset_universe"`
	Status           Status            `json:"status"`
	ActivatedAt      time.Time         `json:"activated_at"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Validate checks a hypothesis before registration. Cohort existence is checked by the registry.
func (h Hypothesis) Validate() error {
	if h.ID.String() == "" {
		return fmt.Errorf("%w: %v", core.ErrInvalidHypothesis, core.NewValidationError("id", "required"))
	}
	if h.CohortID.String() == "" {
		return fmt.Errorf("%w: %v", core.ErrInvalidHypothesis, core.NewValidationError("cohort_id", "required"))
	}
	if strings.TrimSpace(h.Name) == "" {
		return fmt.Errorf("%w: %v", core.ErrInvalidHypothesis, core.NewValidationError("name", "required"))
	}
	if h.Direction != DirectionLong && h.Direction != DirectionShort {
		return fmt.Errorf("%w: %v", core.ErrInvalidHypothesis, core.NewValidationError("direction", "must be LONG or SHORT"))
	}
	if h.EvaluationWindow <= 0 {
		return fmt.Errorf("%w: %v", core.ErrInvalidHypothesis, core.NewValidationError("evaluation_window", "must be positive"))
	}
	if h.MinimumSample < 2 {
		return fmt.Errorf("%w: %v", core.ErrInvalidHypothesis, core.NewValidationError("minimum_sample", "must be at least 2"))
	}
	if !h.Status.Valid() {
		return fmt.Errorf("%w: %v", core.ErrInvalidHypothesis, core.NewValidationError("status", fmt.Sprintf("unknown status %q", h.Status)))
	}
	if h.ActivatedAt.IsZero() {
		return fmt.Errorf("%w: %v", core.ErrInvalidHypothesis, core.NewValidationError("activated_at", "required"))
	}
	if err := h.SuccessCriterion.Validate(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidHypothesis, err)
	}
	return nil
}

// NormalizedUniverse returns the trimmed, non-empty asset symbols
func (h Hypothesis) NormalizedUniverse() []string {
	return NormalizeUniverse(h.AssetUniverse)
}

// NormalizeUniverse trims symbols and drops blanks and duplicates, keeping order.
func NormalizeUniverse(universe []string) []string {
	seen := make(map[string]bool, len(universe))
	out := make([]string, 0, len(universe))
	for _, s := range universe {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
