package gate

import (
	"fmt"
	"time"

	"hypogate/domain/core"
)

// State is the promotion gate state of a single hypothesis.
type State string

const (
	StatePendingSample State = "PENDING_SAMPLE"
	StateEvaluating    State = "EVALUATING"
	StatePassed        State = "PASSED"
	StateFailed        State = "FAILED"
)

// Terminal reports whether the gate never re-runs from this state
func (s State) Terminal() bool {
	return s == StatePassed
}

// Verdict of one evaluation attempt
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// Metric names used in audit checks
const (
	MetricSampleSize     = "sample_size"
	MetricWinRate        = "win_rate"
	MetricDeflatedSharpe = "deflated_sharpe"
	MetricPBO            = "pbo"
	MetricFamilyRisk     = "family_inflation_risk"
)

// Failure reasons recorded on FAIL audits that did not come from a metric
const (
	ReasonThresholds          = "thresholds_not_met"
	ReasonEligibilityRejected = "eligibility_rejected"
)

// Thresholds are the strict-conjunction pass conditions. Minimum sample is per hypothesis.
type Thresholds struct {
	MinWinRate        float64 `json:"min_win_rate" yaml:"min_win_rate"`
	MinDeflatedSharpe float64 `json:"min_deflated_sharpe" yaml:"min_deflated_sharpe"`
	MaxPBO            float64 `json:"max_pbo" yaml:"max_pbo"`
	MaxFamilyRisk     float64 `json:"max_family_risk" yaml:"max_family_risk"`
}

// DefaultThresholds returns the production pass conditions
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinWinRate:        0.55,
		MinDeflatedSharpe: 0.50,
		MaxPBO:            0.50,
		MaxFamilyRisk:     0.20,
	}
}

// Validate rejects thresholds that would make the gate meaningless
func (t Thresholds) Validate() error {
	if t.MinWinRate < 0 || t.MinWinRate >= 1 {
		return core.NewValidationError("min_win_rate", "must be in [0,1)")
	}
	if t.MaxPBO <= 0 || t.MaxPBO > 1 {
		return core.NewValidationError("max_pbo", "must be in (0,1]")
	}
	if t.MaxFamilyRisk <= 0 || t.MaxFamilyRisk > 1 {
		return core.NewValidationError("max_family_risk", "must be in (0,1]")
	}
	return nil
}

// MetricCheck is one condition of the conjunction
type MetricCheck struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Op        string  `json:"op"`
	Passed    bool    `json:"passed"`
}

func (c MetricCheck) String() string {
	status := "pass"
	if !c.Passed {
		status = "fail"
	}
	return fmt.Sprintf("%s=%.4f %s %.4f (%s)", c.Metric, c.Value, c.Op, c.Threshold, status)
}

// Statistics are the three statistical verdict inputs plus the observed Sharpe.
type Statistics struct {
	ObservedSharpe    float64 `json:"observed_sharpe"`
	DeflatedSharpe    float64 `json:"deflated_sharpe"`
	DSRProbability    float64 `json:"dsr_probability"`
	ExpectedMaxSharpe float64 `json:"expected_max_sharpe"`
	TrialCount        int     `json:"trial_count"`
	PBO               float64 `json:"pbo"`
	PBOSplits         int     `json:"pbo_splits"`
	FamilyRisk        float64 `json:"family_inflation_risk"`
	SiblingCount      int     `json:"sibling_count"`
}

// Audit is one immutable evaluation record.
type Audit struct {
	ID                 core.AuditID      `json:"id"`
	HypothesisID       core.HypothesisID `json:"hypothesis_id"`
	OutcomeCount       int               `json:"outcome_count"`
	WinCount           int               `json:"win_count"`
	MinimumSample      int               `json:"minimum_sample"`
	WinRate            float64           `json:"win_rate"`
	Statistics         Statistics        `json:"statistics"`
	Checks             []MetricCheck     `json:"checks"`
	SampleSizePassed   bool              `json:"sample_size_passed"`
	WinRatePassed      bool              `json:"win_rate_passed"`
	DeflatedSharpePass bool              `json:"deflated_sharpe_passed"`
	PBOPassed          bool              `json:"pbo_passed"`
	FamilyRiskPassed   bool              `json:"family_risk_passed"`
	Verdict            Verdict           `json:"verdict"`
	Reason             string            `json:"reason"`
	OutcomeFingerprint core.Hash         `json:"outcome_fingerprint"`
	Thresholds         Thresholds        `json:"thresholds"`
	CreatedAt          time.Time         `json:"created_at"`
}

// StateRecord tracks where a hypothesis sits in the gate state machine.
type StateRecord struct {
	HypothesisID      core.HypothesisID `json:"hypothesis_id"`
	State             State             `json:"state"`
	LastAuditID       core.AuditID      `json:"last_audit_id,omitempty"`
	EvaluatedOutcomes int               `json:"evaluated_outcomes"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Decide applies the strict conjunction. Any failing check yields FAIL.
func Decide(count, wins, minSample int, stats Statistics, t Thresholds) ([]MetricCheck, Verdict) {
	winRate := 0.0
	if count > 0 {
		winRate = float64(wins) / float64(count)
	}
	checks := []MetricCheck{
		{Metric: MetricSampleSize, Value: float64(count), Threshold: float64(minSample), Op: ">=", Passed: count >= minSample},
		{Metric: MetricWinRate, Value: winRate, Threshold: t.MinWinRate, Op: ">", Passed: winRate > t.MinWinRate},
		{Metric: MetricDeflatedSharpe, Value: stats.DeflatedSharpe, Threshold: t.MinDeflatedSharpe, Op: ">", Passed: stats.DeflatedSharpe > t.MinDeflatedSharpe},
		{Metric: MetricPBO, Value: stats.PBO, Threshold: t.MaxPBO, Op: "<", Passed: stats.PBO < t.MaxPBO},
		{Metric: MetricFamilyRisk, Value: stats.FamilyRisk, Threshold: t.MaxFamilyRisk, Op: "<", Passed: stats.FamilyRisk < t.MaxFamilyRisk},
	}
	verdict := VerdictPass
	for _, c := range checks {
		if !c.Passed {
			verdict = VerdictFail
		}
	}
	return checks, verdict
}

// NewAudit builds an audit record from the evaluated checks
func NewAudit(id core.HypothesisID, count, wins, minSample int, stats Statistics, t Thresholds,
	fingerprint core.Hash, now time.Time) Audit {
	checks, verdict := Decide(count, wins, minSample, stats, t)
	a := Audit{
		ID:                 core.AuditID(core.NewID()),
		HypothesisID:       id,
		OutcomeCount:       count,
		WinCount:           wins,
		MinimumSample:      minSample,
		Statistics:         stats,
		Checks:             checks,
		Verdict:            verdict,
		OutcomeFingerprint: fingerprint,
		Thresholds:         t,
		CreatedAt:          now,
	}
	if count > 0 {
		a.WinRate = float64(wins) / float64(count)
	}
	for _, c := range checks {
		switch c.Metric {
		case MetricSampleSize:
			a.SampleSizePassed = c.Passed
		case MetricWinRate:
			a.WinRatePassed = c.Passed
		case MetricDeflatedSharpe:
			a.DeflatedSharpePass = c.Passed
		case MetricPBO:
			a.PBOPassed = c.Passed
		case MetricFamilyRisk:
			a.FamilyRiskPassed = c.Passed
		}
	}
	if verdict == VerdictFail {
		a.Reason = ReasonThresholds
	}
	return a
}

// Reject turns a PASS audit into a FAIL audit with the given reason. Used when the
// eligibility entry could not be created, so no PASS row can exist without an entry.
func (a Audit) Reject(reason string, now time.Time) Audit {
	a.ID = core.AuditID(core.NewID())
	a.Verdict = VerdictFail
	a.Reason = reason
	a.CreatedAt = now
	return a
}
