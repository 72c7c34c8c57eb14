package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"hypogate/domain/core"
	"hypogate/domain/gate"
	"hypogate/domain/hypothesis"
	"hypogate/domain/outcome"
)

type hypothesisRow struct {
	ID                 string         `db:"id"`
	CohortID           string         `db:"cohort_id"`
	Name               string         `db:"name"`
	AssetClassFilter   string         `db:"asset_class_filter"`
	RegimeFilter       string         `db:"regime_filter"`
	TriggerCondition   string         `db:"trigger_condition"`
	Direction          string         `db:"direction"`
	EvaluationWindowNS int64          `db:"evaluation_window_ns"`
	MinimumSample      int            `db:"minimum_sample"`
	SuccessCriterion   []byte         `db:"success_criterion"`
	AssetUniverse      pq.StringArray `db:"asset_universe"`
	Status             string         `db:"status"`
	ActivatedAt        time.Time      `db:"activated_at"`
	CreatedAt          time.Time      `db:"created_at"`
}

const hypothesisColumns = `id, cohort_id, name, asset_class_filter, regime_filter, trigger_condition,
	direction, evaluation_window_ns, minimum_sample, success_criterion, asset_universe, status,
	activated_at, created_at`

func (r hypothesisRow) toDomain() (hypothesis.Hypothesis, error) {
	var crit hypothesis.SuccessCriterion
	if err := json.Unmarshal(r.SuccessCriterion, &crit); err != nil {
		return hypothesis.Hypothesis{}, fmt.Errorf("failed to unmarshal success_criterion: %w", err)
	}
	return hypothesis.Hypothesis{
		ID:               core.HypothesisID(r.ID),
		CohortID:         core.CohortID(r.CohortID),
		Name:             r.Name,
		AssetClassFilter: r.AssetClassFilter,
		RegimeFilter:     r.RegimeFilter,
		TriggerCondition: r.TriggerCondition,
		Direction:        hypothesis.Direction(r.Direction),
		EvaluationWindow: time.Duration(r.EvaluationWindowNS),
		MinimumSample:    r.MinimumSample,
		SuccessCriterion: crit,
		AssetUniverse:    []string(r.AssetUniverse),
		Status:           hypothesis.Status(r.Status),
		ActivatedAt:      r.ActivatedAt.UTC(),
		CreatedAt:        r.CreatedAt.UTC(),
	}, nil
}

type outcomeRow struct {
	ID             string          `db:"id"`
	HypothesisID   string          `db:"hypothesis_id"`
	TriggerAt      time.Time       `db:"trigger_at"`
	EntryPrice     decimal.Decimal `db:"entry_price"`
	MFEPrice       decimal.Decimal `db:"mfe_price"`
	MAEPrice       decimal.Decimal `db:"mae_price"`
	WindowEndPrice decimal.Decimal `db:"window_end_price"`
	Direction      string          `db:"direction"`
	Win            bool            `db:"win"`
	RecordedAt     time.Time       `db:"recorded_at"`
}

const outcomeColumns = `id, hypothesis_id, trigger_at, entry_price, mfe_price, mae_price,
	window_end_price, direction, win, recorded_at`

func (r outcomeRow) toDomain() outcome.Outcome {
	return outcome.Outcome{
		ID:             core.OutcomeID(r.ID),
		HypothesisID:   core.HypothesisID(r.HypothesisID),
		TriggerAt:      r.TriggerAt.UTC(),
		EntryPrice:     r.EntryPrice,
		MFEPrice:       r.MFEPrice,
		MAEPrice:       r.MAEPrice,
		WindowEndPrice: r.WindowEndPrice,
		Direction:      hypothesis.Direction(r.Direction),
		Win:            r.Win,
		RecordedAt:     r.RecordedAt.UTC(),
	}
}

type stateRow struct {
	HypothesisID      string    `db:"hypothesis_id"`
	State             string    `db:"state"`
	LastAuditID       string    `db:"last_audit_id"`
	EvaluatedOutcomes int       `db:"evaluated_outcomes"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r stateRow) toDomain() gate.StateRecord {
	return gate.StateRecord{
		HypothesisID:      core.HypothesisID(r.HypothesisID),
		State:             gate.State(r.State),
		LastAuditID:       core.AuditID(r.LastAuditID),
		EvaluatedOutcomes: r.EvaluatedOutcomes,
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

type auditRow struct {
	ID                   string    `db:"id"`
	HypothesisID         string    `db:"hypothesis_id"`
	OutcomeCount         int       `db:"outcome_count"`
	WinCount             int       `db:"win_count"`
	MinimumSample        int       `db:"minimum_sample"`
	WinRate              float64   `db:"win_rate"`
	DeflatedSharpe       float64   `db:"deflated_sharpe"`
	PBO                  float64   `db:"pbo"`
	FamilyRisk           float64   `db:"family_risk"`
	SampleSizePassed     bool      `db:"sample_size_passed"`
	WinRatePassed        bool      `db:"win_rate_passed"`
	DeflatedSharpePassed bool      `db:"deflated_sharpe_passed"`
	PBOPassed            bool      `db:"pbo_passed"`
	FamilyRiskPassed     bool      `db:"family_risk_passed"`
	Verdict              string    `db:"verdict"`
	Reason               string    `db:"reason"`
	OutcomeFingerprint   string    `db:"outcome_fingerprint"`
	Statistics           []byte    `db:"statistics"`
	Checks               []byte    `db:"checks"`
	Thresholds           []byte    `db:"thresholds"`
	CreatedAt            time.Time `db:"created_at"`
}

const auditColumns = `id, hypothesis_id, outcome_count, win_count, minimum_sample, win_rate,
	deflated_sharpe, pbo, family_risk, sample_size_passed, win_rate_passed, deflated_sharpe_passed,
	pbo_passed, family_risk_passed, verdict, reason, outcome_fingerprint, statistics, checks,
	thresholds, created_at`

func newAuditRow(a gate.Audit) (auditRow, error) {
	statsJSON, err := json.Marshal(a.Statistics)
	if err != nil {
		return auditRow{}, fmt.Errorf("failed to marshal statistics: %w", err)
	}
	checksJSON, err := json.Marshal(a.Checks)
	if err != nil {
		return auditRow{}, fmt.Errorf("failed to marshal checks: %w", err)
	}
	thresholdsJSON, err := json.Marshal(a.Thresholds)
	if err != nil {
		return auditRow{}, fmt.Errorf("failed to marshal thresholds: %w", err)
	}
	return auditRow{
		ID:                   a.ID.String(),
		HypothesisID:         a.HypothesisID.String(),
		OutcomeCount:         a.OutcomeCount,
		WinCount:             a.WinCount,
		MinimumSample:        a.MinimumSample,
		WinRate:              a.WinRate,
		DeflatedSharpe:       a.Statistics.DeflatedSharpe,
		PBO:                  a.Statistics.PBO,
		FamilyRisk:           a.Statistics.FamilyRisk,
		SampleSizePassed:     a.SampleSizePassed,
		WinRatePassed:        a.WinRatePassed,
		DeflatedSharpePassed: a.DeflatedSharpePass,
		PBOPassed:            a.PBOPassed,
		FamilyRiskPassed:     a.FamilyRiskPassed,
		Verdict:              string(a.Verdict),
		Reason:               a.Reason,
		OutcomeFingerprint:   a.OutcomeFingerprint.String(),
		Statistics:           statsJSON,
		Checks:               checksJSON,
		Thresholds:           thresholdsJSON,
		CreatedAt:            a.CreatedAt,
	}, nil
}

func (r auditRow) toDomain() (gate.Audit, error) {
	a := gate.Audit{
		ID:                 core.AuditID(r.ID),
		HypothesisID:       core.HypothesisID(r.HypothesisID),
		OutcomeCount:       r.OutcomeCount,
		WinCount:           r.WinCount,
		MinimumSample:      r.MinimumSample,
		WinRate:            r.WinRate,
		SampleSizePassed:   r.SampleSizePassed,
		WinRatePassed:      r.WinRatePassed,
		DeflatedSharpePass: r.DeflatedSharpePassed,
		PBOPassed:          r.PBOPassed,
		FamilyRiskPassed:   r.FamilyRiskPassed,
		Verdict:            gate.Verdict(r.Verdict),
		Reason:             r.Reason,
		OutcomeFingerprint: core.Hash(r.OutcomeFingerprint),
		CreatedAt:          r.CreatedAt.UTC(),
	}
	if err := json.Unmarshal(r.Statistics, &a.Statistics); err != nil {
		return gate.Audit{}, fmt.Errorf("failed to unmarshal statistics: %w", err)
	}
	if err := json.Unmarshal(r.Checks, &a.Checks); err != nil {
		return gate.Audit{}, fmt.Errorf("failed to unmarshal checks: %w", err)
	}
	if err := json.Unmarshal(r.Thresholds, &a.Thresholds); err != nil {
		return gate.Audit{}, fmt.Errorf("failed to unmarshal thresholds: %w", err)
	}
	return a, nil
}

type eligibilityRow struct {
	ID                   string         `db:"id"`
	HypothesisID         string         `db:"hypothesis_id"`
	Version              int            `db:"version"`
	Mode                 string         `db:"mode"`
	EligibilityBlocked   bool           `db:"eligibility_blocked"`
	LiveCapitalBlocked   bool           `db:"live_capital_blocked"`
	LeverageBlocked      bool           `db:"leverage_blocked"`
	DependencyBlocked    bool           `db:"dependency_blocked"`
	AssetUniverseBlocked bool           `db:"asset_universe_blocked"`
	AssetUniverse        pq.StringArray `db:"asset_universe"`
	AuditID              string         `db:"audit_id"`
	CreatedAt            time.Time      `db:"created_at"`
}

const eligibilityColumns = `id, hypothesis_id, version, mode, eligibility_blocked, live_capital_blocked,
	leverage_blocked, dependency_blocked, asset_universe_blocked, asset_universe, audit_id, created_at`

func (r eligibilityRow) toDomain() gate.EligibilityEntry {
	return gate.EligibilityEntry{
		ID:           core.EligibilityID(r.ID),
		HypothesisID: core.HypothesisID(r.HypothesisID),
		Version:      r.Version,
		Mode:         gate.ExecutionMode(r.Mode),
		Gates: gate.Gates{
			EligibilityBlocked:   r.EligibilityBlocked,
			LiveCapitalBlocked:   r.LiveCapitalBlocked,
			LeverageBlocked:      r.LeverageBlocked,
			DependencyBlocked:    r.DependencyBlocked,
			AssetUniverseBlocked: r.AssetUniverseBlocked,
		},
		AssetUniverse: []string(r.AssetUniverse),
		AuditID:       core.AuditID(r.AuditID),
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

type eventRow struct {
	ID           string    `db:"id"`
	HypothesisID string    `db:"hypothesis_id"`
	Version      int       `db:"version"`
	Action       string    `db:"action"`
	Gate         string    `db:"gate"`
	FromBlocked  bool      `db:"from_blocked"`
	ToBlocked    bool      `db:"to_blocked"`
	Actor        string    `db:"actor"`
	Reason       string    `db:"reason"`
	CreatedAt    time.Time `db:"created_at"`
}

const eventColumns = `id, hypothesis_id, version, action, gate, from_blocked, to_blocked, actor, reason, created_at`

func (r eventRow) toDomain() gate.GovernanceEvent {
	return gate.GovernanceEvent{
		ID:           core.EventID(r.ID),
		HypothesisID: core.HypothesisID(r.HypothesisID),
		Version:      r.Version,
		Action:       gate.GovernanceAction(r.Action),
		Gate:         gate.GateName(r.Gate),
		FromBlocked:  r.FromBlocked,
		ToBlocked:    r.ToBlocked,
		Actor:        r.Actor,
		Reason:       r.Reason,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}
