package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"hypogate/domain/core"
	"hypogate/domain/gate"
	"hypogate/domain/hypothesis"
	"hypogate/domain/outcome"
	"hypogate/ports"
)

// Store implements ports.Store for PostgreSQL. Every call runs under its own timeout.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

var _ ports.Store = (*Store)(nil)

// NewStore creates a PostgreSQL store
func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Store{db: db, timeout: timeout}
}

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// SaveCohort inserts or replaces a cohort
func (s *Store) SaveCohort(ctx context.Context, c hypothesis.Cohort) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cohorts (id, name, asset_class, regime, prior_trials, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			asset_class = EXCLUDED.asset_class,
			regime = EXCLUDED.regime,
			prior_trials = EXCLUDED.prior_trials`,
		c.ID.String(), c.Name, c.AssetClass, c.Regime, c.PriorTrials, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save cohort: %w", err)
	}
	return nil
}

// GetCohort returns a cohort by id
func (s *Store) GetCohort(ctx context.Context, id core.CohortID) (*hypothesis.Cohort, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var c hypothesis.Cohort
	err := s.db.GetContext(ctx, &c, `
		SELECT id, name, asset_class, regime, prior_trials, created_at
		FROM cohorts WHERE id = $1`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w %s", core.ErrUnknownCohort, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cohort: %w", err)
	}
	return &c, nil
}

// CreateHypothesis inserts a hypothesis; an existing id is left untouched and reported
func (s *Store) CreateHypothesis(ctx context.Context, h hypothesis.Hypothesis) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	crit, err := json.Marshal(h.SuccessCriterion)
	if err != nil {
		return fmt.Errorf("failed to marshal success_criterion: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO hypotheses (`+hypothesisColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`,
		h.ID.String(), h.CohortID.String(), h.Name, h.AssetClassFilter, h.RegimeFilter, h.TriggerCondition,
		string(h.Direction), int64(h.EvaluationWindow), h.MinimumSample, crit, pq.Array(h.AssetUniverse),
		string(h.Status), h.ActivatedAt, h.CreatedAt)
	if err != nil {
		if pqCode(err) == pqForeignKeyViolation {
			return fmt.Errorf("%w %s", core.ErrUnknownCohort, h.CohortID)
		}
		return fmt.Errorf("failed to create hypothesis: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create hypothesis: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrDuplicateHypothesis, h.ID)
	}
	return nil
}

// UpdateHypothesisStatus sets the lifecycle status of a registered hypothesis
func (s *Store) UpdateHypothesisStatus(ctx context.Context, id core.HypothesisID, status hypothesis.Status) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `UPDATE hypotheses SET status = $2 WHERE id = $1`, id.String(), string(status))
	if err != nil {
		return fmt.Errorf("failed to update hypothesis status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update hypothesis status: %w", err)
	}
	if n == 0 {
		return core.NewUnknownHypothesisError(id)
	}
	return nil
}

// GetHypothesis returns a hypothesis by id
func (s *Store) GetHypothesis(ctx context.Context, id core.HypothesisID) (*hypothesis.Hypothesis, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row hypothesisRow
	err := s.db.GetContext(ctx, &row, `SELECT `+hypothesisColumns+` FROM hypotheses WHERE id = $1`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewUnknownHypothesisError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hypothesis: %w", err)
	}
	h, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ListByCohort returns a cohort's hypotheses ordered by id
func (s *Store) ListByCohort(ctx context.Context, cohortID core.CohortID) ([]hypothesis.Hypothesis, error) {
	return s.selectHypotheses(ctx, `SELECT `+hypothesisColumns+` FROM hypotheses WHERE cohort_id = $1 ORDER BY id`, cohortID.String())
}

// ListEvaluable returns hypotheses the gate may score
func (s *Store) ListEvaluable(ctx context.Context) ([]hypothesis.Hypothesis, error) {
	return s.selectHypotheses(ctx, `SELECT `+hypothesisColumns+` FROM hypotheses
		WHERE status IN ('INCUBATION', 'CANDIDATE', 'WEAKENED') ORDER BY id`)
}

func (s *Store) selectHypotheses(ctx context.Context, query string, args ...any) ([]hypothesis.Hypothesis, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []hypothesisRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list hypotheses: %w", err)
	}
	out := make([]hypothesis.Hypothesis, 0, len(rows))
	for _, r := range rows {
		h, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// AppendOutcome inserts an outcome; the (hypothesis_id, trigger_at) key rejects duplicates
func (s *Store) AppendOutcome(ctx context.Context, o outcome.Outcome) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (`+outcomeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID.String(), o.HypothesisID.String(), o.TriggerAt, o.EntryPrice, o.MFEPrice, o.MAEPrice,
		o.WindowEndPrice, string(o.Direction), o.Win, o.RecordedAt)
	if err != nil {
		switch pqCode(err) {
		case pqUniqueViolation:
			return fmt.Errorf("%w: %s at %s", core.ErrDuplicateOutcome, o.HypothesisID, o.TriggerAt.Format(time.RFC3339Nano))
		case pqForeignKeyViolation:
			return core.NewUnknownHypothesisError(o.HypothesisID)
		}
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	return nil
}

// ListOutcomes returns outcomes in trigger order
func (s *Store) ListOutcomes(ctx context.Context, id core.HypothesisID) ([]outcome.Outcome, error) {
	return s.ListOutcomesRecorded(ctx, id, core.TimeRange{})
}

// ListOutcomesRecorded returns outcomes recorded within r in trigger order
func (s *Store) ListOutcomesRecorded(ctx context.Context, id core.HypothesisID, r core.TimeRange) ([]outcome.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	where, args := rangeClause("recorded_at", r, []any{id.String()})
	var rows []outcomeRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+outcomeColumns+` FROM outcomes
		WHERE hypothesis_id = $1`+where+` ORDER BY trigger_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	out := make([]outcome.Outcome, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// CountOutcomes returns the number of outcomes for a hypothesis
func (s *Store) CountOutcomes(ctx context.Context, id core.HypothesisID) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM outcomes WHERE hypothesis_id = $1`, id.String()); err != nil {
		return 0, fmt.Errorf("failed to count outcomes: %w", err)
	}
	return n, nil
}

// rangeClause appends optional [From, To) bounds on column
func rangeClause(column string, r core.TimeRange, args []any) (string, []any) {
	var b strings.Builder
	if !r.From.IsZero() {
		args = append(args, r.From)
		fmt.Fprintf(&b, " AND %s >= $%d", column, len(args))
	}
	if !r.To.IsZero() {
		args = append(args, r.To)
		fmt.Fprintf(&b, " AND %s < $%d", column, len(args))
	}
	return b.String(), args
}

// GetState returns the gate state or nil when none was recorded
func (s *Store) GetState(ctx context.Context, id core.HypothesisID) (*gate.StateRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return getState(ctx, s.db, id, false)
}

func getState(ctx context.Context, q sqlx.QueryerContext, id core.HypothesisID, forUpdate bool) (*gate.StateRecord, error) {
	query := `SELECT hypothesis_id, state, last_audit_id, evaluated_outcomes, updated_at
		FROM gate_states WHERE hypothesis_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row stateRow
	err := sqlx.GetContext(ctx, q, &row, query, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gate state: %w", err)
	}
	st := row.toDomain()
	return &st, nil
}

// ListAudits returns every audit in creation order
func (s *Store) ListAudits(ctx context.Context, id core.HypothesisID) ([]gate.Audit, error) {
	return s.ListAuditsCreated(ctx, id, core.TimeRange{})
}

// ListAuditsCreated returns audits created within r
func (s *Store) ListAuditsCreated(ctx context.Context, id core.HypothesisID, r core.TimeRange) ([]gate.Audit, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	where, args := rangeClause("created_at", r, []any{id.String()})
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+auditColumns+` FROM promotion_gate_audits
		WHERE hypothesis_id = $1`+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audits: %w", err)
	}
	out := make([]gate.Audit, 0, len(rows))
	for _, row := range rows {
		a, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// LatestEligibility returns the highest version entry
func (s *Store) LatestEligibility(ctx context.Context, id core.HypothesisID) (*gate.EligibilityEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return latestEligibility(ctx, s.db, id, false)
}

// ListEligibilityVersions returns every version in ascending order
func (s *Store) ListEligibilityVersions(ctx context.Context, id core.HypothesisID) ([]gate.EligibilityEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []eligibilityRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+eligibilityColumns+` FROM eligibility_entries
		WHERE hypothesis_id = $1 ORDER BY version`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list eligibility versions: %w", err)
	}
	out := make([]gate.EligibilityEntry, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// ListGovernanceEvents returns the governance trail in append order
func (s *Store) ListGovernanceEvents(ctx context.Context, id core.HypothesisID) ([]gate.GovernanceEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+eventColumns+` FROM governance_events
		WHERE hypothesis_id = $1 ORDER BY version, created_at, id`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list governance events: %w", err)
	}
	out := make([]gate.GovernanceEvent, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func latestEligibility(ctx context.Context, q sqlx.QueryerContext, id core.HypothesisID, forUpdate bool) (*gate.EligibilityEntry, error) {
	query := `SELECT ` + eligibilityColumns + ` FROM eligibility_entries
		WHERE hypothesis_id = $1 ORDER BY version DESC LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row eligibilityRow
	err := sqlx.GetContext(ctx, q, &row, query, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w for %s", core.ErrNoEligibility, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get eligibility: %w", err)
	}
	e := row.toDomain()
	return &e, nil
}

// WithinTx runs fn inside a database transaction
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.GateTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgTx is the GateTx view of a sqlx transaction
type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) AppendAudit(ctx context.Context, a gate.Audit) error {
	row, err := newAuditRow(a)
	if err != nil {
		return err
	}
	_, err = t.tx.NamedExecContext(ctx, `
		INSERT INTO promotion_gate_audits (`+auditColumns+`)
		VALUES (:id, :hypothesis_id, :outcome_count, :win_count, :minimum_sample, :win_rate,
			:deflated_sharpe, :pbo, :family_risk, :sample_size_passed, :win_rate_passed,
			:deflated_sharpe_passed, :pbo_passed, :family_risk_passed, :verdict, :reason,
			:outcome_fingerprint, :statistics, :checks, :thresholds, :created_at)`, row)
	if err != nil {
		return fmt.Errorf("failed to insert audit: %w", err)
	}
	return nil
}

func (t *pgTx) GetState(ctx context.Context, id core.HypothesisID) (*gate.StateRecord, error) {
	return getState(ctx, t.tx, id, true)
}

func (t *pgTx) PutState(ctx context.Context, st gate.StateRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO gate_states (hypothesis_id, state, last_audit_id, evaluated_outcomes, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hypothesis_id) DO UPDATE SET
			state = EXCLUDED.state,
			last_audit_id = EXCLUDED.last_audit_id,
			evaluated_outcomes = EXCLUDED.evaluated_outcomes,
			updated_at = EXCLUDED.updated_at`,
		st.HypothesisID.String(), string(st.State), st.LastAuditID.String(), st.EvaluatedOutcomes, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to put gate state: %w", err)
	}
	return nil
}

func (t *pgTx) AppendEligibility(ctx context.Context, e gate.EligibilityEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO eligibility_entries (`+eligibilityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID.String(), e.HypothesisID.String(), e.Version, string(e.Mode),
		e.Gates.EligibilityBlocked, e.Gates.LiveCapitalBlocked, e.Gates.LeverageBlocked,
		e.Gates.DependencyBlocked, e.Gates.AssetUniverseBlocked, pq.Array(e.AssetUniverse),
		e.AuditID.String(), e.CreatedAt)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return fmt.Errorf("%w: v%d for %s", core.ErrEligibilityExists, e.Version, e.HypothesisID)
		}
		return fmt.Errorf("failed to insert eligibility entry: %w", err)
	}
	return nil
}

func (t *pgTx) AppendGovernanceEvent(ctx context.Context, ev gate.GovernanceEvent) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO governance_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID.String(), ev.HypothesisID.String(), ev.Version, string(ev.Action), string(ev.Gate),
		ev.FromBlocked, ev.ToBlocked, ev.Actor, ev.Reason, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert governance event: %w", err)
	}
	return nil
}

func (t *pgTx) LatestEligibility(ctx context.Context, id core.HypothesisID) (*gate.EligibilityEntry, error) {
	return latestEligibility(ctx, t.tx, id, true)
}
