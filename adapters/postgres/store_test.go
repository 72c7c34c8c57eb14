package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypogate/domain/core"
	"hypogate/domain/gate"
	"hypogate/domain/hypothesis"
	"hypogate/domain/outcome"
	"hypogate/ports"
)

var (
	activated = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	recorded  = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewStore(sqlx.NewDb(mockDB, "postgres"), time.Second), mock
}

func hypothesisRowColumns() []string {
	return []string{"id", "cohort_id", "name", "asset_class_filter", "regime_filter", "trigger_condition",
		"direction", "evaluation_window_ns", "minimum_sample", "success_criterion", "asset_universe", "status",
		"activated_at", "created_at"}
}

func TestGetHypothesisDecodesRow(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows(hypothesisRowColumns()).AddRow(
		"h1", "c1", "funding squeeze", "crypto", "risk_on", "funding < -0.01",
		"LONG", int64(4*time.Hour), 30, []byte(`{"kind":"WINDOW_RETURN","min_return":0.002}`), "{BTC,ETH}", "CANDIDATE",
		activated, activated,
	)
	mock.ExpectQuery("FROM hypotheses WHERE id = \\$1").WithArgs("h1").WillReturnRows(rows)

	h, err := s.GetHypothesis(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, core.CohortID("c1"), h.CohortID)
	assert.Equal(t, 4*time.Hour, h.EvaluationWindow)
	assert.Equal(t, hypothesis.CriterionWindowReturn, h.SuccessCriterion.Kind)
	assert.InDelta(t, 0.002, h.SuccessCriterion.MinReturn, 1e-12)
	assert.Equal(t, []string{"BTC", "ETH"}, h.AssetUniverse)
	assert.Equal(t, hypothesis.StatusCandidate, h.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetHypothesisNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM hypotheses WHERE id").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(hypothesisRowColumns()))

	_, err := s.GetHypothesis(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrUnknownHypothesis)
	assert.True(t, core.IsNotFoundError(err))
}

func TestCreateHypothesisUnknownCohort(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO hypotheses").WillReturnError(&pq.Error{Code: pqForeignKeyViolation})

	err := s.CreateHypothesis(context.Background(), hypothesis.Hypothesis{
		ID:               "h1",
		CohortID:         "nope",
		Direction:        hypothesis.DirectionLong,
		SuccessCriterion: hypothesis.SuccessCriterion{Kind: hypothesis.CriterionWindowReturn},
	})
	assert.ErrorIs(t, err, core.ErrUnknownCohort)
}

func TestCreateHypothesisExistingID(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("(?s)INSERT INTO hypotheses.*ON CONFLICT \\(id\\) DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.CreateHypothesis(context.Background(), hypothesis.Hypothesis{
		ID:               "h1",
		CohortID:         "c1",
		Direction:        hypothesis.DirectionLong,
		SuccessCriterion: hypothesis.SuccessCriterion{Kind: hypothesis.CriterionWindowReturn},
	})
	assert.ErrorIs(t, err, core.ErrDuplicateHypothesis)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateHypothesisStatus(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE hypotheses SET status").WithArgs("h1", "FALSIFIED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE hypotheses SET status").WithArgs("nope", "FALSIFIED").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.UpdateHypothesisStatus(context.Background(), "h1", hypothesis.StatusFalsified))
	err := s.UpdateHypothesisStatus(context.Background(), "nope", hypothesis.StatusFalsified)
	assert.ErrorIs(t, err, core.ErrUnknownHypothesis)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendOutcomeDuplicate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO outcomes").WillReturnError(&pq.Error{Code: pqUniqueViolation})

	err := s.AppendOutcome(context.Background(), outcome.Outcome{
		ID:           "o1",
		HypothesisID: "h1",
		TriggerAt:    activated,
		EntryPrice:   decimal.NewFromInt(100),
		Direction:    hypothesis.DirectionLong,
	})
	assert.ErrorIs(t, err, core.ErrDuplicateOutcome)
}

func TestListOutcomesRecordedBounds(t *testing.T) {
	s, mock := newMockStore(t)
	from, to := recorded.Add(-time.Hour), recorded.Add(time.Hour)

	rows := sqlmock.NewRows([]string{"id", "hypothesis_id", "trigger_at", "entry_price", "mfe_price", "mae_price",
		"window_end_price", "direction", "win", "recorded_at"}).
		AddRow("o1", "h1", activated, "100", "104.5", "98", "102.25", "LONG", true, recorded)
	mock.ExpectQuery("recorded_at >= \\$2 AND recorded_at < \\$3 ORDER BY trigger_at, id").
		WithArgs("h1", from, to).
		WillReturnRows(rows)

	got, err := s.ListOutcomesRecorded(context.Background(), "h1", core.TimeRange{From: from, To: to})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].WindowEndPrice.Equal(decimal.RequireFromString("102.25")))
	assert.True(t, got[0].Win)
	assert.Equal(t, recorded, got[0].RecordedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRangeClause(t *testing.T) {
	where, args := rangeClause("created_at", core.TimeRange{}, []any{"h1"})
	assert.Empty(t, where)
	assert.Len(t, args, 1)

	where, args = rangeClause("created_at", core.TimeRange{To: recorded}, []any{"h1"})
	assert.Equal(t, " AND created_at < $2", where)
	assert.Equal(t, []any{"h1", recorded}, args)
}

func TestGetStateMissingIsNil(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM gate_states").WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{"hypothesis_id", "state", "last_audit_id", "evaluated_outcomes", "updated_at"}))

	st, err := s.GetState(context.Background(), "h1")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestWithinTxGetStateLocksRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)FROM gate_states.*FOR UPDATE").WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{"hypothesis_id", "state", "last_audit_id", "evaluated_outcomes", "updated_at"}).
			AddRow("h1", "PASSED", "a1", 40, recorded))
	mock.ExpectCommit()

	var st *gate.StateRecord
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.GateTx) error {
		var err error
		st, err = tx.GetState(ctx, "h1")
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, gate.StatePassed, st.State)
	assert.Equal(t, 40, st.EvaluatedOutcomes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxCommits(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO promotion_gate_audits").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO gate_states").
		WithArgs("h1", "PASSED", "a1", 40, recorded).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.GateTx) error {
		audit := gate.Audit{ID: "a1", HypothesisID: "h1", Verdict: gate.VerdictPass, CreatedAt: recorded}
		if err := tx.AppendAudit(ctx, audit); err != nil {
			return err
		}
		return tx.PutState(ctx, gate.StateRecord{
			HypothesisID: "h1", State: gate.StatePassed, LastAuditID: "a1", EvaluatedOutcomes: 40, UpdatedAt: recorded,
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("writer failed")

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)FROM eligibility_entries.*FOR UPDATE").WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.GateTx) error {
		_, err := tx.LatestEligibility(ctx, "h1")
		require.ErrorIs(t, err, core.ErrNoEligibility)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEligibilityDuplicateVersion(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO eligibility_entries").WillReturnError(&pq.Error{Code: pqUniqueViolation})
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.GateTx) error {
		return tx.AppendEligibility(ctx, gate.EligibilityEntry{
			ID: "e1", HypothesisID: "h1", Version: 1, Mode: gate.ModeShadow, Gates: gate.AllBlocked(),
			AssetUniverse: []string{"BTC"}, AuditID: "a1", CreatedAt: recorded,
		})
	})
	assert.ErrorIs(t, err, core.ErrEligibilityExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}
