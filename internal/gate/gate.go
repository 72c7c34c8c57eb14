// Package gate runs the promotion state machine: it scores a hypothesis' ledger,
// writes an audit for every completed evaluation and, on a pass, creates the
// hypothesis' eligibility entry in the same transaction.
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"hypogate/domain/core"
	"hypogate/domain/gate"
	"hypogate/domain/hypothesis"
	"hypogate/domain/outcome"
	apperrors "hypogate/internal/errors"
	"hypogate/internal/metrics"
	"hypogate/ports"
)

// Config holds the gate's pass conditions and batch settings
type Config struct {
	Thresholds       gate.Thresholds
	BatchConcurrency int
}

// Deps are the collaborators of a Gate
type Deps struct {
	Registry   ports.RegistryPort
	Ledger     ports.LedgerReaderPort
	Store      ports.GateStore
	Locker     ports.LockerPort
	Statistics StatisticsProvider
	Writer     *EligibilityWriter
	Clock      core.Clock
	Metrics    *metrics.Registry
	Logger     zerolog.Logger
}

// Gate is the only component that writes audits and eligibility entries.
type Gate struct {
	registry ports.RegistryPort
	ledger   ports.LedgerReaderPort
	store    ports.GateStore
	locker   ports.LockerPort
	stats    StatisticsProvider
	writer   *EligibilityWriter
	clock    core.Clock
	metrics  *metrics.Registry
	logger   zerolog.Logger
	cfg      Config
}

// EvaluationResult describes what a single Evaluate call did
type EvaluationResult struct {
	HypothesisID core.HypothesisID      `json:"hypothesis_id"`
	State        gate.State             `json:"state"`
	OutcomeCount int                    `json:"outcome_count"`
	Audit        *gate.Audit            `json:"audit,omitempty"`
	Eligibility  *gate.EligibilityEntry `json:"eligibility,omitempty"`
}

// New creates a gate
func New(deps Deps, cfg Config) (*Gate, error) {
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil || deps.Ledger == nil || deps.Store == nil || deps.Locker == nil || deps.Statistics == nil {
		return nil, errors.New("gate: registry, ledger, store, locker and statistics are required")
	}
	if deps.Clock == nil {
		deps.Clock = core.SystemClock{}
	}
	if deps.Writer == nil {
		deps.Writer = NewEligibilityWriter(deps.Clock)
	}
	if cfg.BatchConcurrency < 1 {
		cfg.BatchConcurrency = 1
	}
	return &Gate{
		registry: deps.Registry,
		ledger:   deps.Ledger,
		store:    deps.Store,
		locker:   deps.Locker,
		stats:    deps.Statistics,
		writer:   deps.Writer,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With().Str("component", "gate").Logger(),
		cfg:      cfg,
	}, nil
}

// LockKey is the exclusive lock key for one hypothesis' evaluation
func LockKey(id core.HypothesisID) string {
	return "hypogate:evaluate:" + id.String()
}

// Evaluate runs one pass of the state machine for a hypothesis. Below the minimum sample
// it records PENDING_SAMPLE and returns without an audit. A statistical precondition
// error leaves the state at EVALUATING and is returned for the next run to retry.
func (g *Gate) Evaluate(ctx context.Context, id core.HypothesisID) (EvaluationResult, error) {
	res := EvaluationResult{HypothesisID: id}

	release, err := g.locker.Acquire(ctx, LockKey(id))
	if err != nil {
		return res, err
	}
	defer release()

	h, err := g.registry.GetHypothesis(ctx, id)
	if err != nil {
		return res, g.fail(id, err)
	}
	prev, err := g.store.GetState(ctx, id)
	if err != nil {
		return res, g.fail(id, err)
	}
	if (prev != nil && prev.State == gate.StatePassed) || h.Status == hypothesis.StatusPromoted {
		res.State = gate.StatePassed
		return res, fmt.Errorf("%w: %s", core.ErrAlreadyPromoted, id)
	}
	if !h.Status.Evaluable() {
		return res, fmt.Errorf("%w: %s is %s", core.ErrNotEvaluable, id, h.Status)
	}

	outcomes, err := g.ledger.ListOutcomes(ctx, id)
	if err != nil {
		return res, g.fail(id, err)
	}
	res.OutcomeCount = len(outcomes)

	if len(outcomes) < h.MinimumSample {
		res.State = gate.StatePendingSample
		if err := g.putState(ctx, id, gate.StatePendingSample); err != nil {
			return g.abort(res, err)
		}
		g.logger.Debug().
			Str("hypothesis_id", id.String()).
			Int("outcomes", len(outcomes)).
			Int("minimum_sample", h.MinimumSample).
			Msg("awaiting sample")
		return res, nil
	}

	res.State = gate.StateEvaluating
	if err := g.putState(ctx, id, gate.StateEvaluating); err != nil {
		return g.abort(res, err)
	}

	st, err := g.stats.Compute(ctx, *h, outcomes)
	if err != nil {
		return res, g.fail(id, err)
	}

	audit := gate.NewAudit(id, len(outcomes), outcome.WinCount(outcomes), h.MinimumSample, st,
		g.cfg.Thresholds, outcome.Fingerprint(outcomes), g.clock.Now())

	var writerErr error
	err = g.store.WithinTx(ctx, func(ctx context.Context, tx ports.GateTx) error {
		if _, err := unpromotedState(ctx, tx, id); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, audit); err != nil {
			return err
		}
		next := gate.StateFailed
		if audit.Verdict == gate.VerdictPass {
			if _, err := g.writer.CreateEligibilityEntry(ctx, tx, id, audit.ID, h.AssetUniverse); err != nil {
				if errors.Is(err, core.ErrMissingAssetUniverse) {
					writerErr = err
				}
				return err
			}
			next = gate.StatePassed
		}
		return tx.PutState(ctx, g.stateRecord(id, next, len(outcomes), audit.ID))
	})
	if err != nil && writerErr == nil {
		return g.abort(res, err)
	}
	if writerErr != nil {
		audit, err = g.reject(ctx, audit, len(outcomes))
		if err != nil {
			return g.abort(res, err)
		}
		res.State = gate.StateFailed
		res.Audit = &audit
		g.metrics.RecordEvaluation(string(audit.Verdict), st.DeflatedSharpe, st.PBO, st.FamilyRisk)
		return res, g.fail(id, fmt.Errorf("eligibility rejected: %w", writerErr))
	}

	res.Audit = &audit
	res.State = gate.StateFailed
	if audit.Verdict == gate.VerdictPass {
		res.State = gate.StatePassed
		entry, err := g.store.LatestEligibility(ctx, id)
		if err != nil {
			return res, g.fail(id, err)
		}
		res.Eligibility = entry
	}
	g.metrics.RecordEvaluation(string(audit.Verdict), st.DeflatedSharpe, st.PBO, st.FamilyRisk)

	event := g.logger.Info()
	if audit.Verdict == gate.VerdictFail {
		event = g.logger.Debug()
	}
	event.
		Str("hypothesis_id", id.String()).
		Str("verdict", string(audit.Verdict)).
		Int("outcomes", audit.OutcomeCount).
		Float64("win_rate", audit.WinRate).
		Float64("deflated_sharpe", st.DeflatedSharpe).
		Float64("pbo", st.PBO).
		Float64("family_risk", st.FamilyRisk).
		Msg("hypothesis evaluated")
	return res, nil
}

// reject records the FAIL audit that replaces a PASS whose eligibility entry could not be written
func (g *Gate) reject(ctx context.Context, pass gate.Audit, count int) (gate.Audit, error) {
	rejected := pass.Reject(gate.ReasonEligibilityRejected, g.clock.Now())
	err := g.store.WithinTx(ctx, func(ctx context.Context, tx ports.GateTx) error {
		if _, err := unpromotedState(ctx, tx, pass.HypothesisID); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, rejected); err != nil {
			return err
		}
		return tx.PutState(ctx, g.stateRecord(pass.HypothesisID, gate.StateFailed, count, rejected.ID))
	})
	return rejected, err
}

func (g *Gate) stateRecord(id core.HypothesisID, s gate.State, count int, auditID core.AuditID) gate.StateRecord {
	return gate.StateRecord{
		HypothesisID:      id,
		State:             s,
		LastAuditID:       auditID,
		EvaluatedOutcomes: count,
		UpdatedAt:         g.clock.Now(),
	}
}

// putState records a transition that carries no audit, keeping the last audit reference
func (g *Gate) putState(ctx context.Context, id core.HypothesisID, s gate.State) error {
	return g.store.WithinTx(ctx, func(ctx context.Context, tx ports.GateTx) error {
		cur, err := unpromotedState(ctx, tx, id)
		if err != nil {
			return err
		}
		rec := gate.StateRecord{HypothesisID: id, State: s, UpdatedAt: g.clock.Now()}
		if cur != nil {
			rec.LastAuditID = cur.LastAuditID
			rec.EvaluatedOutcomes = cur.EvaluatedOutcomes
		}
		return tx.PutState(ctx, rec)
	})
}

// unpromotedState re-reads the state under the transaction. Another process may have
// promoted the hypothesis after this evaluation started.
func unpromotedState(ctx context.Context, tx ports.GateTx, id core.HypothesisID) (*gate.StateRecord, error) {
	cur, err := tx.GetState(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur != nil && cur.State == gate.StatePassed {
		return nil, fmt.Errorf("%w: %s", core.ErrAlreadyPromoted, id)
	}
	return cur, nil
}

// abort ends an evaluation that wrote no audit. A promotion that landed first is not a failure.
func (g *Gate) abort(res EvaluationResult, err error) (EvaluationResult, error) {
	if errors.Is(err, core.ErrAlreadyPromoted) {
		res.State = gate.StatePassed
		g.logger.Info().Str("hypothesis_id", res.HypothesisID.String()).Msg("promoted by a concurrent evaluation")
		return res, err
	}
	return res, g.fail(res.HypothesisID, err)
}

// fail classifies and logs an evaluation that ended without a normal audit
func (g *Gate) fail(id core.HypothesisID, err error) error {
	kind := ErrorKind(err)
	g.metrics.RecordEvaluationError(kind)
	switch kind {
	case KindDeferred:
		g.logger.Info().Err(err).Str("hypothesis_id", id.String()).Msg("evaluation deferred")
	case KindIntegrity:
		g.logger.Error().Err(err).Str("hypothesis_id", id.String()).Str("code", apperrors.CodeDataIntegrity).Msg("evaluation escalated")
	default:
		g.logger.Error().Err(err).Str("hypothesis_id", id.String()).Msg("evaluation failed")
	}
	return err
}

// Error kinds reported in metrics and batch reports
const (
	KindDeferred  = "deferred"
	KindIntegrity = "integrity"
	KindInternal  = "internal"
)

// ErrorKind classifies an evaluation error
func ErrorKind(err error) string {
	switch {
	case core.IsStatisticalPrecondition(err):
		return KindDeferred
	case core.IsDataIntegrityError(err):
		return KindIntegrity
	default:
		return KindInternal
	}
}

// State returns the recorded gate state; a hypothesis never seen is PENDING_SAMPLE
func (g *Gate) State(ctx context.Context, id core.HypothesisID) (gate.StateRecord, error) {
	if _, err := g.registry.GetHypothesis(ctx, id); err != nil {
		return gate.StateRecord{}, err
	}
	st, err := g.store.GetState(ctx, id)
	if err != nil {
		return gate.StateRecord{}, err
	}
	if st == nil {
		return gate.StateRecord{HypothesisID: id, State: gate.StatePendingSample}, nil
	}
	return *st, nil
}
