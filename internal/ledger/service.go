// Package ledger is the append-only store of realized hypothesis trials.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"hypogate/domain/core"
	"hypogate/domain/outcome"
	"hypogate/internal/metrics"
	"hypogate/ports"
)

// Service records and reads outcomes. It owns outcome validation; the store only
// enforces (hypothesis, trigger) uniqueness.
type Service struct {
	registry ports.HypothesisRepository
	store    ports.LedgerPort
	clock    core.Clock
	metrics  *metrics.Registry
	logger   zerolog.Logger
}

// NewService creates a ledger service
func NewService(registry ports.HypothesisRepository, store ports.LedgerPort, clock core.Clock,
	m *metrics.Registry, logger zerolog.Logger) *Service {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Service{
		registry: registry,
		store:    store,
		clock:    clock,
		metrics:  m,
		logger:   logger.With().Str("component", "ledger").Logger(),
	}
}

// RecordOutcome validates and appends one trial. The trigger must fall on or after the
// hypothesis activation and its full evaluation window must have elapsed.
func (s *Service) RecordOutcome(ctx context.Context, in outcome.Input) (core.OutcomeID, error) {
	h, err := s.registry.GetHypothesis(ctx, in.HypothesisID)
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	trigger := in.TriggerAt.UTC()
	if trigger.Before(h.ActivatedAt) {
		return "", fmt.Errorf("%w: trigger %s precedes activation %s", core.ErrInvalidWindow,
			trigger.Format(time.RFC3339), h.ActivatedAt.Format(time.RFC3339))
	}
	if trigger.Add(h.EvaluationWindow).After(now) {
		return "", fmt.Errorf("%w: window closes at %s", core.ErrInvalidWindow,
			trigger.Add(h.EvaluationWindow).Format(time.RFC3339))
	}
	if err := outcome.ValidatePrices(h.Direction, in); err != nil {
		return "", err
	}

	r := outcome.ComputeReturns(h.Direction, in.EntryPrice, in.MFEPrice, in.MAEPrice, in.WindowEndPrice)
	o := outcome.Outcome{
		ID:             core.OutcomeID(core.NewID()),
		HypothesisID:   h.ID,
		TriggerAt:      trigger,
		EntryPrice:     in.EntryPrice,
		MFEPrice:       in.MFEPrice,
		MAEPrice:       in.MAEPrice,
		WindowEndPrice: in.WindowEndPrice,
		Direction:      h.Direction,
		Win:            h.SuccessCriterion.IsWin(r.Window, r.Favorable, r.Adverse),
		RecordedAt:     now,
	}
	if err := s.store.AppendOutcome(ctx, o); err != nil {
		return "", err
	}

	s.metrics.RecordOutcome()
	s.logger.Debug().
		Str("hypothesis_id", h.ID.String()).
		Str("outcome_id", o.ID.String()).
		Bool("win", o.Win).
		Float64("window_return", r.Window).
		Msg("outcome recorded")
	return o.ID, nil
}

// GetOutcomes returns every outcome of a hypothesis in trigger order
func (s *Service) GetOutcomes(ctx context.Context, id core.HypothesisID) ([]outcome.Outcome, error) {
	if _, err := s.registry.GetHypothesis(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListOutcomes(ctx, id)
}

// ListOutcomesRecordedBetween returns outcomes recorded in [from, to)
func (s *Service) ListOutcomesRecordedBetween(ctx context.Context, id core.HypothesisID, from, to time.Time) ([]outcome.Outcome, error) {
	if _, err := s.registry.GetHypothesis(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListOutcomesRecorded(ctx, id, core.TimeRange{From: from, To: to})
}
