package gate

import (
	"context"
	"errors"
	"fmt"

	"hypogate/domain/core"
	"hypogate/domain/gate"
	"hypogate/domain/hypothesis"
	"hypogate/ports"
)

// EligibilityWriter creates the first eligibility entry for a passed hypothesis.
// It only ever writes through the caller's transaction.
type EligibilityWriter struct {
	clock core.Clock
}

// NewEligibilityWriter creates a writer
func NewEligibilityWriter(clock core.Clock) *EligibilityWriter {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &EligibilityWriter{clock: clock}
}

// CreateEligibilityEntry writes version 1 of the entry in SHADOW mode with every gate
// blocked, plus the CREATED governance event. A blank asset universe persists nothing.
// An entry that already exists means another evaluation promoted the hypothesis first
// and is reported as core.ErrAlreadyPromoted.
func (w *EligibilityWriter) CreateEligibilityEntry(ctx context.Context, tx ports.GateTx, id core.HypothesisID,
	auditID core.AuditID, assetUniverse []string) (core.EligibilityID, error) {
	universe := hypothesis.NormalizeUniverse(assetUniverse)
	if len(universe) == 0 {
		return "", fmt.Errorf("%w for %s", core.ErrMissingAssetUniverse, id)
	}

	existing, err := tx.LatestEligibility(ctx, id)
	switch {
	case err == nil:
		return "", fmt.Errorf("%w: eligibility entry v%d exists for %s", core.ErrAlreadyPromoted, existing.Version, id)
	case !errors.Is(err, core.ErrNoEligibility):
		return "", err
	}

	now := w.clock.Now()
	entry := gate.EligibilityEntry{
		ID:            core.EligibilityID(core.NewID()),
		HypothesisID:  id,
		Version:       1,
		Mode:          gate.ModeShadow,
		Gates:         gate.AllBlocked(),
		AssetUniverse: universe,
		AuditID:       auditID,
		CreatedAt:     now,
	}
	if err := tx.AppendEligibility(ctx, entry); err != nil {
		if errors.Is(err, core.ErrEligibilityExists) {
			return "", fmt.Errorf("%w: %v", core.ErrAlreadyPromoted, err)
		}
		return "", err
	}
	event := gate.GovernanceEvent{
		ID:           core.EventID(core.NewID()),
		HypothesisID: id,
		Version:      1,
		Action:       gate.ActionCreated,
		FromBlocked:  true,
		ToBlocked:    true,
		Actor:        gate.GateActor,
		Reason:       fmt.Sprintf("promotion audit %s", auditID),
		CreatedAt:    now,
	}
	if err := tx.AppendGovernanceEvent(ctx, event); err != nil {
		return "", err
	}
	return entry.ID, nil
}
