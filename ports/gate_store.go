package ports

import (
	"context"

	"hypogate/domain/core"
	"hypogate/domain/gate"
)

// GateTx is the transactional write surface for audits, gate states and eligibility.
// Only the promotion gate and the governance service receive one.
type GateTx interface {
	AppendAudit(ctx context.Context, audit gate.Audit) error
	// GetState reads the state row and holds it until the transaction ends
	GetState(ctx context.Context, id core.HypothesisID) (*gate.StateRecord, error)
	PutState(ctx context.Context, state gate.StateRecord) error
	// AppendEligibility fails with core.ErrEligibilityExists when (hypothesis_id, version) exists
	AppendEligibility(ctx context.Context, entry gate.EligibilityEntry) error
	AppendGovernanceEvent(ctx context.Context, event gate.GovernanceEvent) error
	// LatestEligibility reads through uncommitted writes of the same transaction
	LatestEligibility(ctx context.Context, id core.HypothesisID) (*gate.EligibilityEntry, error)
}

// GateStore persists the three gate-owned record streams
type GateStore interface {
	// WithinTx runs fn atomically: every write made through tx commits together or not at all
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx GateTx) error) error

	// GetState returns nil, nil when the hypothesis has never been seen by the gate
	GetState(ctx context.Context, id core.HypothesisID) (*gate.StateRecord, error)

	ListAudits(ctx context.Context, id core.HypothesisID) ([]gate.Audit, error)
	ListAuditsCreated(ctx context.Context, id core.HypothesisID, r core.TimeRange) ([]gate.Audit, error)

	// LatestEligibility returns core.ErrNoEligibility when no entry exists
	LatestEligibility(ctx context.Context, id core.HypothesisID) (*gate.EligibilityEntry, error)
	ListEligibilityVersions(ctx context.Context, id core.HypothesisID) ([]gate.EligibilityEntry, error)
	ListGovernanceEvents(ctx context.Context, id core.HypothesisID) ([]gate.GovernanceEvent, error)
}
