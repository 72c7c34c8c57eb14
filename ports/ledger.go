package ports

import (
	"context"

	"hypogate/domain/core"
	"hypogate/domain/outcome"
)

// LedgerWriterPort provides append-only write access to outcomes.
// There is no update or delete.
type LedgerWriterPort interface {
	// AppendOutcome fails with core.ErrDuplicateOutcome when the hypothesis already
	// has an outcome for the same trigger timestamp
	AppendOutcome(ctx context.Context, o outcome.Outcome) error
}

// LedgerReaderPort provides read-only access to recorded outcomes
type LedgerReaderPort interface {
	// ListOutcomes returns outcomes ordered by trigger timestamp ascending, id as tiebreak
	ListOutcomes(ctx context.Context, id core.HypothesisID) ([]outcome.Outcome, error)

	// ListOutcomesRecorded returns outcomes whose recorded_at falls in r, in trigger order
	ListOutcomesRecorded(ctx context.Context, id core.HypothesisID, r core.TimeRange) ([]outcome.Outcome, error)

	// CountOutcomes returns the number of recorded outcomes
	CountOutcomes(ctx context.Context, id core.HypothesisID) (int, error)
}

// LedgerPort combines read and write access
type LedgerPort interface {
	LedgerWriterPort
	LedgerReaderPort
}
