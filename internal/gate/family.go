package gate

import (
	"context"
	"sort"

	"hypogate/domain/core"
	"hypogate/domain/hypothesis"
	"hypogate/domain/outcome"
	"hypogate/domain/stats"
	"hypogate/ports"
)

// FamilyRiskCalculator scores how much a hypothesis' track record could be a repeat of
// concurrently tested siblings.
type FamilyRiskCalculator struct {
	registry ports.HypothesisRepository
	ledger   ports.LedgerReaderPort
}

// NewFamilyRiskCalculator creates a calculator reading from the ledger
func NewFamilyRiskCalculator(registry ports.HypothesisRepository, ledger ports.LedgerReaderPort) *FamilyRiskCalculator {
	return &FamilyRiskCalculator{registry: registry, ledger: ledger}
}

// Compute loads the target and sibling outcomes and returns the family risk. Bucket width
// is the target's evaluation window. No siblings gives 0.
func (c *FamilyRiskCalculator) Compute(ctx context.Context, id core.HypothesisID, siblingIDs []core.HypothesisID) (stats.FamilyRiskResult, error) {
	h, err := c.registry.GetHypothesis(ctx, id)
	if err != nil {
		return stats.FamilyRiskResult{}, err
	}
	target, err := c.ledger.ListOutcomes(ctx, id)
	if err != nil {
		return stats.FamilyRiskResult{}, err
	}
	siblings := make(map[core.HypothesisID][]outcome.Outcome, len(siblingIDs))
	for _, sid := range siblingIDs {
		if sid == id {
			continue
		}
		list, err := c.ledger.ListOutcomes(ctx, sid)
		if err != nil {
			return stats.FamilyRiskResult{}, err
		}
		siblings[sid] = list
	}
	return FamilyRiskFromOutcomes(*h, target, siblings), nil
}

// FamilyRiskFromOutcomes is the pure form of Compute
func FamilyRiskFromOutcomes(h hypothesis.Hypothesis, target []outcome.Outcome,
	siblings map[core.HypothesisID][]outcome.Outcome) stats.FamilyRiskResult {
	series := make([]stats.TriggerSeries, 0, len(siblings))
	for sid, list := range siblings {
		if sid == h.ID {
			continue
		}
		series = append(series, triggerSeries(sid, list))
	}
	// fixed order keeps the float product reproducible
	sort.Slice(series, func(i, j int) bool { return series[i].ID < series[j].ID })
	return stats.FamilyInflationRisk(triggerSeries(h.ID, target), series, h.EvaluationWindow)
}

func triggerSeries(id core.HypothesisID, outcomes []outcome.Outcome) stats.TriggerSeries {
	events := make([]stats.TriggerEvent, len(outcomes))
	for i, o := range outcomes {
		events[i] = stats.TriggerEvent{At: o.TriggerAt, Win: o.Win}
	}
	return stats.TriggerSeries{ID: id.String(), Events: events}
}
