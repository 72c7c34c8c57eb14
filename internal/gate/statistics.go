package gate

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"hypogate/domain/core"
	"hypogate/domain/gate"
	"hypogate/domain/hypothesis"
	"hypogate/domain/outcome"
	"hypogate/domain/stats"
	"hypogate/ports"
)

// StatisticsProvider computes the three statistical verdict inputs for one hypothesis.
type StatisticsProvider interface {
	Compute(ctx context.Context, h hypothesis.Hypothesis, outcomes []outcome.Outcome) (gate.Statistics, error)
}

// CohortStatistics derives deflation and family inputs from the hypothesis' cohort.
// The trial count is the cohort's prior trials plus every hypothesis registered in it.
type CohortStatistics struct {
	registry  ports.RegistryPort
	ledger    ports.LedgerReaderPort
	pboSplits int
	grid      stats.ExitGrid
}

var _ StatisticsProvider = (*CohortStatistics)(nil)

// NewCohortStatistics creates the production statistics provider
func NewCohortStatistics(registry ports.RegistryPort, ledger ports.LedgerReaderPort, pboSplits int, grid stats.ExitGrid) *CohortStatistics {
	if pboSplits < stats.MinSplitCount {
		pboSplits = 4
	}
	if len(grid.TakeProfits) == 0 && len(grid.StopLosses) == 0 {
		grid = stats.DefaultExitGrid()
	}
	return &CohortStatistics{registry: registry, ledger: ledger, pboSplits: pboSplits, grid: grid}
}

// SplitCount adapts the configured split count to the sample: at most T/2 blocks,
// and even so in-sample and out-of-sample halves are the same size.
func SplitCount(configured, samples int) int {
	s := configured
	if limit := samples / 2; s > limit {
		s = limit
	}
	if s > stats.MaxSplitCount {
		s = stats.MaxSplitCount
	}
	if s > 2 && s%2 == 1 {
		s--
	}
	return s
}

// Compute loads the cohort, then runs deflated Sharpe, PBO and family risk in parallel
func (c *CohortStatistics) Compute(ctx context.Context, h hypothesis.Hypothesis, outcomes []outcome.Outcome) (gate.Statistics, error) {
	cohort, err := c.registry.GetCohort(ctx, h.CohortID)
	if err != nil {
		return gate.Statistics{}, err
	}
	members, err := c.registry.ListByCohort(ctx, h.CohortID)
	if err != nil {
		return gate.Statistics{}, err
	}
	siblings, err := c.loadSiblings(ctx, h.ID, members)
	if err != nil {
		return gate.Statistics{}, err
	}

	trialCount := cohort.PriorTrials + len(members)
	if trialCount < 1 {
		trialCount = 1
	}

	var (
		dsr    stats.DeflatedSharpeResult
		pbo    stats.PBOResult
		family stats.FamilyRiskResult
	)
	var g errgroup.Group
	g.Go(func() error {
		sharpes := []float64{stats.SharpeRatio(outcome.WindowReturns(outcomes))}
		for _, m := range members {
			if list, ok := siblings[m.ID]; ok && len(list) >= 2 {
				sharpes = append(sharpes, stats.SharpeRatio(outcome.WindowReturns(list)))
			}
		}
		var err error
		dsr, err = stats.ComputeDeflatedSharpe(outcome.WindowReturns(outcomes), stats.DeflationParams{
			TrialCount:     trialCount,
			MinSample:      h.MinimumSample,
			SharpeVariance: stats.FamilySharpeVariance(sharpes),
		})
		if err != nil {
			return fmt.Errorf("deflated sharpe: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		pbo, err = stats.ComputeOutcomePBO(outcome.Trades(outcomes), SplitCount(c.pboSplits, len(outcomes)), c.grid)
		if err != nil {
			return fmt.Errorf("pbo: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		family = FamilyRiskFromOutcomes(h, outcomes, siblings)
		return nil
	})
	if err := g.Wait(); err != nil {
		return gate.Statistics{}, err
	}

	return gate.Statistics{
		ObservedSharpe:    dsr.Observed,
		DeflatedSharpe:    dsr.Deflated,
		DSRProbability:    dsr.Probability,
		ExpectedMaxSharpe: dsr.ExpectedMaxSharpe,
		TrialCount:        dsr.TrialCount,
		PBO:               pbo.PBO,
		PBOSplits:         pbo.Splits,
		FamilyRisk:        family.Risk,
		SiblingCount:      family.SiblingsInWindow,
	}, nil
}

// loadSiblings reads every other cohort member's outcomes concurrently
func (c *CohortStatistics) loadSiblings(ctx context.Context, self core.HypothesisID, members []hypothesis.Hypothesis) (map[core.HypothesisID][]outcome.Outcome, error) {
	var mu sync.Mutex
	out := make(map[core.HypothesisID][]outcome.Outcome, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, m := range members {
		if m.ID == self {
			continue
		}
		id := m.ID
		g.Go(func() error {
			list, err := c.ledger.ListOutcomes(gctx, id)
			if err != nil {
				return fmt.Errorf("load sibling %s: %w", id, err)
			}
			mu.Lock()
			out[id] = list
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
