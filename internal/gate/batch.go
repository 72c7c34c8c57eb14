package gate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"hypogate/domain/core"
	"hypogate/domain/gate"
)

// BatchOutcome is what happened to one hypothesis during a batch
type BatchOutcome string

const (
	BatchPassed   BatchOutcome = "passed"
	BatchFailed   BatchOutcome = "failed"
	BatchPending  BatchOutcome = "pending"
	BatchDeferred BatchOutcome = "deferred"
	BatchSkipped  BatchOutcome = "skipped"
	BatchErrored  BatchOutcome = "errored"
)

// BatchItem is the per-hypothesis line of a batch report
type BatchItem struct {
	HypothesisID core.HypothesisID `json:"hypothesis_id"`
	Outcome      BatchOutcome      `json:"outcome"`
	State        gate.State        `json:"state,omitempty"`
	ErrorKind    string            `json:"error_kind,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// BatchReport summarizes one RunBatch call
type BatchReport struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Total      int           `json:"total"`
	Passed     int           `json:"passed"`
	Failed     int           `json:"failed"`
	Pending    int           `json:"pending"`
	Deferred   int           `json:"deferred"`
	Skipped    int           `json:"skipped"`
	Errored    int           `json:"errored"`
	Items      []BatchItem   `json:"items"`
	Duration   time.Duration `json:"duration"`
}

func (r *BatchReport) add(item BatchItem) {
	r.Items = append(r.Items, item)
	switch item.Outcome {
	case BatchPassed:
		r.Passed++
	case BatchFailed:
		r.Failed++
	case BatchPending:
		r.Pending++
	case BatchDeferred:
		r.Deferred++
	case BatchSkipped:
		r.Skipped++
	case BatchErrored:
		r.Errored++
	}
}

// RunBatch evaluates every evaluable hypothesis with bounded concurrency. Errors are
// isolated per hypothesis; only a failure to list hypotheses aborts the batch.
func (g *Gate) RunBatch(ctx context.Context) (BatchReport, error) {
	start := time.Now()
	report := BatchReport{StartedAt: g.clock.Now()}

	hyps, err := g.registry.ListEvaluable(ctx)
	if err != nil {
		return report, err
	}
	report.Total = len(hyps)

	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(g.cfg.BatchConcurrency)
	for _, h := range hyps {
		id := h.ID
		eg.Go(func() error {
			item := g.batchOne(ctx, id)
			mu.Lock()
			report.add(item)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	sort.Slice(report.Items, func(i, j int) bool { return report.Items[i].HypothesisID < report.Items[j].HypothesisID })
	report.FinishedAt = g.clock.Now()
	report.Duration = time.Since(start)
	g.metrics.ObserveBatch(report.Duration)

	g.logger.Info().
		Int("total", report.Total).
		Int("passed", report.Passed).
		Int("failed", report.Failed).
		Int("pending", report.Pending).
		Int("deferred", report.Deferred).
		Int("skipped", report.Skipped).
		Int("errored", report.Errored).
		Dur("duration", report.Duration).
		Msg("batch complete")
	return report, ctx.Err()
}

// batchOne evaluates one hypothesis unless its recorded state makes the run a no-op
func (g *Gate) batchOne(ctx context.Context, id core.HypothesisID) BatchItem {
	item := BatchItem{HypothesisID: id}

	if ctx.Err() != nil {
		item.Outcome = BatchSkipped
		return item
	}

	st, err := g.store.GetState(ctx, id)
	if err != nil {
		return errored(item, err)
	}
	if st != nil {
		item.State = st.State
		switch st.State {
		case gate.StatePassed:
			item.Outcome = BatchSkipped
			return item
		case gate.StateFailed:
			n, err := g.ledger.CountOutcomes(ctx, id)
			if err != nil {
				return errored(item, err)
			}
			if n == st.EvaluatedOutcomes {
				item.Outcome = BatchSkipped
				return item
			}
		}
	}

	res, err := g.Evaluate(ctx, id)
	item.State = res.State
	switch {
	case err == nil:
	case errors.Is(err, core.ErrAlreadyPromoted):
		item.Outcome = BatchSkipped
		return item
	case core.IsStatisticalPrecondition(err):
		item.Outcome = BatchDeferred
		item.ErrorKind = KindDeferred
		item.Error = err.Error()
		return item
	default:
		return errored(item, err)
	}

	switch res.State {
	case gate.StatePassed:
		item.Outcome = BatchPassed
	case gate.StateFailed:
		item.Outcome = BatchFailed
	default:
		item.Outcome = BatchPending
	}
	return item
}

func errored(item BatchItem, err error) BatchItem {
	item.Outcome = BatchErrored
	item.ErrorKind = ErrorKind(err)
	item.Error = err.Error()
	return item
}
