package stats

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/combin"

	"hypogate/domain/core"
	"hypogate/domain/outcome"
)

const (
	// MinSplitCount is the smallest number of CSCV blocks.
	MinSplitCount = 2
	// MaxSplitCount bounds C(S, S/2); 16 blocks already yield 12870 combinations.
	MaxSplitCount = 16
)

// PBOResult is the combinatorially symmetric cross-validation summary.
type PBOResult struct {
	PBO            float64   `json:"pbo"`
	Splits         int       `json:"splits"`
	Combinations   int       `json:"combinations"`
	Configurations int       `json:"configurations"`
	Logits         []float64 `json:"logits"`
	MedianLogit    float64   `json:"median_logit"`
}

// ComputePBO estimates the probability of backtest overfitting with CSCV
// (Bailey, Borwein, Lopez de Prado, Zhu). perf is a T x N matrix: one row per trial in
// ledger order, one column per strategy configuration. Rows are partitioned into
// splitCount contiguous blocks; every choice of half the blocks is used as in-sample once.
// PBO is the fraction of combinations where the in-sample winner ranks at or below the
// out-of-sample median.
func ComputePBO(perf [][]float64, splitCount int) (PBOResult, error) {
	if splitCount < MinSplitCount {
		return PBOResult{}, fmt.Errorf("%w: split count %d < %d", core.ErrInsufficientData, splitCount, MinSplitCount)
	}
	if splitCount > MaxSplitCount {
		return PBOResult{}, fmt.Errorf("%w: split count %d > %d", core.ErrInsufficientData, splitCount, MaxSplitCount)
	}
	t := len(perf)
	if t < 2*splitCount {
		return PBOResult{}, fmt.Errorf("%w: %d trials < 2 x %d splits", core.ErrInsufficientData, t, splitCount)
	}
	n := len(perf[0])
	if n < 2 {
		return PBOResult{}, fmt.Errorf("%w: %d configurations, need at least 2", core.ErrInsufficientData, n)
	}
	for i, row := range perf {
		if len(row) != n {
			return PBOResult{}, fmt.Errorf("%w: row %d has %d configurations, want %d", core.ErrInsufficientData, i, len(row), n)
		}
	}

	blocks := contiguousBlocks(t, splitCount)
	combos := combin.Combinations(splitCount, splitCount/2)

	res := PBOResult{
		Splits:         splitCount,
		Combinations:   len(combos),
		Configurations: n,
		Logits:         make([]float64, 0, len(combos)),
	}

	inSample := make([]bool, splitCount)
	overfit := 0
	for _, combo := range combos {
		for i := range inSample {
			inSample[i] = false
		}
		for _, b := range combo {
			inSample[b] = true
		}

		isPerf := blockPerformance(perf, blocks, inSample, true)
		oosPerf := blockPerformance(perf, blocks, inSample, false)

		best := 0
		for j := 1; j < n; j++ {
			if isPerf[j] > isPerf[best] {
				best = j
			}
		}

		omega := relativeRank(oosPerf, best) / float64(n+1)
		logit := math.Log(omega / (1 - omega))
		res.Logits = append(res.Logits, logit)
		if logit <= 0 {
			overfit++
		}
	}

	res.PBO = float64(overfit) / float64(len(combos))
	if med, err := stats.Median(res.Logits); err == nil {
		res.MedianLogit = med
	}
	return res, nil
}

type block struct{ start, end int }

// contiguousBlocks splits t rows into s blocks, spreading the remainder over the first blocks.
func contiguousBlocks(t, s int) []block {
	out := make([]block, s)
	base, rem := t/s, t%s
	start := 0
	for i := 0; i < s; i++ {
		size := base
		if i < rem {
			size++
		}
		out[i] = block{start: start, end: start + size}
		start += size
	}
	return out
}

// blockPerformance returns the mean return per configuration over the selected blocks.
// Capped exit policies often return a constant inside a block, so this is not a Sharpe.
func blockPerformance(perf [][]float64, blocks []block, inSample []bool, want bool) []float64 {
	n := len(perf[0])
	out := make([]float64, n)
	col := make([]float64, 0, len(perf))
	for j := 0; j < n; j++ {
		col = col[:0]
		for b, blk := range blocks {
			if inSample[b] != want {
				continue
			}
			for r := blk.start; r < blk.end; r++ {
				col = append(col, perf[r][j])
			}
		}
		out[j] = stat.Mean(col, nil)
	}
	return out
}

// relativeRank is the 1-based ascending rank of perf[idx], averaging ties.
func relativeRank(perf []float64, idx int) float64 {
	v := perf[idx]
	lower, ties := 0, 0
	for j, p := range perf {
		if j == idx {
			continue
		}
		switch {
		case p < v:
			lower++
		case p == v:
			ties++
		}
	}
	return 1 + float64(lower) + 0.5*float64(ties)
}

// ExitPolicy is one strategy configuration replayed over recorded excursions.
// Zero disables a leg.
type ExitPolicy struct {
	TakeProfit float64 `json:"take_profit"`
	StopLoss   float64 `json:"stop_loss"`
}

// Apply returns the trade's realized return under the policy. When both legs were
// touched inside the window the stop is assumed to have filled first.
func (p ExitPolicy) Apply(r outcome.Returns) float64 {
	if p.StopLoss > 0 && r.Adverse <= -p.StopLoss {
		return -p.StopLoss
	}
	if p.TakeProfit > 0 && r.Favorable >= p.TakeProfit {
		return p.TakeProfit
	}
	return r.Window
}

// ExitGrid is the configuration space searched when estimating PBO from an outcome set.
type ExitGrid struct {
	TakeProfits []float64 `json:"take_profits" yaml:"take_profits"`
	StopLosses  []float64 `json:"stop_losses" yaml:"stop_losses"`
}

// DefaultExitGrid spans hold-to-window plus take-profit/stop variants up to 5%.
func DefaultExitGrid() ExitGrid {
	return ExitGrid{
		TakeProfits: []float64{0.005, 0.01, 0.02, 0.03, 0.05},
		StopLosses:  []float64{0.005, 0.01, 0.02, 0.03},
	}
}

// Validate checks every exit level is a fraction in (0, 1)
func (g ExitGrid) Validate() error {
	for _, levels := range [][]float64{g.TakeProfits, g.StopLosses} {
		for _, v := range levels {
			if !(v > 0 && v < 1) {
				return fmt.Errorf("exit level %v must be in (0, 1)", v)
			}
		}
	}
	return nil
}

// Policies enumerates hold, each single leg, and every take-profit/stop pair.
func (g ExitGrid) Policies() []ExitPolicy {
	out := []ExitPolicy{{}}
	for _, tp := range g.TakeProfits {
		out = append(out, ExitPolicy{TakeProfit: tp})
	}
	for _, sl := range g.StopLosses {
		out = append(out, ExitPolicy{StopLoss: sl})
	}
	for _, tp := range g.TakeProfits {
		for _, sl := range g.StopLosses {
			out = append(out, ExitPolicy{TakeProfit: tp, StopLoss: sl})
		}
	}
	return out
}

// PerformanceMatrix replays every policy over the trades.
func (g ExitGrid) PerformanceMatrix(trades []outcome.Returns) [][]float64 {
	policies := g.Policies()
	m := make([][]float64, len(trades))
	for i, tr := range trades {
		row := make([]float64, len(policies))
		for j, p := range policies {
			row[j] = p.Apply(tr)
		}
		m[i] = row
	}
	return m
}

// ComputeOutcomePBO estimates PBO for a hypothesis from its recorded excursions.
func ComputeOutcomePBO(trades []outcome.Returns, splitCount int, grid ExitGrid) (PBOResult, error) {
	if len(trades) == 0 {
		return PBOResult{}, fmt.Errorf("%w: no outcomes", core.ErrInsufficientData)
	}
	return ComputePBO(grid.PerformanceMatrix(trades), splitCount)
}
