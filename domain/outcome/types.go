package outcome

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"hypogate/domain/core"
	"hypogate/domain/hypothesis"
)

// Outcome is one realized trial of a hypothesis' trigger condition.
// Immutable once recorded.
type Outcome struct {
	ID             core.OutcomeID       `json:"id"`
	HypothesisID   core.HypothesisID    `json:"hypothesis_id"`
	TriggerAt      time.Time            `json:"trigger_at"`
	EntryPrice     decimal.Decimal      `json:"entry_price"`
	MFEPrice       decimal.Decimal      `json:"mfe_price"`
	MAEPrice       decimal.Decimal      `json:"mae_price"`
	WindowEndPrice decimal.Decimal      `json:"window_end_price"`
	Direction      hypothesis.Direction `json:"direction"`
	Win            bool                 `json:"win"`
	RecordedAt     time.Time            `json:"recorded_at"`
}

// Input is what an upstream producer submits to the ledger.
type Input struct {
	HypothesisID   core.HypothesisID
	TriggerAt      time.Time
	EntryPrice     decimal.Decimal
	MFEPrice       decimal.Decimal
	MAEPrice       decimal.Decimal
	WindowEndPrice decimal.Decimal
}

// Returns holds direction-adjusted fractional returns for one trial.
type Returns struct {
	Window    float64
	Favorable float64
	Adverse   float64
}

// ComputeReturns derives direction-adjusted returns from prices.
// Favorable is clamped at >= 0 and adverse at <= 0.
func ComputeReturns(dir hypothesis.Direction, entry, mfe, mae, windowEnd decimal.Decimal) Returns {
	sign := decimal.NewFromInt(1)
	if dir == hypothesis.DirectionShort {
		sign = decimal.NewFromInt(-1)
	}
	ret := func(p decimal.Decimal) float64 {
		return p.Sub(entry).Div(entry).Mul(sign).InexactFloat64()
	}
	r := Returns{
		Window:    ret(windowEnd),
		Favorable: ret(mfe),
		Adverse:   ret(mae),
	}
	if r.Favorable < 0 {
		r.Favorable = 0
	}
	if r.Adverse > 0 {
		r.Adverse = 0
	}
	return r
}

// Returns computes the trial's direction-adjusted returns
func (o Outcome) Returns() Returns {
	return ComputeReturns(o.Direction, o.EntryPrice, o.MFEPrice, o.MAEPrice, o.WindowEndPrice)
}

// ValidatePrices checks that prices are positive and that the excursions bracket
// the window-end price for the trade direction.
func ValidatePrices(dir hypothesis.Direction, in Input) error {
	prices := []struct {
		name  string
		value decimal.Decimal
	}{
		{"entry_price", in.EntryPrice},
		{"mfe_price", in.MFEPrice},
		{"mae_price", in.MAEPrice},
		{"window_end_price", in.WindowEndPrice},
	}
	for _, p := range prices {
		if !p.value.IsPositive() {
			return fmt.Errorf("%w: %s must be positive", core.ErrInvalidOutcome, p.name)
		}
	}

	// Long: MAE <= min(entry, end) <= max(entry, end) <= MFE. Short mirrors it.
	hi := decimal.Max(in.EntryPrice, in.WindowEndPrice)
	lo := decimal.Min(in.EntryPrice, in.WindowEndPrice)
	if dir == hypothesis.DirectionLong {
		if in.MFEPrice.LessThan(hi) || in.MAEPrice.GreaterThan(lo) {
			return fmt.Errorf("%w: excursions %s/%s do not bracket entry %s and window end %s",
				core.ErrInvalidOutcome, in.MFEPrice, in.MAEPrice, in.EntryPrice, in.WindowEndPrice)
		}
		return nil
	}
	if in.MFEPrice.GreaterThan(lo) || in.MAEPrice.LessThan(hi) {
		return fmt.Errorf("%w: excursions %s/%s do not bracket entry %s and window end %s",
			core.ErrInvalidOutcome, in.MFEPrice, in.MAEPrice, in.EntryPrice, in.WindowEndPrice)
	}
	return nil
}

// WindowReturns extracts per-trade window returns in ledger order
func WindowReturns(outcomes []Outcome) []float64 {
	out := make([]float64, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.Returns().Window
	}
	return out
}

// Trades converts outcomes into the excursion triples used by the PBO exit grid
func Trades(outcomes []Outcome) []Returns {
	out := make([]Returns, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.Returns()
	}
	return out
}

// WinCount counts winning trials
func WinCount(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Win {
			n++
		}
	}
	return n
}

// Fingerprint hashes the outcome set in ledger order. Two evaluations over the same
// ledger contents share a fingerprint.
func Fingerprint(outcomes []Outcome) core.Hash {
	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		parts = append(parts, fmt.Sprintf("%s|%d|%s|%s|%s|%s|%t",
			o.ID, o.TriggerAt.UnixNano(), o.EntryPrice, o.MFEPrice, o.MAEPrice, o.WindowEndPrice, o.Win))
	}
	return core.HashParts(parts)
}
