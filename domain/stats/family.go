package stats

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// maxFamilyBuckets caps the bucket grid; wider spans get wider buckets.
const maxFamilyBuckets = 100000

// TriggerEvent is one scored trigger of a hypothesis.
type TriggerEvent struct {
	At  time.Time
	Win bool
}

// TriggerSeries is the trigger history of one hypothesis.
type TriggerSeries struct {
	ID     string
	Events []TriggerEvent
}

func (s TriggerSeries) span() (time.Time, time.Time, bool) {
	if len(s.Events) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first, last := s.Events[0].At, s.Events[0].At
	for _, e := range s.Events[1:] {
		if e.At.Before(first) {
			first = e.At
		}
		if e.At.After(last) {
			last = e.At
		}
	}
	return first, last, true
}

// PairDependence describes how strongly one sibling moves with the target.
type PairDependence struct {
	SiblingID         string  `json:"sibling_id"`
	Buckets           int     `json:"buckets"`
	CoFired           int     `json:"co_fired"`
	TimingCorrelation float64 `json:"timing_correlation"`
	SignAgreement     float64 `json:"sign_agreement"`
	Dependence        float64 `json:"dependence"`
}

// FamilyRiskResult is the family inflation risk with its per-sibling breakdown.
type FamilyRiskResult struct {
	Risk             float64          `json:"risk"`
	SiblingsInWindow int              `json:"siblings_in_window"`
	Pairs            []PairDependence `json:"pairs"`
}

// FamilyInflationRisk measures how much concurrently tested siblings share the target's
// trigger timing and outcome sign. Each overlapping sibling contributes a dependence
// c = max(0, timing correlation) * max(0, sign agreement); the risk is the probability
// that at least one sibling is a redundant test of the same effect, 1 - prod(1 - c).
// Siblings whose trigger span does not overlap the target's are not concurrent and are
// ignored. No concurrent siblings gives 0.
func FamilyInflationRisk(target TriggerSeries, siblings []TriggerSeries, bucket time.Duration) FamilyRiskResult {
	res := FamilyRiskResult{}
	tStart, tEnd, ok := target.span()
	if !ok || bucket <= 0 {
		return res
	}

	survive := 1.0
	for _, sib := range siblings {
		if sib.ID == target.ID {
			continue
		}
		sStart, sEnd, ok := sib.span()
		if !ok {
			continue
		}
		lo := maxTime(tStart, sStart)
		hi := minTime(tEnd, sEnd)
		if lo.After(hi) {
			continue
		}
		res.SiblingsInWindow++

		pair := pairDependence(target, sib, lo, hi, bucket)
		res.Pairs = append(res.Pairs, pair)
		survive *= 1 - pair.Dependence
	}

	res.Risk = clamp01(1 - survive)
	sort.SliceStable(res.Pairs, func(i, j int) bool {
		return res.Pairs[i].SiblingID < res.Pairs[j].SiblingID
	})
	return res
}

func pairDependence(target, sib TriggerSeries, lo, hi time.Time, bucket time.Duration) PairDependence {
	span := hi.Sub(lo)
	nb := int(span/bucket) + 1
	if nb > maxFamilyBuckets {
		bucket = time.Duration(math.Ceil(float64(span) / float64(maxFamilyBuckets-1)))
		nb = int(span/bucket) + 1
	}

	tFire, tSign := bucketize(target, lo, hi, bucket, nb)
	sFire, sSign := bucketize(sib, lo, hi, bucket, nb)

	pair := PairDependence{SiblingID: sib.ID, Buckets: nb}
	pair.TimingCorrelation = timingCorrelation(tFire, sFire)

	agree, disagree := 0, 0
	for i := 0; i < nb; i++ {
		if tFire[i] == 0 || sFire[i] == 0 {
			continue
		}
		pair.CoFired++
		switch {
		case tSign[i] == 0 || sSign[i] == 0:
		case tSign[i] == sSign[i]:
			agree++
		default:
			disagree++
		}
	}
	if pair.CoFired > 0 {
		pair.SignAgreement = float64(agree-disagree) / float64(pair.CoFired)
	}

	pair.Dependence = clamp01(math.Max(0, pair.TimingCorrelation) * math.Max(0, pair.SignAgreement))
	return pair
}

// bucketize returns per-bucket fire indicators and majority outcome sign (+1, -1, 0 on tie).
func bucketize(s TriggerSeries, lo, hi time.Time, bucket time.Duration, nb int) ([]float64, []int) {
	fire := make([]float64, nb)
	net := make([]int, nb)
	for _, e := range s.Events {
		if e.At.Before(lo) || e.At.After(hi) {
			continue
		}
		idx := int(e.At.Sub(lo) / bucket)
		if idx >= nb {
			idx = nb - 1
		}
		fire[idx] = 1
		if e.Win {
			net[idx]++
		} else {
			net[idx]--
		}
	}
	sign := make([]int, nb)
	for i, v := range net {
		switch {
		case v > 0:
			sign[i] = 1
		case v < 0:
			sign[i] = -1
		}
	}
	return fire, sign
}

// timingCorrelation is the Pearson (phi) correlation of two fire-indicator series.
// Constant series have no variance: two always-firing series are fully co-timed,
// otherwise the correlation is taken as 0.
func timingCorrelation(a, b []float64) float64 {
	ca, cb := isConstant(a), isConstant(b)
	if ca || cb {
		if ca && cb && a[0] == 1 && b[0] == 1 {
			return 1
		}
		return 0
	}
	r := stat.Correlation(a, b, nil)
	if !isFinite(r) {
		return 0
	}
	return r
}

func isConstant(v []float64) bool {
	for _, x := range v[1:] {
		if x != v[0] {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
