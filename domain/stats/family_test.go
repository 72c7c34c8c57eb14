package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var familyBase = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

func series(id string, hours []int, win func(i int) bool) TriggerSeries {
	s := TriggerSeries{ID: id}
	for i, h := range hours {
		s.Events = append(s.Events, TriggerEvent{At: familyBase.Add(time.Duration(h) * time.Hour), Win: win(i)})
	}
	return s
}

func always(v bool) func(int) bool { return func(int) bool { return v } }

func TestFamilyInflationRisk_NoSiblings(t *testing.T) {
	target := series("h1", []int{0, 2, 4}, always(true))

	res := FamilyInflationRisk(target, nil, time.Hour)
	assert.Equal(t, 0.0, res.Risk)
	assert.Equal(t, 0, res.SiblingsInWindow)

	// The target itself in the sibling list is ignored.
	res = FamilyInflationRisk(target, []TriggerSeries{target}, time.Hour)
	assert.Equal(t, 0.0, res.Risk)
}

func TestFamilyInflationRisk_NonConcurrentSiblingIgnored(t *testing.T) {
	target := series("h1", []int{0, 2, 4}, always(true))
	later := series("h2", []int{100, 102, 104}, always(true))

	res := FamilyInflationRisk(target, []TriggerSeries{later}, time.Hour)
	assert.Equal(t, 0.0, res.Risk)
	assert.Equal(t, 0, res.SiblingsInWindow)
	assert.Empty(t, res.Pairs)
}

func TestFamilyInflationRisk_ClonedSiblingIsFullRisk(t *testing.T) {
	hours := []int{0, 2, 4, 6, 8}
	target := series("h1", hours, always(true))
	clone := series("h2", hours, always(true))

	res := FamilyInflationRisk(target, []TriggerSeries{clone}, time.Hour)
	require.Len(t, res.Pairs, 1)
	assert.InDelta(t, 1.0, res.Pairs[0].TimingCorrelation, 1e-12)
	assert.Equal(t, 1.0, res.Pairs[0].SignAgreement)
	assert.Equal(t, 5, res.Pairs[0].CoFired)
	assert.InDelta(t, 1.0, res.Risk, 1e-12)
}

func TestFamilyInflationRisk_OppositeSignsDoNotInflate(t *testing.T) {
	hours := []int{0, 2, 4, 6, 8}
	target := series("h1", hours, always(true))
	mirror := series("h2", hours, always(false))

	res := FamilyInflationRisk(target, []TriggerSeries{mirror}, time.Hour)
	assert.Equal(t, 1, res.SiblingsInWindow)
	assert.Equal(t, -1.0, res.Pairs[0].SignAgreement)
	assert.Equal(t, 0.0, res.Risk)
}

func TestFamilyInflationRisk_MoreCorrelatedSiblingsRaiseRisk(t *testing.T) {
	target := series("h1", []int{0, 2, 4, 6, 8, 10}, always(true))
	// Shares four of six firing buckets with the target.
	partial := series("h2", []int{0, 2, 4, 5, 6, 9, 10}, always(true))
	other := series("h3", []int{0, 1, 4, 6, 7, 10}, always(true))

	one := FamilyInflationRisk(target, []TriggerSeries{partial}, time.Hour)
	two := FamilyInflationRisk(target, []TriggerSeries{partial, other}, time.Hour)

	assert.Greater(t, one.Risk, 0.0)
	assert.Less(t, one.Risk, 1.0)
	assert.Greater(t, two.Risk, one.Risk)
	assert.Equal(t, 2, two.SiblingsInWindow)

	want := 1 - (1-two.Pairs[0].Dependence)*(1-two.Pairs[1].Dependence)
	assert.InDelta(t, want, two.Risk, 1e-12)
}

func TestFamilyInflationRisk_EmptyTarget(t *testing.T) {
	sib := series("h2", []int{0, 1}, always(true))
	res := FamilyInflationRisk(TriggerSeries{ID: "h1"}, []TriggerSeries{sib}, time.Hour)
	assert.Equal(t, 0.0, res.Risk)
}
