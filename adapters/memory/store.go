package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hypogate/domain/core"
	"hypogate/domain/gate"
	"hypogate/domain/hypothesis"
	"hypogate/domain/outcome"
	"hypogate/ports"
)

// Store implements ports.Store with in-memory storage. It is used by tests and by
// GATE_STORE=memory for local runs.
type Store struct {
	mu sync.RWMutex
	// txMu serializes WithinTx callers the way a row lock would in postgres
	txMu sync.Mutex

	cohorts     map[core.CohortID]hypothesis.Cohort
	hypotheses  map[core.HypothesisID]hypothesis.Hypothesis
	outcomes    map[core.HypothesisID][]outcome.Outcome
	states      map[core.HypothesisID]gate.StateRecord
	audits      map[core.HypothesisID][]gate.Audit
	eligibility map[core.HypothesisID][]gate.EligibilityEntry
	events      map[core.HypothesisID][]gate.GovernanceEvent
}

var _ ports.Store = (*Store)(nil)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		cohorts:     make(map[core.CohortID]hypothesis.Cohort),
		hypotheses:  make(map[core.HypothesisID]hypothesis.Hypothesis),
		outcomes:    make(map[core.HypothesisID][]outcome.Outcome),
		states:      make(map[core.HypothesisID]gate.StateRecord),
		audits:      make(map[core.HypothesisID][]gate.Audit),
		eligibility: make(map[core.HypothesisID][]gate.EligibilityEntry),
		events:      make(map[core.HypothesisID][]gate.GovernanceEvent),
	}
}

// SaveCohort inserts or replaces a cohort
func (s *Store) SaveCohort(ctx context.Context, cohort hypothesis.Cohort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cohorts[cohort.ID] = cohort
	return nil
}

// GetCohort returns a cohort by id
func (s *Store) GetCohort(ctx context.Context, id core.CohortID) (*hypothesis.Cohort, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cohorts[id]
	if !ok {
		return nil, fmt.Errorf("%w %s", core.ErrUnknownCohort, id)
	}
	return &c, nil
}

// CreateHypothesis inserts a hypothesis; an existing id is never replaced
func (s *Store) CreateHypothesis(ctx context.Context, h hypothesis.Hypothesis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cohorts[h.CohortID]; !ok {
		return fmt.Errorf("%w %s", core.ErrUnknownCohort, h.CohortID)
	}
	if _, ok := s.hypotheses[h.ID]; ok {
		return fmt.Errorf("%w: %s", core.ErrDuplicateHypothesis, h.ID)
	}
	h.AssetUniverse = append([]string(nil), h.AssetUniverse...)
	s.hypotheses[h.ID] = h
	return nil
}

// UpdateHypothesisStatus sets the lifecycle status of a registered hypothesis
func (s *Store) UpdateHypothesisStatus(ctx context.Context, id core.HypothesisID, status hypothesis.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hypotheses[id]
	if !ok {
		return core.NewUnknownHypothesisError(id)
	}
	h.Status = status
	s.hypotheses[id] = h
	return nil
}

// GetHypothesis returns a hypothesis by id
func (s *Store) GetHypothesis(ctx context.Context, id core.HypothesisID) (*hypothesis.Hypothesis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hypotheses[id]
	if !ok {
		return nil, core.NewUnknownHypothesisError(id)
	}
	h.AssetUniverse = append([]string(nil), h.AssetUniverse...)
	return &h, nil
}

// ListByCohort returns a cohort's hypotheses ordered by id
func (s *Store) ListByCohort(ctx context.Context, cohortID core.CohortID) ([]hypothesis.Hypothesis, error) {
	return s.listHypotheses(func(h hypothesis.Hypothesis) bool { return h.CohortID == cohortID }), nil
}

// ListEvaluable returns every hypothesis the gate may score
func (s *Store) ListEvaluable(ctx context.Context) ([]hypothesis.Hypothesis, error) {
	return s.listHypotheses(func(h hypothesis.Hypothesis) bool { return h.Status.Evaluable() }), nil
}

func (s *Store) listHypotheses(keep func(hypothesis.Hypothesis) bool) []hypothesis.Hypothesis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]hypothesis.Hypothesis, 0)
	for _, h := range s.hypotheses {
		if keep(h) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AppendOutcome appends an outcome, rejecting a second record for the same trigger
func (s *Store) AppendOutcome(ctx context.Context, o outcome.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.outcomes[o.HypothesisID] {
		if existing.TriggerAt.Equal(o.TriggerAt) {
			return fmt.Errorf("%w: %s at %s", core.ErrDuplicateOutcome, o.HypothesisID, o.TriggerAt.Format(time.RFC3339Nano))
		}
	}
	list := append(s.outcomes[o.HypothesisID], o)
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].TriggerAt.Equal(list[j].TriggerAt) {
			return list[i].TriggerAt.Before(list[j].TriggerAt)
		}
		return list[i].ID < list[j].ID
	})
	s.outcomes[o.HypothesisID] = list
	return nil
}

// ListOutcomes returns outcomes in trigger order
func (s *Store) ListOutcomes(ctx context.Context, id core.HypothesisID) ([]outcome.Outcome, error) {
	return s.ListOutcomesRecorded(ctx, id, core.TimeRange{})
}

// ListOutcomesRecorded returns outcomes recorded within r in trigger order
func (s *Store) ListOutcomesRecorded(ctx context.Context, id core.HypothesisID, r core.TimeRange) ([]outcome.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]outcome.Outcome, 0, len(s.outcomes[id]))
	for _, o := range s.outcomes[id] {
		if r.Contains(o.RecordedAt) {
			out = append(out, o)
		}
	}
	return out, nil
}

// CountOutcomes returns the number of outcomes for a hypothesis
func (s *Store) CountOutcomes(ctx context.Context, id core.HypothesisID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outcomes[id]), nil
}

// GetState returns the gate state, or nil when none was recorded
func (s *Store) GetState(ctx context.Context, id core.HypothesisID) (*gate.StateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// ListAudits returns every audit for a hypothesis in creation order
func (s *Store) ListAudits(ctx context.Context, id core.HypothesisID) ([]gate.Audit, error) {
	return s.ListAuditsCreated(ctx, id, core.TimeRange{})
}

// ListAuditsCreated returns audits created within r
func (s *Store) ListAuditsCreated(ctx context.Context, id core.HypothesisID, r core.TimeRange) ([]gate.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gate.Audit, 0, len(s.audits[id]))
	for _, a := range s.audits[id] {
		if r.Contains(a.CreatedAt) {
			out = append(out, a)
		}
	}
	return out, nil
}

// LatestEligibility returns the highest version entry
func (s *Store) LatestEligibility(ctx context.Context, id core.HypothesisID) (*gate.EligibilityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latest(s.eligibility[id], id)
}

// ListEligibilityVersions returns every version in ascending order
func (s *Store) ListEligibilityVersions(ctx context.Context, id core.HypothesisID) ([]gate.EligibilityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]gate.EligibilityEntry{}, s.eligibility[id]...), nil
}

// ListGovernanceEvents returns the governance trail in append order
func (s *Store) ListGovernanceEvents(ctx context.Context, id core.HypothesisID) ([]gate.GovernanceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]gate.GovernanceEvent{}, s.events[id]...), nil
}

func latest(entries []gate.EligibilityEntry, id core.HypothesisID) (*gate.EligibilityEntry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w for %s", core.ErrNoEligibility, id)
	}
	e := entries[len(entries)-1]
	return &e, nil
}

// WithinTx stages writes and applies them only when fn returns nil
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.GateTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{store: s, states: make(map[core.HypothesisID]gate.StateRecord)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range tx.audits {
		s.audits[a.HypothesisID] = append(s.audits[a.HypothesisID], a)
	}
	for id, st := range tx.states {
		s.states[id] = st
	}
	for _, e := range tx.eligibility {
		s.eligibility[e.HypothesisID] = append(s.eligibility[e.HypothesisID], e)
	}
	for _, e := range tx.events {
		s.events[e.HypothesisID] = append(s.events[e.HypothesisID], e)
	}
	return nil
}

// memTx buffers writes for one WithinTx call
type memTx struct {
	store       *Store
	audits      []gate.Audit
	states      map[core.HypothesisID]gate.StateRecord
	eligibility []gate.EligibilityEntry
	events      []gate.GovernanceEvent
}

func (t *memTx) AppendAudit(ctx context.Context, audit gate.Audit) error {
	t.audits = append(t.audits, audit)
	return nil
}

func (t *memTx) GetState(ctx context.Context, id core.HypothesisID) (*gate.StateRecord, error) {
	if st, ok := t.states[id]; ok {
		return &st, nil
	}
	return t.store.GetState(ctx, id)
}

func (t *memTx) PutState(ctx context.Context, state gate.StateRecord) error {
	t.states[state.HypothesisID] = state
	return nil
}

func (t *memTx) AppendEligibility(ctx context.Context, entry gate.EligibilityEntry) error {
	for _, e := range t.entries(entry.HypothesisID) {
		if e.Version == entry.Version {
			return fmt.Errorf("%w: v%d for %s", core.ErrEligibilityExists, entry.Version, entry.HypothesisID)
		}
	}
	entry.AssetUniverse = append([]string(nil), entry.AssetUniverse...)
	t.eligibility = append(t.eligibility, entry)
	return nil
}

func (t *memTx) AppendGovernanceEvent(ctx context.Context, event gate.GovernanceEvent) error {
	t.events = append(t.events, event)
	return nil
}

func (t *memTx) LatestEligibility(ctx context.Context, id core.HypothesisID) (*gate.EligibilityEntry, error) {
	return latest(t.entries(id), id)
}

// entries merges committed and staged versions for id
func (t *memTx) entries(id core.HypothesisID) []gate.EligibilityEntry {
	t.store.mu.RLock()
	out := append([]gate.EligibilityEntry{}, t.store.eligibility[id]...)
	t.store.mu.RUnlock()
	for _, e := range t.eligibility {
		if e.HypothesisID == id {
			out = append(out, e)
		}
	}
	return out
}
