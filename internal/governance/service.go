// Package governance applies human decisions to eligibility entries. Every change
// appends a new entry version and a governance event; nothing is updated in place.
package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"hypogate/domain/core"
	"hypogate/domain/gate"
	"hypogate/ports"
)

// ErrGateUnchanged is returned when a gate is already in the requested state
var ErrGateUnchanged = errors.New("gate already in requested state")

// Service flips individual gates on the latest eligibility version
type Service struct {
	store  ports.GateStore
	clock  core.Clock
	logger zerolog.Logger
}

// NewService creates a governance service
func NewService(store ports.GateStore, clock core.Clock, logger zerolog.Logger) *Service {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Service{store: store, clock: clock, logger: logger}
}

// Unlock clears one gate
func (s *Service) Unlock(ctx context.Context, id core.HypothesisID, name gate.GateName, actor, reason string) (*gate.EligibilityEntry, error) {
	return s.transition(ctx, id, name, false, actor, reason)
}

// Block sets one gate
func (s *Service) Block(ctx context.Context, id core.HypothesisID, name gate.GateName, actor, reason string) (*gate.EligibilityEntry, error) {
	return s.transition(ctx, id, name, true, actor, reason)
}

// History returns every entry version and the event trail
func (s *Service) History(ctx context.Context, id core.HypothesisID) ([]gate.EligibilityEntry, []gate.GovernanceEvent, error) {
	versions, err := s.store.ListEligibilityVersions(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.store.ListGovernanceEvents(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return versions, events, nil
}

func (s *Service) transition(ctx context.Context, id core.HypothesisID, name gate.GateName, blocked bool,
	actor, reason string) (*gate.EligibilityEntry, error) {
	if _, err := gate.ParseGateName(string(name)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(actor) == "" {
		return nil, core.NewValidationError("actor", "required")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, core.NewValidationError("reason", "required")
	}

	action := gate.ActionUnlock
	if blocked {
		action = gate.ActionBlock
	}

	var next gate.EligibilityEntry
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.GateTx) error {
		latest, err := tx.LatestEligibility(ctx, id)
		if err != nil {
			return err
		}
		from := latest.Gates.Blocked(name)
		if from == blocked {
			return fmt.Errorf("%w: %s on %s v%d", ErrGateUnchanged, name, id, latest.Version)
		}

		now := s.clock.Now()
		next = *latest
		next.ID = core.EligibilityID(core.NewID())
		next.Version = latest.Version + 1
		next.Gates = latest.Gates.With(name, blocked)
		next.AssetUniverse = append([]string(nil), latest.AssetUniverse...)
		next.CreatedAt = now
		if err := tx.AppendEligibility(ctx, next); err != nil {
			return err
		}
		return tx.AppendGovernanceEvent(ctx, gate.GovernanceEvent{
			ID:           core.EventID(core.NewID()),
			HypothesisID: id,
			Version:      next.Version,
			Action:       action,
			Gate:         name,
			FromBlocked:  from,
			ToBlocked:    blocked,
			Actor:        actor,
			Reason:       reason,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("hypothesis_id", id.String()).
		Str("gate", string(name)).
		Str("action", string(action)).
		Str("actor", actor).
		Int("version", next.Version).
		Msg("eligibility gate changed")
	return &next, nil
}
