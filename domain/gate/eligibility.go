package gate

import (
	"fmt"
	"time"

	"hypogate/domain/core"
)

// ExecutionMode of an eligibility entry. Entries are always created in SHADOW.
type ExecutionMode string

const (
	ModeShadow ExecutionMode = "SHADOW"
	ModePaper  ExecutionMode = "PAPER"
)

// GateName identifies one of the five independent blocking gates
type GateName string

const (
	GateEligibility   GateName = "eligibility"
	GateLiveCapital   GateName = "live_capital"
	GateLeverage      GateName = "leverage"
	GateDependency    GateName = "dependency"
	GateAssetUniverse GateName = "asset_universe"
)

// AllGates lists every gate in a stable order
var AllGates = []GateName{GateEligibility, GateLiveCapital, GateLeverage, GateDependency, GateAssetUniverse}

// ParseGateName validates a gate name
func ParseGateName(s string) (GateName, error) {
	for _, g := range AllGates {
		if string(g) == s {
			return g, nil
		}
	}
	return "", fmt.Errorf("%w: %q", core.ErrInvalidGate, s)
}

// Gates holds the five blocking flags. true means blocked.
type Gates struct {
	EligibilityBlocked   bool `json:"eligibility_blocked"`
	LiveCapitalBlocked   bool `json:"live_capital_blocked"`
	LeverageBlocked      bool `json:"leverage_blocked"`
	DependencyBlocked    bool `json:"dependency_blocked"`
	AssetUniverseBlocked bool `json:"asset_universe_blocked"`
}

// AllBlocked is the only value the promotion gate may create
func AllBlocked() Gates {
	return Gates{
		EligibilityBlocked:   true,
		LiveCapitalBlocked:   true,
		LeverageBlocked:      true,
		DependencyBlocked:    true,
		AssetUniverseBlocked: true,
	}
}

// Blocked reports the flag for g
func (g Gates) Blocked(name GateName) bool {
	switch name {
	case GateEligibility:
		return g.EligibilityBlocked
	case GateLiveCapital:
		return g.LiveCapitalBlocked
	case GateLeverage:
		return g.LeverageBlocked
	case GateDependency:
		return g.DependencyBlocked
	case GateAssetUniverse:
		return g.AssetUniverseBlocked
	}
	return true
}

// With returns a copy of g with one flag set
func (g Gates) With(name GateName, blocked bool) Gates {
	switch name {
	case GateEligibility:
		g.EligibilityBlocked = blocked
	case GateLiveCapital:
		g.LiveCapitalBlocked = blocked
	case GateLeverage:
		g.LeverageBlocked = blocked
	case GateDependency:
		g.DependencyBlocked = blocked
	case GateAssetUniverse:
		g.AssetUniverseBlocked = blocked
	}
	return g
}

// AllBlockedNow reports whether every flag is still blocked
func (g Gates) AllBlockedNow() bool {
	for _, name := range AllGates {
		if !g.Blocked(name) {
			return false
		}
	}
	return true
}

// EligibilityEntry is one version of a hypothesis' eligibility record. Version 1 is
// written by the promotion gate; later versions only by governance.
type EligibilityEntry struct {
	ID            core.EligibilityID `json:"id"`
	HypothesisID  core.HypothesisID  `json:"hypothesis_id"`
	Version       int                `json:"version"`
	Mode          ExecutionMode      `json:"mode"`
	Gates         Gates              `json:"gates"`
	AssetUniverse []string           `json:"asset_universe"`
	AuditID       core.AuditID       `json:"audit_id"`
	CreatedAt     time.Time          `json:"created_at"`
}

// IsEligible is derived from the eligibility gate only. Consumers must still check
// every other gate independently.
func (e EligibilityEntry) IsEligible() bool {
	return !e.Gates.EligibilityBlocked
}

// GovernanceAction names what happened to an eligibility entry
type GovernanceAction string

const (
	ActionCreated GovernanceAction = "CREATED"
	ActionUnlock  GovernanceAction = "UNLOCK"
	ActionBlock   GovernanceAction = "BLOCK"
)

// GovernanceEvent is an append-only record of every eligibility transition.
type GovernanceEvent struct {
	ID           core.EventID      `json:"id"`
	HypothesisID core.HypothesisID `json:"hypothesis_id"`
	Version      int               `json:"version"`
	Action       GovernanceAction  `json:"action"`
	Gate         GateName          `json:"gate,omitempty"`
	FromBlocked  bool              `json:"from_blocked"`
	ToBlocked    bool              `json:"to_blocked"`
	Actor        string            `json:"actor"`
	Reason       string            `json:"reason"`
	CreatedAt    time.Time         `json:"created_at"`
}

// GateActor is the actor name recorded on entries created by the promotion gate
const GateActor = "promotion-gate"
