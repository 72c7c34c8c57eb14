package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	HypothesisID  ID
	CohortID      ID
	OutcomeID     ID
	AuditID       ID
	EligibilityID ID
	EventID       ID
)

// String conversions for domain IDs
func (id HypothesisID) String() string  { return ID(id).String() }
func (id CohortID) String() string      { return ID(id).String() }
func (id OutcomeID) String() string     { return ID(id).String() }
func (id AuditID) String() string       { return ID(id).String() }
func (id EligibilityID) String() string { return ID(id).String() }
func (id EventID) String() string       { return ID(id).String() }

func (id HypothesisID) IsEmpty() bool { return ID(id).IsEmpty() }
func (id CohortID) IsEmpty() bool     { return ID(id).IsEmpty() }

// ParseHypothesisID parses a string into HypothesisID
func ParseHypothesisID(s string) (HypothesisID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("hypothesis ID cannot be empty")
	}
	return HypothesisID(strings.TrimSpace(s)), nil
}

// ParseCohortID parses a string into CohortID
func ParseCohortID(s string) (CohortID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("cohort ID cannot be empty")
	}
	return CohortID(strings.TrimSpace(s)), nil
}
