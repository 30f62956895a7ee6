// Package domain holds typed identifiers shared across modules. Typed IDs
// prevent accidental cross-entity assignment at compile time and force
// validation at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "railgate/pkg/domain-errors"
)

// IntentID identifies a payment intent for its whole lifecycle.
type IntentID uuid.UUID

// NewIntentID mints a fresh intent identifier.
func NewIntentID() IntentID {
	return IntentID(uuid.New())
}

// ParseIntentID validates an externally supplied intent id.
// IDs must be valid, non-empty, non-nil UUIDs.
func ParseIntentID(raw string) (IntentID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return IntentID{}, err
	}
	return IntentID(parsed), nil
}

func (id IntentID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether the id is the nil UUID.
func (id IntentID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return parsed, nil
}
