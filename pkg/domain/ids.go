// Package domain defines the typed identifiers shared across the pipeline.
// Typed IDs prevent cross-type assignment at compile time: a RunID can never
// be passed where a SampleID is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "voicepassport/pkg/domain-errors"
)

// RunID identifies one pipeline run.
type RunID uuid.UUID

// NewRunID mints a fresh run identifier.
func NewRunID() RunID { return RunID(uuid.New()) }

func (r RunID) String() string { return uuid.UUID(r).String() }

func (r RunID) IsNil() bool { return uuid.UUID(r) == uuid.Nil }

// MarshalText renders the canonical UUID form so run IDs serialize as
// strings in JSON payloads and Kafka keys.
func (r RunID) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *RunID) UnmarshalText(b []byte) error {
	parsed, err := ParseRunID(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// UserID is the subject identifier handed in by the caller. It is an opaque
// string: only its SHA-256 commitment ever reaches the ledger.
type UserID string

// SampleID is the content identifier of a stored voice sample.
type SampleID string

// ParseRunID validates and converts an external run identifier.
func ParseRunID(s string) (RunID, error) {
	if s == "" {
		return RunID{}, dErrors.New(dErrors.CodeInvalidInput, "run id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return RunID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "run id is not a valid UUID")
	}
	if u == uuid.Nil {
		return RunID{}, dErrors.New(dErrors.CodeInvalidInput, "run id must not be the nil UUID")
	}
	return RunID(u), nil
}
