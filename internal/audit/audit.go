// Package audit records every pipeline stage transition in an append-only
// trail. Entries are never mutated or deleted by the pipeline; retention is
// the downstream consumer's policy.
package audit

import (
	"context"
	"time"

	id "voicepassport/pkg/domain"
)

// Severity classifies an audit entry.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityError Severity = "ERROR"
)

// Entry is one append-only audit record for a stage transition.
type Entry struct {
	RunID     id.RunID  `json:"run_id"`
	Stage     string    `json:"stage"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEntry stamps an entry with the current UTC time.
func NewEntry(runID id.RunID, stage string, severity Severity, message string) Entry {
	return Entry{
		RunID:     runID,
		Stage:     stage,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Sink is the append-only destination for audit entries.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}
