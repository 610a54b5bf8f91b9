package audit

import (
	"context"
	"log/slog"
)

// Fallback wraps a sink and degrades to the process logger when the append
// fails. Losing an audit record must never abort an otherwise-successful
// workflow, so Append never returns an error to the caller.
type Fallback struct {
	primary Sink
	logger  *slog.Logger
}

func NewFallback(primary Sink, logger *slog.Logger) *Fallback {
	return &Fallback{primary: primary, logger: logger}
}

func (f *Fallback) Append(ctx context.Context, entry Entry) error {
	if f.primary != nil {
		if err := f.primary.Append(ctx, entry); err == nil {
			return nil
		} else if f.logger != nil {
			f.logger.WarnContext(ctx, "audit sink append failed, falling back to log",
				"error", err,
				"run_id", entry.RunID.String(),
				"stage", entry.Stage,
			)
		}
	}
	if f.logger != nil {
		level := slog.LevelInfo
		if entry.Severity == SeverityError {
			level = slog.LevelError
		}
		f.logger.Log(ctx, level, entry.Message,
			"run_id", entry.RunID.String(),
			"stage", entry.Stage,
			"timestamp", entry.Timestamp,
		)
	}
	return nil
}
