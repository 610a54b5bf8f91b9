package audit

import (
	"context"
)

// Worker consumes audit entries from a channel and persists them, keeping
// the append off the orchestrator's critical path.
type Worker struct {
	sink  Sink
	inbox <-chan Entry
}

func NewWorker(sink Sink, inbox <-chan Entry) *Worker {
	return &Worker{sink: sink, inbox: inbox}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return w.drain(ctx)
		case entry := <-w.inbox:
			if err := w.sink.Append(ctx, entry); err != nil {
				return err
			}
		}
	}
}

// drain persists whatever is still buffered when the context ends, so a
// graceful shutdown does not truncate the trail. Appends run detached
// from the cancelled context.
func (w *Worker) drain(ctx context.Context) error {
	flushCtx := context.WithoutCancel(ctx)
	for {
		select {
		case entry := <-w.inbox:
			if err := w.sink.Append(flushCtx, entry); err != nil {
				return err
			}
		default:
			return ctx.Err()
		}
	}
}
