package audit

import (
	"context"
	"log/slog"
)

// Worker consumes audit events from a channel and persists them to the
// outbox. A failed write is logged and the event dropped; stopping the worker
// on one bad write would drop far more.
type Worker struct {
	store  Store
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.Error("append audit event",
					slog.String("action", event.Action),
					slog.String("error", err.Error()))
			}
		}
	}
}
