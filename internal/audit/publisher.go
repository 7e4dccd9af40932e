package audit

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"satsync/internal/domain"
)

// Publisher hands events to the worker through a buffered channel. Emitting
// never blocks domain logic: when the buffer is full the event is dropped and
// counted in the log, because a slow audit sink must not stall a sync.
type Publisher struct {
	inbox  chan Event
	logger *slog.Logger
}

func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	return &Publisher{inbox: make(chan Event, buffer), logger: logger}
}

// Inbox is the channel the worker drains.
func (p *Publisher) Inbox() <-chan Event { return p.inbox }

// Emit records one event.
func (p *Publisher) Emit(accountID domain.AccountID, jobID, action, detail string) {
	event := Event{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		AccountID: accountID,
		JobID:     jobID,
		Action:    action,
		Detail:    detail,
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.Warn("audit buffer full, event dropped",
			slog.String("action", action),
			slog.String("account_id", accountID.String()))
	}
}
