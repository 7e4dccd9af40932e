// Package audit records the engine's consequential actions: who started a
// sync, how it ended, when credentials were touched. Events flow through a
// buffered channel into a transactional outbox; a relay publishes them to
// Kafka, which is the durable audit log.
package audit

import (
	"time"

	"github.com/google/uuid"

	"satsync/internal/domain"
)

// Actions recorded by the engine.
const (
	ActionSyncStarted      = "sync.started"
	ActionSyncCompleted    = "sync.completed"
	ActionSyncFailed       = "sync.failed"
	ActionSyncCancelled    = "sync.cancelled"
	ActionSyncBisected     = "sync.bisected"
	ActionCredentialSealed = "credential.sealed"
	ActionCredentialDenied = "credential.unlock_denied"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID
	Timestamp time.Time
	AccountID domain.AccountID
	JobID     string
	Action    string
	Detail    string
}
