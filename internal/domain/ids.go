// Package domain holds the core types of the synchronization engine: typed
// identifiers, date ranges, sync jobs with their state machine, package
// references, and fiscal documents.
package domain

import (
	"github.com/google/uuid"

	derrors "satsync/pkg/domain-errors"
)

// Typed IDs prevent accidental cross-assignment between entity identifiers.
type (
	AccountID uuid.UUID
	SyncJobID uuid.UUID
)

func NewSyncJobID() SyncJobID { return SyncJobID(uuid.New()) }

func (id AccountID) String() string { return uuid.UUID(id).String() }
func (id SyncJobID) String() string { return uuid.UUID(id).String() }

func (id AccountID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id SyncJobID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParseAccountID parses and validates an account identifier.
// IDs must be valid, non-nil UUIDs.
func ParseAccountID(s string) (AccountID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return AccountID{}, err
	}
	return AccountID(u), nil
}

// ParseSyncJobID parses and validates a sync job identifier.
func ParseSyncJobID(s string) (SyncJobID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return SyncJobID{}, err
	}
	return SyncJobID(u), nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, derrors.New(derrors.CodeBadRequest, "id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, derrors.Wrap(err, derrors.CodeBadRequest, "invalid id")
	}
	if u == uuid.Nil {
		return uuid.Nil, derrors.New(derrors.CodeBadRequest, "id must not be nil")
	}
	return u, nil
}
