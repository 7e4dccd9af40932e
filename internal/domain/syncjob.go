package domain

import (
	"time"

	"satsync/pkg/platform/sentinel"
)

// JobState is a node in the synchronization protocol state machine.
type JobState string

const (
	StateDraft      JobState = "draft"
	StateSubmitted  JobState = "submitted"
	StateAccepted   JobState = "accepted"
	StateInProgress JobState = "in_progress"
	StateReady      JobState = "ready"
	StateBisected   JobState = "bisected"
	StateExpired    JobState = "expired"
	StateRejected   JobState = "rejected"
	StateFailed     JobState = "failed"
	StateCompleted  JobState = "completed"
)

// Direction selects which side of the documents the extraction covers.
type Direction string

const (
	DirectionIssued   Direction = "issued"
	DirectionReceived Direction = "received"
)

// ParseDirection validates a direction string.
func ParseDirection(s string) (Direction, bool) {
	switch Direction(s) {
	case DirectionIssued, DirectionReceived:
		return Direction(s), true
	}
	return "", false
}

// Terminal reports whether the state permits no further transitions.
// StateReady is terminal for the remote protocol but the job continues
// locally through fetching and processing into StateCompleted.
func (s JobState) Terminal() bool {
	switch s {
	case StateExpired, StateRejected, StateFailed, StateCompleted:
		return true
	}
	return false
}

// validTransitions encodes the protocol state machine. StateBisected is a
// coordinator-level arc: a job whose result exceeded the service size limit
// becomes a tracking shell over two child jobs and terminates when they do.
// Any transition not listed here is a programming error, not a remote-service
// condition.
var validTransitions = map[JobState][]JobState{
	StateDraft:      {StateSubmitted, StateRejected, StateFailed},
	StateSubmitted:  {StateAccepted, StateBisected, StateRejected, StateFailed},
	StateAccepted:   {StateInProgress, StateReady, StateBisected, StateExpired, StateRejected, StateFailed},
	StateInProgress: {StateInProgress, StateReady, StateBisected, StateExpired, StateRejected, StateFailed},
	StateReady:      {StateCompleted, StateFailed},
	StateBisected:   {StateCompleted, StateFailed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to JobState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Failure reasons recorded on terminal jobs. Machine-readable so callers can
// branch without parsing messages.
const (
	ReasonCancelled         = "cancelled"
	ReasonPollDeadline      = "poll_deadline_exceeded"
	ReasonAttemptsExceeded  = "attempts_exceeded"
	ReasonRejectedByService = "rejected_by_service"
	ReasonCredential        = "credential_error"
	ReasonRangeTooDense     = "range_too_dense"
)

// SyncJob is one extraction request against the remote service. Child jobs
// produced by range bisection carry a ParentID and are aggregated under it.
type SyncJob struct {
	ID              SyncJobID
	AccountID       AccountID
	ParentID        *SyncJobID
	Range           DateRange
	Direction       Direction
	RemoteRequestID string
	State           JobState
	FailureReason   string
	AttemptCount    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastPolledAt    *time.Time
}

// Transition moves the job to the next state, enforcing machine legality.
func (j *SyncJob) Transition(to JobState, now time.Time) error {
	if !CanTransition(j.State, to) {
		return sentinel.ErrInvalidState
	}
	j.State = to
	j.UpdatedAt = now
	return nil
}

// PackageState tracks one downloadable archive through its lifecycle.
type PackageState string

const (
	PackagePending    PackageState = "pending"
	PackageDownloaded PackageState = "downloaded"
	PackageProcessed  PackageState = "processed"
	PackageFailed     PackageState = "failed"
)

// PackageRef is one archive produced by a completed extraction request.
type PackageRef struct {
	SyncJobID SyncJobID
	PackageID string
	State     PackageState
	Error     string
	UpdatedAt time.Time
}
