// Package store persists sync jobs, package references, and fiscal documents.
// Each interface has a PostgreSQL implementation for production and an
// in-memory implementation for tests.
package store

import (
	"context"
	"time"

	"satsync/internal/domain"
)

// JobStore owns SyncJob and PackageRef records.
type JobStore interface {
	// CreateJob inserts a new job. For top-level jobs (ParentID == nil) it
	// returns sentinel.ErrConflict when the account already has a
	// non-terminal top-level job: the single-flight invariant is enforced
	// against persisted state, not an in-process lock, so it holds across
	// restarts.
	CreateJob(ctx context.Context, job *domain.SyncJob) error
	GetJob(ctx context.Context, id domain.SyncJobID) (*domain.SyncJob, error)
	UpdateJob(ctx context.Context, job *domain.SyncJob) error
	ListChildren(ctx context.Context, parentID domain.SyncJobID) ([]*domain.SyncJob, error)

	UpsertPackage(ctx context.Context, ref *domain.PackageRef) error
	ListPackages(ctx context.Context, jobID domain.SyncJobID) ([]*domain.PackageRef, error)
}

// UpsertResult reports whether a document write inserted a new row or hit an
// already-stored duplicate.
type UpsertResult int

const (
	UpsertInserted UpsertResult = iota
	UpsertDuplicate
)

// DocumentFilter narrows document listings.
type DocumentFilter struct {
	Year           int
	Month          time.Month
	Kind           domain.DocumentKind
	DeductibleOnly bool
	Limit          int
	Offset         int
}

// DocumentSummary backs the account dashboard aggregates.
type DocumentSummary struct {
	TotalDocuments  int
	IncomeTotal     string
	ExpenseTotal    string
	PayrollCount    int
	DeductibleCount int
}

// DocumentStore owns fiscal documents. Writes are idempotent on
// (account_id, uuid) so reprocessing an archive is safe.
type DocumentStore interface {
	Upsert(ctx context.Context, doc *domain.FiscalDocument) (UpsertResult, error)
	MarkCancelled(ctx context.Context, accountID domain.AccountID, uuid string) error
	List(ctx context.Context, accountID domain.AccountID, filter DocumentFilter) ([]*domain.FiscalDocument, error)
	Summary(ctx context.Context, accountID domain.AccountID, year int) (*DocumentSummary, error)
}
