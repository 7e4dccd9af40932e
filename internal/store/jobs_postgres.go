package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"satsync/internal/domain"
	"satsync/pkg/platform/sentinel"
)

// PostgresJobStore persists sync jobs and package refs in PostgreSQL.
type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

const pqUniqueViolation = "23505"

func (s *PostgresJobStore) CreateJob(ctx context.Context, job *domain.SyncJob) error {
	query := `
		INSERT INTO sync_jobs (
			id, account_id, parent_id, date_start, date_end, direction,
			remote_request_id, state, failure_reason, attempt_count,
			created_at, updated_at, last_polled_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	var parentID *uuid.UUID
	if job.ParentID != nil {
		pid := uuid.UUID(*job.ParentID)
		parentID = &pid
	}
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(job.ID),
		uuid.UUID(job.AccountID),
		parentID,
		job.Range.Start,
		job.Range.End,
		string(job.Direction),
		job.RemoteRequestID,
		string(job.State),
		job.FailureReason,
		job.AttemptCount,
		job.CreatedAt,
		job.UpdatedAt,
		job.LastPolledAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert sync job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) GetJob(ctx context.Context, id domain.SyncJobID) (*domain.SyncJob, error) {
	query := `
		SELECT id, account_id, parent_id, date_start, date_end, direction,
		       remote_request_id, state, failure_reason, attempt_count,
		       created_at, updated_at, last_polled_at
		FROM sync_jobs
		WHERE id = $1
	`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, uuid.UUID(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query sync job: %w", err)
	}
	return job, nil
}

func (s *PostgresJobStore) UpdateJob(ctx context.Context, job *domain.SyncJob) error {
	query := `
		UPDATE sync_jobs
		SET remote_request_id = $2, state = $3, failure_reason = $4,
		    attempt_count = $5, updated_at = $6, last_polled_at = $7
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(job.ID),
		job.RemoteRequestID,
		string(job.State),
		job.FailureReason,
		job.AttemptCount,
		job.UpdatedAt,
		job.LastPolledAt,
	)
	if err != nil {
		return fmt.Errorf("update sync job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresJobStore) ListChildren(ctx context.Context, parentID domain.SyncJobID) ([]*domain.SyncJob, error) {
	query := `
		SELECT id, account_id, parent_id, date_start, date_end, direction,
		       remote_request_id, state, failure_reason, attempt_count,
		       created_at, updated_at, last_polled_at
		FROM sync_jobs
		WHERE parent_id = $1
		ORDER BY date_start
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(parentID))
	if err != nil {
		return nil, fmt.Errorf("query child jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan child job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate child jobs: %w", err)
	}
	return jobs, nil
}

func (s *PostgresJobStore) UpsertPackage(ctx context.Context, ref *domain.PackageRef) error {
	query := `
		INSERT INTO package_refs (sync_job_id, package_id, state, error, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sync_job_id, package_id)
		DO UPDATE SET state = EXCLUDED.state, error = EXCLUDED.error, updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(ref.SyncJobID),
		ref.PackageID,
		string(ref.State),
		ref.Error,
		ref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert package ref: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) ListPackages(ctx context.Context, jobID domain.SyncJobID) ([]*domain.PackageRef, error) {
	query := `
		SELECT sync_job_id, package_id, state, error, updated_at
		FROM package_refs
		WHERE sync_job_id = $1
		ORDER BY package_id
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(jobID))
	if err != nil {
		return nil, fmt.Errorf("query package refs: %w", err)
	}
	defer rows.Close()

	var refs []*domain.PackageRef
	for rows.Next() {
		var (
			ref   domain.PackageRef
			jobID uuid.UUID
			state string
		)
		if err := rows.Scan(&jobID, &ref.PackageID, &state, &ref.Error, &ref.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan package ref: %w", err)
		}
		ref.SyncJobID = domain.SyncJobID(jobID)
		ref.State = domain.PackageState(state)
		refs = append(refs, &ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate package refs: %w", err)
	}
	return refs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.SyncJob, error) {
	var (
		job       domain.SyncJob
		id        uuid.UUID
		accountID uuid.UUID
		parentID  *uuid.UUID
		direction string
		state     string
	)
	err := row.Scan(
		&id,
		&accountID,
		&parentID,
		&job.Range.Start,
		&job.Range.End,
		&direction,
		&job.RemoteRequestID,
		&state,
		&job.FailureReason,
		&job.AttemptCount,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.LastPolledAt,
	)
	if err != nil {
		return nil, err
	}
	job.ID = domain.SyncJobID(id)
	job.AccountID = domain.AccountID(accountID)
	if parentID != nil {
		pid := domain.SyncJobID(*parentID)
		job.ParentID = &pid
	}
	job.Direction = domain.Direction(direction)
	job.State = domain.JobState(state)
	return &job, nil
}
