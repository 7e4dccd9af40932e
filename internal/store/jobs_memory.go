package store

import (
	"context"
	"sort"
	"sync"

	"satsync/internal/domain"
	"satsync/pkg/platform/sentinel"
)

// MemoryJobStore is the in-memory JobStore used by tests. It enforces the
// same single-flight constraint as the partial unique index in PostgreSQL.
type MemoryJobStore struct {
	mu       sync.Mutex
	jobs     map[domain.SyncJobID]*domain.SyncJob
	packages map[domain.SyncJobID]map[string]*domain.PackageRef
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:     make(map[domain.SyncJobID]*domain.SyncJob),
		packages: make(map[domain.SyncJobID]map[string]*domain.PackageRef),
	}
}

func (s *MemoryJobStore) CreateJob(_ context.Context, job *domain.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ParentID == nil {
		for _, existing := range s.jobs {
			if existing.AccountID == job.AccountID && existing.ParentID == nil && !existing.State.Terminal() {
				return sentinel.ErrConflict
			}
		}
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *MemoryJobStore) GetJob(_ context.Context, id domain.SyncJobID) (*domain.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *MemoryJobStore) UpdateJob(_ context.Context, job *domain.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return sentinel.ErrNotFound
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *MemoryJobStore) ListChildren(_ context.Context, parentID domain.SyncJobID) ([]*domain.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var children []*domain.SyncJob
	for _, job := range s.jobs {
		if job.ParentID != nil && *job.ParentID == parentID {
			copied := *job
			children = append(children, &copied)
		}
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].Range.Start.Before(children[j].Range.Start)
	})
	return children, nil
}

func (s *MemoryJobStore) UpsertPackage(_ context.Context, ref *domain.PackageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.packages[ref.SyncJobID] == nil {
		s.packages[ref.SyncJobID] = make(map[string]*domain.PackageRef)
	}
	copied := *ref
	s.packages[ref.SyncJobID][ref.PackageID] = &copied
	return nil
}

func (s *MemoryJobStore) ListPackages(_ context.Context, jobID domain.SyncJobID) ([]*domain.PackageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var refs []*domain.PackageRef
	for _, ref := range s.packages[jobID] {
		copied := *ref
		refs = append(refs, &copied)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].PackageID < refs[j].PackageID })
	return refs, nil
}
