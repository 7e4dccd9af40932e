package vault

import (
	"context"
	"sync"

	"satsync/internal/domain"
	"satsync/pkg/platform/sentinel"
)

// MemoryStore is the in-memory credential store used by tests.
type MemoryStore struct {
	mu    sync.Mutex
	creds map[domain.AccountID]*SealedCredential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[domain.AccountID]*SealedCredential)}
}

func (s *MemoryStore) Get(_ context.Context, accountID domain.AccountID) (*SealedCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, ok := s.creds[accountID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *sealed
	return &copied, nil
}

func (s *MemoryStore) Put(_ context.Context, accountID domain.AccountID, sealed *SealedCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *sealed
	s.creds[accountID] = &copied
	return nil
}
