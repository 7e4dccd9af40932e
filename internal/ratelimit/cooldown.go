// Package ratelimit tracks per-account cooldowns dictated by the remote
// service. When a request comes back throttled with a retry hint, the hint is
// recorded here and every instance refuses to touch that account until it
// lapses.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"satsync/internal/domain"
)

const cooldownKeyPrefix = "cooldown:account:"

// CooldownStore records and reports remote-service cooldowns per account.
type CooldownStore interface {
	// SetCooldown blocks the account for the given duration. A zero or
	// negative duration is a no-op.
	SetCooldown(ctx context.Context, accountID domain.AccountID, d time.Duration) error
	// Remaining reports how long the account is still blocked; zero means
	// not blocked.
	Remaining(ctx context.Context, accountID domain.AccountID) (time.Duration, error)
}

// RedisCooldownStore shares cooldown state across instances.
type RedisCooldownStore struct {
	client *redis.Client
}

func NewRedisCooldownStore(client *redis.Client) *RedisCooldownStore {
	return &RedisCooldownStore{client: client}
}

func (s *RedisCooldownStore) SetCooldown(ctx context.Context, accountID domain.AccountID, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	// Key existence is the block; the TTL is the remaining cooldown.
	return s.client.Set(ctx, cooldownKeyPrefix+accountID.String(), "1", d).Err()
}

func (s *RedisCooldownStore) Remaining(ctx context.Context, accountID domain.AccountID) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, cooldownKeyPrefix+accountID.String()).Result()
	if err != nil {
		return 0, err
	}
	// TTL returns negative durations for missing keys and keys without
	// expiry; neither blocks the account.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// MemoryCooldownStore is the single-instance fallback, also used in tests.
type MemoryCooldownStore struct {
	clock func() time.Time

	mu    sync.Mutex
	until map[domain.AccountID]time.Time
}

func NewMemoryCooldownStore() *MemoryCooldownStore {
	return newMemoryCooldownStore(time.Now)
}

func newMemoryCooldownStore(clock func() time.Time) *MemoryCooldownStore {
	return &MemoryCooldownStore{
		clock: clock,
		until: make(map[domain.AccountID]time.Time),
	}
}

func (s *MemoryCooldownStore) SetCooldown(_ context.Context, accountID domain.AccountID, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until[accountID] = s.clock().Add(d)
	return nil
}

func (s *MemoryCooldownStore) Remaining(_ context.Context, accountID domain.AccountID) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.until[accountID]
	if !ok {
		return 0, nil
	}
	remaining := until.Sub(s.clock())
	if remaining <= 0 {
		delete(s.until, accountID)
		return 0, nil
	}
	return remaining, nil
}
