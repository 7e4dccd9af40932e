package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"satsync/internal/domain"
	"satsync/internal/platform/logger"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPublisherAndWorker(t *testing.T) {
	store := NewMemoryStore()
	pub := NewPublisher(16, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewWorker(store, pub.Inbox(), logger.Discard()).Run(ctx)

	account := domain.AccountID(uuid.New())
	pub.Emit(account, "job-1", ActionSyncStarted, "")
	pub.Emit(account, "job-1", ActionSyncCompleted, "42 documents")

	waitFor(t, func() bool {
		entries, _ := store.Unpublished(context.Background(), 10)
		return len(entries) == 2
	})

	entries, err := store.Unpublished(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, ActionSyncStarted, entries[0].EventType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(entries[1].Payload, &payload))
	assert.Equal(t, ActionSyncCompleted, payload["action"])
	assert.Equal(t, account.String(), payload["account_id"])
	assert.Equal(t, "42 documents", payload["detail"])
}

func TestPublisherDropsWhenFull(t *testing.T) {
	pub := NewPublisher(1, logger.Discard())
	account := domain.AccountID(uuid.New())

	// No worker draining: the second emit must not block.
	done := make(chan struct{})
	go func() {
		pub.Emit(account, "", ActionSyncStarted, "")
		pub.Emit(account, "", ActionSyncStarted, "")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full buffer")
	}
	assert.Len(t, pub.Inbox(), 1)
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, records ...*kgo.Record) kgo.ProduceResults {
	if p.err != nil {
		return kgo.ProduceResults{{Err: p.err}}
	}
	p.records = append(p.records, records...)
	return kgo.ProduceResults{}
}

func TestRelayDrain(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	account := domain.AccountID(uuid.New())

	for range 3 {
		require.NoError(t, store.Append(ctx, Event{
			ID:        uuid.New(),
			Timestamp: time.Now().UTC(),
			AccountID: account,
			Action:    ActionSyncCompleted,
		}))
	}

	prod := &fakeProducer{}
	relay := NewRelay(store, prod, "satsync.audit", time.Minute, logger.Discard())
	require.NoError(t, relay.drain(ctx))

	assert.Len(t, prod.records, 3)
	assert.Equal(t, "satsync.audit", prod.records[0].Topic)

	remaining, err := store.Unpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining, "drained entries are marked published")

	// A second drain finds nothing new.
	require.NoError(t, relay.drain(ctx))
	assert.Len(t, prod.records, 3)
}

func TestRelayKeepsEntriesOnProduceFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Append(ctx, Event{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		AccountID: domain.AccountID(uuid.New()),
		Action:    ActionSyncFailed,
	}))

	prod := &fakeProducer{err: assert.AnError}
	relay := NewRelay(store, prod, "satsync.audit", time.Minute, logger.Discard())
	require.Error(t, relay.drain(ctx))

	remaining, err := store.Unpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1, "unacknowledged entries stay in the outbox")
}
