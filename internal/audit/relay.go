package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

const relayBatchSize = 100

// producer is the slice of kgo.Client the relay needs.
type producer interface {
	ProduceSync(ctx context.Context, records ...*kgo.Record) kgo.ProduceResults
}

// Relay drains the outbox into Kafka. Entries are marked published only after
// the broker acknowledges them, so a crash between produce and mark results in
// a duplicate downstream, never a loss.
type Relay struct {
	store    Store
	producer producer
	topic    string
	interval time.Duration
	logger   *slog.Logger
}

func NewRelay(store Store, p producer, topic string, interval time.Duration, logger *slog.Logger) *Relay {
	return &Relay{store: store, producer: p, topic: topic, interval: interval, logger: logger}
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.drain(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("relay outbox", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Relay) drain(ctx context.Context) error {
	for {
		entries, err := r.store.Unpublished(ctx, relayBatchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		records := make([]*kgo.Record, len(entries))
		for i, e := range entries {
			records[i] = &kgo.Record{
				Topic: r.topic,
				Key:   []byte(e.ID.String()),
				Value: e.Payload,
			}
		}
		if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
			return err
		}

		ids := make([]uuid.UUID, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if err := r.store.MarkPublished(ctx, ids); err != nil {
			return err
		}
		if len(entries) < relayBatchSize {
			return nil
		}
	}
}
