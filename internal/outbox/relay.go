package outbox

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
)

type Source interface {
	PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, id int64, at time.Time) error
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Relay delivers outbox rows at least once, in id order. A row is marked sent
// only after the broker accepted it, so consumers must tolerate duplicates.
type Relay struct {
	source    Source
	publisher Publisher
	logger    *slog.Logger
	batchSize int
	interval  time.Duration
	now       func() time.Time
	published metric.Int64Counter
}

type RelayOption func(*Relay)

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func NewRelay(source Source, publisher Publisher, logger *slog.Logger, opts ...RelayOption) *Relay {
	published, _ := otel.Meter("bookstore/outbox").Int64Counter("outbox.published",
		metric.WithDescription("Outbox messages delivered to the broker"))

	r := &Relay{
		source:    source,
		publisher: publisher,
		logger:    logger,
		batchSize: 100,
		interval:  time.Second,
		now:       time.Now,
		published: published,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drains the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if n, err := r.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.ErrorContext(ctx, "outbox relay failed", "error", err, "delivered", n)
		} else if n > 0 {
			r.logger.InfoContext(ctx, "outbox relayed", "delivered", n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Drain publishes pending messages until none remain or one fails. It stops
// at the first failure so later events never overtake earlier ones.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	delivered := 0
	for {
		batch, err := r.source.PendingOutbox(ctx, r.batchSize)
		if err != nil {
			return delivered, err
		}

		for _, msg := range batch {
			if err := r.publisher.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
				return delivered, err
			}
			if err := r.source.MarkOutboxSent(ctx, msg.ID, r.now().UTC()); err != nil {
				return delivered, err
			}
			delivered++
			r.published.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", msg.Topic)))
		}

		if len(batch) < r.batchSize {
			return delivered, nil
		}
	}
}
