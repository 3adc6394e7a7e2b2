package replenishment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
	"github.com/joao-fontenele/bookstore-checkout/internal/outbox"
	"github.com/joao-fontenele/bookstore-checkout/internal/storage"
)

type Service struct {
	store     storage.Store
	logger    *slog.Logger
	now       func() time.Time
	tracer    trace.Tracer
	confirmed metric.Int64Counter
}

func NewService(store storage.Store, logger *slog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	confirmed, _ := otel.Meter("bookstore/replenishment").Int64Counter("replenishment.confirmed",
		metric.WithDescription("Publisher reorders confirmed as received"))

	return &Service{
		store:     store,
		logger:    logger,
		now:       now,
		tracer:    otel.Tracer("bookstore/replenishment"),
		confirmed: confirmed,
	}
}

// Confirm marks a Pending reorder as received and adds its quantity to the
// book's stock in one transaction.
func (s *Service) Confirm(ctx context.Context, id int64) (domain.ReplenishmentOrder, error) {
	ctx, span := s.tracer.Start(ctx, "replenishment.confirm",
		trace.WithAttributes(attribute.Int64("replenishment.id", id)))
	defer span.End()

	var confirmed domain.ReplenishmentOrder
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		r, err := tx.LockReplenishment(ctx, id)
		if err != nil {
			return err
		}
		if r.Status == domain.ReplenishmentConfirmed {
			return fmt.Errorf("publisher order %d: %w", id, domain.ErrAlreadyConfirmed)
		}

		if _, err := tx.LockBooks(ctx, []string{r.ISBN}); err != nil {
			return err
		}
		if err := tx.IncrementStock(ctx, r.ISBN, r.OrderQty); err != nil {
			return fmt.Errorf("restock %s: %w", r.ISBN, err)
		}

		at := s.now().UTC()
		if err := tx.MarkReplenishmentConfirmed(ctx, id, at); err != nil {
			return fmt.Errorf("confirm publisher order %d: %w", id, err)
		}
		r.Status = domain.ReplenishmentConfirmed
		r.ConfirmedAt = &at

		msg, err := outbox.NewMessage(domain.TopicReplenishmentConfirmed, r.ISBN, eventFor(r, at), at)
		if err != nil {
			return err
		}
		if err := tx.EnqueueOutbox(ctx, msg); err != nil {
			return fmt.Errorf("enqueue confirmation event: %w", err)
		}

		confirmed = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return domain.ReplenishmentOrder{}, err
	}

	s.confirmed.Add(ctx, 1)
	s.logger.InfoContext(ctx, "publisher order confirmed",
		"replenishment_id", id,
		"isbn", confirmed.ISBN,
		"order_qty", confirmed.OrderQty,
	)
	return confirmed, nil
}

func (s *Service) List(ctx context.Context, status domain.ReplenishmentStatus) ([]domain.ReplenishmentOrder, error) {
	if status != "" && !status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: "must be Pending or Confirmed"}
	}
	return s.store.ListReplenishments(ctx, status)
}
