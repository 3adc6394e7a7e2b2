package replenishment

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
	"github.com/joao-fontenele/bookstore-checkout/internal/outbox"
	"github.com/joao-fontenele/bookstore-checkout/internal/storage"
)

// Scheduler creates Pending reorders from stock transitions seen inside a
// checkout transaction.
type Scheduler struct {
	policy  Policy
	now     func() time.Time
	created metric.Int64Counter
}

type SchedulerOption func(*Scheduler)

func WithPolicy(p Policy) SchedulerOption {
	return func(s *Scheduler) {
		if p != nil {
			s.policy = p
		}
	}
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(opts ...SchedulerOption) *Scheduler {
	created, _ := otel.Meter("bookstore/replenishment").Int64Counter("replenishment.created",
		metric.WithDescription("Publisher reorders created by checkouts"))

	s := &Scheduler{
		policy:  DefaultPolicy,
		now:     time.Now,
		created: created,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Observe must run while tx holds the row lock on book, after its stock was
// set to newStock. It returns the created order, or nil when none was needed.
func (s *Scheduler) Observe(ctx context.Context, tx storage.Tx, book domain.Book, newStock int) (*domain.ReplenishmentOrder, error) {
	if !book.BelowThreshold(newStock) {
		return nil, nil
	}

	pending, err := tx.HasPendingReplenishment(ctx, book.ISBN)
	if err != nil {
		return nil, fmt.Errorf("check pending reorder for %s: %w", book.ISBN, err)
	}
	if pending {
		return nil, nil
	}

	order := &domain.ReplenishmentOrder{
		ISBN:        book.ISBN,
		PublisherID: book.PublisherID,
		OrderQty:    s.policy(book.Threshold),
		Status:      domain.ReplenishmentPending,
		CreatedAt:   s.now().UTC(),
	}
	// The book lock serializes this check with the insert; the partial unique
	// index still rejects a second Pending row if a caller skipped the lock.
	if err := tx.InsertReplenishment(ctx, order); err != nil {
		return nil, fmt.Errorf("insert reorder for %s: %w", book.ISBN, err)
	}

	msg, err := outbox.NewMessage(domain.TopicReplenishmentRequested, order.ISBN, eventFor(*order, order.CreatedAt), order.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.EnqueueOutbox(ctx, msg); err != nil {
		return nil, fmt.Errorf("enqueue reorder event for %s: %w", book.ISBN, err)
	}

	s.created.Add(ctx, 1)
	return order, nil
}

func eventFor(r domain.ReplenishmentOrder, at time.Time) domain.ReplenishmentEvent {
	return domain.ReplenishmentEvent{
		ReplenishmentID: r.ID,
		ISBN:            r.ISBN,
		PublisherID:     r.PublisherID,
		OrderQty:        r.OrderQty,
		Status:          r.Status,
		Timestamp:       at,
	}
}
