// Package checkout turns a customer's cart into exactly one order. Both the
// direct-card path and the hosted payment session path converge on
// commitOrder, which runs inside a single transaction holding the cart lock
// and the book row locks in isbn order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
	"github.com/joao-fontenele/bookstore-checkout/internal/outbox"
	"github.com/joao-fontenele/bookstore-checkout/internal/payment"
	"github.com/joao-fontenele/bookstore-checkout/internal/replenishment"
	"github.com/joao-fontenele/bookstore-checkout/internal/storage"
)

const (
	pathCard    = "card"
	pathSession = "session"
)

// SessionCache remembers which order completed a payment session. It is a
// shortcut only; the order ledger stays authoritative.
type SessionCache interface {
	Get(ctx context.Context, customerID, sessionID string) (orderID string, ok bool, err error)
	Set(ctx context.Context, customerID, sessionID, orderID string) error
}

type Coordinator struct {
	store     storage.Store
	payments  payment.Adapter
	scheduler *replenishment.Scheduler
	cache     SessionCache
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	tracer    trace.Tracer
	completed metric.Int64Counter
	failed    metric.Int64Counter
	replayed  metric.Int64Counter
}

type Option func(*Coordinator)

func WithScheduler(s *replenishment.Scheduler) Option {
	return func(c *Coordinator) { c.scheduler = s }
}

func WithSessionCache(cache SessionCache) Option {
	return func(c *Coordinator) { c.cache = cache }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

func NewCoordinator(store storage.Store, payments payment.Adapter, logger *slog.Logger, opts ...Option) *Coordinator {
	meter := otel.Meter("bookstore/checkout")
	completed, _ := meter.Int64Counter("checkout.completed",
		metric.WithDescription("Orders committed by checkout"))
	failed, _ := meter.Int64Counter("checkout.failed",
		metric.WithDescription("Checkout attempts that did not produce an order"))
	replayed, _ := meter.Int64Counter("checkout.replayed",
		metric.WithDescription("Session completions answered with an existing order"))

	c := &Coordinator{
		store:     store,
		payments:  payments,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		tracer:    otel.Tracer("bookstore/checkout"),
		completed: completed,
		failed:    failed,
		replayed:  replayed,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.scheduler == nil {
		c.scheduler = replenishment.NewScheduler(replenishment.WithSchedulerClock(c.now))
	}
	return c
}

// CheckoutWithCard validates the card proof, then commits the customer's
// current cart at live catalog prices.
func (c *Coordinator) CheckoutWithCard(ctx context.Context, customerID string, proof domain.CardProof) (string, error) {
	ctx, span := c.tracer.Start(ctx, "checkout.card",
		trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer span.End()

	if err := proof.Validate(c.now()); err != nil {
		return "", c.fail(ctx, span, pathCard, err)
	}

	var order domain.Order
	err := c.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.LockCart(ctx, customerID); err != nil {
			return err
		}
		lines, err := tx.CartLines(ctx, customerID)
		if err != nil {
			return fmt.Errorf("read cart: %w", err)
		}

		order, err = c.commitOrder(ctx, tx, customerID, proof.Ref(), lines, liveItem, clearCart)
		return err
	})
	if err != nil {
		return "", c.fail(ctx, span, pathCard, err)
	}

	c.succeed(ctx, span, pathCard, order)
	return order.ID, nil
}

// itemFunc supplies the title and unit price recorded on an order item.
type itemFunc func(domain.Book) (title string, price int64, err error)

func liveItem(b domain.Book) (string, int64, error) { return b.Title, b.SellingPrice, nil }

// settleFunc removes the purchased lines from the cart.
type settleFunc func(ctx context.Context, tx storage.Tx, customerID string, bought []domain.CartLine) error

func clearCart(ctx context.Context, tx storage.Tx, customerID string, _ []domain.CartLine) error {
	return tx.ClearCart(ctx, customerID)
}

// commitOrder must run with the customer's cart locked. It locks the books,
// re-checks stock, writes the order with its items and sales, decrements
// stock, schedules reorders and settles the cart. Any error aborts the whole
// transaction.
func (c *Coordinator) commitOrder(ctx context.Context, tx storage.Tx, customerID string, ref domain.PaymentRef, lines []domain.CartLine, itemOf itemFunc, settle settleFunc) (domain.Order, error) {
	lines = domain.MergeLines(lines)
	if len(lines) == 0 {
		return domain.Order{}, domain.ErrEmptyCart
	}

	isbns := make([]string, len(lines))
	for i, l := range lines {
		if l.Qty <= 0 {
			return domain.Order{}, &domain.ValidationError{Field: "qty", Reason: "must be positive for " + l.ISBN}
		}
		isbns[i] = l.ISBN
	}

	locked, err := tx.LockBooks(ctx, isbns)
	if err != nil {
		return domain.Order{}, err
	}
	books := make(map[string]domain.Book, len(locked))
	for _, b := range locked {
		books[b.ISBN] = b
	}

	now := c.now().UTC()
	order := domain.Order{
		ID:         c.newID(),
		CustomerID: customerID,
		OrderDate:  now,
		Payment:    ref,
		Items:      make([]domain.OrderItem, 0, len(lines)),
	}
	for _, l := range lines {
		b := books[l.ISBN]
		if l.Qty > b.StockQty {
			return domain.Order{}, &domain.InsufficientStockError{
				ISBN:      b.ISBN,
				Title:     b.Title,
				Requested: l.Qty,
				Available: b.StockQty,
			}
		}
		title, price, err := itemOf(b)
		if err != nil {
			return domain.Order{}, err
		}
		item := domain.OrderItem{ISBN: b.ISBN, BookTitle: title, UnitPrice: price, Qty: l.Qty}
		order.Items = append(order.Items, item)
		order.TotalPrice += item.LineTotal()
	}

	if err := tx.InsertOrder(ctx, order); err != nil {
		return domain.Order{}, err
	}
	for _, it := range order.Items {
		sale := domain.SalesRecord{OrderID: order.ID, ISBN: it.ISBN, Qty: it.Qty, Amount: it.LineTotal(), SoldAt: now}
		if err := tx.InsertSale(ctx, sale); err != nil {
			return domain.Order{}, fmt.Errorf("record sale of %s: %w", it.ISBN, err)
		}
	}

	// locked is in isbn order, matching the lock order.
	for _, b := range locked {
		qty := lineQty(lines, b.ISBN)
		if err := tx.DecrementStock(ctx, b.ISBN, qty); err != nil {
			return domain.Order{}, fmt.Errorf("decrement stock of %s: %w", b.ISBN, err)
		}
		if _, err := c.scheduler.Observe(ctx, tx, b, b.StockQty-qty); err != nil {
			return domain.Order{}, err
		}
	}

	if err := settle(ctx, tx, customerID, lines); err != nil {
		return domain.Order{}, fmt.Errorf("settle cart: %w", err)
	}

	msg, err := outbox.NewMessage(domain.TopicCheckoutCompleted, order.ID, domain.CheckoutCompletedEvent{
		OrderID:    order.ID,
		CustomerID: customerID,
		Items:      order.Items,
		Total:      order.TotalPrice,
		Payment:    ref,
		Timestamp:  now,
	}, now)
	if err != nil {
		return domain.Order{}, err
	}
	if err := tx.EnqueueOutbox(ctx, msg); err != nil {
		return domain.Order{}, fmt.Errorf("enqueue order event: %w", err)
	}

	return order, nil
}

func lineQty(lines []domain.CartLine, isbn string) int {
	for _, l := range lines {
		if l.ISBN == isbn {
			return l.Qty
		}
	}
	return 0
}

func (c *Coordinator) succeed(ctx context.Context, span trace.Span, path string, order domain.Order) {
	span.SetAttributes(attribute.String("order.id", order.ID))
	c.completed.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
	c.logger.InfoContext(ctx, "order created",
		"order_id", order.ID,
		"customer_id", order.CustomerID,
		"total_cents", order.TotalPrice,
		"items", len(order.Items),
		"path", path,
	)
}

func (c *Coordinator) fail(ctx context.Context, span trace.Span, path string, err error) error {
	reason := failureReason(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	c.failed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("reason", reason),
	))
	return err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidQuantity):
		return "validation"
	case errors.Is(err, domain.ErrPaymentNotConfirmed):
		return "payment_not_confirmed"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrTransient):
		return "transient"
	default:
		return "internal"
	}
}
