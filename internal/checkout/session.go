package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
	"github.com/joao-fontenele/bookstore-checkout/internal/payment"
	"github.com/joao-fontenele/bookstore-checkout/internal/storage"
)

// CreateSession snapshots the priced cart and opens a hosted payment page for
// it. No lock is held while the provider is called.
func (c *Coordinator) CreateSession(ctx context.Context, customerID string) (domain.CheckoutSession, error) {
	ctx, span := c.tracer.Start(ctx, "checkout.create_session",
		trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer span.End()

	var lines []domain.SessionLine
	err := c.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.LockCart(ctx, customerID); err != nil {
			return err
		}
		cart, err := tx.CartLines(ctx, customerID)
		if err != nil {
			return fmt.Errorf("read cart: %w", err)
		}
		cart = domain.MergeLines(cart)
		if len(cart) == 0 {
			return domain.ErrEmptyCart
		}

		for _, l := range cart {
			b, err := tx.GetBook(ctx, l.ISBN)
			if err != nil {
				return err
			}
			// Soft check; commitOrder re-checks under the book lock.
			if l.Qty > b.StockQty {
				return &domain.InsufficientStockError{ISBN: b.ISBN, Title: b.Title, Requested: l.Qty, Available: b.StockQty}
			}
			lines = append(lines, domain.SessionLine{ISBN: b.ISBN, Title: b.Title, UnitPrice: b.SellingPrice, Qty: l.Qty})
		}
		return nil
	})
	if err != nil {
		return domain.CheckoutSession{}, c.fail(ctx, span, pathSession, err)
	}

	items := make([]payment.LineItem, len(lines))
	var amount int64
	for i, l := range lines {
		items[i] = payment.LineItem{ISBN: l.ISBN, Name: l.Title, UnitAmount: l.UnitPrice, Quantity: l.Qty}
		amount += l.UnitPrice * int64(l.Qty)
	}

	ps, err := c.payments.CreateSession(ctx, customerID, items)
	if err != nil {
		return domain.CheckoutSession{}, c.fail(ctx, span, pathSession, fmt.Errorf("create payment session: %w", err))
	}

	session := domain.CheckoutSession{
		ID:          ps.ID,
		CustomerID:  customerID,
		URL:         ps.URL,
		AmountTotal: amount,
		Lines:       lines,
		CreatedAt:   c.now().UTC(),
	}
	if err := c.store.SaveCheckoutSession(ctx, session); err != nil {
		return domain.CheckoutSession{}, c.fail(ctx, span, pathSession, fmt.Errorf("save checkout session: %w", err))
	}

	span.SetAttributes(attribute.String("payment.session_id", session.ID))
	c.logger.InfoContext(ctx, "checkout session created",
		"customer_id", customerID,
		"session_id", session.ID,
		"amount_cents", amount,
	)
	return session, nil
}

// CompleteSession commits the order paid for by sessionID. It is idempotent:
// every call for the same paid session returns the same order id, and
// replayed reports whether that order already existed.
func (c *Coordinator) CompleteSession(ctx context.Context, customerID, sessionID string) (orderID string, replayed bool, err error) {
	ctx, span := c.tracer.Start(ctx, "checkout.complete_session", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("payment.session_id", sessionID),
	))
	defer span.End()

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", false, c.fail(ctx, span, pathSession, &domain.ValidationError{Field: "session_id", Reason: "is required"})
	}

	if id, ok := c.cached(ctx, customerID, sessionID); ok {
		return c.replay(ctx, span, customerID, sessionID, id), true, nil
	}

	session, err := c.store.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return "", false, c.fail(ctx, span, pathSession, err)
	}
	if session.CustomerID != customerID {
		return "", false, c.fail(ctx, span, pathSession, &domain.NotFoundError{Entity: "checkout session", ID: sessionID})
	}

	return c.complete(ctx, span, session)
}

// CompletePaidSession is the provider-initiated variant of CompleteSession;
// the customer is taken from the stored session.
func (c *Coordinator) CompletePaidSession(ctx context.Context, sessionID string) (string, bool, error) {
	ctx, span := c.tracer.Start(ctx, "checkout.webhook",
		trace.WithAttributes(attribute.String("payment.session_id", sessionID)))
	defer span.End()

	session, err := c.store.GetCheckoutSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return "", false, c.fail(ctx, span, pathSession, err)
	}
	if id, ok := c.cached(ctx, session.CustomerID, session.ID); ok {
		return c.replay(ctx, span, session.CustomerID, session.ID, id), true, nil
	}
	return c.complete(ctx, span, session)
}

func (c *Coordinator) complete(ctx context.Context, span trace.Span, session domain.CheckoutSession) (string, bool, error) {
	existing, err := c.store.OrderIDBySession(ctx, session.ID)
	if err != nil {
		return "", false, c.fail(ctx, span, pathSession, err)
	}
	if existing != "" {
		c.remember(ctx, session, existing)
		return c.replay(ctx, span, session.CustomerID, session.ID, existing), true, nil
	}

	// Payment is resolved before any lock is taken.
	status, err := c.payments.GetSessionStatus(ctx, session.ID)
	if err != nil {
		return "", false, c.fail(ctx, span, pathSession, fmt.Errorf("payment session status: %w", err))
	}
	if !status.Paid {
		return "", false, c.fail(ctx, span, pathSession, &domain.PaymentError{SessionID: session.ID, Reason: "not paid"})
	}
	if status.AmountTotal != session.AmountTotal {
		return "", false, c.fail(ctx, span, pathSession, &domain.PaymentError{
			SessionID: session.ID,
			Reason:    fmt.Sprintf("paid %d cents, expected %d", status.AmountTotal, session.AmountTotal),
		})
	}

	ref := domain.PaymentRef{SessionID: session.ID, CardLast4: status.CardLast4, CardExpiry: status.CardExpiry}
	snapshot := make(map[string]domain.SessionLine, len(session.Lines))
	for _, l := range session.Lines {
		snapshot[l.ISBN] = l
	}
	snapshotItem := func(b domain.Book) (string, int64, error) {
		l, ok := snapshot[b.ISBN]
		if !ok {
			return "", 0, fmt.Errorf("book %s not in session %s", b.ISBN, session.ID)
		}
		return l.Title, l.UnitPrice, nil
	}

	var (
		order  domain.Order
		winner string
	)
	err = c.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.LockCart(ctx, session.CustomerID); err != nil {
			return err
		}
		// A concurrent completion may have committed while we waited on the cart.
		id, err := tx.OrderIDBySession(ctx, session.ID)
		if err != nil {
			return err
		}
		if id != "" {
			winner = id
			return nil
		}

		order, err = c.commitOrder(ctx, tx, session.CustomerID, ref, session.CartLines(), snapshotItem, c.consumeLines)
		return err
	})

	if errors.Is(err, domain.ErrConflict) {
		// Lost the race on the session's unique constraint; our work is rolled back.
		winner, err = c.store.OrderIDBySession(ctx, session.ID)
		if err == nil && winner == "" {
			err = domain.Transient("resolve session conflict", fmt.Errorf("no order for session %s", session.ID))
		}
	}
	if err != nil {
		return "", false, c.fail(ctx, span, pathSession, err)
	}

	if winner != "" {
		c.remember(ctx, session, winner)
		return c.replay(ctx, span, session.CustomerID, session.ID, winner), true, nil
	}

	c.remember(ctx, session, order.ID)
	c.succeed(ctx, span, pathSession, order)
	return order.ID, false, nil
}

// consumeLines takes the paid quantities out of the cart. Lines added or raised
// after the session was opened were not paid for and stay in the cart.
func (c *Coordinator) consumeLines(ctx context.Context, tx storage.Tx, customerID string, bought []domain.CartLine) error {
	cart, err := tx.CartLines(ctx, customerID)
	if err != nil {
		return err
	}
	paid := make(map[string]int, len(bought))
	for _, l := range bought {
		paid[l.ISBN] += l.Qty
	}

	var kept []domain.CartLine
	for _, l := range domain.MergeLines(cart) {
		left := l.Qty - paid[l.ISBN]
		if left <= 0 {
			if err := tx.DeleteCartLine(ctx, customerID, l.ISBN); err != nil {
				return err
			}
			continue
		}
		if left != l.Qty {
			if err := tx.SetCartQty(ctx, customerID, l.ISBN, left); err != nil {
				return err
			}
		}
		kept = append(kept, domain.CartLine{ISBN: l.ISBN, Qty: left})
	}
	if len(kept) > 0 {
		c.logger.InfoContext(ctx, "unpaid cart lines kept after session checkout",
			"customer_id", customerID,
			"lines", kept,
		)
	}
	return nil
}

func (c *Coordinator) replay(ctx context.Context, span trace.Span, customerID, sessionID, orderID string) string {
	span.SetAttributes(attribute.String("order.id", orderID), attribute.Bool("checkout.replayed", true))
	c.replayed.Add(ctx, 1, metric.WithAttributes(attribute.String("path", pathSession)))
	c.logger.InfoContext(ctx, "checkout session already completed",
		"customer_id", customerID,
		"session_id", sessionID,
		"order_id", orderID,
	)
	return orderID
}

func (c *Coordinator) cached(ctx context.Context, customerID, sessionID string) (string, bool) {
	if c.cache == nil {
		return "", false
	}
	id, ok, err := c.cache.Get(ctx, customerID, sessionID)
	if err != nil {
		c.logger.WarnContext(ctx, "session cache read failed", "error", err, "session_id", sessionID)
		return "", false
	}
	return id, ok
}

func (c *Coordinator) remember(ctx context.Context, session domain.CheckoutSession, orderID string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, session.CustomerID, session.ID, orderID); err != nil {
		c.logger.WarnContext(ctx, "session cache write failed", "error", err, "session_id", session.ID)
	}
}
