// Package worker turns bookstore events into mail: receipts for customers and
// reorder requests for publishers.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
	"github.com/joao-fontenele/bookstore-checkout/internal/messaging"
)

// Topics lists every topic the handler understands.
var Topics = []string{
	domain.TopicCheckoutCompleted,
	domain.TopicReplenishmentRequested,
	domain.TopicReplenishmentConfirmed,
}

type NotificationHandler struct {
	mailer Mailer
	logger *slog.Logger
}

func NewNotificationHandler(mailer Mailer, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		mailer: mailer,
		logger: logger,
	}
}

// Handle returns an error only for failures worth redelivering. Records that
// cannot be decoded are logged and skipped.
func (h *NotificationHandler) Handle(ctx context.Context, msg messaging.Message) error {
	switch msg.Topic {
	case domain.TopicCheckoutCompleted:
		var event domain.CheckoutCompletedEvent
		if !h.decode(ctx, msg, &event) {
			return nil
		}
		return h.sendReceipt(ctx, event)

	case domain.TopicReplenishmentRequested:
		var event domain.ReplenishmentEvent
		if !h.decode(ctx, msg, &event) {
			return nil
		}
		return h.sendReorder(ctx, event)

	case domain.TopicReplenishmentConfirmed:
		var event domain.ReplenishmentEvent
		if !h.decode(ctx, msg, &event) {
			return nil
		}
		h.logger.InfoContext(ctx, "publisher order received",
			"replenishment_id", event.ReplenishmentID,
			"isbn", event.ISBN,
			"order_qty", event.OrderQty,
		)
		return nil

	default:
		h.logger.WarnContext(ctx, "ignoring event from unknown topic", "topic", msg.Topic, "key", msg.Key)
		return nil
	}
}

func (h *NotificationHandler) decode(ctx context.Context, msg messaging.Message, dst any) bool {
	if err := json.Unmarshal(msg.Value, dst); err != nil {
		h.logger.ErrorContext(ctx, "dropping malformed event", "error", err, "topic", msg.Topic, "key", msg.Key)
		return false
	}
	return true
}

func (h *NotificationHandler) sendReceipt(ctx context.Context, event domain.CheckoutCompletedEvent) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you for your order %s.\n\n", event.OrderID)
	for _, it := range event.Items {
		fmt.Fprintf(&b, "%d x %s @ %s = %s\n", it.Qty, it.BookTitle, formatCents(it.UnitPrice), formatCents(it.LineTotal()))
	}
	fmt.Fprintf(&b, "\nTotal: %s\n", formatCents(event.Total))

	mail := Mail{
		To:      customerAddress(event.CustomerID),
		Subject: "Your bookstore order " + event.OrderID,
		Body:    b.String(),
	}
	if err := h.mailer.Send(ctx, mail); err != nil {
		h.logger.ErrorContext(ctx, "failed to send receipt", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send receipt for %s: %w", event.OrderID, err)
	}

	h.logger.InfoContext(ctx, "receipt sent", "order_id", event.OrderID, "customer_id", event.CustomerID)
	return nil
}

func (h *NotificationHandler) sendReorder(ctx context.Context, event domain.ReplenishmentEvent) error {
	mail := Mail{
		To:      publisherAddress(event.PublisherID),
		Subject: fmt.Sprintf("Purchase order #%d", event.ReplenishmentID),
		Body:    fmt.Sprintf("Please ship %d copies of ISBN %s.\nReference: publisher order #%d.\n", event.OrderQty, event.ISBN, event.ReplenishmentID),
	}
	if err := h.mailer.Send(ctx, mail); err != nil {
		h.logger.ErrorContext(ctx, "failed to send reorder", "error", err, "replenishment_id", event.ReplenishmentID)
		return fmt.Errorf("send reorder %d: %w", event.ReplenishmentID, err)
	}

	h.logger.InfoContext(ctx, "reorder sent", "replenishment_id", event.ReplenishmentID, "publisher_id", event.PublisherID)
	return nil
}

func customerAddress(customerID string) string {
	return customerID + "@customers.bookstore.example"
}

func publisherAddress(publisherID string) string {
	return "orders+" + publisherID + "@publishers.bookstore.example"
}

func formatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s$%d.%02d", sign, c/100, c%100)
}
