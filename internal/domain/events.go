package domain

import "time"

const (
	TopicCheckoutCompleted      = "checkout.completed"
	TopicReplenishmentRequested = "replenishment.requested"
	TopicReplenishmentConfirmed = "replenishment.confirmed"
)

type CheckoutCompletedEvent struct {
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	Items      []OrderItem `json:"items"`
	Total      int64       `json:"total_cents"`
	Payment    PaymentRef  `json:"payment"`
	Timestamp  time.Time   `json:"timestamp"`
}

type ReplenishmentEvent struct {
	ReplenishmentID int64               `json:"replenishment_id"`
	ISBN            string              `json:"isbn"`
	PublisherID     string              `json:"publisher_id"`
	OrderQty        int                 `json:"order_qty"`
	Status          ReplenishmentStatus `json:"status"`
	Timestamp       time.Time           `json:"timestamp"`
}

// OutboxMessage is an event stored alongside the business write that produced it.
type OutboxMessage struct {
	ID        int64      `json:"id"`
	Topic     string     `json:"topic"`
	Key       string     `json:"key"`
	Payload   []byte     `json:"payload"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}
