package domain

import "time"

// PaymentRef is the proof of payment recorded on an order: either a captured
// card fingerprint or an external payment session id.
type PaymentRef struct {
	CardLast4  string `json:"card_last4,omitempty"`
	CardExpiry string `json:"card_expiry,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// OrderItem snapshots title and unit price at purchase time.
type OrderItem struct {
	ISBN      string `json:"isbn"`
	BookTitle string `json:"book_title"`
	UnitPrice int64  `json:"unit_price_cents"`
	Qty       int    `json:"qty"`
}

func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Qty)
}

// Order is immutable once created; every persisted order is completed.
type Order struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customer_id"`
	OrderDate  time.Time   `json:"order_date"`
	TotalPrice int64       `json:"total_price_cents"`
	Payment    PaymentRef  `json:"payment"`
	Items      []OrderItem `json:"items"`
}

// ItemsTotal sums line totals of the order's items.
func (o Order) ItemsTotal() int64 {
	var total int64
	for _, it := range o.Items {
		total += it.LineTotal()
	}
	return total
}

// SalesRecord is derived reporting data, one per (order, isbn).
type SalesRecord struct {
	OrderID string    `json:"order_id"`
	ISBN    string    `json:"isbn"`
	Qty     int       `json:"qty"`
	Amount  int64     `json:"amount_cents"`
	SoldAt  time.Time `json:"sold_at"`
}
