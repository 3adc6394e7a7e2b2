package domain

import "time"

// SessionLine is a cart line priced at session creation.
type SessionLine struct {
	ISBN      string `json:"isbn"`
	Title     string `json:"title"`
	UnitPrice int64  `json:"unit_price_cents"`
	Qty       int    `json:"qty"`
}

// CheckoutSession records what the customer was charged for on the hosted
// payment page. Its lines are what complete-order commits.
type CheckoutSession struct {
	ID          string        `json:"id"`
	CustomerID  string        `json:"customer_id"`
	URL         string        `json:"url"`
	AmountTotal int64         `json:"amount_total_cents"`
	Lines       []SessionLine `json:"lines"`
	CreatedAt   time.Time     `json:"created_at"`
}

func (s CheckoutSession) CartLines() []CartLine {
	lines := make([]CartLine, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = CartLine{ISBN: l.ISBN, Qty: l.Qty}
	}
	return lines
}

// SessionStatus is what the payment provider reports about a session.
type SessionStatus struct {
	Paid        bool
	AmountTotal int64
	CardLast4   string
	CardExpiry  string
}
