// Package payment is the boundary to the hosted payment page provider.
package payment

import (
	"context"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
)

type LineItem struct {
	ISBN       string
	Name       string
	UnitAmount int64
	Quantity   int
}

type Session struct {
	ID  string
	URL string
}

// Adapter creates hosted payment sessions and reports whether they were paid.
// Implementations are called outside any database transaction.
type Adapter interface {
	CreateSession(ctx context.Context, customerID string, items []LineItem) (Session, error)
	GetSessionStatus(ctx context.Context, sessionID string) (domain.SessionStatus, error)
}
