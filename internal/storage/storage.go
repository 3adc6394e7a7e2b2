// Package storage defines the unit-of-work contract shared by the catalog,
// cart, order ledger and replenishment data.
package storage

import (
	"context"
	"time"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
)

// Store is the entry point to persisted state. Reads outside InTx see only
// committed data and take no row locks.
type Store interface {
	// InTx runs fn in a transaction. fn's error rolls everything back and is
	// returned unchanged; infrastructure failures come back as
	// *domain.TransientError.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetBook(ctx context.Context, isbn string) (domain.Book, error)
	GetBooks(ctx context.Context, isbns []string) (map[string]domain.Book, error)

	CartLines(ctx context.Context, customerID string) ([]domain.CartLine, error)

	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListOrders(ctx context.Context, customerID string) ([]domain.Order, error)
	// OrderIDBySession returns "" when no order references sessionID.
	OrderIDBySession(ctx context.Context, sessionID string) (string, error)
	SalesForOrder(ctx context.Context, orderID string) ([]domain.SalesRecord, error)

	SaveCheckoutSession(ctx context.Context, s domain.CheckoutSession) error
	GetCheckoutSession(ctx context.Context, id string) (domain.CheckoutSession, error)

	ListReplenishments(ctx context.Context, status domain.ReplenishmentStatus) ([]domain.ReplenishmentOrder, error)

	// PendingOutbox returns unsent messages in id order; limit 0 means all.
	PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, id int64, at time.Time) error
}

// Tx is a single transaction. Row locks taken through it are held until
// commit or rollback.
type Tx interface {
	// LockCart creates the customer's cart if needed and locks it. Every cart
	// mutation and every checkout takes this lock before reading lines.
	LockCart(ctx context.Context, customerID string) error
	CartLines(ctx context.Context, customerID string) ([]domain.CartLine, error)
	// AddCartQty adds delta to the line, creating it, and returns the new quantity.
	AddCartQty(ctx context.Context, customerID, isbn string, delta int) (int, error)
	SetCartQty(ctx context.Context, customerID, isbn string, qty int) error
	DeleteCartLine(ctx context.Context, customerID, isbn string) error
	ClearCart(ctx context.Context, customerID string) error

	GetBook(ctx context.Context, isbn string) (domain.Book, error)
	// LockBooks locks the book rows in ascending isbn order and returns them in
	// that order. A missing isbn yields *domain.NotFoundError.
	LockBooks(ctx context.Context, isbns []string) ([]domain.Book, error)
	DecrementStock(ctx context.Context, isbn string, qty int) error
	IncrementStock(ctx context.Context, isbn string, qty int) error

	OrderIDBySession(ctx context.Context, sessionID string) (string, error)
	// InsertOrder stores the order and its items. A second order for the same
	// payment session fails with domain.ErrConflict.
	InsertOrder(ctx context.Context, order domain.Order) error
	InsertSale(ctx context.Context, sale domain.SalesRecord) error

	HasPendingReplenishment(ctx context.Context, isbn string) (bool, error)
	InsertReplenishment(ctx context.Context, r *domain.ReplenishmentOrder) error
	LockReplenishment(ctx context.Context, id int64) (domain.ReplenishmentOrder, error)
	MarkReplenishmentConfirmed(ctx context.Context, id int64, at time.Time) error

	EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error
}
