// Package memory is an in-process implementation of storage.Store. It keeps
// the same locking and atomicity guarantees as the Postgres store: row locks
// are exclusive per key and every write stays private to its transaction
// until commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
	"github.com/joao-fontenele/bookstore-checkout/internal/storage"
)

// Op names a Tx mutation that can be made to fail with InjectFault.
type Op string

const (
	OpAddCartQty          Op = "AddCartQty"
	OpClearCart           Op = "ClearCart"
	OpDecrementStock      Op = "DecrementStock"
	OpIncrementStock      Op = "IncrementStock"
	OpInsertOrder         Op = "InsertOrder"
	OpInsertSale          Op = "InsertSale"
	OpInsertReplenishment Op = "InsertReplenishment"
	OpConfirmReplenish    Op = "MarkReplenishmentConfirmed"
	OpEnqueueOutbox       Op = "EnqueueOutbox"
)

const defaultLockTimeout = 5 * time.Second

type Store struct {
	mu sync.Mutex

	books    map[string]domain.Book
	carts    map[string]map[string]int
	sessions map[string]domain.CheckoutSession

	orders           map[string]domain.Order
	sessionOrders    map[string]string
	reservedSessions map[string]struct{}
	sales            []domain.SalesRecord

	replenishments map[int64]domain.ReplenishmentOrder
	nextReplID     int64

	outbox       []domain.OutboxMessage
	nextOutboxID int64

	faults map[Op]error

	locks       *lockTable
	lockTimeout time.Duration
}

var _ storage.Store = (*Store)(nil)

type Option func(*Store)

// WithLockTimeout bounds how long a transaction waits for a single row lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		books:            make(map[string]domain.Book),
		carts:            make(map[string]map[string]int),
		sessions:         make(map[string]domain.CheckoutSession),
		orders:           make(map[string]domain.Order),
		sessionOrders:    make(map[string]string),
		reservedSessions: make(map[string]struct{}),
		replenishments:   make(map[int64]domain.ReplenishmentOrder),
		faults:           make(map[Op]error),
		locks:            newLockTable(),
		lockTimeout:      defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutBook inserts or replaces a catalog record.
func (s *Store) PutBook(books ...domain.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range books {
		s.books[b.ISBN] = b
	}
}

// InjectFault makes every later call of op fail with err until ClearFaults.
func (s *Store) InjectFault(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[Op]error)
}

func (s *Store) fault(op Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults[op]
}

// OrderCount returns the number of committed orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// SaleCount returns the number of committed sales records.
func (s *Store) SaleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sales)
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return domain.Transient("begin tx", err)
	}

	t := newTx(s)
	defer func() {
		if p := recover(); p != nil {
			t.rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}

	t.commit()
	return nil
}

func (s *Store) GetBook(_ context.Context, isbn string) (domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[isbn]
	if !ok {
		return domain.Book{}, &domain.NotFoundError{Entity: "book", ID: isbn}
	}
	return b, nil
}

func (s *Store) GetBooks(_ context.Context, isbns []string) (map[string]domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Book, len(isbns))
	for _, isbn := range isbns {
		if b, ok := s.books[isbn]; ok {
			out[isbn] = b
		}
	}
	return out, nil
}

func (s *Store) CartLines(_ context.Context, customerID string) ([]domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedLines(s.carts[customerID]), nil
}

func sortedLines(cart map[string]int) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(cart))
	for isbn, qty := range cart {
		lines = append(lines, domain.CartLine{ISBN: isbn, Qty: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ISBN < lines[j].ISBN })
	return lines
}

func (s *Store) GetOrder(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, &domain.NotFoundError{Entity: "order", ID: id}
	}
	return cloneOrder(o), nil
}

func (s *Store) ListOrders(_ context.Context, customerID string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := []domain.Order{}
	for _, o := range s.orders {
		if o.CustomerID == customerID {
			orders = append(orders, cloneOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].OrderDate.Equal(orders[j].OrderDate) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].OrderDate.After(orders[j].OrderDate)
	})
	return orders, nil
}

func (s *Store) OrderIDBySession(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionOrders[sessionID], nil
}

func (s *Store) SalesForOrder(_ context.Context, orderID string) ([]domain.SalesRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SalesRecord
	for _, sale := range s.sales {
		if sale.OrderID == orderID {
			out = append(out, sale)
		}
	}
	return out, nil
}

func (s *Store) SaveCheckoutSession(_ context.Context, cs domain.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[cs.ID]; ok {
		return fmt.Errorf("checkout session %s: %w", cs.ID, domain.ErrConflict)
	}
	cs.Lines = append([]domain.SessionLine(nil), cs.Lines...)
	s.sessions[cs.ID] = cs
	return nil
}

func (s *Store) GetCheckoutSession(_ context.Context, id string) (domain.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[id]
	if !ok {
		return domain.CheckoutSession{}, &domain.NotFoundError{Entity: "checkout session", ID: id}
	}
	cs.Lines = append([]domain.SessionLine(nil), cs.Lines...)
	return cs, nil
}

func (s *Store) ListReplenishments(_ context.Context, status domain.ReplenishmentStatus) ([]domain.ReplenishmentOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.ReplenishmentOrder{}
	for _, r := range s.replenishments {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) PendingOutbox(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OutboxMessage
	for _, m := range s.outbox {
		if m.SentAt != nil {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkOutboxSent(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			sent := at
			s.outbox[i].SentAt = &sent
			return nil
		}
	}
	return &domain.NotFoundError{Entity: "outbox message", ID: fmt.Sprint(id)}
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}
