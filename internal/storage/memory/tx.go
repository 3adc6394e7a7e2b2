package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
)

// tx stages every write and publishes it on commit, so reads outside the
// transaction never see uncommitted stock, cart or publisher order state.
type tx struct {
	s *Store

	held  map[string]bool
	order []string

	// undo entries run in reverse under s.mu on rollback; apply entries run
	// in order under s.mu on commit.
	undo  []func()
	apply []func()

	stock       map[string]int            // isbn -> staged delta
	carts       map[string]map[string]int // customer -> staged cart
	repl        map[int64]domain.ReplenishmentOrder
	pendingRepl []domain.ReplenishmentOrder
}

func newTx(s *Store) *tx {
	return &tx{
		s:     s,
		held:  make(map[string]bool),
		stock: make(map[string]int),
		carts: make(map[string]map[string]int),
		repl:  make(map[int64]domain.ReplenishmentOrder),
	}
}

func (t *tx) lock(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}

	lctx, cancel := context.WithTimeout(ctx, t.s.lockTimeout)
	defer cancel()

	if err := t.s.locks.acquire(lctx, key); err != nil {
		return domain.Transient("lock "+key, err)
	}
	t.held[key] = true
	t.order = append(t.order, key)
	return nil
}

func (t *tx) releaseLocks() {
	for i := len(t.order) - 1; i >= 0; i-- {
		t.s.locks.release(t.order[i])
	}
	t.order = nil
	t.held = map[string]bool{}
}

func (t *tx) commit() {
	t.s.mu.Lock()
	for isbn, delta := range t.stock {
		b := t.s.books[isbn]
		b.StockQty += delta
		t.s.books[isbn] = b
	}
	for customerID, cart := range t.carts {
		t.s.carts[customerID] = cart
	}
	for id, r := range t.repl {
		t.s.replenishments[id] = r
	}
	for _, fn := range t.apply {
		fn()
	}
	t.s.mu.Unlock()
	t.releaseLocks()
}

func (t *tx) rollback() {
	t.s.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.s.mu.Unlock()
	t.releaseLocks()
}

func cartKey(customerID string) string { return "cart:" + customerID }
func bookKey(isbn string) string       { return "book:" + isbn }
func replKey(id int64) string          { return "replenishment:" + strconv.FormatInt(id, 10) }

func (t *tx) LockCart(ctx context.Context, customerID string) error {
	return t.lock(ctx, cartKey(customerID))
}

// cartLocked returns the staged cart, copying the committed one on first use.
// Callers hold s.mu.
func (t *tx) cartLocked(customerID string) map[string]int {
	if cart, ok := t.carts[customerID]; ok {
		return cart
	}
	cart := make(map[string]int, len(t.s.carts[customerID]))
	for isbn, qty := range t.s.carts[customerID] {
		cart[isbn] = qty
	}
	t.carts[customerID] = cart
	return cart
}

func (t *tx) CartLines(_ context.Context, customerID string) ([]domain.CartLine, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return sortedLines(t.cartLocked(customerID)), nil
}

func (t *tx) setLine(customerID, isbn string, qty int) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cart := t.cartLocked(customerID)
	if qty <= 0 {
		delete(cart, isbn)
		return
	}
	cart[isbn] = qty
}

func (t *tx) AddCartQty(_ context.Context, customerID, isbn string, delta int) (int, error) {
	if err := t.s.fault(OpAddCartQty); err != nil {
		return 0, err
	}
	t.s.mu.Lock()
	qty := t.cartLocked(customerID)[isbn] + delta
	t.s.mu.Unlock()
	t.setLine(customerID, isbn, qty)
	return qty, nil
}

func (t *tx) SetCartQty(_ context.Context, customerID, isbn string, qty int) error {
	t.setLine(customerID, isbn, qty)
	return nil
}

func (t *tx) DeleteCartLine(_ context.Context, customerID, isbn string) error {
	t.setLine(customerID, isbn, 0)
	return nil
}

func (t *tx) ClearCart(_ context.Context, customerID string) error {
	if err := t.s.fault(OpClearCart); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.carts[customerID] = make(map[string]int)
	return nil
}

func (t *tx) GetBook(_ context.Context, isbn string) (domain.Book, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	b, ok := t.s.books[isbn]
	if !ok {
		return domain.Book{}, &domain.NotFoundError{Entity: "book", ID: isbn}
	}
	b.StockQty += t.stock[isbn]
	return b, nil
}

func (t *tx) LockBooks(ctx context.Context, isbns []string) ([]domain.Book, error) {
	sorted := append([]string(nil), isbns...)
	sort.Strings(sorted)

	books := make([]domain.Book, 0, len(sorted))
	for i, isbn := range sorted {
		if i > 0 && sorted[i-1] == isbn {
			continue
		}
		if err := t.lock(ctx, bookKey(isbn)); err != nil {
			return nil, err
		}
		b, err := t.GetBook(ctx, isbn)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, nil
}

func (t *tx) adjustStock(isbn string, delta int) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	b, ok := t.s.books[isbn]
	if !ok {
		return &domain.NotFoundError{Entity: "book", ID: isbn}
	}
	available := b.StockQty + t.stock[isbn]
	if available+delta < 0 {
		return &domain.InsufficientStockError{ISBN: isbn, Title: b.Title, Requested: -delta, Available: available}
	}
	t.stock[isbn] += delta
	return nil
}

func (t *tx) DecrementStock(_ context.Context, isbn string, qty int) error {
	if err := t.s.fault(OpDecrementStock); err != nil {
		return err
	}
	return t.adjustStock(isbn, -qty)
}

func (t *tx) IncrementStock(_ context.Context, isbn string, qty int) error {
	if err := t.s.fault(OpIncrementStock); err != nil {
		return err
	}
	return t.adjustStock(isbn, qty)
}

func (t *tx) OrderIDBySession(ctx context.Context, sessionID string) (string, error) {
	return t.s.OrderIDBySession(ctx, sessionID)
}

func (t *tx) InsertOrder(_ context.Context, order domain.Order) error {
	if err := t.s.fault(OpInsertOrder); err != nil {
		return err
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if _, ok := t.s.orders[order.ID]; ok {
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrConflict)
	}

	sessionID := order.Payment.SessionID
	if sessionID != "" {
		_, committed := t.s.sessionOrders[sessionID]
		_, reserved := t.s.reservedSessions[sessionID]
		if committed || reserved {
			return fmt.Errorf("order for payment session %s: %w", sessionID, domain.ErrConflict)
		}
		t.s.reservedSessions[sessionID] = struct{}{}
		t.undo = append(t.undo, func() { delete(t.s.reservedSessions, sessionID) })
	}

	stored := cloneOrder(order)
	t.apply = append(t.apply, func() {
		t.s.orders[stored.ID] = stored
		if sessionID != "" {
			delete(t.s.reservedSessions, sessionID)
			t.s.sessionOrders[sessionID] = stored.ID
		}
	})
	return nil
}

func (t *tx) InsertSale(_ context.Context, sale domain.SalesRecord) error {
	if err := t.s.fault(OpInsertSale); err != nil {
		return err
	}
	t.apply = append(t.apply, func() {
		t.s.sales = append(t.s.sales, sale)
	})
	return nil
}

func (t *tx) HasPendingReplenishment(_ context.Context, isbn string) (bool, error) {
	for _, r := range t.pendingRepl {
		if r.ISBN == isbn && r.Status == domain.ReplenishmentPending {
			return true, nil
		}
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.hasPendingLocked(isbn), nil
}

func (s *Store) hasPendingLocked(isbn string) bool {
	for _, r := range s.replenishments {
		if r.ISBN == isbn && r.Status == domain.ReplenishmentPending {
			return true
		}
	}
	return false
}

func (t *tx) InsertReplenishment(_ context.Context, r *domain.ReplenishmentOrder) error {
	if err := t.s.fault(OpInsertReplenishment); err != nil {
		return err
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if r.Status == domain.ReplenishmentPending && t.s.hasPendingLocked(r.ISBN) {
		return fmt.Errorf("pending replenishment for %s: %w", r.ISBN, domain.ErrConflict)
	}

	t.s.nextReplID++
	r.ID = t.s.nextReplID
	stored := *r
	t.pendingRepl = append(t.pendingRepl, stored)
	t.apply = append(t.apply, func() {
		t.s.replenishments[stored.ID] = stored
	})
	return nil
}

func (t *tx) LockReplenishment(ctx context.Context, id int64) (domain.ReplenishmentOrder, error) {
	if err := t.lock(ctx, replKey(id)); err != nil {
		return domain.ReplenishmentOrder{}, err
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	r, ok := t.replLocked(id)
	if !ok {
		return domain.ReplenishmentOrder{}, &domain.NotFoundError{Entity: "publisher order", ID: strconv.FormatInt(id, 10)}
	}
	return r, nil
}

func (t *tx) replLocked(id int64) (domain.ReplenishmentOrder, bool) {
	if r, ok := t.repl[id]; ok {
		return r, true
	}
	r, ok := t.s.replenishments[id]
	return r, ok
}

func (t *tx) MarkReplenishmentConfirmed(_ context.Context, id int64, at time.Time) error {
	if err := t.s.fault(OpConfirmReplenish); err != nil {
		return err
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	r, ok := t.replLocked(id)
	if !ok {
		return &domain.NotFoundError{Entity: "publisher order", ID: strconv.FormatInt(id, 10)}
	}
	confirmedAt := at
	r.Status = domain.ReplenishmentConfirmed
	r.ConfirmedAt = &confirmedAt
	t.repl[id] = r
	return nil
}

func (t *tx) EnqueueOutbox(_ context.Context, msg domain.OutboxMessage) error {
	if err := t.s.fault(OpEnqueueOutbox); err != nil {
		return err
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	t.apply = append(t.apply, func() {
		t.s.nextOutboxID++
		msg.ID = t.s.nextOutboxID
		t.s.outbox = append(t.s.outbox, msg)
	})
	return nil
}
