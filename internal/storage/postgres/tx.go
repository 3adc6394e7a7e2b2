package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
)

type tx struct {
	q querier
}

const bookColumns = `isbn, title, selling_price_cents, stock_qty, threshold, publisher_id`

func scanBook(row rowScanner) (domain.Book, error) {
	var b domain.Book
	err := row.Scan(&b.ISBN, &b.Title, &b.SellingPrice, &b.StockQty, &b.Threshold, &b.PublisherID)
	return b, err
}

func getBook(ctx context.Context, q querier, isbn string, forUpdate bool) (domain.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE isbn = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	b, err := scanBook(q.QueryRowContext(ctx, query, isbn))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Book{}, &domain.NotFoundError{Entity: "book", ID: isbn}
	}
	if err != nil {
		return domain.Book{}, classify("get book", err)
	}
	return b, nil
}

func cartLines(ctx context.Context, q querier, customerID string) ([]domain.CartLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT isbn, qty
		FROM cart_items
		WHERE customer_id = $1
		ORDER BY isbn
	`, customerID)
	if err != nil {
		return nil, classify("get cart lines", err)
	}
	defer func() { _ = rows.Close() }()

	lines := []domain.CartLine{}
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.ISBN, &l.Qty); err != nil {
			return nil, classify("scan cart line", err)
		}
		lines = append(lines, l)
	}
	return lines, classify("get cart lines", rows.Err())
}

func (t *tx) LockCart(ctx context.Context, customerID string) error {
	if _, err := t.q.ExecContext(ctx, `
		INSERT INTO carts (customer_id) VALUES ($1)
		ON CONFLICT (customer_id) DO NOTHING
	`, customerID); err != nil {
		return classify("create cart", err)
	}

	var id string
	err := t.q.QueryRowContext(ctx, `
		SELECT customer_id FROM carts WHERE customer_id = $1 FOR UPDATE
	`, customerID).Scan(&id)
	return classify("lock cart", err)
}

func (t *tx) CartLines(ctx context.Context, customerID string) ([]domain.CartLine, error) {
	return cartLines(ctx, t.q, customerID)
}

func (t *tx) AddCartQty(ctx context.Context, customerID, isbn string, delta int) (int, error) {
	var qty int
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO cart_items (customer_id, isbn, qty)
		VALUES ($1, $2, $3)
		ON CONFLICT (customer_id, isbn) DO UPDATE SET qty = cart_items.qty + EXCLUDED.qty
		RETURNING qty
	`, customerID, isbn, delta).Scan(&qty)
	if err != nil {
		return 0, classify("add cart line", err)
	}
	return qty, nil
}

func (t *tx) SetCartQty(ctx context.Context, customerID, isbn string, qty int) error {
	if qty <= 0 {
		return t.DeleteCartLine(ctx, customerID, isbn)
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO cart_items (customer_id, isbn, qty)
		VALUES ($1, $2, $3)
		ON CONFLICT (customer_id, isbn) DO UPDATE SET qty = EXCLUDED.qty
	`, customerID, isbn, qty)
	return classify("set cart line", err)
}

func (t *tx) DeleteCartLine(ctx context.Context, customerID, isbn string) error {
	_, err := t.q.ExecContext(ctx, `
		DELETE FROM cart_items WHERE customer_id = $1 AND isbn = $2
	`, customerID, isbn)
	return classify("delete cart line", err)
}

func (t *tx) ClearCart(ctx context.Context, customerID string) error {
	_, err := t.q.ExecContext(ctx, `DELETE FROM cart_items WHERE customer_id = $1`, customerID)
	return classify("clear cart", err)
}

func (t *tx) GetBook(ctx context.Context, isbn string) (domain.Book, error) {
	return getBook(ctx, t.q, isbn, false)
}

// LockBooks relies on the row lock being taken after the sort so concurrent
// transactions always acquire overlapping books in the same order.
func (t *tx) LockBooks(ctx context.Context, isbns []string) ([]domain.Book, error) {
	sorted := append([]string(nil), isbns...)
	sort.Strings(sorted)

	rows, err := t.q.QueryContext(ctx, `
		SELECT `+bookColumns+`
		FROM books
		WHERE isbn = ANY($1)
		ORDER BY isbn
		FOR UPDATE
	`, pq.Array(sorted))
	if err != nil {
		return nil, classify("lock books", err)
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]bool, len(sorted))
	var books []domain.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, classify("scan book", err)
		}
		found[b.ISBN] = true
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("lock books", err)
	}

	for _, isbn := range sorted {
		if !found[isbn] {
			return nil, &domain.NotFoundError{Entity: "book", ID: isbn}
		}
	}
	return books, nil
}

func (t *tx) DecrementStock(ctx context.Context, isbn string, qty int) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE books
		SET stock_qty = stock_qty - $2
		WHERE isbn = $1 AND stock_qty >= $2
	`, isbn, qty)
	if err != nil {
		return classify("decrement stock", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classify("decrement stock", err)
	}

	if rowsAffected == 0 {
		b, err := t.GetBook(ctx, isbn)
		if err != nil {
			return err
		}
		return &domain.InsufficientStockError{ISBN: isbn, Title: b.Title, Requested: qty, Available: b.StockQty}
	}
	return nil
}

func (t *tx) IncrementStock(ctx context.Context, isbn string, qty int) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE books SET stock_qty = stock_qty + $2 WHERE isbn = $1
	`, isbn, qty)
	if err != nil {
		return classify("increment stock", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classify("increment stock", err)
	}
	if rowsAffected == 0 {
		return &domain.NotFoundError{Entity: "book", ID: isbn}
	}
	return nil
}

func (t *tx) OrderIDBySession(ctx context.Context, sessionID string) (string, error) {
	return orderIDBySession(ctx, t.q, sessionID)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (t *tx) InsertOrder(ctx context.Context, order domain.Order) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, order_date, total_price_cents, card_last4, card_expiry, payment_session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, order.ID, order.CustomerID, order.OrderDate, order.TotalPrice,
		nullable(order.Payment.CardLast4), nullable(order.Payment.CardExpiry), nullable(order.Payment.SessionID))
	if err != nil {
		return classify("insert order", err)
	}

	for i, item := range order.Items {
		_, err = t.q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, isbn, book_title, unit_price_cents, qty)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, order.ID, i+1, item.ISBN, item.BookTitle, item.UnitPrice, item.Qty)
		if err != nil {
			return classify("insert order item", err)
		}
	}
	return nil
}

func (t *tx) InsertSale(ctx context.Context, sale domain.SalesRecord) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sales (order_id, isbn, qty, amount_cents, sold_at)
		VALUES ($1, $2, $3, $4, $5)
	`, sale.OrderID, sale.ISBN, sale.Qty, sale.Amount, sale.SoldAt)
	return classify("insert sale", err)
}

func (t *tx) HasPendingReplenishment(ctx context.Context, isbn string) (bool, error) {
	var exists bool
	err := t.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM publisher_orders WHERE isbn = $1 AND status = 'Pending')
	`, isbn).Scan(&exists)
	if err != nil {
		return false, classify("check pending publisher order", err)
	}
	return exists, nil
}

func (t *tx) InsertReplenishment(ctx context.Context, r *domain.ReplenishmentOrder) error {
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO publisher_orders (isbn, publisher_id, order_qty, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, r.ISBN, r.PublisherID, r.OrderQty, string(r.Status), r.CreatedAt).Scan(&r.ID)
	return classify("insert publisher order", err)
}

func scanReplenishment(row rowScanner) (domain.ReplenishmentOrder, error) {
	var (
		r      domain.ReplenishmentOrder
		status string
	)
	err := row.Scan(&r.ID, &r.ISBN, &r.PublisherID, &r.OrderQty, &status, &r.CreatedAt, &r.ConfirmedAt)
	r.Status = domain.ReplenishmentStatus(status)
	return r, err
}

func (t *tx) LockReplenishment(ctx context.Context, id int64) (domain.ReplenishmentOrder, error) {
	r, err := scanReplenishment(t.q.QueryRowContext(ctx, `
		SELECT id, isbn, publisher_id, order_qty, status, created_at, confirmed_at
		FROM publisher_orders
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReplenishmentOrder{}, &domain.NotFoundError{Entity: "publisher order", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return domain.ReplenishmentOrder{}, classify("lock publisher order", err)
	}
	return r, nil
}

func (t *tx) MarkReplenishmentConfirmed(ctx context.Context, id int64, at time.Time) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE publisher_orders SET status = 'Confirmed', confirmed_at = $2 WHERE id = $1
	`, id, at)
	return classify("confirm publisher order", err)
}

func (t *tx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO outbox (topic, key, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, msg.Topic, msg.Key, msg.Payload, msg.CreatedAt)
	return classify("enqueue outbox", err)
}
