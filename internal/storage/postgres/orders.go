package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
)

const orderColumns = `id, customer_id, order_date, total_price_cents,
	COALESCE(card_last4, ''), COALESCE(card_expiry, ''), COALESCE(payment_session_id, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.CustomerID, &o.OrderDate, &o.TotalPrice,
		&o.Payment.CardLast4, &o.Payment.CardExpiry, &o.Payment.SessionID)
	return o, err
}

func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, &domain.NotFoundError{Entity: "order", ID: id}
	}
	if err != nil {
		return domain.Order{}, classify("get order", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT isbn, book_title, unit_price_cents, qty
		FROM order_items
		WHERE order_id = $1
		ORDER BY line_no
	`, order.ID)
	if err != nil {
		return domain.Order{}, classify("get order items", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ISBN, &item.BookTitle, &item.UnitPrice, &item.Qty); err != nil {
			return domain.Order{}, classify("scan order item", err)
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return domain.Order{}, classify("get order items", err)
	}

	return order, nil
}

// ListOrders loads a customer's orders newest first, fetching all items in a
// single query.
func (s *Store) ListOrders(ctx context.Context, customerID string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE customer_id = $1
		ORDER BY order_date DESC, id DESC
	`, customerID)
	if err != nil {
		return nil, classify("list orders", err)
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, classify("scan order", err)
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, classify("list orders", err)
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT order_id, isbn, book_title, unit_price_cents, qty
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_no
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, classify("list order items", err)
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ISBN, &item.BookTitle, &item.UnitPrice, &item.Qty); err != nil {
			return nil, classify("scan order item", err)
		}
		if order, ok := orderMap[orderID]; ok {
			order.Items = append(order.Items, item)
		}
	}

	if err := itemRows.Err(); err != nil {
		return nil, classify("list order items", err)
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

func (s *Store) SalesForOrder(ctx context.Context, orderID string) ([]domain.SalesRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, isbn, qty, amount_cents, sold_at
		FROM sales
		WHERE order_id = $1
		ORDER BY isbn
	`, orderID)
	if err != nil {
		return nil, classify("list sales", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.SalesRecord
	for rows.Next() {
		var sale domain.SalesRecord
		if err := rows.Scan(&sale.OrderID, &sale.ISBN, &sale.Qty, &sale.Amount, &sale.SoldAt); err != nil {
			return nil, classify("scan sale", err)
		}
		out = append(out, sale)
	}
	return out, classify("list sales", rows.Err())
}

func orderIDBySession(ctx context.Context, q querier, sessionID string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `
		SELECT id FROM orders WHERE payment_session_id = $1
	`, sessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", classify("order by session", err)
	}
	return id, nil
}
