// Package postgres implements storage.Store on PostgreSQL through database/sql
// and lib/pq. Pessimistic row locks (SELECT ... FOR UPDATE) bounded by
// lock_timeout provide the isolation the checkout coordinator relies on.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
	"github.com/joao-fontenele/bookstore-checkout/internal/storage"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

var _ storage.Store = (*Store)(nil)

func NewStore(db *sql.DB, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Store{db: db, lockTimeout: lockTimeout}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin tx", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	// SET does not take bind parameters.
	if _, err := sqlTx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return classify("set lock_timeout", err)
	}

	if err := fn(ctx, &tx{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (s *Store) GetBook(ctx context.Context, isbn string) (domain.Book, error) {
	return getBook(ctx, s.db, isbn, false)
}

func (s *Store) GetBooks(ctx context.Context, isbns []string) (map[string]domain.Book, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT isbn, title, selling_price_cents, stock_qty, threshold, publisher_id
		FROM books
		WHERE isbn = ANY($1)
	`, pq.Array(isbns))
	if err != nil {
		return nil, classify("get books", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]domain.Book, len(isbns))
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, classify("scan book", err)
		}
		out[b.ISBN] = b
	}
	if err := rows.Err(); err != nil {
		return nil, classify("get books", err)
	}
	return out, nil
}

func (s *Store) CartLines(ctx context.Context, customerID string) ([]domain.CartLine, error) {
	return cartLines(ctx, s.db, customerID)
}

func (s *Store) OrderIDBySession(ctx context.Context, sessionID string) (string, error) {
	return orderIDBySession(ctx, s.db, sessionID)
}

func (s *Store) SaveCheckoutSession(ctx context.Context, cs domain.CheckoutSession) error {
	lines, err := json.Marshal(cs.Lines)
	if err != nil {
		return fmt.Errorf("marshal session lines: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkout_sessions (id, customer_id, url, amount_total_cents, lines, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, cs.ID, cs.CustomerID, cs.URL, cs.AmountTotal, lines, cs.CreatedAt)
	return classify("save checkout session", err)
}

func (s *Store) GetCheckoutSession(ctx context.Context, id string) (domain.CheckoutSession, error) {
	var (
		cs    domain.CheckoutSession
		lines []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, url, amount_total_cents, lines, created_at
		FROM checkout_sessions
		WHERE id = $1
	`, id).Scan(&cs.ID, &cs.CustomerID, &cs.URL, &cs.AmountTotal, &lines, &cs.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CheckoutSession{}, &domain.NotFoundError{Entity: "checkout session", ID: id}
	}
	if err != nil {
		return domain.CheckoutSession{}, classify("get checkout session", err)
	}
	if err := json.Unmarshal(lines, &cs.Lines); err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("unmarshal session lines: %w", err)
	}
	return cs, nil
}

func (s *Store) ListReplenishments(ctx context.Context, status domain.ReplenishmentStatus) ([]domain.ReplenishmentOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, isbn, publisher_id, order_qty, status, created_at, confirmed_at
		FROM publisher_orders
		WHERE $1 = '' OR status = $1
		ORDER BY id
	`, string(status))
	if err != nil {
		return nil, classify("list publisher orders", err)
	}
	defer func() { _ = rows.Close() }()

	out := []domain.ReplenishmentOrder{}
	for rows.Next() {
		r, err := scanReplenishment(rows)
		if err != nil {
			return nil, classify("scan publisher order", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list publisher orders", err)
	}
	return out, nil
}

func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, key, payload, created_at, sent_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT NULLIF($1, 0)
	`, limit)
	if err != nil {
		return nil, classify("fetch outbox", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.Payload, &m.CreatedAt, &m.SentAt); err != nil {
			return nil, classify("scan outbox", err)
		}
		out = append(out, m)
	}
	return out, classify("fetch outbox", rows.Err())
}

func (s *Store) MarkOutboxSent(ctx context.Context, id int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE outbox SET sent_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return classify("mark outbox sent", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return classify("mark outbox sent", err)
	}
	if n == 0 {
		return &domain.NotFoundError{Entity: "outbox message", ID: fmt.Sprint(id)}
	}
	return nil
}

// classify maps driver errors onto the domain taxonomy. Lock timeouts,
// deadlocks, serialization failures and lost connections are transient;
// unique violations are conflicts.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return fmt.Errorf("%s: %w: %s", op, domain.ErrConflict, pqErr.Constraint)
		case pqErr.Code == "55P03", pqErr.Code == "40P01", pqErr.Code == "40001", pqErr.Code == "57014":
			return domain.Transient(op, err)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "53", pqErr.Code.Class() == "57":
			return domain.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.As(err, &netErr) {
		return domain.Transient(op, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
