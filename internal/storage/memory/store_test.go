package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
	"github.com/joao-fontenele/bookstore-checkout/internal/storage"
)

func seeded() *Store {
	s := New(WithLockTimeout(50 * time.Millisecond))
	s.PutBook(
		domain.Book{ISBN: "111", Title: "A", SellingPrice: 1000, StockQty: 5, Threshold: 3, PublisherID: "pub-1"},
		domain.Book{ISBN: "222", Title: "B", SellingPrice: 2000, StockQty: 4, Threshold: 1, PublisherID: "pub-2"},
	)
	return s
}

func TestStore_RollbackRestoresState(t *testing.T) {
	ctx := context.Background()
	s := seeded()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.LockCart(ctx, "c1"))
		_, err := tx.AddCartQty(ctx, "c1", "111", 2)
		require.NoError(t, err)
		require.NoError(t, tx.DecrementStock(ctx, "111", 3))
		require.NoError(t, tx.InsertOrder(ctx, domain.Order{ID: "o1", CustomerID: "c1", Payment: domain.PaymentRef{SessionID: "s1"}}))
		require.NoError(t, tx.InsertReplenishment(ctx, &domain.ReplenishmentOrder{ISBN: "111", OrderQty: 9, Status: domain.ReplenishmentPending}))
		require.NoError(t, tx.EnqueueOutbox(ctx, domain.OutboxMessage{Topic: "t", Key: "k", Payload: []byte(`{}`)}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	book, err := s.GetBook(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, 5, book.StockQty)

	lines, err := s.CartLines(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, lines)

	assert.Equal(t, 0, s.OrderCount())
	id, err := s.OrderIDBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, id)

	pending, err := s.ListReplenishments(ctx, domain.ReplenishmentPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	msgs, err := s.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStore_OpenTxWritesStayPrivate(t *testing.T) {
	ctx := context.Background()
	s := seeded()
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.InsertReplenishment(ctx, &domain.ReplenishmentOrder{ISBN: "222", OrderQty: 3, Status: domain.ReplenishmentPending}))
		return nil
	}))
	pending, err := s.ListReplenishments(ctx, domain.ReplenishmentPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	replID := pending[0].ID

	written := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	boom := errors.New("boom")
	go func() {
		done <- s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			if err := tx.LockCart(ctx, "c1"); err != nil {
				return err
			}
			if _, err := tx.AddCartQty(ctx, "c1", "111", 2); err != nil {
				return err
			}
			if _, err := tx.LockBooks(ctx, []string{"111"}); err != nil {
				return err
			}
			if err := tx.DecrementStock(ctx, "111", 3); err != nil {
				return err
			}
			if err := tx.MarkReplenishmentConfirmed(ctx, replID, time.Now()); err != nil {
				return err
			}

			// The transaction reads its own writes.
			b, err := tx.GetBook(ctx, "111")
			if err != nil {
				return err
			}
			lines, err := tx.CartLines(ctx, "c1")
			if err != nil {
				return err
			}
			r, err := tx.LockReplenishment(ctx, replID)
			if err != nil {
				return err
			}
			if b.StockQty != 2 || len(lines) != 1 || lines[0].Qty != 2 || r.Status != domain.ReplenishmentConfirmed {
				return errors.New("transaction does not see its own writes")
			}

			close(written)
			<-release
			return boom
		})
	}()
	<-written

	assertCommitted := func() {
		t.Helper()
		book, err := s.GetBook(ctx, "111")
		require.NoError(t, err)
		assert.Equal(t, 5, book.StockQty)

		books, err := s.GetBooks(ctx, []string{"111"})
		require.NoError(t, err)
		assert.Equal(t, 5, books["111"].StockQty)

		lines, err := s.CartLines(ctx, "c1")
		require.NoError(t, err)
		assert.Empty(t, lines)

		pending, err := s.ListReplenishments(ctx, domain.ReplenishmentPending)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	}

	assertCommitted()
	close(release)
	require.ErrorIs(t, <-done, boom)
	assertCommitted()
}

func TestStore_CommitPublishesStagedWrites(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.LockCart(ctx, "c1"))
		_, err := tx.AddCartQty(ctx, "c1", "111", 2)
		require.NoError(t, err)
		_, err = tx.AddCartQty(ctx, "c1", "111", 1)
		require.NoError(t, err)
		_, err = tx.LockBooks(ctx, []string{"111", "222"})
		require.NoError(t, err)
		require.NoError(t, tx.DecrementStock(ctx, "111", 3))
		require.NoError(t, tx.DecrementStock(ctx, "111", 2))

		var short *domain.InsufficientStockError
		require.ErrorAs(t, tx.DecrementStock(ctx, "111", 1), &short)
		assert.Equal(t, 0, short.Available)

		require.NoError(t, tx.IncrementStock(ctx, "222", 6))
		return nil
	})
	require.NoError(t, err)

	a, err := s.GetBook(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, 0, a.StockQty)
	b, err := s.GetBook(ctx, "222")
	require.NoError(t, err)
	assert.Equal(t, 10, b.StockQty)

	lines, err := s.CartLines(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []domain.CartLine{{ISBN: "111", Qty: 3}}, lines)
}

func TestStore_InsertOrderSessionConflict(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	insert := func(orderID string) error {
		return s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.InsertOrder(ctx, domain.Order{ID: orderID, CustomerID: "c1", Payment: domain.PaymentRef{SessionID: "sess"}})
		})
	}

	require.NoError(t, insert("o1"))
	err := insert("o2")
	require.ErrorIs(t, err, domain.ErrConflict)

	id, err := s.OrderIDBySession(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, "o1", id)
	assert.Equal(t, 1, s.OrderCount())
}

func TestStore_LockTimeoutIsTransient(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			if _, err := tx.LockBooks(ctx, []string{"222"}); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()

	<-locked
	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.LockBooks(ctx, []string{"222", "111"})
		return err
	})
	require.ErrorIs(t, err, domain.ErrTransient)

	close(release)
	require.NoError(t, <-done)

	// the timed-out transaction must have released "111"
	err = s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.LockBooks(ctx, []string{"111"})
		return err
	})
	require.NoError(t, err)
}

func TestStore_LockBooksSortedAndMissing(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		books, err := tx.LockBooks(ctx, []string{"222", "111", "222"})
		require.NoError(t, err)
		require.Len(t, books, 2)
		assert.Equal(t, "111", books[0].ISBN)
		assert.Equal(t, "222", books[1].ISBN)

		_, err = tx.LockBooks(ctx, []string{"999"})
		return err
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_PendingReplenishmentUnique(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	create := func() error {
		return s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.InsertReplenishment(ctx, &domain.ReplenishmentOrder{ISBN: "111", OrderQty: 9, Status: domain.ReplenishmentPending})
		})
	}
	require.NoError(t, create())
	require.ErrorIs(t, create(), domain.ErrConflict)
}

func TestStore_InjectFault(t *testing.T) {
	ctx := context.Background()
	s := seeded()
	s.InjectFault(OpInsertSale, errors.New("disk full"))

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertSale(ctx, domain.SalesRecord{OrderID: "o", ISBN: "111", Qty: 1})
	})
	require.EqualError(t, err, "disk full")

	s.ClearFaults()
	err = s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertSale(ctx, domain.SalesRecord{OrderID: "o", ISBN: "111", Qty: 1})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.SaleCount())
}

func TestStore_OutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		for _, key := range []string{"a", "b", "c"} {
			if err := tx.EnqueueOutbox(ctx, domain.OutboxMessage{Topic: "t", Key: key, Payload: []byte(`{}`)}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	batch, err := s.PendingOutbox(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Key)

	require.NoError(t, s.MarkOutboxSent(ctx, batch[0].ID, time.Now()))
	rest, err := s.PendingOutbox(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "b", rest[0].Key)

	require.ErrorIs(t, s.MarkOutboxSent(ctx, 999, time.Now()), domain.ErrNotFound)
}
