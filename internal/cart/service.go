// Package cart maintains each customer's basket ahead of checkout. Every
// mutation runs under the customer's cart lock so it serializes with an
// in-flight checkout of the same cart.
package cart

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
	"github.com/joao-fontenele/bookstore-checkout/internal/storage"
)

const DefaultMaxLineQty = 100

type Service struct {
	store      storage.Store
	logger     *slog.Logger
	maxLineQty int
}

func NewService(store storage.Store, logger *slog.Logger, maxLineQty int) *Service {
	if maxLineQty <= 0 {
		maxLineQty = DefaultMaxLineQty
	}
	return &Service{
		store:      store,
		logger:     logger,
		maxLineQty: maxLineQty,
	}
}

func validISBN(isbn string) error {
	if strings.TrimSpace(isbn) == "" {
		return &domain.ValidationError{Field: "isbn", Reason: "is required"}
	}
	return nil
}

// AddLine adds qty copies to the line, creating it if needed. The resulting
// quantity may not exceed the per-line cap. Stock is not checked here.
func (s *Service) AddLine(ctx context.Context, customerID, isbn string, qty int) error {
	if err := validISBN(isbn); err != nil {
		return err
	}
	if qty <= 0 || qty > s.maxLineQty {
		return &domain.InvalidQuantityError{Qty: qty, Max: s.maxLineQty}
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.LockCart(ctx, customerID); err != nil {
			return err
		}
		if _, err := tx.GetBook(ctx, isbn); err != nil {
			return err
		}

		total, err := tx.AddCartQty(ctx, customerID, isbn, qty)
		if err != nil {
			return fmt.Errorf("add cart line: %w", err)
		}
		if total > s.maxLineQty {
			return &domain.InvalidQuantityError{Qty: total, Max: s.maxLineQty}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "cart line added", "customer_id", customerID, "isbn", isbn, "qty", qty)
	return nil
}

// SetLineQty sets the absolute quantity; qty <= 0 removes the line.
func (s *Service) SetLineQty(ctx context.Context, customerID, isbn string, qty int) error {
	if err := validISBN(isbn); err != nil {
		return err
	}
	if qty <= 0 {
		return s.RemoveLine(ctx, customerID, isbn)
	}
	if qty > s.maxLineQty {
		return &domain.InvalidQuantityError{Qty: qty, Max: s.maxLineQty}
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.LockCart(ctx, customerID); err != nil {
			return err
		}
		book, err := tx.GetBook(ctx, isbn)
		if err != nil {
			return err
		}
		if qty > book.StockQty {
			return &domain.InsufficientStockError{ISBN: isbn, Title: book.Title, Requested: qty, Available: book.StockQty}
		}
		return tx.SetCartQty(ctx, customerID, isbn, qty)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "cart line updated", "customer_id", customerID, "isbn", isbn, "qty", qty)
	return nil
}

func (s *Service) RemoveLine(ctx context.Context, customerID, isbn string) error {
	if err := validISBN(isbn); err != nil {
		return err
	}
	return s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.LockCart(ctx, customerID); err != nil {
			return err
		}
		return tx.DeleteCartLine(ctx, customerID, isbn)
	})
}

func (s *Service) Clear(ctx context.Context, customerID string) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.LockCart(ctx, customerID); err != nil {
			return err
		}
		return tx.ClearCart(ctx, customerID)
	})
}

// View joins the cart with live catalog prices. Lines whose book has left the
// catalog are dropped from the view.
func (s *Service) View(ctx context.Context, customerID string) (domain.CartView, error) {
	lines, err := s.store.CartLines(ctx, customerID)
	if err != nil {
		return domain.CartView{}, err
	}

	isbns := make([]string, len(lines))
	for i, l := range lines {
		isbns[i] = l.ISBN
	}
	books, err := s.store.GetBooks(ctx, isbns)
	if err != nil {
		return domain.CartView{}, err
	}

	view := domain.CartView{CustomerID: customerID, Lines: make([]domain.CartViewLine, 0, len(lines))}
	for _, l := range lines {
		b, ok := books[l.ISBN]
		if !ok {
			s.logger.WarnContext(ctx, "cart references unknown book", "customer_id", customerID, "isbn", l.ISBN)
			continue
		}
		line := domain.CartViewLine{
			ISBN:      b.ISBN,
			Title:     b.Title,
			UnitPrice: b.SellingPrice,
			Qty:       l.Qty,
			LineTotal: b.SellingPrice * int64(l.Qty),
			Available: b.StockQty,
		}
		view.Lines = append(view.Lines, line)
		view.Total += line.LineTotal
	}
	return view, nil
}
