package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyConfirmed    = errors.New("replenishment order already confirmed")
	ErrConflict            = errors.New("conflicting concurrent write")
	ErrTransient           = errors.New("temporarily unavailable")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type InsufficientStockError struct {
	ISBN      string
	Title     string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Title
	if name == "" {
		name = e.ISBN
	}
	return fmt.Sprintf("Not enough stock for %s (requested %d, available %d)", name, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type InvalidQuantityError struct {
	Qty int
	Max int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity %d must be between 1 and %d", e.Qty, e.Max)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// PaymentError reports a payment session that cannot back an order.
type PaymentError struct {
	SessionID string
	Reason    string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment session %s: %s", e.SessionID, e.Reason)
}

func (e *PaymentError) Unwrap() error { return ErrPaymentNotConfirmed }

// TransientError wraps infrastructure failures that are safe to retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}
