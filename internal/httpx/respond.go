// Package httpx holds the JSON response conventions shared by the bookstore
// handlers: success bodies carry "ok": true, failures carry "ok": false and a
// user-facing "error" message.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
)

const retryMessage = "temporarily unavailable, please try again"

// ErrorBody is the failure envelope.
type ErrorBody struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	ISBN      string `json:"isbn,omitempty"`
	Available *int   `json:"available,omitempty"`
	Field     string `json:"field,omitempty"`
}

func WriteJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// WriteError maps err onto a status and envelope. Client errors are logged at
// warn, everything else at error with a generic message to the caller.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, body := Classify(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "error", err, "method", r.Method, "path", r.URL.Path)
	} else {
		logger.WarnContext(r.Context(), "request rejected", "error", err, "code", body.Code, "path", r.URL.Path)
	}
	WriteJSON(w, logger, status, body)
}

// WriteMessage writes a failure envelope with a fixed message.
func WriteMessage(w http.ResponseWriter, logger *slog.Logger, status int, code, message string) {
	WriteJSON(w, logger, status, ErrorBody{Error: message, Code: code})
}

func Classify(err error) (int, ErrorBody) {
	var (
		stock *domain.InsufficientStockError
		verr  *domain.ValidationError
	)

	switch {
	case errors.As(err, &stock):
		available := stock.Available
		return http.StatusBadRequest, ErrorBody{
			Error:     stock.Error(),
			Code:      "insufficient_stock",
			ISBN:      stock.ISBN,
			Available: &available,
		}
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrorBody{Error: verr.Error(), Code: "validation_error", Field: verr.Field}
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, ErrorBody{Error: err.Error(), Code: "validation_error"}
	case errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusBadRequest, ErrorBody{Error: err.Error(), Code: "invalid_quantity"}
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusBadRequest, ErrorBody{Error: "Your cart is empty", Code: "empty_cart"}
	case errors.Is(err, domain.ErrPaymentNotConfirmed):
		return http.StatusPaymentRequired, ErrorBody{Error: "Payment has not been confirmed", Code: "payment_not_confirmed"}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, domain.ErrAlreadyConfirmed):
		return http.StatusConflict, ErrorBody{Error: "Publisher order already confirmed", Code: "already_confirmed"}
	default:
		return http.StatusInternalServerError, ErrorBody{Error: retryMessage, Code: "temporarily_unavailable"}
	}
}

// DecodeJSON reads a JSON body, rejecting unknown fields and trailing data.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &domain.ValidationError{Field: "body", Reason: "invalid request body"}
	}
	if dec.More() {
		return &domain.ValidationError{Field: "body", Reason: "unexpected trailing data"}
	}
	return nil
}
