// Package orders serves the read side of the order ledger.
package orders

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joao-fontenele/bookstore-checkout/internal/auth"
	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
	"github.com/joao-fontenele/bookstore-checkout/internal/httpx"
)

type Reader interface {
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListOrders(ctx context.Context, customerID string) ([]domain.Order, error)
}

type Handler struct {
	orders Reader
	logger *slog.Logger
}

func NewHandler(orders Reader, logger *slog.Logger) *Handler {
	return &Handler{
		orders: orders,
		logger: logger,
	}
}

// Routes is mounted under /orders.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Get("/{id}", h.HandleGet)
}

type listResponse struct {
	OK     bool           `json:"ok"`
	Orders []domain.Order `json:"orders"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.Current(w, r, h.logger)
	if !ok {
		return
	}

	orders, err := h.orders.ListOrders(r.Context(), p.ID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}

	h.logger.InfoContext(r.Context(), "orders listed", "customer_id", p.ID, "count", len(orders))
	httpx.WriteJSON(w, h.logger, http.StatusOK, listResponse{OK: true, Orders: orders})
}

type orderResponse struct {
	OK    bool         `json:"ok"`
	Order domain.Order `json:"order"`
}

// HandleGet answers 404 for orders owned by someone else unless the caller
// is an admin.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.Current(w, r, h.logger)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	order, err := h.orders.GetOrder(r.Context(), id)
	if err == nil && order.CustomerID != p.ID && p.Role != auth.RoleAdmin {
		err = &domain.NotFoundError{Entity: "order", ID: id}
	}
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, orderResponse{OK: true, Order: order})
}
