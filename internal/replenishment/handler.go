package replenishment

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
	"github.com/joao-fontenele/bookstore-checkout/internal/httpx"
)

type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
	}
}

// Routes is mounted under /publisher-orders behind the admin guard.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/{id}/confirm", h.HandleConfirm)
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, r, h.logger, &domain.ValidationError{Field: "id", Reason: "must be a positive integer"})
		return
	}

	if _, err := h.svc.Confirm(r.Context(), id); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, map[string]bool{"ok": true})
}

type listResponse struct {
	OK     bool                        `json:"ok"`
	Orders []domain.ReplenishmentOrder `json:"orders"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.List(r.Context(), domain.ReplenishmentStatus(r.URL.Query().Get("status")))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if orders == nil {
		orders = []domain.ReplenishmentOrder{}
	}

	h.logger.InfoContext(r.Context(), "publisher orders listed", "count", len(orders))
	httpx.WriteJSON(w, h.logger, http.StatusOK, listResponse{OK: true, Orders: orders})
}
