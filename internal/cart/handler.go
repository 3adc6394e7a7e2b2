package cart

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joao-fontenele/bookstore-checkout/internal/auth"
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

// Routes is mounted under /cart.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleView)
	r.Delete("/", h.HandleClear)
	r.Post("/items", h.HandleAdd)
	r.Put("/items/{isbn}", h.HandleSet)
	r.Delete("/items/{isbn}", h.HandleRemove)
}

type viewResponse struct {
	OK bool `json:"ok"`
	domain.CartView
}

func (h *Handler) HandleView(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.Current(w, r, h.logger)
	if !ok {
		return
	}
	h.writeView(w, r, p.ID)
}

type addRequest struct {
	ISBN string `json:"isbn"`
	Qty  int    `json:"qty"`
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.Current(w, r, h.logger)
	if !ok {
		return
	}

	var req addRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	if err := h.svc.AddLine(r.Context(), p.ID, req.ISBN, req.Qty); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	h.writeView(w, r, p.ID)
}

type setRequest struct {
	Qty int `json:"qty"`
}

func (h *Handler) HandleSet(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.Current(w, r, h.logger)
	if !ok {
		return
	}

	var req setRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	if err := h.svc.SetLineQty(r.Context(), p.ID, chi.URLParam(r, "isbn"), req.Qty); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	h.writeView(w, r, p.ID)
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.Current(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.svc.RemoveLine(r.Context(), p.ID, chi.URLParam(r, "isbn")); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	h.writeView(w, r, p.ID)
}

func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.Current(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.svc.Clear(r.Context(), p.ID); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	h.writeView(w, r, p.ID)
}

func (h *Handler) writeView(w http.ResponseWriter, r *http.Request, customerID string) {
	view, err := h.svc.View(r.Context(), customerID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, h.logger, http.StatusOK, viewResponse{OK: true, CartView: view})
}
