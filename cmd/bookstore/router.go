package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/joao-fontenele/bookstore-checkout/internal/auth"
	"github.com/joao-fontenele/bookstore-checkout/internal/cart"
	"github.com/joao-fontenele/bookstore-checkout/internal/checkout"
	"github.com/joao-fontenele/bookstore-checkout/internal/httpx"
	"github.com/joao-fontenele/bookstore-checkout/internal/orders"
	"github.com/joao-fontenele/bookstore-checkout/internal/replenishment"
	"github.com/joao-fontenele/bookstore-checkout/internal/storage"
	"github.com/joao-fontenele/bookstore-checkout/internal/telemetry"
)

type services struct {
	logger        *slog.Logger
	store         storage.Store
	cart          *cart.Service
	checkout      *checkout.Coordinator
	replenishment *replenishment.Service
	webhookSecret string
	metrics       http.Handler
}

func newRouter(s services) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.RouteTagger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	checkoutHandler := checkout.NewHandler(s.checkout, s.logger, s.webhookSecret)
	r.Post("/checkout/webhook", checkoutHandler.HandleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(s.logger))

		r.Route("/cart", cart.NewHandler(s.cart, s.logger).Routes)
		checkoutHandler.Routes(r)
		r.Route("/orders", orders.NewHandler(s.store, s.logger).Routes)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(s.logger, auth.RoleAdmin))
			r.Route("/publisher-orders", replenishment.NewHandler(s.replenishment, s.logger).Routes)
		})
	})

	return r
}
