package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/bookstore-checkout/internal/auth"
	"github.com/joao-fontenele/bookstore-checkout/internal/cart"
	"github.com/joao-fontenele/bookstore-checkout/internal/checkout"
	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
	"github.com/joao-fontenele/bookstore-checkout/internal/payment"
	"github.com/joao-fontenele/bookstore-checkout/internal/replenishment"
	"github.com/joao-fontenele/bookstore-checkout/internal/storage/memory"
)

const dune = "9780441013593"

func testRouter(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New(memory.WithLockTimeout(100 * time.Millisecond))
	store.PutBook(domain.Book{ISBN: dune, Title: "Dune", SellingPrice: 1899, StockQty: 5, Threshold: 3, PublisherID: "pub-ace"})

	return newRouter(services{
		logger:        logger,
		store:         store,
		cart:          cart.NewService(store, logger, 0),
		checkout:      checkout.NewCoordinator(store, payment.NewFake(payment.AutoPay()), logger),
		replenishment: replenishment.NewService(store, logger, time.Now),
		webhookSecret: "whsec_test",
	}), store
}

func call(t *testing.T, h http.Handler, method, target, principal string, role auth.Role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if principal != "" {
		req.Header.Set(auth.HeaderPrincipalID, principal)
		req.Header.Set(auth.HeaderPrincipalRole, string(role))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Healthz(t *testing.T) {
	router, _ := testRouter(t)
	rec := call(t, router, http.MethodGet, "/healthz", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouter_RequiresPrincipal(t *testing.T) {
	router, _ := testRouter(t)
	for _, target := range []string{"/cart", "/orders", "/publisher-orders"} {
		rec := call(t, router, http.MethodGet, target, "", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}
}

func TestRouter_PublisherOrdersAdminOnly(t *testing.T) {
	router, _ := testRouter(t)
	rec := call(t, router, http.MethodGet, "/publisher-orders", "pat", auth.RoleCustomer, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_CheckoutThroughConfirmation(t *testing.T) {
	router, store := testRouter(t)

	rec := call(t, router, http.MethodPost, "/cart/items", "pat", auth.RoleCustomer, `{"isbn":"`+dune+`","qty":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, router, http.MethodPost, "/checkout", "pat", auth.RoleCustomer, `{"card_last4":"4242","card_expiry":"12/99"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var placed struct {
		OrderID string `json:"order_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &placed))
	require.NotEmpty(t, placed.OrderID)

	rec = call(t, router, http.MethodGet, "/orders/"+placed.OrderID, "pat", auth.RoleCustomer, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = call(t, router, http.MethodGet, "/orders/"+placed.OrderID, "sam", auth.RoleCustomer, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, router, http.MethodGet, "/publisher-orders?status=Pending", "ops", auth.RoleAdmin, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var listed struct {
		Orders []domain.ReplenishmentOrder `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Orders, 1)
	assert.Equal(t, 9, listed.Orders[0].OrderQty)

	rec = call(t, router, http.MethodPost, fmt.Sprintf("/publisher-orders/%d/confirm", listed.Orders[0].ID), "ops", auth.RoleAdmin, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	book, err := store.GetBook(t.Context(), dune)
	require.NoError(t, err)
	assert.Equal(t, 11, book.StockQty)
}
