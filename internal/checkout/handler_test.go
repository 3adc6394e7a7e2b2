package checkout

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/bookstore-checkout/internal/auth"
	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
	"github.com/joao-fontenele/bookstore-checkout/internal/payment"
)

const webhookSecret = "whsec_test"

func newRouter(coord *Coordinator) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(coord, logger, webhookSecret)

	r := chi.NewRouter()
	r.Post("/checkout/webhook", h.HandleWebhook)
	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(logger))
		h.Routes(r)
	})
	return r
}

func post(t *testing.T, h http.Handler, target, customer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if customer != "" {
		req.Header.Set(auth.HeaderPrincipalID, customer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Checkout(t *testing.T) {
	store := newStore()
	router := newRouter(newCoordinator(store, payment.NewFake()))

	fillCart(t, store, "pat", domain.CartLine{ISBN: dune, Qty: 1})
	rec := post(t, router, "/checkout", "pat", `{"card_last4":"4242","card_expiry":"12/27"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.NotEmpty(t, resp.OrderID)

	fillCart(t, store, "pat", domain.CartLine{ISBN: neuromancer, Qty: 10})
	rec = post(t, router, "/checkout", "pat", `{"card_last4":"4242","card_expiry":"12/27"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"Not enough stock for Neuromancer (requested 10, available 4)"`)
	assert.Contains(t, rec.Body.String(), `"ok":false`)

	rec = post(t, router, "/checkout", "pat", `{"card_last4":"42","card_expiry":"12/27"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"card_last4"`)

	rec = post(t, router, "/checkout", "", `{"card_last4":"4242","card_expiry":"12/27"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_SessionFlow(t *testing.T) {
	store := newStore()
	pay := payment.NewFake()
	router := newRouter(newCoordinator(store, pay))
	fillCart(t, store, "quinn", domain.CartLine{ISBN: dune, Qty: 1})

	rec := post(t, router, "/checkout/create-session", "quinn", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var session sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.NotEmpty(t, session.URL)

	body := `{"session_id":"` + session.SessionID + `"}`
	rec = post(t, router, "/checkout/complete-order", "quinn", body)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	pay.Pay(session.SessionID)

	rec = post(t, router, "/checkout/complete-order", "quinn", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var first orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = post(t, router, "/checkout/complete-order", "quinn", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var second orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, first.OrderID, second.OrderID)

	rec = post(t, router, "/checkout/complete-order", "someone-else", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Webhook(t *testing.T) {
	store := newStore()
	coord := newCoordinator(store, payment.NewFake(payment.AutoPay()))
	router := newRouter(coord)
	fillCart(t, store, "rosa", domain.CartLine{ISBN: dune, Qty: 1})

	rec := post(t, router, "/checkout/create-session", "rosa", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var session sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	body := `{"session_id":"` + session.SessionID + `"}`
	signed := func(body string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/checkout/webhook", strings.NewReader(body))
		req.Header.Set(SignatureHeader, hex.EncodeToString(Sign([]byte(webhookSecret), []byte(body))))
		return req
	}

	t.Run("bad signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/checkout/webhook", strings.NewReader(body))
		req.Header.Set(SignatureHeader, hex.EncodeToString(Sign([]byte("wrong"), []byte(body))))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Zero(t, store.OrderCount())
	})

	t.Run("missing signature", func(t *testing.T) {
		rec := post(t, router, "/checkout/webhook", "", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("completes and replays", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, signed(body))
		require.Equal(t, http.StatusOK, rec.Code)
		var first orderResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

		rec = post(t, router, "/checkout/complete-order", "rosa", body)
		require.Equal(t, http.StatusOK, rec.Code)
		var second orderResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))

		assert.Equal(t, first.OrderID, second.OrderID)
		assert.Equal(t, 1, store.OrderCount())
	})

	t.Run("unknown session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, signed(`{"session_id":"cs_nope"}`))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
