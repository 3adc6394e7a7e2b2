package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
)

func TestHostedClient_CreateSession(t *testing.T) {
	t.Run("posts line items and returns session", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
			assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var body createSessionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "cust-1", body.ClientReferenceID)
			assert.Equal(t, "https://shop/success", body.SuccessURL)
			require.Len(t, body.LineItems, 1)
			assert.Equal(t, "978", body.LineItems[0].SKU)
			assert.Equal(t, int64(1899), body.LineItems[0].UnitAmount)
			assert.Equal(t, 2, body.LineItems[0].Quantity)

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"cs_1","url":"https://pay/cs_1"}`))
		}))
		defer server.Close()

		client := NewHostedClient(server.URL, "sk_test", "https://shop/success", "https://shop/cancel", server.Client())
		session, err := client.CreateSession(context.Background(), "cust-1", []LineItem{{ISBN: "978", Name: "Dune", UnitAmount: 1899, Quantity: 2}})
		require.NoError(t, err)
		assert.Equal(t, Session{ID: "cs_1", URL: "https://pay/cs_1"}, session)
	})

	t.Run("server error is transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewHostedClient(server.URL, "sk", "", "", server.Client())
		_, err := client.CreateSession(context.Background(), "cust-1", nil)
		require.ErrorIs(t, err, domain.ErrTransient)
	})

	t.Run("unreachable provider is transient", func(t *testing.T) {
		client := NewHostedClient("http://localhost:99999", "sk", "", "", &http.Client{})
		_, err := client.CreateSession(context.Background(), "cust-1", nil)
		require.ErrorIs(t, err, domain.ErrTransient)
	})
}

func TestHostedClient_GetSessionStatus(t *testing.T) {
	t.Run("maps paid session with card", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/checkout/sessions/cs_1", r.URL.Path)
			_, _ = w.Write([]byte(`{"id":"cs_1","payment_status":"paid","amount_total":3798,
				"payment_method":{"card":{"last4":"4242","exp_month":4,"exp_year":2031}}}`))
		}))
		defer server.Close()

		client := NewHostedClient(server.URL, "sk", "", "", server.Client())
		status, err := client.GetSessionStatus(context.Background(), "cs_1")
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStatus{Paid: true, AmountTotal: 3798, CardLast4: "4242", CardExpiry: "04/31"}, status)
	})

	t.Run("unpaid session", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"cs_1","payment_status":"unpaid","amount_total":3798}`))
		}))
		defer server.Close()

		client := NewHostedClient(server.URL, "sk", "", "", server.Client())
		status, err := client.GetSessionStatus(context.Background(), "cs_1")
		require.NoError(t, err)
		assert.False(t, status.Paid)
		assert.Empty(t, status.CardExpiry)
	})

	t.Run("unknown session is not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := NewHostedClient(server.URL, "sk", "", "", server.Client())
		_, err := client.GetSessionStatus(context.Background(), "cs_missing")
		require.ErrorIs(t, err, domain.ErrNotFound)
		assert.Contains(t, err.Error(), "cs_missing")
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		client := NewHostedClient(server.URL, "sk", "", "", server.Client())
		_, err := client.GetSessionStatus(ctx, "cs_1")
		require.Error(t, err)
	})
}

func TestFake(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	s, err := f.CreateSession(ctx, "c", []LineItem{{UnitAmount: 500, Quantity: 3}})
	require.NoError(t, err)

	status, err := f.GetSessionStatus(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, status.Paid)

	f.Pay(s.ID)
	status, err = f.GetSessionStatus(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, status.Paid)
	assert.Equal(t, int64(1500), status.AmountTotal)

	_, err = f.GetSessionStatus(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 3, f.StatusCalls())
}
