package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
)

// HostedClient talks to a hosted checkout provider over its REST API.
type HostedClient struct {
	baseURL    string
	apiKey     string
	successURL string
	cancelURL  string
	currency   string
	httpClient *http.Client
}

func NewHostedClient(baseURL, apiKey, successURL, cancelURL string, client *http.Client) *HostedClient {
	return &HostedClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		successURL: successURL,
		cancelURL:  cancelURL,
		currency:   "usd",
		httpClient: client,
	}
}

type sessionLineItem struct {
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	UnitAmount int64  `json:"unit_amount"`
	Quantity   int    `json:"quantity"`
}

type createSessionRequest struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Mode              string            `json:"mode"`
	Currency          string            `json:"currency"`
	LineItems         []sessionLineItem `json:"line_items"`
	SuccessURL        string            `json:"success_url"`
	CancelURL         string            `json:"cancel_url"`
}

type sessionResponse struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentStatus string `json:"payment_status"`
	AmountTotal   int64  `json:"amount_total"`
	PaymentMethod struct {
		Card struct {
			Last4    string `json:"last4"`
			ExpMonth int    `json:"exp_month"`
			ExpYear  int    `json:"exp_year"`
		} `json:"card"`
	} `json:"payment_method"`
}

func (c *HostedClient) CreateSession(ctx context.Context, customerID string, items []LineItem) (Session, error) {
	body := createSessionRequest{
		ClientReferenceID: customerID,
		Mode:              "payment",
		Currency:          c.currency,
		SuccessURL:        c.successURL,
		CancelURL:         c.cancelURL,
	}
	for _, it := range items {
		body.LineItems = append(body.LineItems, sessionLineItem{
			Name:       it.Name,
			SKU:        it.ISBN,
			UnitAmount: it.UnitAmount,
			Quantity:   it.Quantity,
		})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return Session{}, fmt.Errorf("marshal create session request: %w", err)
	}

	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", data, &resp); err != nil {
		return Session{}, err
	}
	if resp.ID == "" || resp.URL == "" {
		return Session{}, domain.Transient("create payment session", fmt.Errorf("provider returned incomplete session"))
	}

	return Session{ID: resp.ID, URL: resp.URL}, nil
}

func (c *HostedClient) GetSessionStatus(ctx context.Context, sessionID string) (domain.SessionStatus, error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, &resp); err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			nf.ID = sessionID
		}
		return domain.SessionStatus{}, err
	}

	status := domain.SessionStatus{
		Paid:        resp.PaymentStatus == "paid",
		AmountTotal: resp.AmountTotal,
		CardLast4:   resp.PaymentMethod.Card.Last4,
	}
	if card := resp.PaymentMethod.Card; card.ExpMonth > 0 {
		status.CardExpiry = fmt.Sprintf("%02d/%02d", card.ExpMonth, card.ExpYear%100)
	}
	return status, nil
}

func (c *HostedClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create payment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Transient("payment provider "+method+" "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &domain.NotFoundError{Entity: "payment session"}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return domain.Transient("payment provider "+method+" "+path, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return fmt.Errorf("payment provider returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Transient("decode payment provider response", err)
	}
	return nil
}
