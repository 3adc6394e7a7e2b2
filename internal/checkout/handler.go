package checkout

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joao-fontenele/bookstore-checkout/internal/auth"
	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
	"github.com/joao-fontenele/bookstore-checkout/internal/httpx"
)

const SignatureHeader = "X-Payment-Signature"

type Handler struct {
	coord         *Coordinator
	logger        *slog.Logger
	webhookSecret []byte
}

func NewHandler(coord *Coordinator, logger *slog.Logger, webhookSecret string) *Handler {
	return &Handler{
		coord:         coord,
		logger:        logger,
		webhookSecret: []byte(webhookSecret),
	}
}

// Routes registers the customer-facing endpoints; they expect an
// authenticated principal.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/checkout", h.HandleCheckout)
	r.Post("/checkout/create-session", h.HandleCreateSession)
	r.Post("/checkout/complete-order", h.HandleCompleteOrder)
}

type orderResponse struct {
	OK      bool   `json:"ok"`
	OrderID string `json:"order_id"`
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.Current(w, r, h.logger)
	if !ok {
		return
	}

	var proof domain.CardProof
	if err := httpx.DecodeJSON(r, &proof); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	orderID, err := h.coord.CheckoutWithCard(r.Context(), p.ID, proof)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, orderResponse{OK: true, OrderID: orderID})
}

type sessionResponse struct {
	OK        bool   `json:"ok"`
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.Current(w, r, h.logger)
	if !ok {
		return
	}

	session, err := h.coord.CreateSession(r.Context(), p.ID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, sessionResponse{OK: true, URL: session.URL, SessionID: session.ID})
}

type completeRequest struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) HandleCompleteOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.Current(w, r, h.logger)
	if !ok {
		return
	}

	var req completeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	orderID, _, err := h.coord.CompleteSession(r.Context(), p.ID, req.SessionID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, orderResponse{OK: true, OrderID: orderID})
}

// HandleWebhook accepts the provider's "session paid" callback. The body must
// be signed with hex(HMAC-SHA256(secret, body)).
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpx.WriteError(w, r, h.logger, &domain.ValidationError{Field: "body", Reason: "unreadable"})
		return
	}

	if !h.validSignature(body, r.Header.Get(SignatureHeader)) {
		h.logger.WarnContext(r.Context(), "webhook signature rejected", "remote_addr", r.RemoteAddr)
		httpx.WriteMessage(w, h.logger, http.StatusUnauthorized, "invalid_signature", "invalid signature")
		return
	}

	var req completeRequest
	if err := json.Unmarshal(body, &req); err != nil || req.SessionID == "" {
		httpx.WriteError(w, r, h.logger, &domain.ValidationError{Field: "session_id", Reason: "is required"})
		return
	}

	orderID, replayed, err := h.coord.CompletePaidSession(r.Context(), req.SessionID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "webhook processed", "session_id", req.SessionID, "order_id", orderID, "replayed", replayed)
	httpx.WriteJSON(w, h.logger, http.StatusOK, orderResponse{OK: true, OrderID: orderID})
}

func (h *Handler) validSignature(body []byte, signature string) bool {
	if len(h.webhookSecret) == 0 || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(h.webhookSecret, body))
}

// Sign computes the webhook signature for body.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
