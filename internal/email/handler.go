// Package email is a mail sink: it accepts mail from the worker, assigns it a
// message id and keeps the most recent messages for inspection.
package email

import (
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
	"github.com/joao-fontenele/bookstore-checkout/internal/httpx"
)

const defaultKeep = 100

type Message struct {
	ID      string    `json:"message_id"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

type Handler struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Message
	keep int
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger,
		keep:   defaultKeep,
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	if _, err := mail.ParseAddress(req.To); err != nil {
		httpx.WriteError(w, r, h.logger, &domain.ValidationError{Field: "to", Reason: "must be an email address"})
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		httpx.WriteError(w, r, h.logger, &domain.ValidationError{Field: "subject", Reason: "is required"})
		return
	}

	msg := Message{
		ID:      uuid.NewString(),
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
		SentAt:  time.Now().UTC(),
	}
	h.record(msg)

	h.logger.InfoContext(r.Context(), "email sent", "message_id", msg.ID, "to", msg.To, "subject", msg.Subject)
	httpx.WriteJSON(w, h.logger, http.StatusOK, sendResponse{Status: "sent", MessageID: msg.ID})
}

// HandleList returns the retained messages, newest first.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	out := make([]Message, len(h.sent))
	for i, m := range h.sent {
		out[len(h.sent)-1-i] = m
	}
	h.mu.Unlock()

	httpx.WriteJSON(w, h.logger, http.StatusOK, out)
}

func (h *Handler) record(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, m)
	if len(h.sent) > h.keep {
		h.sent = h.sent[len(h.sent)-h.keep:]
	}
}
