package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/joao-fontenele/bookstore-checkout/internal/domain"
)

// Fake is an in-process Adapter. Sessions stay unpaid until Pay is called,
// unless the fake was built with AutoPay.
type Fake struct {
	mu       sync.Mutex
	seq      int
	autoPay  bool
	sessions map[string]*fakeSession
	calls    int
}

type fakeSession struct {
	customerID string
	amount     int64
	status     domain.SessionStatus
}

type FakeOption func(*Fake)

// AutoPay marks every created session as paid with a test card.
func AutoPay() FakeOption {
	return func(f *Fake) { f.autoPay = true }
}

func NewFake(opts ...FakeOption) *Fake {
	f := &Fake{sessions: make(map[string]*fakeSession)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fake) CreateSession(_ context.Context, customerID string, items []LineItem) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var amount int64
	for _, it := range items {
		amount += it.UnitAmount * int64(it.Quantity)
	}

	f.seq++
	id := fmt.Sprintf("cs_test_%d", f.seq)
	s := &fakeSession{customerID: customerID, amount: amount}
	if f.autoPay {
		s.status = domain.SessionStatus{Paid: true, AmountTotal: amount, CardLast4: "4242", CardExpiry: "12/99"}
	}
	f.sessions[id] = s
	return Session{ID: id, URL: "https://pay.example.test/" + id}, nil
}

func (f *Fake) GetSessionStatus(_ context.Context, sessionID string) (domain.SessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	s, ok := f.sessions[sessionID]
	if !ok {
		return domain.SessionStatus{}, &domain.NotFoundError{Entity: "payment session", ID: sessionID}
	}
	return s.status, nil
}

// Pay marks the session paid for its full amount.
func (f *Fake) Pay(sessionID string) {
	f.PayAmount(sessionID, -1)
}

// PayAmount marks the session paid for amount; a negative amount pays in full.
func (f *Fake) PayAmount(sessionID string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return
	}
	if amount < 0 {
		amount = s.amount
	}
	s.status = domain.SessionStatus{Paid: true, AmountTotal: amount, CardLast4: "4242", CardExpiry: "12/99"}
}

// StatusCalls reports how many times GetSessionStatus was called.
func (f *Fake) StatusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
