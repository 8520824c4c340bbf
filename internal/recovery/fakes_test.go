package recovery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shohag/reclaim/internal/gateway"
	"github.com/shohag/reclaim/internal/models"
	"github.com/shohag/reclaim/internal/storage"
)

// memStore mirrors the SQLite store's contract: version-guarded updates,
// one record per invoice and emails written only through AppendEmail.
type memStore struct {
	mu        sync.Mutex
	accounts  map[string]*models.Account
	payments  map[string]*models.FailedPayment
	byInvoice map[string]string
	getErr    map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		accounts:  make(map[string]*models.Account),
		payments:  make(map[string]*models.FailedPayment),
		byInvoice: make(map[string]string),
		getErr:    make(map[string]error),
	}
}

func clonePayment(p *models.FailedPayment) *models.FailedPayment {
	c := *p
	c.RetryHistory = append([]models.RetryAttempt{}, p.RetryHistory...)
	c.EmailsSent = append([]models.EmailRecord{}, p.EmailsSent...)
	if p.NextRetryAt != nil {
		t := *p.NextRetryAt
		c.NextRetryAt = &t
	}
	if p.RecoveredAt != nil {
		t := *p.RecoveredAt
		c.RecoveredAt = &t
	}
	return &c
}

func (s *memStore) addAccount(a *models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *a
	s.accounts[a.ID] = &c
}

func (s *memStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	c := *a
	return &c, nil
}

func (s *memStore) CreatePayment(ctx context.Context, p *models.FailedPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byInvoice[p.InvoiceID]; ok {
		return storage.ErrDuplicateInvoice
	}
	p.Version = 1
	s.payments[p.ID] = clonePayment(p)
	s.byInvoice[p.InvoiceID] = p.ID
	return nil
}

func (s *memStore) GetPayment(ctx context.Context, id string) (*models.FailedPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.getErr[id]; err != nil {
		return nil, err
	}
	p, ok := s.payments[id]
	if !ok {
		return nil, nil
	}
	return clonePayment(p), nil
}

func (s *memStore) GetPaymentByInvoice(ctx context.Context, invoiceID string) (*models.FailedPayment, error) {
	s.mu.Lock()
	id, ok := s.byInvoice[invoiceID]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return s.GetPayment(ctx, id)
}

func (s *memStore) UpdatePayment(ctx context.Context, p *models.FailedPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.payments[p.ID]
	if !ok || cur.Version != p.Version {
		return storage.ErrConflict
	}
	c := clonePayment(p)
	c.EmailsSent = cur.EmailsSent
	c.Version++
	s.payments[p.ID] = c
	p.Version = c.Version
	return nil
}

func (s *memStore) AppendEmail(ctx context.Context, paymentID string, rec models.EmailRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.payments[paymentID]
	if !ok {
		return errors.New("payment not found")
	}
	cur.EmailsSent = append(cur.EmailsSent, rec)
	return nil
}

func (s *memStore) ListDuePayments(ctx context.Context, now time.Time, limit int) ([]models.FailedPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FailedPayment
	for _, p := range s.payments {
		acct, ok := s.accounts[p.AccountID]
		if !ok || !acct.Connected {
			continue
		}
		if !p.Status.Retryable() || p.NextRetryAt == nil || p.NextRetryAt.After(now) {
			continue
		}
		out = append(out, *clonePayment(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeGateway returns scripted results per invoice, defaulting to a card decline.
type fakeGateway struct {
	mu      sync.Mutex
	results map[string][]gateway.Result
	calls   map[string]int
	hook    func(invoiceID string)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{results: make(map[string][]gateway.Result), calls: make(map[string]int)}
}

func (g *fakeGateway) script(invoiceID string, results ...gateway.Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[invoiceID] = append(g.results[invoiceID], results...)
}

func (g *fakeGateway) callCount(invoiceID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[invoiceID]
}

func (g *fakeGateway) RetryInvoice(ctx context.Context, invoiceID string, acct *models.Account) gateway.Result {
	g.mu.Lock()
	g.calls[invoiceID]++
	hook := g.hook
	var res gateway.Result
	if queue := g.results[invoiceID]; len(queue) > 0 {
		res = queue[0]
		g.results[invoiceID] = queue[1:]
	} else {
		res = declined
	}
	g.mu.Unlock()

	if hook != nil {
		hook(invoiceID)
	}
	return res
}

var (
	declined = gateway.Result{Outcome: gateway.OutcomeCardError, Code: "card_declined", Message: "Your card was declined."}
	paid     = gateway.Result{Outcome: gateway.OutcomeSuccess}
	timeout  = gateway.Result{Outcome: gateway.OutcomeGatewayError, Message: "context deadline exceeded"}
)

type sent struct {
	Type      models.NotificationType
	PaymentID string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (n *fakeNotifier) Send(ctx context.Context, t models.NotificationType, p *models.FailedPayment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sent{Type: t, PaymentID: p.ID})
	return nil
}

func (n *fakeNotifier) types(paymentID string) []models.NotificationType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.NotificationType
	for _, s := range n.sent {
		if s.PaymentID == paymentID {
			out = append(out, s.Type)
		}
	}
	return out
}
