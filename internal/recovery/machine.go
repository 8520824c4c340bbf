package recovery

import (
	"strings"
	"time"

	"github.com/shohag/reclaim/internal/gateway"
	"github.com/shohag/reclaim/internal/models"
	"github.com/shohag/reclaim/internal/retry"
)

// Transition is the state change caused by one retry attempt.
type Transition string

const (
	TransitionRecovered   Transition = "recovered"
	TransitionRescheduled Transition = "rescheduled"
	TransitionFailed      Transition = "failed"
)

// Machine applies lifecycle transitions to failed payments. It never touches
// storage; callers persist the mutated record.
type Machine struct {
	scheduler *retry.Scheduler
}

func NewMachine(scheduler *retry.Scheduler) *Machine {
	return &Machine{scheduler: scheduler}
}

// Open builds the record for a newly failed invoice and seeds its first retry.
func (m *Machine) Open(inv *models.FailedInvoice, accountID string, now time.Time) *models.FailedPayment {
	now = now.UTC()
	code := strings.ToLower(strings.TrimSpace(inv.FailureCode))
	policy := m.scheduler.Classifier().Classify(code)

	p := &models.FailedPayment{
		ID:               models.NewID("fp"),
		InvoiceID:        inv.InvoiceID,
		CustomerID:       inv.CustomerID,
		CustomerEmail:    inv.CustomerEmail,
		SubscriptionID:   inv.SubscriptionID,
		AccountID:        accountID,
		Amount:           inv.Amount,
		Currency:         strings.ToLower(inv.Currency),
		FailureCode:      code,
		FailureReason:    inv.FailureMessage,
		HostedInvoiceURL: inv.HostedInvoiceURL,
		MaxRetries:       policy.MaxRetries,
		RetryHistory:     []models.RetryAttempt{},
		EmailsSent:       []models.EmailRecord{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if !policy.SkipRetries {
		if next := m.scheduler.NextRetryTime(p, now); next != nil {
			p.Status = models.StatusPending
			p.NextRetryAt = next
			return p
		}
	}

	// Nothing will be retried: the customer has to act.
	if code == "expired_card" {
		p.Status = models.StatusExpiredCard
	} else {
		p.Status = models.StatusDunning
	}
	return p
}

// Apply records one retry attempt and moves the payment to its next state.
func (m *Machine) Apply(p *models.FailedPayment, res gateway.Result, manual bool, now time.Time) Transition {
	now = now.UTC()
	p.RetryCount++
	p.RetryHistory = append(p.RetryHistory, models.RetryAttempt{
		AttemptNumber: p.RetryCount,
		Timestamp:     now,
		Success:       res.Succeeded(),
		Manual:        manual,
		Error:         res.Error(),
	})
	p.UpdatedAt = now

	if res.Succeeded() {
		p.Status = models.StatusRecovered
		p.RecoveredAt = &now
		p.NextRetryAt = nil
		return TransitionRecovered
	}

	if next := m.scheduler.NextRetryTime(p, now); next != nil {
		p.Status = models.StatusRetrying
		p.NextRetryAt = next
		return TransitionRescheduled
	}

	p.Status = models.StatusFailed
	p.NextRetryAt = nil
	return TransitionFailed
}

// MarkRecovered applies an out-of-band payment success. It reports false when
// the payment was already recovered.
func (m *Machine) MarkRecovered(p *models.FailedPayment, now time.Time) bool {
	if p.Status == models.StatusRecovered {
		return false
	}
	now = now.UTC()
	p.Status = models.StatusRecovered
	p.RecoveredAt = &now
	p.NextRetryAt = nil
	p.UpdatedAt = now
	return true
}
