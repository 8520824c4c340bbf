// Package recovery owns the lifecycle of failed payments: opening records from
// gateway failures, applying retry outcomes, batch-processing the due queue and
// deciding which customer notification is owed.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shohag/reclaim/internal/gateway"
	"github.com/shohag/reclaim/internal/models"
)

var (
	ErrPaymentNotFound      = errors.New("recovery: payment not found")
	ErrAccountNotFound      = errors.New("recovery: account not found")
	ErrNotRetryable         = errors.New("recovery: payment is not awaiting retry")
	ErrRetryBudgetExhausted = errors.New("recovery: retry budget exhausted")
	ErrForeignInvoice       = errors.New("recovery: invoice is tracked for another account")
	ErrAccountDisconnected  = fmt.Errorf("%w: account is disconnected", ErrNotRetryable)
)

// Store is the persistence the recovery core needs. Lookups return nil, nil
// when the record does not exist.
type Store interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	CreatePayment(ctx context.Context, p *models.FailedPayment) error
	GetPayment(ctx context.Context, id string) (*models.FailedPayment, error)
	GetPaymentByInvoice(ctx context.Context, invoiceID string) (*models.FailedPayment, error)
	UpdatePayment(ctx context.Context, p *models.FailedPayment) error
	AppendEmail(ctx context.Context, paymentID string, rec models.EmailRecord) error
	ListDuePayments(ctx context.Context, now time.Time, limit int) ([]models.FailedPayment, error)
}

// Gateway retries an invoice. Every failure is reported through the Result.
type Gateway interface {
	RetryInvoice(ctx context.Context, invoiceID string, acct *models.Account) gateway.Result
}

// FailureLookup resolves a failure code from a charge when the event lacks one.
// Gateways may optionally implement it.
type FailureLookup interface {
	ChargeFailure(ctx context.Context, chargeID string, acct *models.Account) (code, message string, err error)
}

type Notifier interface {
	Send(ctx context.Context, t models.NotificationType, p *models.FailedPayment) error
}
