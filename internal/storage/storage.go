package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shohag/reclaim/internal/models"
)

var (
	// ErrDuplicateInvoice is returned when a payment for the invoice already exists.
	ErrDuplicateInvoice = errors.New("storage: invoice already tracked")
	// ErrConflict is returned when a payment changed since it was read.
	ErrConflict = errors.New("storage: payment was modified concurrently")
)

type Storage interface {
	// Accounts
	CreateAccount(ctx context.Context, acct *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetAccountByAPIKey(ctx context.Context, apiKey string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	SetAccountConnected(ctx context.Context, id string, connected bool) error
	UpdateAccountAPIKey(ctx context.Context, id, newKey string) error

	// Payments
	CreatePayment(ctx context.Context, p *models.FailedPayment) error
	GetPayment(ctx context.Context, id string) (*models.FailedPayment, error)
	GetPaymentByInvoice(ctx context.Context, invoiceID string) (*models.FailedPayment, error)
	ListPayments(ctx context.Context, accountID string, status models.PaymentStatus, limit, offset int) ([]models.FailedPayment, error)
	UpdatePayment(ctx context.Context, p *models.FailedPayment) error
	AppendEmail(ctx context.Context, paymentID string, rec models.EmailRecord) error
	ListDuePayments(ctx context.Context, now time.Time, limit int) ([]models.FailedPayment, error)

	// Stats
	GetStats(ctx context.Context, accountID string) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	TotalPayments   int64   `json:"total_payments"`
	PendingCount    int64   `json:"pending_count"`
	RetryingCount   int64   `json:"retrying_count"`
	DunningCount    int64   `json:"dunning_count"`
	RecoveredCount  int64   `json:"recovered_count"`
	FailedCount     int64   `json:"failed_count"`
	RecoveredAmount int64   `json:"recovered_amount"`
	TotalAttempts   int64   `json:"total_attempts"`
	RecoveryRate    float64 `json:"recovery_rate"`
}
