package models

import "time"

type PaymentStatus string

const (
	StatusPending     PaymentStatus = "pending"
	StatusRetrying    PaymentStatus = "retrying"
	StatusDunning     PaymentStatus = "dunning"
	StatusExpiredCard PaymentStatus = "expired_card"
	StatusRecovered   PaymentStatus = "recovered"
	StatusFailed      PaymentStatus = "failed"
)

// Retryable reports whether the queue may still attempt the payment.
func (s PaymentStatus) Retryable() bool {
	return s == StatusPending || s == StatusRetrying
}

// AwaitingCustomer reports whether only customer action can resolve the payment.
func (s PaymentStatus) AwaitingCustomer() bool {
	return s == StatusDunning || s == StatusExpiredCard
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRetrying, StatusDunning, StatusExpiredCard, StatusRecovered, StatusFailed:
		return true
	}
	return false
}

type NotificationType string

const (
	NotifyPaymentFailed      NotificationType = "payment_failed"
	NotifyCardUpdateReminder NotificationType = "card_update_reminder"
	NotifyFinalWarning       NotificationType = "final_warning"
	NotifyPaymentRecovered   NotificationType = "payment_recovered"
)

// FailedPayment tracks the recovery of one failed invoice.
type FailedPayment struct {
	ID               string         `json:"id"`
	InvoiceID        string         `json:"invoice_id"`
	CustomerID       string         `json:"customer_id"`
	CustomerEmail    string         `json:"customer_email,omitempty"`
	SubscriptionID   string         `json:"subscription_id,omitempty"`
	AccountID        string         `json:"account_id"`
	Amount           int64          `json:"amount"`
	Currency         string         `json:"currency"`
	FailureCode      string         `json:"failure_code"`
	FailureReason    string         `json:"failure_reason"`
	HostedInvoiceURL string         `json:"hosted_invoice_url,omitempty"`
	Status           PaymentStatus  `json:"status"`
	RetryCount       int            `json:"retry_count"`
	MaxRetries       int            `json:"max_retries"`
	NextRetryAt      *time.Time     `json:"next_retry_at,omitempty"`
	RetryHistory     []RetryAttempt `json:"retry_history"`
	EmailsSent       []EmailRecord  `json:"emails_sent"`
	Version          int64          `json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	RecoveredAt      *time.Time     `json:"recovered_at,omitempty"`
}

type RetryAttempt struct {
	AttemptNumber int       `json:"attempt_number"`
	Timestamp     time.Time `json:"timestamp"`
	Success       bool      `json:"success"`
	Manual        bool      `json:"manual,omitempty"`
	Error         string    `json:"error,omitempty"`
}

type EmailRecord struct {
	Type       NotificationType `json:"type"`
	RetryCount int              `json:"retry_count"`
	SentAt     time.Time        `json:"sent_at"`
}

// HasEmail reports whether an email of the given type was already sent at retryCount.
// A negative retryCount matches any count.
func (p *FailedPayment) HasEmail(t NotificationType, retryCount int) bool {
	for _, e := range p.EmailsSent {
		if e.Type == t && (retryCount < 0 || e.RetryCount == retryCount) {
			return true
		}
	}
	return false
}

// FailedInvoice is the gateway-neutral view of an "invoice payment failed" event.
type FailedInvoice struct {
	InvoiceID        string
	CustomerID       string
	CustomerEmail    string
	SubscriptionID   string
	Amount           int64
	Currency         string
	FailureCode      string
	FailureMessage   string
	ChargeID         string
	HostedInvoiceURL string
}
