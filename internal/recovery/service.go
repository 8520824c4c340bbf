package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shohag/reclaim/internal/models"
	"github.com/shohag/reclaim/internal/storage"
)

const maxConflictRetries = 3

// Service applies gateway events and administrator commands to payments.
type Service struct {
	store  Store
	worker *Worker
	lookup FailureLookup
	log    zerolog.Logger
}

func NewService(store Store, worker *Worker, log zerolog.Logger) *Service {
	s := &Service{store: store, worker: worker, log: log}
	if l, ok := worker.gateway.(FailureLookup); ok {
		s.lookup = l
	}
	return s
}

// ownedBy returns p unless it belongs to an account other than acct.
func ownedBy(p *models.FailedPayment, acct *models.Account) (*models.FailedPayment, error) {
	if p != nil && p.AccountID != acct.ID {
		return nil, fmt.Errorf("%w: %s", ErrForeignInvoice, p.InvoiceID)
	}
	return p, nil
}

// HandleFailed opens a record for a failed invoice. Replays of an already
// tracked invoice return the existing record with created=false. An invoice
// tracked under a different account yields ErrForeignInvoice.
func (s *Service) HandleFailed(ctx context.Context, acct *models.Account, inv *models.FailedInvoice) (p *models.FailedPayment, created bool, err error) {
	existing, err := s.store.GetPaymentByInvoice(ctx, inv.InvoiceID)
	if err != nil {
		return nil, false, fmt.Errorf("lookup invoice %s: %w", inv.InvoiceID, err)
	}
	if existing != nil {
		existing, err = ownedBy(existing, acct)
		return existing, false, err
	}

	if inv.FailureCode == "" && inv.ChargeID != "" && s.lookup != nil {
		code, msg, err := s.lookup.ChargeFailure(ctx, inv.ChargeID, acct)
		if err != nil {
			s.log.Warn().Err(err).Str("invoice_id", inv.InvoiceID).Msg("could not resolve failure code from charge")
		} else {
			inv.FailureCode = code
			if inv.FailureMessage == "" {
				inv.FailureMessage = msg
			}
		}
	}

	p = s.worker.machine.Open(inv, acct.ID, s.worker.now())
	if err := s.store.CreatePayment(ctx, p); err != nil {
		if errors.Is(err, storage.ErrDuplicateInvoice) {
			existing, lerr := s.store.GetPaymentByInvoice(ctx, inv.InvoiceID)
			if lerr != nil {
				return nil, false, fmt.Errorf("lookup invoice %s: %w", inv.InvoiceID, lerr)
			}
			existing, err = ownedBy(existing, acct)
			return existing, false, err
		}
		return nil, false, fmt.Errorf("create payment for %s: %w", inv.InvoiceID, err)
	}

	evt := s.log.Info().
		Str("payment_id", p.ID).
		Str("invoice_id", p.InvoiceID).
		Str("account_id", p.AccountID).
		Str("failure_code", p.FailureCode).
		Str("status", string(p.Status)).
		Int("max_retries", p.MaxRetries)
	if p.NextRetryAt != nil {
		evt = evt.Time("next_retry_at", *p.NextRetryAt)
	}
	evt.Msg("failed payment tracked")

	s.worker.Notify(ctx, p)
	return p, true, nil
}

// HandleSucceeded marks the invoice's payment recovered. Unknown invoices and
// already recovered payments are no-ops and return changed=false. An invoice
// tracked under a different account yields ErrForeignInvoice.
func (s *Service) HandleSucceeded(ctx context.Context, acct *models.Account, invoiceID string) (p *models.FailedPayment, changed bool, err error) {
	for i := 0; i < maxConflictRetries; i++ {
		p, err = s.store.GetPaymentByInvoice(ctx, invoiceID)
		if err != nil {
			return nil, false, fmt.Errorf("lookup invoice %s: %w", invoiceID, err)
		}
		if p, err = ownedBy(p, acct); err != nil || p == nil {
			return nil, false, err
		}
		if !s.worker.machine.MarkRecovered(p, s.worker.now()) {
			return p, false, nil
		}

		err = s.store.UpdatePayment(ctx, p)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("mark %s recovered: %w", p.ID, err)
		}

		s.log.Info().
			Str("payment_id", p.ID).
			Str("invoice_id", invoiceID).
			Int("retry_count", p.RetryCount).
			Msg("payment recovered out of band")
		s.worker.Notify(ctx, p)
		return p, true, nil
	}
	return nil, false, fmt.Errorf("mark invoice %s recovered: %w", invoiceID, storage.ErrConflict)
}

// RetryNow runs a manual attempt. It is counted against the same budget as
// scheduled attempts.
func (s *Service) RetryNow(ctx context.Context, paymentID string) (*models.FailedPayment, Transition, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, "", fmt.Errorf("get payment %s: %w", paymentID, err)
	}
	if p == nil {
		return nil, "", ErrPaymentNotFound
	}
	if !p.Status.Retryable() {
		return p, "", ErrNotRetryable
	}
	if p.RetryCount >= p.MaxRetries {
		return p, "", ErrRetryBudgetExhausted
	}

	acct, err := s.store.GetAccount(ctx, p.AccountID)
	if err != nil {
		return nil, "", fmt.Errorf("get account %s: %w", p.AccountID, err)
	}
	if acct == nil {
		return nil, "", fmt.Errorf("%w: %s", ErrAccountNotFound, p.AccountID)
	}
	if !acct.Connected {
		return p, "", ErrAccountDisconnected
	}

	transition, err := s.worker.Attempt(ctx, p, acct, true)
	if err != nil {
		return nil, "", err
	}
	return p, transition, nil
}
