package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/reclaim/internal/models"
	"github.com/shohag/reclaim/internal/retry"
)

const (
	// saveTimeout bounds the write that records an attempt once the gateway
	// has answered.
	saveTimeout = 5 * time.Second
	// defaultNotifyTimeout applies when no attempt timeout is configured.
	defaultNotifyTimeout = 10 * time.Second
)

// Worker performs single retry attempts and dispatches the notifications that
// follow a state change.
type Worker struct {
	store          Store
	gateway        Gateway
	notifier       Notifier
	machine        *Machine
	policy         Policy
	attemptTimeout time.Duration
	log            zerolog.Logger
	now            func() time.Time
}

func NewWorker(store Store, gw Gateway, notifier Notifier, scheduler *retry.Scheduler, policy Policy, attemptTimeout time.Duration, log zerolog.Logger) *Worker {
	return &Worker{
		store:          store,
		gateway:        gw,
		notifier:       notifier,
		machine:        NewMachine(scheduler),
		policy:         policy,
		attemptTimeout: attemptTimeout,
		log:            log,
		now:            time.Now,
	}
}

// Attempt retries p against the gateway and persists the outcome. The write is
// version-guarded: storage.ErrConflict means the record changed during the
// attempt and the outcome was discarded. Once the gateway has been called the
// outcome is saved even if ctx has expired, so every attempt is counted.
func (w *Worker) Attempt(ctx context.Context, p *models.FailedPayment, acct *models.Account, manual bool) (Transition, error) {
	actx := ctx
	if w.attemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, w.attemptTimeout)
		defer cancel()
	}

	res := w.gateway.RetryInvoice(actx, p.InvoiceID, acct)
	transition := w.machine.Apply(p, res, manual, w.now())

	detached := context.WithoutCancel(ctx)
	sctx, cancel := context.WithTimeout(detached, saveTimeout)
	err := w.store.UpdatePayment(sctx, p)
	cancel()
	if err != nil {
		return "", fmt.Errorf("save attempt %d for %s: %w", p.RetryCount, p.ID, err)
	}

	evt := w.log.Info()
	if transition == TransitionFailed {
		evt = w.log.Warn()
	}
	evt = evt.
		Str("payment_id", p.ID).
		Str("invoice_id", p.InvoiceID).
		Str("status", string(p.Status)).
		Int("retry_count", p.RetryCount).
		Bool("manual", manual)
	if p.NextRetryAt != nil {
		evt = evt.Time("next_retry_at", *p.NextRetryAt)
	}
	if !res.Succeeded() {
		evt = evt.Str("error", res.Error())
	}
	evt.Msg("retry attempt " + string(transition))

	w.Notify(detached, p)
	return transition, nil
}

// Notify sends the notification the policy says p is owed. Send failures are
// logged and never affect the payment's state.
func (w *Worker) Notify(ctx context.Context, p *models.FailedPayment) {
	t, ok := w.policy.Decide(p)
	if !ok {
		return
	}

	timeout := w.attemptTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := w.log.With().Str("payment_id", p.ID).Str("type", string(t)).Logger()
	if err := w.notifier.Send(ctx, t, p); err != nil {
		log.Warn().Err(err).Msg("failed to send notification")
		return
	}

	rec := models.EmailRecord{Type: t, RetryCount: p.RetryCount, SentAt: w.now().UTC()}
	if err := w.store.AppendEmail(ctx, p.ID, rec); err != nil {
		log.Error().Err(err).Msg("notification sent but not recorded")
	}
	p.EmailsSent = append(p.EmailsSent, rec)
}
