package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/shohag/reclaim/internal/config"
	"github.com/shohag/reclaim/internal/models"
	"github.com/shohag/reclaim/internal/storage"
)

// Result summarizes one pass over the due queue.
type Result struct {
	Processed   int   `json:"processed"`
	Recovered   int   `json:"recovered"`
	Failed      int   `json:"failed"`
	Rescheduled int   `json:"rescheduled"`
	Errors      int   `json:"errors"`
	Skipped     int   `json:"skipped"`
	DurationMs  int64 `json:"duration_ms"`
}

// Processor retries every payment that is due, isolating failures per record.
type Processor struct {
	store        Store
	worker       *Worker
	batchSize    int
	workers      int
	batchTimeout time.Duration
	log          zerolog.Logger
}

func NewProcessor(cfg config.RecoveryConfig, store Store, worker *Worker, log zerolog.Logger) *Processor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		store:        store,
		worker:       worker,
		batchSize:    cfg.BatchSize,
		workers:      workers,
		batchTimeout: cfg.BatchTimeout,
		log:          log,
	}
}

// ProcessDue runs one bounded batch. It only returns an error when the due
// list itself cannot be read.
func (pr *Processor) ProcessDue(ctx context.Context) (*Result, error) {
	start := time.Now()
	if pr.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pr.batchTimeout)
		defer cancel()
	}

	due, err := pr.store.ListDuePayments(ctx, pr.worker.now().UTC(), pr.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list due payments: %w", err)
	}

	accounts := newAccountCache(pr.store)
	result := &Result{}
	var mu sync.Mutex

	p := pool.New().WithMaxGoroutines(pr.workers)
	for i := range due {
		payment := due[i]
		p.Go(func() {
			var catcher panics.Catcher
			var transition Transition
			var err error
			catcher.Try(func() {
				transition, err = pr.process(ctx, &payment, accounts)
			})
			if r := catcher.Recovered(); r != nil {
				err = r.AsError()
			}

			mu.Lock()
			defer mu.Unlock()
			pr.record(result, &payment, transition, err)
		})
	}
	p.Wait()

	result.DurationMs = time.Since(start).Milliseconds()
	pr.log.Info().
		Int("due", len(due)).
		Int("processed", result.Processed).
		Int("recovered", result.Recovered).
		Int("failed", result.Failed).
		Int("rescheduled", result.Rescheduled).
		Int("errors", result.Errors).
		Int("skipped", result.Skipped).
		Int64("duration_ms", result.DurationMs).
		Msg("recovery batch completed")
	return result, nil
}

// errSkip marks a record that is no longer due by the time it is reached.
var errSkip = errors.New("payment no longer due")

func (pr *Processor) process(ctx context.Context, p *models.FailedPayment, accounts *accountCache) (Transition, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", errSkip, err)
	}

	// Re-read so records transitioned since the due query are left alone.
	fresh, err := pr.store.GetPayment(ctx, p.ID)
	if err != nil {
		return "", fmt.Errorf("reload payment: %w", err)
	}
	now := pr.worker.now()
	if fresh == nil || !fresh.Status.Retryable() || fresh.NextRetryAt == nil || fresh.NextRetryAt.After(now) {
		return "", errSkip
	}
	*p = *fresh

	acct, err := accounts.get(ctx, p.AccountID)
	if err != nil {
		return "", err
	}
	if !acct.Connected {
		return "", errSkip
	}

	return pr.worker.Attempt(ctx, p, acct, false)
}

func (pr *Processor) record(res *Result, p *models.FailedPayment, transition Transition, err error) {
	switch {
	case errors.Is(err, errSkip), errors.Is(err, storage.ErrConflict):
		res.Skipped++
		pr.log.Debug().Str("payment_id", p.ID).Str("reason", err.Error()).Msg("payment skipped")
		return
	case err != nil:
		res.Errors++
		pr.log.Error().Err(err).Str("payment_id", p.ID).Str("invoice_id", p.InvoiceID).Msg("payment retry errored")
		return
	}

	res.Processed++
	switch transition {
	case TransitionRecovered:
		res.Recovered++
	case TransitionRescheduled:
		res.Rescheduled++
	case TransitionFailed:
		res.Failed++
	}
}

// accountCache loads each account at most once per batch.
type accountCache struct {
	store Store
	mu    sync.Mutex
	byID  map[string]*models.Account
}

func newAccountCache(store Store) *accountCache {
	return &accountCache{store: store, byID: make(map[string]*models.Account)}
}

func (c *accountCache) get(ctx context.Context, id string) (*models.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if acct, ok := c.byID[id]; ok {
		return acct, nil
	}
	acct, err := c.store.GetAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", id, err)
	}
	if acct == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	c.byID[id] = acct
	return acct, nil
}
