package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Runner triggers the processor on a fixed interval inside the server process.
type Runner struct {
	processor *Processor
	interval  time.Duration
	log       zerolog.Logger
	stop      chan struct{}
	wg        sync.WaitGroup
}

func NewRunner(processor *Processor, interval time.Duration, log zerolog.Logger) *Runner {
	return &Runner{
		processor: processor,
		interval:  interval,
		log:       log,
		stop:      make(chan struct{}),
	}
}

func (r *Runner) Start(ctx context.Context) {
	r.log.Info().Dur("interval", r.interval).Msg("starting recovery runner")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(ctx)
	}()
}

// Stop waits for an in-flight batch to finish.
func (r *Runner) Stop() {
	r.log.Info().Msg("stopping recovery runner")
	close(r.stop)
	r.wg.Wait()
	r.log.Info().Msg("recovery runner stopped")
}

func (r *Runner) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.processor.ProcessDue(ctx); err != nil {
				r.log.Error().Err(err).Msg("recovery batch failed")
			}
		}
	}
}
