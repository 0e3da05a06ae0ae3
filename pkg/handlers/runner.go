package handlers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kacperjurak/gopsf/pkg/config"
	"github.com/kacperjurak/gopsf/pkg/models"
	"github.com/kacperjurak/gopsf/pkg/webhook"
)

// ProcessorFunc runs one calculation. On failure the response carries the
// error text and status "failed".
type ProcessorFunc func(ctx context.Context, id string, cfg *config.Config) (models.CalculationResponse, error)

// Runner limits how many calculations run at once and delivers the results
// of background calculations to the webhook.
type Runner struct {
	process ProcessorFunc
	webhook *webhook.Client
	logger  *slog.Logger
	slots   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner allows up to concurrency simultaneous calculations. hook may be
// nil.
func NewRunner(concurrency int, process ProcessorFunc, hook *webhook.Client, logger *slog.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		process: process,
		webhook: hook,
		logger:  logger,
		slots:   make(chan struct{}, concurrency),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Run waits for a free slot and runs the calculation on the caller's
// goroutine.
func (r *Runner) Run(ctx context.Context, id string, cfg *config.Config) (models.CalculationResponse, error) {
	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return models.CalculationResponse{ID: id, Status: "failed", Error: ctx.Err().Error()}, ctx.Err()
	}
	defer func() { <-r.slots }()
	return r.process(ctx, id, cfg)
}

// Submit runs the calculation in the background, posts the result to the
// webhook and then calls done, which may be nil.
func (r *Runner) Submit(id string, cfg *config.Config, done func(models.CalculationResponse, error)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		resp, err := r.Run(r.ctx, id, cfg)
		if r.webhook.Enabled() {
			if werr := r.webhook.Send(r.ctx, resp); werr != nil {
				r.logger.Warn("⚠️ webhook delivery failed", "calc_id", id, "error", werr)
			}
		}
		if done != nil {
			done(resp, err)
		}
	}()
}

// Shutdown cancels background calculations and waits for them to return or
// for ctx to end.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()
	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted calculation has finished.
func (r *Runner) Wait() { r.wg.Wait() }
