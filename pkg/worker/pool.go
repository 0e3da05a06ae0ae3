package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/kacperjurak/gopsf"
	"github.com/kacperjurak/gopsf/internal/metrics"
	"github.com/kacperjurak/gopsf/pkg/models"
	"github.com/kacperjurak/gopsf/pkg/profiling"
	"github.com/kacperjurak/gopsf/pkg/scheduler"
)

// Pool evaluates the wavelengths of one calculation on a fixed set of
// goroutines. Each worker owns a disjoint list of wavelength indices, receives
// them as messages and sends results back on a shared channel; the caller
// joins after every worker has finished.
type Pool struct {
	workers     int
	assignments [][]int
	logger      *slog.Logger
	profile     bool
}

// Options holds configuration for creating a new worker pool
type Options struct {
	Workers int
	// Assignments fixes which indices each worker handles. When nil, indices
	// are dealt round-robin.
	Assignments     [][]int
	Logger          *slog.Logger
	EnableProfiling bool
}

// New creates a new worker pool with specified configuration
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pool{
		workers:     opts.Workers,
		assignments: opts.Assignments,
		logger:      opts.Logger,
		profile:     opts.EnableProfiling,
	}
}

// FromPlan builds a pool that follows a scheduler plan.
func FromPlan(plan *scheduler.ProcessPlan, logger *slog.Logger, profile bool) *Pool {
	return New(Options{
		Workers:         plan.Workers,
		Assignments:     plan.Assignments,
		Logger:          logger,
		EnableProfiling: profile,
	})
}

func (p *Pool) Workers() int { return p.workers }

// assign returns the per-worker index lists for n tasks.
func (p *Pool) assign(n int) ([][]int, error) {
	if p.assignments != nil {
		seen := make([]bool, n)
		count := 0
		for _, idx := range p.assignments {
			for _, i := range idx {
				if i < 0 || i >= n {
					return nil, fmt.Errorf("assignment index %d out of range [0, %d)", i, n)
				}
				if seen[i] {
					return nil, fmt.Errorf("assignment index %d given to more than one slot", i)
				}
				seen[i] = true
				count++
			}
		}
		if count != n {
			return nil, fmt.Errorf("assignments cover %d tasks, want %d", count, n)
		}
		return p.assignments, nil
	}
	workers := p.workers
	if workers > n {
		workers = n
	}
	out := make([][]int, workers)
	for i := 0; i < n; i++ {
		out[i%workers] = append(out[i%workers], i)
	}
	return out, nil
}

// Map implements gopsf.Executor. The first failing task cancels the rest and
// Map returns a *gopsf.WorkerFailure; no partial results are returned.
func (p *Pool) Map(ctx context.Context, n int, fn gopsf.TaskFunc) ([]*mat.Dense, error) {
	if n == 0 {
		return nil, nil
	}
	assignments, err := p.assign(n)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan models.WavelengthResult, n)
	var wg sync.WaitGroup
	for id, idx := range assignments {
		jobs := make(chan models.WavelengthTask, len(idx))
		for _, i := range idx {
			jobs <- models.WavelengthTask{Index: i}
		}
		close(jobs)

		wg.Add(1)
		go p.worker(ctx, id, jobs, results, fn, &wg)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	p.logger.Debug("🔧 worker pool started", "workers", len(assignments), "tasks", n)

	out := make([]*mat.Dense, n)
	var failure *gopsf.WorkerFailure
	for r := range results {
		if r.Err != nil {
			if failure == nil && !errors.Is(r.Err, context.Canceled) {
				failure = &gopsf.WorkerFailure{
					Worker:     r.Worker,
					Index:      r.Index,
					Wavelength: gopsf.WavelengthOf(r.Err),
					Err:        r.Err,
				}
				p.logger.Error("❌ worker failed, cancelling calculation",
					"worker", r.Worker, "index", r.Index, "error", r.Err)
				cancel()
			}
			continue
		}
		out[r.Index] = r.PSF
	}

	if failure != nil {
		return nil, failure
	}
	for i, psf := range out {
		if psf == nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, &gopsf.WorkerFailure{Index: i, Err: errors.New("task produced no result")}
		}
	}
	return out, nil
}

// worker processes wavelength tasks from its own channel
func (p *Pool) worker(ctx context.Context, id int, jobs <-chan models.WavelengthTask, results chan<- models.WavelengthResult, fn gopsf.TaskFunc, wg *sync.WaitGroup) {
	defer wg.Done()

	for job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var prof *profiling.WorkerProfiler
		if p.profile {
			prof = profiling.NewWorkerProfiler(id, fmt.Sprintf("wavelength #%d", job.Index), p.logger)
		}
		start := time.Now()
		psf, err := fn(ctx, job.Index)
		elapsed := time.Since(start)
		if prof != nil {
			prof.Finish()
		}
		if err == nil {
			metrics.ObserveWavelength(elapsed)
		}

		// results is buffered for every task, so this never blocks
		results <- models.WavelengthResult{
			Worker:         id,
			Index:          job.Index,
			PSF:            psf,
			Err:            err,
			ProcessingTime: elapsed,
		}
	}
}
