// Package scheduler decides how the wavelengths of a calculation are spread
// over workers: sequentially, over a worker pool sized from CPU count and a
// memory budget, or in one loop with threaded FFTs.
package scheduler

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/pbnjay/memory"

	"github.com/kacperjurak/gopsf"
	"github.com/kacperjurak/gopsf/pkg/config"
)

type Mode int

const (
	Sequential Mode = iota
	WorkerPool
	ThreadedFFT
)

func (m Mode) String() string {
	switch m {
	case Sequential:
		return "sequential"
	case WorkerPool:
		return "worker-pool"
	case ThreadedFFT:
		return "threaded-fft"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Input describes the calculation being scheduled.
type Input struct {
	Wavelengths      int
	BytesPerInstance uint64
	// AvailableMemory of 0 means unknown.
	AvailableMemory uint64
	CPUs            int
}

// ProcessPlan is the schedule of one calculation.
type ProcessPlan struct {
	Mode    Mode
	Workers int
	// Assignments[w] lists the wavelength indices handled by worker w.
	Assignments    [][]int
	BytesPerWorker uint64
	Budget         uint64
	FFTThreads     int
	DisplayEnabled bool
	Notices        []gopsf.Notice
}

// Plan computes a ProcessPlan. Worker parallelism combined with threaded FFTs
// is a configuration error. Memory problems never fail; they degrade the plan
// and add a notice.
func Plan(in Input, cfg config.ParallelConfig) (*ProcessPlan, error) {
	if cfg.UseMultiprocessing && cfg.UseFFTThreads {
		return nil, &gopsf.ConfigurationError{
			Element: "scheduler",
			Err:     fmt.Errorf("%w: refusing to run both", gopsf.ErrParallelConflict),
		}
	}
	if in.Wavelengths < 1 {
		return nil, &gopsf.ConfigurationError{
			Element: "scheduler",
			Err:     fmt.Errorf("%w: nothing to schedule", gopsf.ErrInvalidSpectrum),
		}
	}
	sf := cfg.SafetyFactor
	if sf <= 0 || sf > 1 {
		sf = config.DefaultParallelConfig().SafetyFactor
	}
	cpus := in.CPUs
	if cpus < 1 {
		cpus = 1
	}

	plan := &ProcessPlan{
		Mode:           Sequential,
		Workers:        1,
		BytesPerWorker: in.BytesPerInstance,
		Budget:         uint64(float64(in.AvailableMemory) * sf),
		DisplayEnabled: cfg.Display,
	}

	switch {
	case cfg.UseFFTThreads:
		plan.Mode = ThreadedFFT
		plan.FFTThreads = cfg.FFTThreads
		if plan.FFTThreads <= 0 {
			plan.FFTThreads = cpus
		}
	case cfg.UseMultiprocessing:
		plan.Mode = WorkerPool
		plan.Workers = workerCount(in, cfg.Workers, cpus, plan)
		if cfg.Display {
			plan.DisplayEnabled = false
			plan.Notices = append(plan.Notices, gopsf.Notice{
				Kind:    gopsf.NoticeDisplayDisabled,
				Message: "intermediate-plane display is unavailable while wavelengths run on a worker pool",
			})
		}
	}

	plan.Assignments = make([][]int, plan.Workers)
	for i := 0; i < in.Wavelengths; i++ {
		w := i % plan.Workers
		plan.Assignments[w] = append(plan.Assignments[w], i)
	}
	return plan, nil
}

func workerCount(in Input, requested, cpus int, plan *ProcessPlan) int {
	if in.AvailableMemory == 0 || in.BytesPerInstance == 0 {
		plan.Notices = append(plan.Notices, gopsf.Notice{
			Kind:    gopsf.NoticeDegradedMemory,
			Message: "memory estimate unavailable, running a single worker",
			Err:     &gopsf.ResourceError{Required: in.BytesPerInstance, Reason: "cannot determine memory budget"},
		})
		return 1
	}

	fit := int(plan.Budget / in.BytesPerInstance)
	n := requested
	if n <= 0 {
		n = cpus
	}
	if n > fit {
		if fit < 1 {
			fit = 1
		}
		plan.Notices = append(plan.Notices, gopsf.Notice{
			Kind:    gopsf.NoticeWorkersClamped,
			Message: fmt.Sprintf("%d workers need %s, clamped to %d", n, humanize.IBytes(uint64(n)*in.BytesPerInstance), fit),
			Err: &gopsf.ResourceError{
				Required:  uint64(n) * in.BytesPerInstance,
				Available: plan.Budget,
				Reason:    "worker memory exceeds budget",
			},
		})
		n = fit
	}
	if n > in.Wavelengths {
		n = in.Wavelengths
	}
	if n < 1 {
		n = 1
	}
	return n
}

const complexBytes = 16

// EstimateInstanceBytes sizes the arrays one propagation of sys holds at its
// peak: the pupil field, the largest image plane, the detector field, the
// matrix DFT kernels and the product temporaries.
func EstimateInstanceBytes(sys *gopsf.OpticalSystem) uint64 {
	n := uint64(sys.NPix)
	q := uint64(sys.Oversample)
	if q < 1 {
		q = 1
	}
	var image, det uint64
	for _, e := range sys.Elements {
		switch el := e.(type) {
		case *gopsf.Occulter:
			image = n * q
		case *gopsf.Detector:
			os := uint64(el.Oversample)
			if os < 1 {
				os = 1
			}
			det = uint64(el.FOVPixels) * os
		}
	}
	cells := n*n + image*image + det*det + // fields
		2*image*n + 2*det*n + // kernels
		n*image + n*det // Gemm temporaries
	// the observer copy and intensity output can double the live set
	return 2 * complexBytes * cells
}

// AvailableMemory returns limit when set, otherwise the free system memory.
// It returns 0 when neither is known.
func AvailableMemory(limit uint64) uint64 {
	if limit > 0 {
		return limit
	}
	return memory.FreeMemory()
}

// PlanFor schedules sys over nWavelengths with the machine's CPUs and memory.
func PlanFor(sys *gopsf.OpticalSystem, nWavelengths int, cfg config.ParallelConfig) (*ProcessPlan, error) {
	return Plan(Input{
		Wavelengths:      nWavelengths,
		BytesPerInstance: EstimateInstanceBytes(sys),
		AvailableMemory:  AvailableMemory(cfg.MemoryLimitBytes),
		CPUs:             runtime.NumCPU(),
	}, cfg)
}

// Log reports the plan and every notice.
func (p *ProcessPlan) Log(logger *slog.Logger) {
	logger.Info("🔧 process plan",
		"mode", p.Mode.String(),
		"workers", p.Workers,
		"per_worker", humanize.IBytes(p.BytesPerWorker),
		"budget", humanize.IBytes(p.Budget),
		"fft_threads", p.FFTThreads)
	for _, n := range p.Notices {
		logger.Warn("⚠️ scheduler notice", "kind", n.Kind, "message", n.Message)
	}
}
