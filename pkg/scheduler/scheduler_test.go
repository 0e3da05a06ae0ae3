package scheduler

import (
	"errors"
	"testing"

	"github.com/kacperjurak/gopsf"
	"github.com/kacperjurak/gopsf/pkg/config"
)

const gib = 1 << 30

func multiprocessing(workers int) config.ParallelConfig {
	cfg := config.DefaultParallelConfig()
	cfg.UseMultiprocessing = true
	cfg.Workers = workers
	return cfg
}

func hasNotice(p *ProcessPlan, kind gopsf.NoticeKind) bool {
	for _, n := range p.Notices {
		if n.Kind == kind {
			return true
		}
	}
	return false
}

func TestPlanRespectsMemoryBudget(t *testing.T) {
	tests := []struct {
		name string
		cpus int
		want int
	}{
		{"memory bound", 64, 12},
		{"cpu bound", 8, 8},
		{"single cpu", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Plan(Input{Wavelengths: 40, BytesPerInstance: gib, AvailableMemory: 16 * gib, CPUs: tt.cpus}, multiprocessing(0))
			if err != nil {
				t.Fatalf("Plan failed: %v", err)
			}
			if plan.Workers != tt.want {
				t.Errorf("workers = %d, want %d", plan.Workers, tt.want)
			}
			budget := 0.8 * float64(16*gib)
			if float64(plan.Workers)*gib > budget {
				t.Errorf("%d workers exceed the memory budget", plan.Workers)
			}
		})
	}
}

func TestPlanNeverExceedsBudget(t *testing.T) {
	for mem := uint64(1); mem <= 32; mem++ {
		for _, requested := range []int{0, 1, 4, 100} {
			plan, err := Plan(Input{Wavelengths: 50, BytesPerInstance: gib, AvailableMemory: mem * gib, CPUs: 32}, multiprocessing(requested))
			if err != nil {
				t.Fatalf("Plan failed: %v", err)
			}
			budget := uint64(0.8 * float64(mem*gib))
			if plan.Workers > 1 && uint64(plan.Workers)*gib > budget {
				t.Errorf("mem=%d GiB requested=%d: %d workers over budget", mem, requested, plan.Workers)
			}
		}
	}
}

func TestPlanClampsExplicitCount(t *testing.T) {
	plan, err := Plan(Input{Wavelengths: 20, BytesPerInstance: gib, AvailableMemory: 4 * gib, CPUs: 16}, multiprocessing(10))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Workers != 3 {
		t.Errorf("workers = %d, want 3", plan.Workers)
	}
	if !hasNotice(plan, gopsf.NoticeWorkersClamped) {
		t.Errorf("notices = %v, want workers_clamped", plan.Notices)
	}
	var resErr *gopsf.ResourceError
	if !errors.As(plan.Notices[0].Err, &resErr) || resErr.Required != 10*gib {
		t.Errorf("notice error = %v, want ResourceError for 10 GiB", plan.Notices[0].Err)
	}
}

func TestPlanHonoursExplicitCount(t *testing.T) {
	plan, err := Plan(Input{Wavelengths: 20, BytesPerInstance: gib, AvailableMemory: 64 * gib, CPUs: 4}, multiprocessing(6))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Workers != 6 || len(plan.Notices) != 0 {
		t.Errorf("workers = %d, notices = %v; want 6 and none", plan.Workers, plan.Notices)
	}
}

func TestPlanConflict(t *testing.T) {
	cfg := multiprocessing(0)
	cfg.UseFFTThreads = true
	_, err := Plan(Input{Wavelengths: 3, BytesPerInstance: gib, AvailableMemory: 16 * gib, CPUs: 4}, cfg)
	var cfgErr *gopsf.ConfigurationError
	if !errors.As(err, &cfgErr) || !errors.Is(err, gopsf.ErrParallelConflict) {
		t.Fatalf("err = %v, want ConfigurationError wrapping ErrParallelConflict", err)
	}
}

func TestPlanUnknownMemoryDegrades(t *testing.T) {
	plan, err := Plan(Input{Wavelengths: 9, BytesPerInstance: gib, CPUs: 8}, multiprocessing(0))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Workers != 1 {
		t.Errorf("workers = %d, want 1", plan.Workers)
	}
	if !hasNotice(plan, gopsf.NoticeDegradedMemory) {
		t.Errorf("notices = %v, want degraded_memory", plan.Notices)
	}
}

func TestPlanDisablesDisplay(t *testing.T) {
	cfg := multiprocessing(2)
	cfg.Display = true
	plan, err := Plan(Input{Wavelengths: 4, BytesPerInstance: gib, AvailableMemory: 16 * gib, CPUs: 4}, cfg)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.DisplayEnabled || !hasNotice(plan, gopsf.NoticeDisplayDisabled) {
		t.Errorf("display = %v, notices = %v; want disabled with a notice", plan.DisplayEnabled, plan.Notices)
	}

	seq := config.DefaultParallelConfig()
	seq.Display = true
	plan, err = Plan(Input{Wavelengths: 4, BytesPerInstance: gib, AvailableMemory: 16 * gib, CPUs: 4}, seq)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if !plan.DisplayEnabled || len(plan.Notices) != 0 {
		t.Errorf("sequential display = %v, notices = %v", plan.DisplayEnabled, plan.Notices)
	}
}

func TestPlanAssignments(t *testing.T) {
	plan, err := Plan(Input{Wavelengths: 7, BytesPerInstance: gib, AvailableMemory: 16 * gib, CPUs: 3}, multiprocessing(0))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	seen := make(map[int]int)
	for w, idx := range plan.Assignments {
		for _, i := range idx {
			seen[i]++
			if i%plan.Workers != w {
				t.Errorf("wavelength %d assigned to worker %d", i, w)
			}
		}
	}
	if len(seen) != 7 {
		t.Errorf("assigned %d distinct wavelengths, want 7", len(seen))
	}
	for i, n := range seen {
		if n != 1 {
			t.Errorf("wavelength %d assigned %d times", i, n)
		}
	}
}

func TestPlanNeverMoreWorkersThanWavelengths(t *testing.T) {
	plan, err := Plan(Input{Wavelengths: 2, BytesPerInstance: gib, AvailableMemory: 64 * gib, CPUs: 16}, multiprocessing(0))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Workers != 2 {
		t.Errorf("workers = %d, want 2", plan.Workers)
	}
}

func TestPlanThreadedFFT(t *testing.T) {
	cfg := config.DefaultParallelConfig()
	cfg.UseFFTThreads = true
	plan, err := Plan(Input{Wavelengths: 5, CPUs: 6}, cfg)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Mode != ThreadedFFT || plan.Workers != 1 || plan.FFTThreads != 6 {
		t.Errorf("plan = %+v", plan)
	}
}

func TestEstimateInstanceBytes(t *testing.T) {
	pupil := &gopsf.Pupil{Label: "p", Diameter: 6.5}
	det := &gopsf.Detector{Label: "d", PixelScale: 0.03, FOVPixels: 64, Oversample: 4}
	direct := &gopsf.OpticalSystem{Elements: []gopsf.OpticalElement{pupil, det}, NPix: 256, Oversample: 2}
	coron := &gopsf.OpticalSystem{
		Elements:   []gopsf.OpticalElement{pupil, &gopsf.Occulter{Label: "o", Radius: 0.5}, pupil, det},
		NPix:       256,
		Oversample: 2,
	}
	a, b := EstimateInstanceBytes(direct), EstimateInstanceBytes(coron)
	if a == 0 || b <= a {
		t.Errorf("estimates direct=%d coronagraphic=%d, want 0 < direct < coronagraphic", a, b)
	}
	// the 512² image plane alone is 4 MiB of complex128
	if b < 512*512*16 {
		t.Errorf("coronagraphic estimate %d smaller than its image plane", b)
	}
}

func TestAvailableMemoryOverride(t *testing.T) {
	if got := AvailableMemory(123); got != 123 {
		t.Errorf("AvailableMemory(123) = %d", got)
	}
}
