package profiling

import (
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"
)

// TaskMetrics is what a WorkerProfiler measured.
type TaskMetrics struct {
	Worker      int
	Operation   string
	Duration    time.Duration
	MemoryDelta int64
	Goroutines  int
}

// WorkerProfiler profiles one task of a worker.
type WorkerProfiler struct {
	startTime   time.Time
	startMemory uint64
	workerID    int
	operation   string
	logger      *slog.Logger
}

// NewWorkerProfiler starts timing a task. A nil logger disables logging.
func NewWorkerProfiler(workerID int, operation string, logger *slog.Logger) *WorkerProfiler {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &WorkerProfiler{
		startTime:   time.Now(),
		startMemory: m.Alloc,
		workerID:    workerID,
		operation:   operation,
		logger:      logger,
	}
}

// Finish completes worker profiling and logs metrics
func (wp *WorkerProfiler) Finish() TaskMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	tm := TaskMetrics{
		Worker:      wp.workerID,
		Operation:   wp.operation,
		Duration:    time.Since(wp.startTime),
		MemoryDelta: int64(m.Alloc) - int64(wp.startMemory),
		Goroutines:  runtime.NumGoroutine(),
	}
	if wp.logger != nil {
		wp.logger.Debug("🔍 worker task",
			"worker", tm.Worker,
			"operation", tm.Operation,
			"ms", float64(tm.Duration.Nanoseconds())/1e6,
			"memory_delta", tm.MemoryDelta,
			"goroutines", tm.Goroutines)
	}
	return tm
}

// GCStats provides garbage collection statistics
type GCStats struct {
	NumGC        uint32
	PauseTotal   time.Duration
	PauseRecent  time.Duration
	LastGC       time.Time
	GCCPUPercent float64
	HeapAlloc    uint64
}

// ForceGC runs a collection and returns freed memory to the OS.
func ForceGC() {
	runtime.GC()
	debug.FreeOSMemory()
}

// GetGCStats returns current garbage collection statistics
func GetGCStats() GCStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var recentPause time.Duration
	if m.NumGC > 0 {
		recentPause = time.Duration(m.PauseNs[(m.NumGC+255)%256])
	}

	return GCStats{
		NumGC:        m.NumGC,
		PauseTotal:   time.Duration(m.PauseTotalNs),
		PauseRecent:  recentPause,
		LastGC:       time.Unix(0, int64(m.LastGC)),
		GCCPUPercent: m.GCCPUFraction * 100,
		HeapAlloc:    m.HeapAlloc,
	}
}

// LogGCStats logs garbage collection statistics, typically after a calculation.
func LogGCStats(logger *slog.Logger) {
	stats := GetGCStats()
	logger.Info("🗑️ gc",
		"runs", stats.NumGC,
		"pause_total", stats.PauseTotal,
		"pause_recent", stats.PauseRecent,
		"cpu_percent", stats.GCCPUPercent,
		"heap", humanize.IBytes(stats.HeapAlloc))
}
