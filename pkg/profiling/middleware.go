package profiling

import (
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"
)

// Middleware adds timing and allocation headers to PSF endpoints. Duration and
// memory totals are sent as HTTP trailers.
type Middleware struct {
	enableProfiling bool
	logger          *slog.Logger
}

// NewMiddleware creates a new profiling middleware
func NewMiddleware(enableProfiling bool, logger *slog.Logger) *Middleware {
	return &Middleware{
		enableProfiling: enableProfiling,
		logger:          logger,
	}
}

// ProfiledHandler wraps an HTTP handler with profiling capabilities
func (m *Middleware) ProfiledHandler(name string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enableProfiling {
			handler.ServeHTTP(w, r)
			return
		}

		profiler := NewRequestProfiler(name)
		w.Header().Set("X-Profiling-Enabled", "true")
		w.Header().Set("X-Handler-Name", name)
		w.Header().Set("Trailer", "X-Duration-Ms, X-Memory-Delta-Bytes")

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler.ServeHTTP(wrapped, r)

		pm := profiler.Finish()
		w.Header().Set("X-Duration-Ms", strconv.FormatFloat(float64(pm.Duration.Nanoseconds())/1e6, 'f', 3, 64))
		w.Header().Set("X-Memory-Delta-Bytes", strconv.FormatInt(pm.MemoryDelta, 10))

		m.logger.Debug("⚡ handler profiled",
			"handler", name,
			"status", wrapped.statusCode,
			"duration", pm.Duration,
			"memory_delta", pm.MemoryDelta,
			"goroutines", pm.Goroutines)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RequestProfiler provides per-request profiling information
type RequestProfiler struct {
	StartTime   time.Time
	StartMemory uint64
	Name        string
}

// NewRequestProfiler creates a new request profiler
func NewRequestProfiler(name string) *RequestProfiler {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &RequestProfiler{
		StartTime:   time.Now(),
		StartMemory: m.Alloc,
		Name:        name,
	}
}

// Finish completes the profiling and returns metrics
func (rp *RequestProfiler) Finish() ProfileMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return ProfileMetrics{
		Name:        rp.Name,
		Duration:    time.Since(rp.StartTime),
		MemoryDelta: int64(m.Alloc) - int64(rp.StartMemory),
		FinalMemory: m.Alloc,
		Goroutines:  runtime.NumGoroutine(),
	}
}

// ProfileMetrics holds profiling metrics for a request
type ProfileMetrics struct {
	Name        string
	Duration    time.Duration
	MemoryDelta int64
	FinalMemory uint64
	Goroutines  int
}
