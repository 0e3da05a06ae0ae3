package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	calculationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gopsf_calculations_total",
			Help: "Total number of PSF calculations by outcome.",
		},
		[]string{"instrument", "status"},
	)

	calculationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gopsf_calculation_duration_seconds",
			Help:    "Wall time of a broadband PSF calculation.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"instrument"},
	)

	wavelengthSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gopsf_wavelength_duration_seconds",
			Help:    "Wall time of one monochromatic propagation.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	strategiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gopsf_strategy_total",
			Help: "Transforms planned, by strategy.",
		},
		[]string{"strategy"},
	)

	noticesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gopsf_notices_total",
			Help: "Behaviour changes reported to callers, by kind.",
		},
		[]string{"kind"},
	)

	plannedWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gopsf_planned_workers",
			Help: "Worker count of the most recent process plan.",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gopsf_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)
)

func init() {
	prometheus.MustRegister(calculationsTotal)
	prometheus.MustRegister(calculationSeconds)
	prometheus.MustRegister(wavelengthSeconds)
	prometheus.MustRegister(strategiesTotal)
	prometheus.MustRegister(noticesTotal)
	prometheus.MustRegister(plannedWorkers)
	prometheus.MustRegister(httpRequestsTotal)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCalculation records one finished calculation.
func ObserveCalculation(instrument string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	calculationsTotal.WithLabelValues(instrument, status).Inc()
	if err == nil {
		calculationSeconds.WithLabelValues(instrument).Observe(d.Seconds())
	}
}

func ObserveWavelength(d time.Duration) { wavelengthSeconds.Observe(d.Seconds()) }

func CountStrategy(name string) { strategiesTotal.WithLabelValues(name).Inc() }

func CountNotice(kind string) { noticesTotal.WithLabelValues(kind).Inc() }

func SetPlannedWorkers(n int) { plannedWorkers.Set(float64(n)) }

// normalizeRoute keeps the label set bounded.
func normalizeRoute(path string) string {
	switch path {
	case "/", "/health", "/metrics", "/debug/gc", "/api/v1/psf", "/api/v1/psf/batch", "/api/v1/strategy", "/api/v1/instruments":
		return path
	}
	if strings.HasPrefix(path, "/api/v1/psf/") {
		return "/api/v1/psf/{id}"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		httpRequestsTotal.WithLabelValues(normalizeRoute(r.URL.Path), r.Method, strconv.Itoa(rw.statusCode)).Inc()
	})
}
