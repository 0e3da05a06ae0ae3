package profiling

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/kacperjurak/gopsf/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestWorkerProfilerFinish(t *testing.T) {
	wp := NewWorkerProfiler(3, "wavelength #2", testLogger())
	tm := wp.Finish()
	if tm.Worker != 3 || tm.Operation != "wavelength #2" {
		t.Errorf("metrics = %+v", tm)
	}
	if tm.Duration < 0 || tm.Goroutines < 1 {
		t.Errorf("implausible metrics %+v", tm)
	}
}

func TestInfoHandler(t *testing.T) {
	p := New(config.DefaultServerConfig(), testLogger())
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/info", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var info RuntimeInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.NumCPU < 1 || info.Version == "" {
		t.Errorf("info = %+v", info)
	}
}

func TestProfiledHandlerHeaders(t *testing.T) {
	m := NewMiddleware(true, testLogger())
	h := m.ProfiledHandler("psf", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/psf", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Handler-Name") != "psf" {
		t.Errorf("missing handler header: %v", rec.Header())
	}

	off := NewMiddleware(false, testLogger()).ProfiledHandler("psf", http.NotFoundHandler())
	rec = httptest.NewRecorder()
	off.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Profiling-Enabled") != "" {
		t.Error("profiling headers set while disabled")
	}
}

func TestProfilerStartDisabled(t *testing.T) {
	p := New(config.DefaultServerConfig(), testLogger())
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
