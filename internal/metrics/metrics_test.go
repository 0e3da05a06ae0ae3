package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/api/v1/psf", "/api/v1/psf"},
		{"/api/v1/psf/batch", "/api/v1/psf/batch"},
		{"/api/v1/psf/3f2a", "/api/v1/psf/{id}"},
		{"/wp-admin", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := normalizeRoute(tt.path); got != tt.want {
				t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestHandlerExposesCalculationMetrics(t *testing.T) {
	ObserveCalculation("NIRCam", 2*time.Second, nil)
	ObserveCalculation("MIRI", time.Second, errors.New("boom"))
	ObserveWavelength(30 * time.Millisecond)
	CountStrategy("semi-analytic")
	CountNotice("strategy_demoted")
	SetPlannedWorkers(4)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`gopsf_calculations_total{instrument="NIRCam",status="ok"}`,
		`gopsf_calculations_total{instrument="MIRI",status="error"}`,
		`gopsf_strategy_total{strategy="semi-analytic"}`,
		`gopsf_planned_workers 4`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
