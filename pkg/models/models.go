package models

import (
	"time"

	"gonum.org/v1/gonum/mat"
)

// WavelengthTask is one unit of work handed to a worker.
type WavelengthTask struct {
	Index int
}

// WavelengthResult is what a worker sends back for a task.
type WavelengthResult struct {
	Worker         int
	Index          int
	PSF            *mat.Dense
	Err            error
	ProcessingTime time.Duration
}

// SourceSpec describes the source spectrum of a request. Exactly one of the
// fields is normally set; an empty SourceSpec means a flat spectrum.
type SourceSpec struct {
	SpectralType string    `json:"spectral_type,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
	Wavelengths  []float64 `json:"wavelengths,omitempty"`
	Weights      []float64 `json:"weights,omitempty"`
}

// CalculationRequest is the body of POST /api/v1/psf.
type CalculationRequest struct {
	Instrument          string     `json:"instrument"`
	Filter              string     `json:"filter"`
	Mask                string     `json:"mask,omitempty"`
	Aperture            string     `json:"aperture,omitempty"`
	Oversample          int        `json:"oversample,omitempty"`
	FOVPixels           int        `json:"fov_pixels,omitempty"`
	NPix                int        `json:"npix,omitempty"`
	NLambda             int        `json:"nlambda,omitempty"`
	Strategy            string     `json:"strategy,omitempty"`
	DisableSemiAnalytic bool       `json:"disable_semi_analytic,omitempty"`
	UseMultiprocessing  bool       `json:"use_multiprocessing,omitempty"`
	UseFFTThreads       bool       `json:"use_fft_threads,omitempty"`
	Workers             int        `json:"workers,omitempty"`
	Source              SourceSpec `json:"source"`
}

// BatchRequest is the body of POST /api/v1/psf/batch.
type BatchRequest struct {
	BatchID      string               `json:"batch_id"`
	Timestamp    time.Time            `json:"timestamp"`
	Calculations []CalculationRequest `json:"calculations"`
}

// NoticeView is a notice in API responses.
type NoticeView struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// CalculationResponse summarises a finished calculation.
type CalculationResponse struct {
	ID              string       `json:"id"`
	Status          string       `json:"status"`
	Instrument      string       `json:"instrument"`
	Filter          string       `json:"filter"`
	Mask            string       `json:"mask,omitempty"`
	Oversample      int          `json:"oversample"`
	PixelScale      float64      `json:"pixel_scale"`
	Wavelengths     []float64    `json:"wavelengths"`
	Weights         []float64    `json:"weights"`
	Strategies      []string     `json:"strategies"`
	Workers         int          `json:"workers"`
	TotalFlux       float64      `json:"total_flux"`
	FWHM            float64      `json:"fwhm_arcsec,omitempty"`
	EE50            float64      `json:"ee50_arcsec,omitempty"`
	Output          string       `json:"output,omitempty"`
	Notices         []NoticeView `json:"notices,omitempty"`
	ProcessingTime  float64      `json:"processing_time_ms"`
	Error           string       `json:"error,omitempty"`
	ApertureV2V3Ref [2]float64   `json:"aperture_v2v3_ref,omitempty"`
}

// BatchResponse is returned by the batch endpoint.
type BatchResponse struct {
	BatchID string                `json:"batch_id"`
	Results []CalculationResponse `json:"results"`
	Failed  int                   `json:"failed"`
}

// StrategyRequest is the body of POST /api/v1/strategy.
type StrategyRequest struct {
	Instrument string `json:"instrument"`
	Filter     string `json:"filter,omitempty"`
	Mask       string `json:"mask,omitempty"`
	NPix       int    `json:"npix,omitempty"`
	// Oversample is the sampling of occulter planes.
	Oversample          int    `json:"oversample,omitempty"`
	FFT                 bool   `json:"fft_available"`
	Force               string `json:"force,omitempty"`
	DisableSemiAnalytic bool   `json:"disable_semi_analytic,omitempty"`
}

// StrategyResponse lists the planned transforms of a system.
type StrategyResponse struct {
	Description string       `json:"description"`
	Strategies  []string     `json:"strategies"`
	Notices     []NoticeView `json:"notices,omitempty"`
}

// WebhookPayload is the body POSTed to a completion webhook.
type WebhookPayload struct {
	ID          string              `json:"id"`
	Time        string              `json:"time"`
	Calculation CalculationResponse `json:"calculation"`
}
