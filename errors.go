package gopsf

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

var (
	ErrUnsupportedOcculter = errors.New("unsupported occulter/strategy combination")
	ErrInvalidSampling     = errors.New("invalid oversampling or grid size for strategy")
	ErrParallelConflict    = errors.New("worker parallelism and threaded FFT are mutually exclusive")
	ErrInvalidSystem       = errors.New("invalid optical system")
	ErrInvalidSpectrum     = errors.New("invalid spectrum")
)

// ConfigurationError reports a calculation that cannot be set up as requested.
// Element and Wavelength are filled in when the failure is tied to a step.
type ConfigurationError struct {
	Element    string
	Wavelength float64
	Err        error
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Element != "" && e.Wavelength > 0:
		return fmt.Sprintf("configuration error at %s (%.4g m): %v", e.Element, e.Wavelength, e.Err)
	case e.Element != "":
		return fmt.Sprintf("configuration error at %s: %v", e.Element, e.Err)
	default:
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// configErr wraps err with a formatted reason.
func configErr(element string, wavelength float64, sentinel error, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{
		Element:    element,
		Wavelength: wavelength,
		Err:        fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)),
	}
}

// ResourceError describes a memory budget that could not be determined or met.
// It is carried as a Notice; it never aborts a calculation.
type ResourceError struct {
	Required  uint64
	Available uint64
	Reason    string
}

func (e *ResourceError) Error() string {
	if e.Available == 0 {
		return fmt.Sprintf("resource error: %s (available memory unknown)", e.Reason)
	}
	return fmt.Sprintf("resource error: %s (need %s, budget %s)",
		e.Reason, humanize.IBytes(e.Required), humanize.IBytes(e.Available))
}

// WorkerFailure aborts a parallel calculation when any task fails.
type WorkerFailure struct {
	Worker     int
	Index      int
	Wavelength float64
	Err        error
}

func (e *WorkerFailure) Error() string {
	return fmt.Sprintf("worker %d failed on wavelength #%d (%.4g m): %v", e.Worker, e.Index, e.Wavelength, e.Err)
}

func (e *WorkerFailure) Unwrap() error { return e.Err }

// WavelengthError ties a task failure to the wavelength being propagated.
type WavelengthError struct {
	Wavelength float64
	Err        error
}

func (e *WavelengthError) Error() string {
	var cfg *ConfigurationError
	if errors.As(e.Err, &cfg) && cfg.Wavelength > 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("wavelength %.4g m: %v", e.Wavelength, e.Err)
}

func (e *WavelengthError) Unwrap() error { return e.Err }

// WavelengthOf returns the wavelength err is tied to, or 0.
func WavelengthOf(err error) float64 {
	var we *WavelengthError
	if errors.As(err, &we) {
		return we.Wavelength
	}
	var cfg *ConfigurationError
	if errors.As(err, &cfg) {
		return cfg.Wavelength
	}
	return 0
}

// NoticeKind classifies a reported behaviour change.
type NoticeKind string

const (
	NoticeStrategyDemoted NoticeKind = "strategy_demoted"
	NoticeDegradedMemory  NoticeKind = "degraded_memory"
	NoticeWorkersClamped  NoticeKind = "workers_clamped"
	NoticeDisplayDisabled NoticeKind = "display_disabled"
)

// Notice is a non-fatal report attached to a calculation. Nothing that changes
// numerical behaviour happens without one.
type Notice struct {
	Kind    NoticeKind
	Message string
	Err     error
}

func (n Notice) String() string {
	if n.Err != nil {
		return fmt.Sprintf("%s: %s: %v", n.Kind, n.Message, n.Err)
	}
	return fmt.Sprintf("%s: %s", n.Kind, n.Message)
}
