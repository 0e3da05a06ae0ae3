package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/kacperjurak/gopsf/pkg/store"
)

// CatalogHandler serves catalogued calculations:
// GET /api/v1/psf?instrument=&limit= and GET /api/v1/psf/{id}.
type CatalogHandler struct {
	catalog *store.Store
}

func NewCatalogHandler(catalog *store.Store) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

type catalogEntry struct {
	ID          string    `json:"id"`
	Instrument  string    `json:"instrument"`
	Filter      string    `json:"filter"`
	Mask        string    `json:"mask,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Output      string    `json:"output,omitempty"`
	TotalFlux   float64   `json:"total_flux"`
	FWHM        float64   `json:"fwhm_arcsec"`
	EE50        float64   `json:"ee50_arcsec"`
	Workers     int       `json:"workers"`
	Strategies  []string  `json:"strategies"`
	Notices     []string  `json:"notices,omitempty"`
	ElapsedMs   int64     `json:"processing_time_ms"`
	CreatedAt   string    `json:"created_at"`
	Wavelengths []float64 `json:"wavelengths,omitempty"`
	Weights     []float64 `json:"weights,omitempty"`
}

func toEntry(r *store.Record) catalogEntry {
	return catalogEntry{
		ID:          r.ID,
		Instrument:  r.Instrument,
		Filter:      r.Filter,
		Mask:        r.Mask,
		Status:      r.Status,
		Error:       r.Error,
		Output:      r.FITSPath,
		TotalFlux:   r.TotalFlux,
		FWHM:        r.FWHM,
		EE50:        r.EE50,
		Workers:     r.Workers,
		Strategies:  r.Strategies,
		Notices:     r.Notices,
		ElapsedMs:   r.Elapsed.Milliseconds(),
		CreatedAt:   r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		Wavelengths: r.Wavelengths,
		Weights:     r.Weights,
	}
}

// ServeHTTP implements the http.Handler interface
func (h *CatalogHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setupCORS(w, "GET, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.catalog == nil {
		writeError(w, "catalog disabled", http.StatusNotFound)
		return
	}

	if id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/psf"), "/"); id != "" {
		rec, err := h.catalog.Get(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, toEntry(rec))
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := h.catalog.List(r.Context(), r.URL.Query().Get("instrument"), limit)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	entries := make([]catalogEntry, len(recs))
	for i, rec := range recs {
		entries[i] = toEntry(rec)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"calculations": entries})
}
