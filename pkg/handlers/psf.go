package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kacperjurak/gopsf/internal/processing"
	"github.com/kacperjurak/gopsf/internal/utils"
	"github.com/kacperjurak/gopsf/pkg/config"
	"github.com/kacperjurak/gopsf/pkg/models"
)

// PSFHandler handles single PSF calculation requests
type PSFHandler struct {
	config    *config.Config
	outputDir string
	runner    *Runner
	logger    *slog.Logger
}

// NewPSFHandler creates a new PSF handler. Requests are overlaid on cfg and
// results written under outputDir.
func NewPSFHandler(cfg *config.Config, outputDir string, runner *Runner, logger *slog.Logger) *PSFHandler {
	return &PSFHandler{config: cfg, outputDir: outputDir, runner: runner, logger: logger}
}

// ServeHTTP implements the http.Handler interface
func (h *PSFHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setupCORS(w, "POST, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.CalculationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if req.Instrument == "" {
		writeError(w, "instrument is required", http.StatusBadRequest)
		return
	}

	id := utils.GenerateID()
	cfg := processing.ConfigFromRequest(h.config, req, id, h.outputDir)
	if err := cfg.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.config.Quiet {
		h.logger.Info("📥 PSF request received", "calc_id", id, "instrument", req.Instrument, "filter", req.Filter, "mask", req.Mask)
	}

	if wantsWait(r) {
		resp, err := h.runner.Run(r.Context(), id, cfg)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, resp)
		case processing.IsClientError(err):
			writeJSON(w, http.StatusUnprocessableEntity, resp)
		default:
			writeJSON(w, http.StatusInternalServerError, resp)
		}
		return
	}

	h.runner.Submit(id, cfg, nil)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"id":      id,
		"message": "Calculation started",
	})
}
