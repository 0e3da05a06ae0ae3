package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kacperjurak/gopsf"
	"github.com/kacperjurak/gopsf/pkg/config"
	"github.com/kacperjurak/gopsf/pkg/instrument"
	"github.com/kacperjurak/gopsf/pkg/models"
)

// StrategyHandler reports which transforms a configuration would use without
// running it.
type StrategyHandler struct {
	config *config.Config
}

func NewStrategyHandler(cfg *config.Config) *StrategyHandler {
	return &StrategyHandler{config: cfg}
}

// ServeHTTP implements the http.Handler interface
func (h *StrategyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setupCORS(w, "POST, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.StrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	cfg := *h.config
	cfg.Instrument = req.Instrument
	cfg.Filter = req.Filter
	cfg.Mask = req.Mask
	cfg.SIAFFile = ""
	if req.NPix > 0 {
		cfg.NPix = req.NPix
	}
	if req.Oversample > 0 {
		cfg.CoronOversample = req.Oversample
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	force, err := gopsf.ParseStrategy(req.Force)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sys, err := instrument.Build(&cfg, nil)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	plan, err := sys.Optical.Plan(gopsf.PropagateOptions{
		FFTAvailable:        req.FFT,
		ForceStrategy:       force,
		DisableSemiAnalytic: req.DisableSemiAnalytic,
	})
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	resp := models.StrategyResponse{Description: plan.Describe()}
	for _, s := range plan.Strategies() {
		resp.Strategies = append(resp.Strategies, s.String())
	}
	for _, n := range plan.Notices {
		resp.Notices = append(resp.Notices, models.NoticeView{Kind: string(n.Kind), Message: n.Message})
	}
	writeJSON(w, http.StatusOK, resp)
}
