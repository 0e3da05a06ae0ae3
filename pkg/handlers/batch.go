package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kacperjurak/gopsf/internal/processing"
	"github.com/kacperjurak/gopsf/internal/utils"
	"github.com/kacperjurak/gopsf/pkg/config"
	"github.com/kacperjurak/gopsf/pkg/models"
)

// TimingFile is the CSV in the output directory that collects one row per
// finished batch.
const TimingFile = "batch_timing.csv"

// BatchHandler handles batch PSF calculation requests
type BatchHandler struct {
	config    *config.Config
	outputDir string
	runner    *Runner
	logger    *slog.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(cfg *config.Config, outputDir string, runner *Runner, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{config: cfg, outputDir: outputDir, runner: runner, logger: logger}
}

// ServeHTTP implements the http.Handler interface
func (h *BatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setupCORS(w, "POST, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var batch models.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if len(batch.Calculations) == 0 {
		writeError(w, "No calculations provided in batch", http.StatusBadRequest)
		return
	}
	if batch.BatchID == "" {
		batch.BatchID = utils.GenerateID()
	}

	ids := make([]string, len(batch.Calculations))
	cfgs := make([]*config.Config, len(batch.Calculations))
	for i, req := range batch.Calculations {
		ids[i] = fmt.Sprintf("%s_%03d", batch.BatchID, i)
		cfgs[i] = processing.ConfigFromRequest(h.config, req, ids[i], h.outputDir)
		if err := cfgs[i].Validate(); err != nil {
			writeError(w, fmt.Sprintf("calculation %d: %v", i, err), http.StatusBadRequest)
			return
		}
	}

	h.logger.Info("🔄 Batch processing started", "batch_id", batch.BatchID, "calculations", len(cfgs))

	if wantsWait(r) {
		writeJSON(w, http.StatusOK, h.runBatch(r.Context(), batch.BatchID, ids, cfgs))
		return
	}

	go h.runBatch(context.Background(), batch.BatchID, ids, cfgs)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":      true,
		"batch_id":     batch.BatchID,
		"calculations": len(cfgs),
		"message":      "Batch processing started",
	})
}

// runBatch runs every calculation through the runner, which bounds
// concurrency, and records batch timing.
func (h *BatchHandler) runBatch(ctx context.Context, batchID string, ids []string, cfgs []*config.Config) models.BatchResponse {
	start := time.Now()
	out := models.BatchResponse{BatchID: batchID, Results: make([]models.CalculationResponse, len(cfgs))}

	var wg sync.WaitGroup
	for i := range cfgs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, _ := h.runner.Run(ctx, ids[i], cfgs[i])
			out.Results[i] = resp
		}(i)
	}
	wg.Wait()

	for _, r := range out.Results {
		if r.Status != "completed" {
			out.Failed++
		}
	}
	total := time.Since(start)
	if err := h.saveTiming(batchID, total, out); err != nil {
		h.logger.Warn("⚠️ timing not saved", "batch_id", batchID, "error", err)
	}
	h.logger.Info("🎉 Batch processing completed", "batch_id", batchID, "failed", out.Failed, "elapsed", total)
	return out
}

// saveTiming appends one row per batch to TimingFile in the output directory.
func (h *BatchHandler) saveTiming(batchID string, total time.Duration, resp models.BatchResponse) error {
	if h.outputDir == "" {
		return nil
	}
	if err := os.MkdirAll(h.outputDir, 0o755); err != nil {
		return err
	}
	filename := filepath.Join(h.outputDir, TimingFile)

	var writeHeader bool
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		writeHeader = true
	}
	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open timing file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if writeHeader {
		header := []string{
			"Timestamp",
			"BatchID",
			"Calculations",
			"Failed",
			"TotalBatchTime_ms",
			"AvgCalculationTime_ms",
			"MaxCalculationTime_ms",
			"Wavelengths",
			"CalculationsPerSecond",
		}
		if err := writer.Write(header); err != nil {
			return err
		}
	}

	var sum, longest float64
	var waves int
	for _, r := range resp.Results {
		sum += r.ProcessingTime
		if r.ProcessingTime > longest {
			longest = r.ProcessingTime
		}
		waves += len(r.Wavelengths)
	}
	n := len(resp.Results)
	record := []string{
		time.Now().Format(time.RFC3339),
		batchID,
		fmt.Sprintf("%d", n),
		fmt.Sprintf("%d", resp.Failed),
		fmt.Sprintf("%.2f", float64(total.Microseconds())/1000),
		fmt.Sprintf("%.2f", sum/float64(n)),
		fmt.Sprintf("%.2f", longest),
		fmt.Sprintf("%d", waves),
		fmt.Sprintf("%.3f", float64(n)/total.Seconds()),
	}
	if err := writer.Write(record); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}
