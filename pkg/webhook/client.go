package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kacperjurak/gopsf/pkg/models"
)

// Client posts calculation results to a webhook URL with connection pooling
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	bufferPool sync.Pool // Pool for JSON marshaling buffers
}

// NewClient creates a webhook client. An empty url disables sending.
func NewClient(url string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	return &Client{
		url:    url,
		logger: logger,
		httpClient: &http.Client{
			Timeout:   45 * time.Second,
			Transport: transport,
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 4096))
			},
		},
	}
}

// Enabled reports whether a webhook URL is configured.
func (c *Client) Enabled() bool { return c != nil && c.url != "" }

// Send posts the result of one calculation.
func (c *Client) Send(ctx context.Context, resp models.CalculationResponse) error {
	if !c.Enabled() {
		return nil
	}
	payload := models.WebhookPayload{
		ID:          resp.ID,
		Time:        time.Now().Format(time.RFC3339Nano),
		Calculation: sanitize(resp),
	}

	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return fmt.Errorf("failed to marshal webhook data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer httpResp.Body.Close()

	c.logger.Debug("📤 webhook sent", "calc_id", resp.ID, "status", httpResp.StatusCode)

	if httpResp.StatusCode >= 400 {
		return fmt.Errorf("webhook request failed with status %d", httpResp.StatusCode)
	}
	return nil
}

// sanitize replaces values encoding/json cannot represent.
func sanitize(resp models.CalculationResponse) models.CalculationResponse {
	clean := func(v float64) float64 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return v
	}
	resp.TotalFlux = clean(resp.TotalFlux)
	resp.FWHM = clean(resp.FWHM)
	resp.EE50 = clean(resp.EE50)
	resp.PixelScale = clean(resp.PixelScale)
	return resp
}
