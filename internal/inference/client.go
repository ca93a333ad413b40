// Package inference is the typed client for the external ML prediction
// service. It performs one POST per window and maps the response into a
// canonical PredictionOutcome; retry policy lives at the queue layer.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fleetwatch/internal/domain"
)

// DefaultTimeout bounds one prediction call.
const DefaultTimeout = 15 * time.Second

// Service is the inference surface the job pipeline depends on. The HTTP
// client implements it; tests inject a stub.
type Service interface {
	PredictAll(ctx context.Context, rows []map[string]any) (*domain.PredictionOutcome, error)
	Health(ctx context.Context) error
}

// APIError is a non-2xx response with its body, for operator visibility.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inference API error: status %d: %s", e.Status, e.Body)
}

// Client calls the unified prediction endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the Client during construction.
type Option func(*clientConfig)

type clientConfig struct {
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) { cfg.httpClient = c }
}

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) { cfg.timeout = d }
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) { cfg.logger = l }
}

// NewClient creates a client for the given service base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("inference: baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	cfg := &clientConfig{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(cfg)
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

// predictRequest is the wire body for POST /predict/all.
type predictRequest struct {
	Data []map[string]any `json:"data"`
}

// PredictAll submits the full row window and decodes the unified response.
// The caller guarantees the window meets the minimum row count.
func (c *Client) PredictAll(ctx context.Context, rows []map[string]any) (*domain.PredictionOutcome, error) {
	body, err := json.Marshal(predictRequest{Data: rows})
	if err != nil {
		return nil, fmt.Errorf("predict: encode request: %w", err)
	}

	url := c.baseURL + "/predict/all"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("predict: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.DebugContext(ctx, "prediction request", "url", url, "rows", len(rows))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var outcome domain.PredictionOutcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		// Decode failures are transport-class: the queue retries them.
		return nil, fmt.Errorf("predict: decode response: %w", err)
	}

	c.logger.DebugContext(ctx, "prediction response",
		"vehicle_id", outcome.VehicleID, "type", outcome.PredictionType, "eta_days", outcome.EtaDays)
	return &outcome, nil
}

// Health probes GET /health on the service.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("health: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health: do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return nil
}
