package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/prohosp/flow-monitor/internal/models"
	"github.com/prohosp/flow-monitor/internal/utils"
)

// maxBodyBytes bounds how much of an upstream body is read.
const maxBodyBytes = 1 << 20

// ErrUpstreamNotConfigured reports a missing prediction service base URL.
var ErrUpstreamNotConfigured = errors.New("prediction service base URL not configured")

// ErrBodyTooLarge is returned when an upstream body exceeds maxBodyBytes.
var ErrBodyTooLarge = errors.New("upstream response body too large")

// UpstreamError is a non-success HTTP status from the prediction service.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return e.Message
}

// MalformedResponseError wraps a body that could not be decoded as JSON.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// UpstreamResponse is a raw upstream reply forwarded to callers unchanged.
type UpstreamResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// OK reports a 2xx status.
func (r UpstreamResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// HealthStatus mirrors the prediction service root endpoint.
type HealthStatus struct {
	Status  string            `json:"status"`
	Modules map[string]string `json:"modules"`
}

// PredictionClient talks to the prediction service REST API.
type PredictionClient struct {
	baseURL     string
	summaryPath string
	ingestPath  string
	httpClient  *http.Client
}

// NewPredictionClient constructs a client targeting the configured prediction service.
func NewPredictionClient(baseURL, summaryPath, ingestPath string, timeout time.Duration) *PredictionClient {
	return &PredictionClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		summaryPath: summaryPath,
		ingestPath:  ingestPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Configured reports whether a base URL is set.
func (c *PredictionClient) Configured() bool {
	return c != nil && c.baseURL != ""
}

// FetchSummary retrieves the latest dashboard summary.
func (c *PredictionClient) FetchSummary(ctx context.Context) (models.Summary, error) {
	if !c.Configured() {
		return models.Summary{}, ErrUpstreamNotConfigured
	}

	resp, err := c.do(ctx, http.MethodGet, c.resolvePath(c.summaryPath), nil)
	if err != nil {
		return models.Summary{}, utils.NewAppError("fetch dashboard summary", "prediction service unreachable", err)
	}
	if !resp.OK() {
		return models.Summary{}, &UpstreamError{
			Status:  resp.Status,
			Message: ErrorMessage(resp.Body, fmt.Sprintf("prediction service returned %d %s", resp.Status, http.StatusText(resp.Status))),
		}
	}

	var summary models.Summary
	if err := json.Unmarshal(resp.Body, &summary); err != nil {
		return models.Summary{}, &MalformedResponseError{Err: err}
	}
	return summary, nil
}

// ForwardPrediction posts body verbatim to the ingest endpoint and returns the reply unchanged.
func (c *PredictionClient) ForwardPrediction(ctx context.Context, body []byte) (UpstreamResponse, error) {
	if !c.Configured() {
		return UpstreamResponse{}, ErrUpstreamNotConfigured
	}
	resp, err := c.do(ctx, http.MethodPost, c.resolvePath(c.ingestPath), body)
	if err != nil {
		return UpstreamResponse{}, fmt.Errorf("prediction service ingest request failed: %w", err)
	}
	return resp, nil
}

// Health queries the prediction service root endpoint.
func (c *PredictionClient) Health(ctx context.Context) (HealthStatus, error) {
	if !c.Configured() {
		return HealthStatus{}, ErrUpstreamNotConfigured
	}
	resp, err := c.do(ctx, http.MethodGet, c.resolvePath("/"), nil)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("prediction service health request failed: %w", err)
	}
	if !resp.OK() {
		return HealthStatus{}, &UpstreamError{Status: resp.Status, Message: ErrorMessage(resp.Body, "prediction service unhealthy")}
	}
	var status HealthStatus
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return HealthStatus{}, &MalformedResponseError{Err: err}
	}
	return status, nil
}

// ErrorMessage extracts a "message" or "detail" string from an error body,
// returning fallback when the body is not JSON or carries neither field.
func ErrorMessage(body []byte, fallback string) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return fallback
	}
	for _, key := range []string{"message", "detail"} {
		if v, ok := payload[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return fallback
}

func (c *PredictionClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *PredictionClient) do(ctx context.Context, method, endpoint string, body []byte) (UpstreamResponse, error) {
	if endpoint == "" {
		return UpstreamResponse{}, fmt.Errorf("empty endpoint")
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return UpstreamResponse{}, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UpstreamResponse{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return UpstreamResponse{}, fmt.Errorf("read response: %w", err)
	}
	if len(data) > maxBodyBytes {
		return UpstreamResponse{}, fmt.Errorf("read response: %w", ErrBodyTooLarge)
	}
	return UpstreamResponse{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}
