package reportengine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/bryanwahyu/gap-analyzer/internal/domain/gap"
)

const (
	generatePath   = "/generate_market_reports"
	defaultTimeout = 5 * time.Minute
)

// StatusError is a non-2xx answer from the report engine.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("report engine returned status %d: %s", e.Code, e.Body)
}

// Client calls the downstream report engine. Generate is at-most-once: it is never retried.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type generateResponse struct {
	ReportURLs []string `json:"report_urls"`
}

// Generate posts the payload and returns the rendered artifact URLs.
func (c *Client) Generate(ctx context.Context, payload gap.ReportPayload) ([]string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch to report engine: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read report engine response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out generateResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode report engine response: %w", err)
		}
	}
	return out.ReportURLs, nil
}
