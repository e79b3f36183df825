package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linkharbor/be-mp-orders/internal/metrics"
)

// httpClient is the shared JSON-over-HTTP transport for the payment
// processor's APIs. Every call is bounded by the configured timeout so a
// stalled processor leaves local state untouched and the user action
// retryable.
type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newHTTPClient(baseURL, apiKey string, timeout time.Duration) *httpClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// postJSON sends a POST with a JSON body and decodes the JSON response into
// out (when out is non-nil). Call duration is recorded under the given
// metric label.
func (c *httpClient) postJSON(ctx context.Context, call, path string, body, out any) error {
	start := time.Now()
	defer func() {
		metrics.ProcessorCallDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
	}()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("processor: marshal %s request: %w", call, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("processor: build %s request: %w", call, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("processor: %s call failed: %w", call, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("processor: %s returned %d: %s", call, resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("processor: decode %s response: %w", call, err)
		}
	}
	return nil
}
