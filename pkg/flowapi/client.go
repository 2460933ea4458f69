package flowapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/flow-tools/axf-deploy/pkg/errors"
	"github.com/flow-tools/axf-deploy/pkg/logging"
)

// ClientOptions configures a flow service client
type ClientOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to a deployed flow executor over HTTP. The run and health
// contracts are defined by the external framework; the client reproduces
// only the caller-visible surface.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient creates a flow service client
func NewClient(options ClientOptions, logger logging.Logger) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimSuffix(options.BaseURL, "/"),
		apiKey:  options.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Health issues a single GET /health probe
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return errors.NewInternalError("failed to create health request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewNetworkError("health request failed", err).WithContext("url", c.baseURL+"/health")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewHealthCheckError(
			fmt.Sprintf("health check returned %d %s", resp.StatusCode, resp.Status),
			nil,
		).WithContext("url", c.baseURL+"/health")
	}

	return nil
}

// RetryHealthOptions configures WaitHealthy
type RetryHealthOptions struct {
	RetryAttempts int
	RetryInterval time.Duration
}

// WaitHealthy polls /health until it succeeds or the attempt budget runs out
func (c *Client) WaitHealthy(ctx context.Context, options RetryHealthOptions) error {
	attempts := options.RetryAttempts
	if attempts <= 0 {
		attempts = 10
	}
	interval := options.RetryInterval
	if interval <= 0 {
		interval = 1 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.Health(ctx)
		if lastErr == nil {
			c.logger.Infof("Flow service is healthy, attempt: %d", attempt)
			return nil
		}

		c.logger.Warnf("Flow service not healthy yet, attempt: %d/%d, error: %v", attempt, attempts, lastErr)

		if attempt == attempts {
			break
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return errors.NewCancelledError("health wait cancelled", ctx.Err())
		}
	}

	return errors.NewHealthCheckError(
		fmt.Sprintf("flow service not healthy after %d attempts", attempts),
		lastErr,
	).WithContext("url", c.baseURL)
}

// RunFlow executes a deployed flow with the given input.
// Non-2xx responses are surfaced verbatim: the flow executor enforces the
// x-api-key secret and reports per-request failures (e.g. a missing model
// credential) itself.
func (c *Client) RunFlow(ctx context.Context, flowID string, request RunRequest) (*RunResponse, error) {
	if flowID == "" {
		return nil, errors.NewValidationError("flow ID is required", nil)
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode run request", err)
	}

	url := fmt.Sprintf("%s/flows/%s/run", c.baseURL, flowID)
	c.logger.Debugf("Running flow, url: %s, input length: %d", url, len(request.InputValue))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError("failed to create run request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(HeaderAPIKey, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewNetworkError("run request failed", err).WithContext("url", url)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewIOError("failed to read run response", err).WithContext("url", url)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errors.NewPermissionError(
			fmt.Sprintf("run request rejected: %d %s: %s", resp.StatusCode, resp.Status, errorDetail(respBody)),
			nil,
		).WithContext("url", url)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.NewNetworkError(
			fmt.Sprintf("run request failed: %d %s: %s", resp.StatusCode, resp.Status, errorDetail(respBody)),
			nil,
		).WithContext("url", url)
	}

	var envelope runEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, errors.NewValidationError("failed to decode run response", err).WithContext("url", url)
	}

	result := envelope.Result
	if result == "" {
		result = extractNestedResult(&envelope)
	}

	status := envelope.Status
	if status == "" && result != "" {
		status = StatusSuccess
	}

	return &RunResponse{
		Result:    result,
		Status:    status,
		SessionID: envelope.SessionID,
	}, nil
}

// extractNestedResult pulls the chat output text out of the nested outputs
// envelope of the full flow API
func extractNestedResult(envelope *runEnvelope) string {
	for _, output := range envelope.Outputs {
		for _, inner := range output.Outputs {
			if text := inner.Results.Message.Text; text != "" {
				return text
			}
		}
	}
	return ""
}

func errorDetail(body []byte) string {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Detail != "" {
		return envelope.Detail
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return string(body)
}
