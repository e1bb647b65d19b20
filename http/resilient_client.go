package http

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ResilientClientConfig holds configuration for the resilient HTTP client.
type ResilientClientConfig struct {
	// BaseURL is prefixed to every request path.
	BaseURL string
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Headers are sent with every request.
	Headers map[string]string
	// CircuitBreakerConfig configures the circuit breaker.
	CircuitBreakerConfig CircuitBreakerConfig
	// RetryConfig configures retry behavior.
	RetryConfig RetryConfig
	// Transport overrides the base round tripper. It is always wrapped with
	// OpenTelemetry instrumentation.
	Transport http.RoundTripper
}

// RetryConfig configures retry behavior for the HTTP client.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultResilientClientConfig returns sensible production defaults.
func DefaultResilientClientConfig(serviceName, baseURL string) ResilientClientConfig {
	return ResilientClientConfig{
		BaseURL:              strings.TrimRight(baseURL, "/"),
		Timeout:              10 * time.Second,
		CircuitBreakerConfig: DefaultCircuitBreakerConfig(serviceName),
		RetryConfig: RetryConfig{
			MaxRetries:   3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
	}
}

// ResilientClient is a JSON HTTP client with retries and a circuit breaker.
// Only idempotent requests are retried.
type ResilientClient struct {
	config         ResilientClientConfig
	httpClient     *http.Client
	circuitBreaker *CircuitBreaker
}

// NewResilientClient creates a new resilient HTTP client.
func NewResilientClient(config ResilientClientConfig) *ResilientClient {
	base := config.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	cbConfig := config.CircuitBreakerConfig
	if cbConfig.IsFailure == nil {
		cbConfig.IsFailure = isServerFailure
	}

	return &ResilientClient{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
		circuitBreaker: NewCircuitBreaker(cbConfig),
	}
}

// Request represents an HTTP request to be made.
type Request struct {
	Method  string
	Path    string
	Body    any
	Headers map[string]string
	// Idempotent marks a request as safe to retry. GET, PUT and DELETE are
	// always treated as idempotent.
	Idempotent bool
}

func (r Request) retryable() bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return r.Idempotent
}

// HTTPResponse represents an HTTP response from the resilient client.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// HTTPError is returned for responses with status >= 400.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, string(e.Body))
}

// isServerFailure counts transport errors, 5xx and 429 against the circuit.
// Client errors say nothing about the remote's health.
func isServerFailure(err error) bool {
	var httpErr *HTTPError
	if stderrors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	return !stderrors.Is(err, context.Canceled)
}

// Do executes an HTTP request with circuit breaker and retry protection.
// For status >= 400 both the response and an *HTTPError are returned.
func (c *ResilientClient) Do(ctx context.Context, req Request) (*HTTPResponse, error) {
	var response *HTTPResponse
	err := c.circuitBreaker.Execute(func() error {
		var err error
		response, err = c.doWithRetry(ctx, req)
		return err
	})
	return response, err
}

func (c *ResilientClient) doWithRetry(ctx context.Context, req Request) (*HTTPResponse, error) {
	var (
		response *HTTPResponse
		lastErr  error
	)

	maxRetries := c.config.RetryConfig.MaxRetries
	if !req.retryable() {
		maxRetries = 0
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		response, lastErr = c.doRequest(ctx, req)
		if lastErr == nil || !c.isRetryable(lastErr, response) || attempt == maxRetries {
			break
		}

		timer := time.NewTimer(c.calculateDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return response, lastErr
}

func (c *ResilientClient) doRequest(ctx context.Context, req Request) (*HTTPResponse, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.config.BaseURL+req.Path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	for key, value := range c.config.Headers {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	response := &HTTPResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
	}
	if resp.StatusCode >= 400 {
		return response, &HTTPError{StatusCode: resp.StatusCode, Body: body}
	}
	return response, nil
}

func (c *ResilientClient) isRetryable(err error, resp *HTTPResponse) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Transport errors are retryable
	if resp == nil {
		return true
	}

	switch resp.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// calculateDelay calculates retry delay with exponential backoff.
func (c *ResilientClient) calculateDelay(attempt int) time.Duration {
	delay := c.config.RetryConfig.InitialDelay * (1 << attempt)
	if delay > c.config.RetryConfig.MaxDelay {
		delay = c.config.RetryConfig.MaxDelay
	}
	return delay
}

// DoJSON performs req and decodes a successful response body into result.
func (c *ResilientClient) DoJSON(ctx context.Context, req Request, result any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if result == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CircuitState returns the current state of the circuit breaker.
func (c *ResilientClient) CircuitState() CircuitState {
	return c.circuitBreaker.State()
}
