// Package testing provides test utilities and helpers.
package testing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// APIKeyHeader is the shared-secret header checked on every geofence route.
const APIKeyHeader = "authorization-key"

// TestContext creates a context with a timeout for testing.
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout creates a context with a custom timeout.
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// HTTPTestRequest builds an HTTP request for testing.
type HTTPTestRequest struct {
	Method  string
	Path    string
	Body    any
	RawBody string
	Headers map[string]string
}

// NewHTTPTestRequest creates a new HTTP test request.
func NewHTTPTestRequest(method, path string) *HTTPTestRequest {
	return &HTTPTestRequest{
		Method:  method,
		Path:    path,
		Headers: make(map[string]string),
	}
}

// WithBody sets a value to be sent as JSON.
func (r *HTTPTestRequest) WithBody(body any) *HTTPTestRequest {
	r.Body = body
	return r
}

// WithRawBody sends body verbatim, for malformed payloads.
func (r *HTTPTestRequest) WithRawBody(body string) *HTTPTestRequest {
	r.RawBody = body
	return r
}

// WithHeader adds a header to the request.
func (r *HTTPTestRequest) WithHeader(key, value string) *HTTPTestRequest {
	r.Headers[key] = value
	return r
}

// WithAuth adds an Authorization header with a Bearer token.
func (r *HTTPTestRequest) WithAuth(token string) *HTTPTestRequest {
	return r.WithHeader("Authorization", "Bearer "+token)
}

// WithAPIKey sets the shared-secret header.
func (r *HTTPTestRequest) WithAPIKey(key string) *HTTPTestRequest {
	return r.WithHeader(APIKeyHeader, key)
}

// WithCredentials sets both the shared secret and the bearer token.
func (r *HTTPTestRequest) WithCredentials(key, token string) *HTTPTestRequest {
	return r.WithAPIKey(key).WithAuth(token)
}

// Build builds the HTTP request.
func (r *HTTPTestRequest) Build(t *testing.T) *http.Request {
	t.Helper()

	var body io.Reader
	switch {
	case r.RawBody != "":
		body = strings.NewReader(r.RawBody)
	case r.Body != nil:
		data, err := json.Marshal(r.Body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req := httptest.NewRequest(r.Method, r.Path, body)
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return req
}

// HTTPTestResponse wraps httptest.ResponseRecorder with helper methods.
type HTTPTestResponse struct {
	*httptest.ResponseRecorder
	t *testing.T
}

// NewHTTPTestResponse creates a new HTTP test response.
func NewHTTPTestResponse(t *testing.T) *HTTPTestResponse {
	return &HTTPTestResponse{
		ResponseRecorder: httptest.NewRecorder(),
		t:                t,
	}
}

// AssertStatus asserts the response status code.
func (r *HTTPTestResponse) AssertStatus(expected int) *HTTPTestResponse {
	r.t.Helper()
	if r.Code != expected {
		r.t.Errorf("expected status %d, got %d (body: %s)", expected, r.Code, r.Body.String())
	}
	return r
}

// AssertOK asserts status 200.
func (r *HTTPTestResponse) AssertOK() *HTTPTestResponse {
	r.t.Helper()
	return r.AssertStatus(http.StatusOK)
}

// AssertCreated asserts status 201.
func (r *HTTPTestResponse) AssertCreated() *HTTPTestResponse {
	r.t.Helper()
	return r.AssertStatus(http.StatusCreated)
}

// AssertErrorCode asserts the error envelope carries code.
func (r *HTTPTestResponse) AssertErrorCode(code string) *HTTPTestResponse {
	r.t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(r.Body.Bytes(), &body); err != nil {
		r.t.Fatalf("failed to decode error body %q: %v", r.Body.String(), err)
	}
	if body.Error.Code != code {
		r.t.Errorf("expected error code %s, got %s", code, body.Error.Code)
	}
	return r
}

// DecodeJSON decodes the response body as JSON.
func (r *HTTPTestResponse) DecodeJSON(v any) *HTTPTestResponse {
	r.t.Helper()
	if err := json.Unmarshal(r.Body.Bytes(), v); err != nil {
		r.t.Fatalf("failed to decode JSON %q: %v", r.Body.String(), err)
	}
	return r
}

// ExecuteRequest executes a request against a handler.
func ExecuteRequest(t *testing.T, handler http.Handler, req *http.Request) *HTTPTestResponse {
	resp := NewHTTPTestResponse(t)
	handler.ServeHTTP(resp, req)
	return resp
}

// StringPtr returns a pointer to a string.
func StringPtr(s string) *string {
	return &s
}
