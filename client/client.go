// Package client is a Go SDK for the geofence service.
package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mycobrun/geofence-service/api"
	"github.com/mycobrun/geofence-service/errors"
	"github.com/mycobrun/geofence-service/geofence"
	pkghttp "github.com/mycobrun/geofence-service/http"
)

// Config holds client configuration.
type Config struct {
	// BaseURL includes the API base path, e.g. http://localhost:8080/api.
	BaseURL string
	// APIKey is sent as the authorization-key header.
	APIKey string
	// Token is sent as a bearer token.
	Token   string
	Timeout time.Duration
	// Transport overrides the underlying round tripper.
	Transport http.RoundTripper
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(baseURL, apiKey, token string) Config {
	return Config{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Token:   token,
		Timeout: 10 * time.Second,
	}
}

// Client is an HTTP client for the geofence routes.
type Client struct {
	http *pkghttp.ResilientClient
}

// New creates a client.
func New(cfg Config) *Client {
	rc := pkghttp.DefaultResilientClientConfig("geofence-service", cfg.BaseURL)
	if cfg.Timeout > 0 {
		rc.Timeout = cfg.Timeout
	}
	rc.Transport = cfg.Transport
	rc.Headers = map[string]string{}
	if cfg.APIKey != "" {
		rc.Headers[pkghttp.APIKeyHeader] = cfg.APIKey
	}
	if cfg.Token != "" {
		rc.Headers["Authorization"] = "Bearer " + cfg.Token
	}
	return &Client{http: pkghttp.NewResilientClient(rc)}
}

// Create stores a new geofence. Coordinates are [lng, lat] pairs.
func (c *Client) Create(ctx context.Context, name string, coordinates [][]float64, metadata map[string]any) (*api.GeofenceResponse, error) {
	var out api.GeofenceResponse
	err := c.do(ctx, pkghttp.Request{
		Method: http.MethodPost,
		Path:   "/geofences",
		Body:   api.CreateGeofenceRequest{Name: name, Coordinates: coordinates, Metadata: metadata},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns every geofence ordered by id.
func (c *Client) List(ctx context.Context) ([]api.GeofenceResponse, error) {
	var out []api.GeofenceResponse
	if err := c.do(ctx, pkghttp.Request{Method: http.MethodGet, Path: "/geofences/list"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches one geofence.
func (c *Client) Get(ctx context.Context, id int64) (*api.GeofenceResponse, error) {
	var out api.GeofenceResponse
	if err := c.do(ctx, pkghttp.Request{Method: http.MethodGet, Path: geofencePath(id)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update applies a partial update. Nil fields are left unchanged.
func (c *Client) Update(ctx context.Context, id int64, req api.UpdateGeofenceRequest) (*api.GeofenceResponse, error) {
	var out api.GeofenceResponse
	err := c.do(ctx, pkghttp.Request{Method: http.MethodPut, Path: geofencePath(id), Body: req}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a geofence.
func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, pkghttp.Request{Method: http.MethodDelete, Path: geofencePath(id)}, nil)
}

// Status returns the geofences containing (lat, lon).
func (c *Client) Status(ctx context.Context, lat, lon float64) ([]geofence.Match, error) {
	var out api.StatusResponse
	err := c.do(ctx, pkghttp.Request{
		Method:     http.MethodPost,
		Path:       "/geofences/status",
		Body:       api.StatusRequest{Lat: &lat, Lon: &lon},
		Idempotent: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.InsideGeofences, nil
}

// CircuitState reports the state of the client's circuit breaker.
func (c *Client) CircuitState() pkghttp.CircuitState {
	return c.http.CircuitState()
}

func (c *Client) do(ctx context.Context, req pkghttp.Request, result any) error {
	return toAppError(c.http.DoJSON(ctx, req, result))
}

func geofencePath(id int64) string {
	return "/geofences/" + strconv.FormatInt(id, 10)
}

// toAppError turns service error bodies back into *errors.AppError so
// callers can use errors.IsNotFound and friends.
func toAppError(err error) error {
	var httpErr *pkghttp.HTTPError
	if !stderrors.As(err, &httpErr) {
		return err
	}

	var body errors.ErrorResponse
	if jsonErr := json.Unmarshal(httpErr.Body, &body); jsonErr != nil || body.Error.Code == "" {
		return errors.Wrap(err, errors.CodeInternal, fmt.Sprintf("unexpected HTTP %d", httpErr.StatusCode))
	}
	appErr := errors.Wrap(err, body.Error.Code, body.Error.Message)
	appErr.Details = body.Error.Details
	return appErr
}
