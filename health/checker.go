// Package health provides liveness and readiness reporting.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mycobrun/geofence-service/spatial"
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckFunc is a function that performs a health check.
type CheckFunc func(ctx context.Context) error

// Check represents a single health check.
type Check struct {
	Name     string
	CheckFn  CheckFunc
	Critical bool // If true, failure means the service is unhealthy
}

// CheckResult represents the result of a health check.
type CheckResult struct {
	Name    string  `json:"name"`
	Status  Status  `json:"status"`
	Message string  `json:"message,omitempty"`
	Latency float64 `json:"latency_ms"`
}

// HealthResponse is the response for health endpoints.
type HealthResponse struct {
	Status    Status        `json:"status"`
	Timestamp string        `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []CheckResult `json:"checks,omitempty"`
}

// Checker manages health checks.
type Checker struct {
	version string
	timeout time.Duration

	mu     sync.RWMutex
	checks []Check
}

// NewChecker creates a new health checker.
func NewChecker(version string) *Checker {
	return &Checker{
		version: version,
		timeout: 5 * time.Second,
	}
}

// AddCheck adds a health check.
func (c *Checker) AddCheck(name string, fn CheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks = append(c.checks, Check{
		Name:     name,
		CheckFn:  fn,
		Critical: critical,
	})
}

// Check runs all health checks concurrently. A failing critical check makes
// the service unhealthy; a failing non-critical one only degrades it.
func (c *Checker) Check(ctx context.Context) HealthResponse {
	c.mu.RLock()
	checks := append([]Check(nil), c.checks...)
	c.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	failed := make([]bool, len(checks))

	var wg sync.WaitGroup
	for i, check := range checks {
		i, check := i, check
		wg.Add(1)
		go func() {
			defer wg.Done()

			start := time.Now()
			err := check.CheckFn(ctx)
			results[i] = CheckResult{
				Name:    check.Name,
				Status:  StatusHealthy,
				Latency: float64(time.Since(start).Microseconds()) / 1000,
			}
			if err != nil {
				results[i].Status = StatusUnhealthy
				results[i].Message = err.Error()
				failed[i] = true
			}
		}()
	}
	wg.Wait()

	overall := StatusHealthy
	for i, check := range checks {
		if !failed[i] {
			continue
		}
		if check.Critical {
			overall = StatusUnhealthy
			break
		}
		overall = StatusDegraded
	}

	return HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   c.version,
		Checks:    results,
	}
}

// LivenessHandler reports that the process is up. It runs no checks.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessHandler runs every check and answers 503 when a critical one
// fails.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
		defer cancel()

		response := c.Check(ctx)

		status := http.StatusOK
		if response.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Pinger is implemented by the geofence repositories.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RepositoryCheck pings the durable backend.
func RepositoryCheck(p Pinger, timeout time.Duration) CheckFunc {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return p.Ping(ctx)
	}
}

// IndexCheck compares the spatial index with the number of stored
// geofences. The index may hold stale cells but never fewer entries than
// there are records.
func IndexCheck(stats func() spatial.Stats, stored func() int) CheckFunc {
	return func(ctx context.Context) error {
		s := stats()
		if n := stored(); s.Entries < n {
			return fmt.Errorf("spatial index has %d entries for %d geofences", s.Entries, n)
		}
		return nil
	}
}
