package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycobrun/geofence-service/spatial"
)

var errDown = errors.New("down")

func ok(ctx context.Context) error   { return nil }
func fail(ctx context.Context) error { return errDown }

func TestChecker_Check(t *testing.T) {
	tests := []struct {
		name     string
		critical CheckFunc
		optional CheckFunc
		want     Status
	}{
		{"all healthy", ok, ok, StatusHealthy},
		{"critical failure", fail, ok, StatusUnhealthy},
		{"non-critical failure", ok, fail, StatusDegraded},
		{"both fail", fail, fail, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker("1.0.0")
			c.AddCheck("repository", tt.critical, true)
			c.AddCheck("index", tt.optional, false)

			resp := c.Check(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Equal(t, "1.0.0", resp.Version)
			require.Len(t, resp.Checks, 2)
			assert.Equal(t, "repository", resp.Checks[0].Name)
			assert.Equal(t, "index", resp.Checks[1].Name)
		})
	}
}

func TestChecker_Check_NoChecks(t *testing.T) {
	resp := NewChecker("").Check(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Empty(t, resp.Checks)
	_, err := time.Parse(time.RFC3339, resp.Timestamp)
	assert.NoError(t, err)
}

func TestChecker_FailureMessage(t *testing.T) {
	c := NewChecker("")
	c.AddCheck("repository", fail, true)

	resp := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Checks[0].Status)
	assert.Equal(t, "down", resp.Checks[0].Message)
}

func TestChecker_LivenessHandler(t *testing.T) {
	c := NewChecker("")
	c.AddCheck("repository", fail, true)

	w := httptest.NewRecorder()
	c.LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"alive"}`, w.Body.String())
}

func TestChecker_ReadinessHandler(t *testing.T) {
	tests := []struct {
		name     string
		check    CheckFunc
		critical bool
		want     int
	}{
		{"healthy", ok, true, http.StatusOK},
		{"degraded still ready", fail, false, http.StatusOK},
		{"unhealthy", fail, true, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker("v")
			c.AddCheck("x", tt.check, tt.critical)

			w := httptest.NewRecorder()
			c.ReadinessHandler()(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.want, w.Code)
			var body HealthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Len(t, body.Checks, 1)
		})
	}
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRepositoryCheck(t *testing.T) {
	assert.NoError(t, RepositoryCheck(pingerFunc(ok), time.Second)(context.Background()))
	assert.ErrorIs(t, RepositoryCheck(pingerFunc(fail), time.Second)(context.Background()), errDown)

	slow := pingerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	err := RepositoryCheck(slow, 10*time.Millisecond)(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIndexCheck(t *testing.T) {
	tests := []struct {
		name    string
		entries int
		stored  int
		wantErr bool
	}{
		{"in step", 3, 3, false},
		{"stale extra entries", 4, 3, false},
		{"missing entries", 2, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := IndexCheck(
				func() spatial.Stats { return spatial.Stats{Entries: tt.entries} },
				func() int { return tt.stored },
			)
			err := check(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("IndexCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChecker_ConcurrentAddAndCheck(t *testing.T) {
	c := NewChecker("")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.AddCheck("x", ok, false)
		}()
		go func() {
			defer wg.Done()
			_ = c.Check(context.Background())
		}()
	}
	wg.Wait()

	assert.Len(t, c.Check(context.Background()).Checks, 20)
}
