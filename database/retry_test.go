package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/mycobrun/geofence-service/geo"
	"github.com/mycobrun/geofence-service/geofence"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", config.MaxRetries)
	}
	if config.InitialDelay != 100*time.Millisecond {
		t.Errorf("expected InitialDelay=100ms, got %v", config.InitialDelay)
	}
	if config.Jitter != 0.2 {
		t.Errorf("expected Jitter=0.2, got %f", config.Jitter)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected no error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(3), func() error {
		attempts++
		return errors.New("i/o timeout")
	})
	if err == nil {
		t.Fatal("expected error after max retries")
	}
	if err.Error() != "max retries (3) exceeded: i/o timeout" {
		t.Errorf("unexpected error message: %v", err)
	}
	if attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", attempts)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := fastRetry(5)
	config.InitialDelay = time.Second
	config.MaxDelay = time.Second

	attempts := 0
	err := Retry(ctx, config, func() error {
		attempts++
		cancel()
		return errors.New("connection reset by peer")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context cancellation error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_PermanentErrorStopsImmediately(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(3), func() error {
		attempts++
		return fmt.Errorf("update: %w", geofence.ErrRecordNotFound)
	})
	if !errors.Is(err, geofence.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryWithResult(t *testing.T) {
	attempts := 0
	got, err := RetryWithResult(context.Background(), fastRetry(2), func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("database is locked")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected result=ok, got %q", got)
	}
}

func TestCalculateDelay(t *testing.T) {
	base := RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
	}

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"first retry", 0, 100 * time.Millisecond},
		{"second retry", 1, 200 * time.Millisecond},
		{"capped at max delay", 10, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calculateDelay(base, tt.attempt); got != tt.want {
				t.Errorf("expected delay=%v, got %v", tt.want, got)
			}
		})
	}

	t.Run("with jitter", func(t *testing.T) {
		cfg := base
		cfg.Jitter = 0.2
		for i := 0; i < 50; i++ {
			d := calculateDelay(cfg, 0)
			if d < 80*time.Millisecond || d > 120*time.Millisecond {
				t.Fatalf("delay %v outside jitter bounds", d)
			}
		}
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", fmt.Errorf("ping: %w", context.DeadlineExceeded), false},
		{"record not found", geofence.ErrRecordNotFound, false},
		{"malformed geometry", fmt.Errorf("load: %w", geo.ErrMalformedGeometry), false},
		{"redis nil", redis.Nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"redis loading", errors.New("LOADING Redis is loading the dataset in memory"), true},
		{"pg connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"pg serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"pg cannot connect now", &pgconn.PgError{Code: "57P03"}, true},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"pg syntax error", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "42601"}), false},
		{"unknown error", errors.New("something odd"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("expected retryable=%v, got %v", tt.retryable, got)
			}
		})
	}
}
