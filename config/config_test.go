package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"ENVIRONMENT", "VERSION", "PORT", "READ_TIMEOUT", "WRITE_TIMEOUT", "IDLE_TIMEOUT",
	"SHUTDOWN_TIMEOUT", "API_BASE_PATH", "LOG_LEVEL", "AUTHORIZATION_KEY", "JWT_SECRET",
	"JWT_ISSUER", "STORE_BACKEND", "SQLITE_PATH", "DATABASE_URL", "REDIS_ADDR",
	"REDIS_PASSWORD", "REDIS_DB", "REDIS_KEY_PREFIX", "EVENTS_CHANNEL", "GRID_CELL_SIZE",
	"GRID_MAX_CELLS", "RATE_LIMIT_ENABLED", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"CORS_ALLOWED_ORIGINS", "OTEL_EXPORTER_OTLP_ENDPOINT", "TRACE_SAMPLE_RATE",
	"METRICS_EXPORT_INTERVAL", "REDIS_TLS",
}

// cleanEnv blanks every key Load reads, restoring them after the test.
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_DevelopmentDefaults(t *testing.T) {
	cleanEnv(t)

	cfg, err := Load("geofenced", noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "geofenced", cfg.ServiceName)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/api", cfg.BasePath)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 20*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 0.25, cfg.GridCellSize)
	assert.Equal(t, 4096, cfg.GridMaxCells)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.NotEmpty(t, cfg.AuthorizationKey)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.True(t, cfg.RateLimitEnabled)
	assert.Equal(t, 60*time.Second, cfg.MetricsExportInterval)
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	cleanEnv(t)
	t.Setenv("ENVIRONMENT", "production")

	_, err := Load("geofenced", noEnvFile(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTHORIZATION_KEY is required")
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
}

func TestLoad_FromEnv(t *testing.T) {
	cleanEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("AUTHORIZATION_KEY", "k")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("PORT", "9000")
	t.Setenv("API_BASE_PATH", "v1/")
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/geo")
	t.Setenv("GRID_CELL_SIZE", "0.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("METRICS_EXPORT_INTERVAL", "15s")

	cfg, err := Load("geofenced", noEnvFile(t))
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/v1", cfg.BasePath)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, 0.5, cfg.GridCellSize)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 15*time.Second, cfg.MetricsExportInterval)
}

func TestLoad_EnvFile(t *testing.T) {
	cleanEnv(t)
	t.Setenv("PORT", "7000")

	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("PORT=6000\nLOG_LEVEL=debug\nSTORE_BACKEND=sqlite\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("STORE_BACKEND")
	})

	cfg, err := Load("geofenced", file)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Port, "process environment wins over .env")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			AuthorizationKey: "k",
			JWTSecret:        "s",
			Port:             8080,
			StoreBackend:     BackendMemory,
			GridCellSize:     0.25,
			GridMaxCells:     10,
			RateLimitEnabled: true,
			RateLimitRPS:     1,
			RateLimitBurst:   1,
			TraceSampleRate:  1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown backend", func(c *Config) { c.StoreBackend = "cassandra" }, "unknown STORE_BACKEND"},
		{"postgres without url", func(c *Config) { c.StoreBackend = BackendPostgres }, "DATABASE_URL"},
		{"redis without addr", func(c *Config) { c.StoreBackend = BackendRedis }, "REDIS_ADDR"},
		{"zero cell size", func(c *Config) { c.GridCellSize = 0 }, "GRID_CELL_SIZE"},
		{"negative max cells", func(c *Config) { c.GridMaxCells = -1 }, "GRID_MAX_CELLS"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "PORT"},
		{"bad sample rate", func(c *Config) { c.TraceSampleRate = 2 }, "TRACE_SAMPLE_RATE"},
		{"rate limit disabled ignores rps", func(c *Config) { c.RateLimitEnabled = false; c.RateLimitRPS = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNormalizeBasePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/api", "/api"},
		{"api", "/api"},
		{"/api/", "/api"},
		{"/", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeBasePath(tt.in); got != tt.want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT_VALID", "42")
	t.Setenv("TEST_INT_INVALID", "not-an-int")
	t.Setenv("TEST_BOOL", "1")
	t.Setenv("TEST_DURATION", "2m")
	t.Setenv("TEST_FLOAT", "0.125")

	assert.Equal(t, 42, getEnvInt("TEST_INT_VALID", 0))
	assert.Equal(t, 99, getEnvInt("TEST_INT_INVALID", 99))
	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.Equal(t, 2*time.Minute, getEnvDuration("TEST_DURATION", 0))
	assert.Equal(t, 0.125, getEnvFloat("TEST_FLOAT", 0))
	assert.Equal(t, "fallback", getEnv("NONEXISTENT_VAR_12345", "fallback"))
}
