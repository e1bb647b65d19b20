// Package config loads service configuration from the environment, with an
// optional .env file underneath.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds the service configuration.
type Config struct {
	// Service identification
	ServiceName string
	Environment string
	Version     string

	// HTTP server
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	BasePath        string
	CORSOrigins     []string

	// Logging
	LogLevel string

	// Credentials
	AuthorizationKey string
	JWTSecret        string
	JWTIssuer        string

	// Storage
	StoreBackend   string
	SQLitePath     string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisTLS       bool
	RedisKeyPrefix string
	EventsChannel  string

	// Spatial index
	GridCellSize float64
	GridMaxCells int

	// Rate limiting
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// Telemetry
	OTLPEndpoint          string
	TraceSampleRate       float64
	MetricsExportInterval time.Duration
}

// Load reads configuration for serviceName. Variables already present in
// the environment win over the .env files, which default to ".env". Missing
// files are ignored.
func Load(serviceName string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{
		ServiceName:     serviceName,
		Environment:     getEnv("ENVIRONMENT", "development"),
		Version:         getEnv("VERSION", "0.0.1"),
		Port:            getEnvInt("PORT", 8080),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 20*time.Second),
		BasePath:        normalizeBasePath(getEnv("API_BASE_PATH", "/api")),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		AuthorizationKey: os.Getenv("AUTHORIZATION_KEY"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTIssuer:        getEnv("JWT_ISSUER", ""),

		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		SQLitePath:     getEnv("SQLITE_PATH", "geofences.db"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisTLS:       getEnvBool("REDIS_TLS", false),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "geofence:"),
		EventsChannel:  getEnv("EVENTS_CHANNEL", "geofence-events"),

		GridCellSize: getEnvFloat("GRID_CELL_SIZE", 0.25),
		GridMaxCells: getEnvInt("GRID_MAX_CELLS", 4096),

		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPS:     getEnvFloat("RATE_LIMIT_RPS", 50),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 100),

		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRate:       getEnvFloat("TRACE_SAMPLE_RATE", 1.0),
		MetricsExportInterval: getEnvDuration("METRICS_EXPORT_INTERVAL", 60*time.Second),
	}

	defaultOrigins := "*"
	if cfg.IsProduction() {
		defaultOrigins = ""
	}
	cfg.CORSOrigins = getEnvSlice("CORS_ALLOWED_ORIGINS", defaultOrigins)

	if cfg.IsDevelopment() {
		if cfg.AuthorizationKey == "" {
			cfg.AuthorizationKey = "development-only-key"
		}
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = "development-only-secret-do-not-use-in-prod"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad loads configuration and panics on error.
func MustLoad(serviceName string) *Config {
	cfg, err := Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.AuthorizationKey == "" {
		errs = append(errs, stderrors.New("AUTHORIZATION_KEY is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, stderrors.New("JWT_SECRET is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, stderrors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, stderrors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, stderrors.New("REDIS_ADDR is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	if !(c.GridCellSize > 0) {
		errs = append(errs, fmt.Errorf("GRID_CELL_SIZE must be positive, got %v", c.GridCellSize))
	}
	if c.GridMaxCells <= 0 {
		errs = append(errs, fmt.Errorf("GRID_MAX_CELLS must be positive, got %d", c.GridMaxCells))
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		errs = append(errs, stderrors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		errs = append(errs, fmt.Errorf("TRACE_SAMPLE_RATE must be within [0, 1], got %v", c.TraceSampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", stderrors.Join(errs...))
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func normalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvSlice splits a comma-separated variable, dropping empty elements.
func getEnvSlice(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
