package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mycobrun/geofence-service/geofence"
	"github.com/mycobrun/geofence-service/logging"
)

// Backend names a repository implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

// Valid reports whether b is a known backend.
func (b Backend) Valid() bool {
	switch b {
	case BackendMemory, BackendSQLite, BackendPostgres, BackendRedis:
		return true
	}
	return false
}

// ConnectionConfig selects and configures the repository backend.
type ConnectionConfig struct {
	Backend        Backend
	SQLitePath     string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisTLS       bool
	RedisKeyPrefix string
	ConnTimeout    time.Duration
	Retry          RetryConfig
}

// Connections holds the opened repository and any clients behind it. Redis
// is set only for the redis backend.
type Connections struct {
	Repository geofence.Repository
	SQL        *SQLClient
	Redis      *RedisClient
	Backend    Backend
}

// Open connects to the configured backend, retrying transient failures, and
// applies schema migrations for SQL backends.
func Open(ctx context.Context, cfg ConnectionConfig, logger *logging.Logger) (*Connections, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.ConnTimeout <= 0 {
		cfg.ConnTimeout = 30 * time.Second
	}

	switch cfg.Backend {
	case BackendMemory, "":
		logger.Info("using in-memory geofence repository")
		return &Connections{Repository: geofence.NewMemoryRepository(), Backend: BackendMemory}, nil

	case BackendSQLite, BackendPostgres:
		dialect, dsn := DialectSQLite, cfg.SQLitePath
		if cfg.Backend == BackendPostgres {
			dialect, dsn = DialectPostgres, cfg.DatabaseURL
		}
		if dsn == "" {
			return nil, fmt.Errorf("%s backend requires a connection string", cfg.Backend)
		}

		client, err := RetryWithResult(ctx, cfg.Retry, func() (*SQLClient, error) {
			connCtx, cancel := context.WithTimeout(ctx, cfg.ConnTimeout)
			defer cancel()
			return NewSQLClient(connCtx, DefaultSQLConfig(dialect, dsn))
		})
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", cfg.Backend, err)
		}

		repo, err := NewSQLRepository(ctx, client)
		if err != nil {
			client.Close()
			return nil, err
		}
		logger.Info("connected geofence repository", "backend", string(cfg.Backend))
		return &Connections{Repository: repo, SQL: client, Backend: cfg.Backend}, nil

	case BackendRedis:
		redisCfg := DefaultRedisConfig(cfg.RedisAddr)
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		redisCfg.TLS = cfg.RedisTLS

		client, err := RetryWithResult(ctx, cfg.Retry, func() (*RedisClient, error) {
			connCtx, cancel := context.WithTimeout(ctx, cfg.ConnTimeout)
			defer cancel()
			return NewRedisClient(connCtx, redisCfg)
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("connected geofence repository", "backend", string(cfg.Backend), "addr", cfg.RedisAddr)
		return &Connections{
			Repository: NewRedisRepository(client, cfg.RedisKeyPrefix),
			Redis:      client,
			Backend:    BackendRedis,
		}, nil
	}

	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// Close releases the repository.
func (c *Connections) Close() error {
	if c == nil || c.Repository == nil {
		return nil
	}
	return c.Repository.Close()
}
