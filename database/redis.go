package database

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig selects the Redis server and sizes the connection pool shared
// by the repository and the event publisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
	PoolSize int
	MinIdle  int
}

// DefaultRedisConfig targets addr over plain TCP with a 50 connection pool.
func DefaultRedisConfig(addr string) RedisConfig {
	return RedisConfig{Addr: addr, PoolSize: 50, MinIdle: 5}
}

func (c RedisConfig) options() *redis.Options {
	opts := &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdle,
	}
	if c.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// RedisClient owns a go-redis client. Repositories and publishers borrow it
// through Client; only the owner closes it.
type RedisClient struct {
	rdb *redis.Client
}

// NewRedisClient dials and fails unless the server answers PING.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*RedisClient, error) {
	rdb := redis.NewClient(cfg.options())
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return &RedisClient{rdb: rdb}, nil
}

func (r *RedisClient) Client() *redis.Client { return r.rdb }

func (r *RedisClient) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *RedisClient) Close() error { return r.rdb.Close() }
