package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mycobrun/geofence-service/geo"
	"github.com/mycobrun/geofence-service/geofence"
)

// DefaultRedisKeyPrefix namespaces every key the service writes.
const DefaultRedisKeyPrefix = "geofence:"

// updateIfExists replaces a hash field only when it is already present.
var updateIfExists = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
	redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// deleteAndMark removes a hash field and raises the high-water key to the
// removed id when it is larger.
var deleteAndMark = redis.NewScript(`
if redis.call("HDEL", KEYS[1], ARGV[1]) == 0 then
	return 0
end
local current = tonumber(redis.call("GET", KEYS[2]) or "0")
if tonumber(ARGV[1]) > current then
	redis.call("SET", KEYS[2], ARGV[1])
end
return 1
`)

// redisRecord is the JSON value stored per geofence.
type redisRecord struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Geom      string         `json:"geom"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

// RedisRepository keeps every geofence as a field of one hash, keyed by id.
// The highest deleted id lives in a separate string key.
type RedisRepository struct {
	client  *RedisClient
	key     string
	lastKey string
}

// NewRedisRepository returns a repository storing records under
// prefix + "geofences" and the high-water mark under prefix + "last_id".
func NewRedisRepository(client *RedisClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisRepository{client: client, key: prefix + "geofences", lastKey: prefix + "last_id"}
}

// Key returns the hash key holding the records.
func (r *RedisRepository) Key() string {
	return r.key
}

func (r *RedisRepository) Load(ctx context.Context) ([]*geofence.Geofence, error) {
	fields, err := r.client.Client().HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.key, err)
	}

	out := make([]*geofence.Geofence, 0, len(fields))
	for field, value := range fields {
		var rec redisRecord
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			return nil, fmt.Errorf("decode geofence %s: %w", field, err)
		}
		poly, err := geo.DecodeWKT(rec.Geom)
		if err != nil {
			return nil, fmt.Errorf("decode geometry of geofence %s: %w", field, err)
		}
		if rec.Metadata == nil {
			rec.Metadata = map[string]any{}
		}
		out = append(out, &geofence.Geofence{
			ID:        rec.ID,
			Name:      rec.Name,
			Polygon:   poly,
			Metadata:  rec.Metadata,
			CreatedAt: time.Unix(0, rec.CreatedAt).UTC(),
			UpdatedAt: time.Unix(0, rec.UpdatedAt).UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *RedisRepository) Insert(ctx context.Context, g *geofence.Geofence) error {
	value, err := encodeRecord(g)
	if err != nil {
		return err
	}
	ok, err := r.client.Client().HSetNX(ctx, r.key, field(g.ID), value).Result()
	if err != nil {
		return fmt.Errorf("insert geofence %d: %w", g.ID, err)
	}
	if !ok {
		return fmt.Errorf("insert geofence %d: id already stored", g.ID)
	}
	return nil
}

func (r *RedisRepository) Update(ctx context.Context, g *geofence.Geofence) error {
	value, err := encodeRecord(g)
	if err != nil {
		return err
	}
	n, err := updateIfExists.Run(ctx, r.client.Client(), []string{r.key}, field(g.ID), value).Int()
	if err != nil {
		return fmt.Errorf("update geofence %d: %w", g.ID, err)
	}
	if n == 0 {
		return geofence.ErrRecordNotFound
	}
	return nil
}

func (r *RedisRepository) Delete(ctx context.Context, id int64) error {
	n, err := deleteAndMark.Run(ctx, r.client.Client(), []string{r.key, r.lastKey}, field(id)).Int()
	if err != nil {
		return fmt.Errorf("delete geofence %d: %w", id, err)
	}
	if n == 0 {
		return geofence.ErrRecordNotFound
	}
	return nil
}

func (r *RedisRepository) HighWater(ctx context.Context) (int64, error) {
	id, err := r.client.Client().Get(ctx, r.lastKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", r.lastKey, err)
	}
	return id, nil
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func field(id int64) string {
	return strconv.FormatInt(id, 10)
}

func encodeRecord(g *geofence.Geofence) (string, error) {
	b, err := json.Marshal(redisRecord{
		ID:        g.ID,
		Name:      g.Name,
		Geom:      g.WKT(),
		Metadata:  g.Metadata,
		CreatedAt: g.CreatedAt.UnixNano(),
		UpdatedAt: g.UpdatedAt.UnixNano(),
	})
	if err != nil {
		return "", fmt.Errorf("encode geofence %d: %w", g.ID, err)
	}
	return string(b), nil
}
