// Package messaging delivers geofence change events to subscribers.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mycobrun/geofence-service/geofence"
	"github.com/mycobrun/geofence-service/telemetry"
)

// DefaultChannel is the Pub/Sub channel events go to when none is configured.
const DefaultChannel = "geofence-events"

// Publishing only needs PUBLISH, so tests can substitute the client.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher publishes JSON-encoded events on a Redis Pub/Sub channel.
type RedisPublisher struct {
	client  redisPublisher
	channel string
	tracer  trace.Tracer
}

// PublisherOption configures a RedisPublisher.
type PublisherOption func(*RedisPublisher)

// WithTracer sets the tracer used for publish spans.
func WithTracer(t trace.Tracer) PublisherOption {
	return func(p *RedisPublisher) {
		p.tracer = t
	}
}

// NewRedisPublisher returns a publisher for channel.
func NewRedisPublisher(client *redis.Client, channel string, opts ...PublisherOption) *RedisPublisher {
	return newRedisPublisher(client, channel, opts...)
}

func newRedisPublisher(client redisPublisher, channel string, opts ...PublisherOption) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	p := &RedisPublisher{
		client:  client,
		channel: channel,
		tracer:  otel.Tracer(telemetry.TracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Channel returns the destination channel.
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Publish sends event. A channel without subscribers is not an error.
func (p *RedisPublisher) Publish(ctx context.Context, event geofence.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}

	return telemetry.WrapMessagingOperation(ctx, p.tracer, "redis", p.channel, "publish", func(ctx context.Context) error {
		if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
			return fmt.Errorf("publish %s event for geofence %d: %w", event.Type, event.ID, err)
		}
		return nil
	})
}

// Decode parses a payload received from the channel.
func Decode(payload string) (geofence.Event, error) {
	var event geofence.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return geofence.Event{}, fmt.Errorf("decode geofence event: %w", err)
	}
	return event, nil
}
