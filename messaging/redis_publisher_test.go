package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycobrun/geofence-service/geofence"
)

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisPublisher_Publish(t *testing.T) {
	fake := &fakeRedis{}
	p := newRedisPublisher(fake, "")
	assert.Equal(t, DefaultChannel, p.Channel())

	event := geofence.Event{
		Type:       geofence.EventCreated,
		ID:         7,
		Name:       "depot",
		Geom:       "POLYGON((0 0,1 0,1 1,0 0))",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Publish(context.Background(), event))
	assert.Equal(t, DefaultChannel, fake.channel)
	assert.JSONEq(t,
		`{"type":"geofence.created","id":7,"name":"depot","geom":"POLYGON((0 0,1 0,1 1,0 0))","occurred_at":"2026-03-01T12:00:00Z"}`,
		string(fake.payload))

	decoded, err := Decode(string(fake.payload))
	require.NoError(t, err)
	assert.Equal(t, event, decoded)
}

func TestRedisPublisher_DeleteOmitsGeometry(t *testing.T) {
	fake := &fakeRedis{}
	p := newRedisPublisher(fake, "events")

	require.NoError(t, p.Publish(context.Background(), geofence.Event{Type: geofence.EventDeleted, ID: 3, Name: "gone"}))
	assert.Equal(t, "events", fake.channel)
	assert.NotContains(t, string(fake.payload), "geom")
}

func TestRedisPublisher_Error(t *testing.T) {
	boom := errors.New("connection refused")
	p := newRedisPublisher(&fakeRedis{err: boom}, "events")

	err := p.Publish(context.Background(), geofence.Event{Type: geofence.EventUpdated, ID: 1})
	assert.ErrorIs(t, err, boom)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode("{not json")
	assert.Error(t, err)
}
