package events

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-hq/lattice/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestRedisPublisher(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	ctx := context.Background()
	publisher := NewRedisPublisher(client, "lattice:events", testLogger())

	sub := client.Subscribe(ctx, "lattice:events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(ctx, Event{
		Type:     TypePermissionsChanged,
		TenantID: "tenant-1",
		UserID:   "user-1",
	}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
	assert.Equal(t, TypePermissionsChanged, event.Type)
	assert.Equal(t, "tenant-1", event.TenantID)
	assert.Equal(t, "user-1", event.UserID)
	assert.False(t, event.Timestamp.IsZero(), "timestamp is stamped on publish")
}

func TestSubscribeDispatchesEvents(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 1)
	go func() {
		_ = Subscribe(ctx, client, "lattice:events", testLogger(), func(e Event) {
			received <- e
		})
	}()

	publisher := NewRedisPublisher(client, "lattice:events", testLogger())
	require.Eventually(t, func() bool {
		_ = publisher.Publish(ctx, Event{Type: TypeEntityMoved, TenantID: "tenant-1", EntityID: "e1"})
		select {
		case event := <-received:
			assert.Equal(t, TypeEntityMoved, event.Type)
			assert.Equal(t, "e1", event.EntityID)
			return true
		default:
			return false
		}
	}, 2*time.Second, 50*time.Millisecond)
}

func TestNoopPublisher(t *testing.T) {
	assert.NoError(t, NoopPublisher{}.Publish(context.Background(), Event{Type: TypePolicyInstalled}))
}
