// Package events announces permission and hierarchy changes so caches in
// other processes can invalidate. The engine only publishes; consumers
// subscribe on the shared channel.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lattice-hq/lattice/pkg/observability"
)

// Event types published on the channel.
const (
	TypePermissionsChanged = "permissions.changed"
	TypeEntityMoved        = "entity.moved"
	TypePolicyInstalled    = "policy.installed"
)

// Event is one change notification
type Event struct {
	Type      string    `json:"type"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id,omitempty"`
	EntityID  string    `json:"entity_id,omitempty"`
	Table     string    `json:"table,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher announces events to interested consumers
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoopPublisher drops all events. Used when no Redis is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event Event) error { return nil }

// RedisPublisher fans events out over a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *observability.Logger
}

// NewRedisPublisher creates a publisher on the given channel
func NewRedisPublisher(client *redis.Client, channel string, logger *observability.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// Publish sends the event. Publish failures are reported but callers
// generally treat them as non-fatal: a missed invalidation ages out of
// caches via TTL.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe listens for events on the channel and invokes handler for each
// one until ctx is cancelled. Malformed payloads are logged and skipped.
func Subscribe(ctx context.Context, client *redis.Client, channel string, logger *observability.Logger, handler func(Event)) error {
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.WithError(err).Warn("Dropping malformed event payload")
				continue
			}
			handler(event)
		}
	}
}
