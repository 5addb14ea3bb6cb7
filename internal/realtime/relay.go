package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

// RelayChannel is the Redis pub/sub channel shared by all instances.
const RelayChannel = "realtime:events"

type relayEnvelope struct {
	Token string          `json:"token"`
	Event json.RawMessage `json:"event"`
}

// RedisRelay fans events out to every instance through Redis pub/sub so a
// turn finishing on one instance reaches a client connected to another.
type RedisRelay struct {
	client  *redis.Client
	hub     *Hub
	channel string
}

// Ensure RedisRelay implements Pusher.
var _ Pusher = (*RedisRelay)(nil)

// NewRedisRelay creates a relay delivering to hub.
func NewRedisRelay(client *redis.Client, hub *Hub) *RedisRelay {
	return &RedisRelay{client: client, hub: hub, channel: RelayChannel}
}

// Push publishes the event. It reports whether the publish succeeded; the
// instance holding the connection performs the actual write.
func (r *RedisRelay) Push(ctx context.Context, token string, event Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to encode realtime event", "session_id", token, "rpc", event.RPC, "error", err)
		return false
	}
	payload, err := json.Marshal(relayEnvelope{Token: token, Event: data})
	if err != nil {
		slog.Error("Failed to encode relay envelope", "session_id", token, "error", err)
		return false
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		slog.Warn("Relay publish failed, delivering locally", "session_id", token, "error", err)
		return r.hub.deliver(ctx, token, data)
	}
	return true
}

// Run subscribes to the relay channel and delivers to the local hub until
// ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			slog.Debug("Failed to close relay subscription", "error", err)
		}
	}()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	slog.Info("Realtime relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(ctx context.Context, payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		slog.Warn("Dropping malformed relay message", "error", err)
		return
	}
	if env.Token == "" {
		return
	}
	r.hub.deliver(ctx, env.Token, env.Event)
}
