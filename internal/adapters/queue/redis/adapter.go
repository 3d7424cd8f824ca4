package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/logger"
	"tally.bridge/internal/core/ports"
)

const (
	EventChannel = "tally:events"
	ConfigKey    = "tally:config"
)

// RedisAdapter is the bridge event bus and the persisted BridgeConfig store.
type RedisAdapter struct {
	client *redis.Client
}

var (
	_ ports.EventBus    = (*RedisAdapter)(nil)
	_ ports.ConfigStore = (*RedisAdapter)(nil)
)

func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

// PublishEvent broadcasts event to every bridge instance subscribed to EventChannel.
func (r *RedisAdapter) PublishEvent(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, EventChannel, data).Err()
}

// SubscribeEvents streams events until ctx is cancelled. Malformed messages are skipped.
func (r *RedisAdapter) SubscribeEvents(ctx context.Context) (<-chan domain.Event, error) {
	pubsub := r.client.Subscribe(ctx, EventChannel)
	// Wait for the subscription to be confirmed so early publishes are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", EventChannel, err)
	}
	ch := make(chan domain.Event)

	go func() {
		defer pubsub.Close()
		defer close(ch)

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logger.Warn("Dropping malformed event", "error", err)
					continue
				}
				select {
				case ch <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (r *RedisAdapter) LoadConfig(ctx context.Context) (*domain.BridgeConfig, error) {
	data, err := r.client.Get(ctx, ConfigKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg domain.BridgeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func (r *RedisAdapter) SaveConfig(ctx context.Context, cfg domain.BridgeConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, ConfigKey, data, 0).Err()
}
