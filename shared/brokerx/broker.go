package brokerx

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"vehicle-generator-service/shared/config"
)

// Broker fans out messages to live subscribers over Redis pub/sub.
// Delivery is fire-and-forget: subscribers that are not connected at
// publish time never see the message.
type Broker struct {
	redis *redis.Client
}

type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func New(cfg config.Config) (*Broker, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Broker{redis: rdb}, nil
}

func (b *Broker) Ping(ctx context.Context) error {
	if b == nil || b.redis == nil {
		return errors.New("redis client not initialized")
	}
	return b.redis.Ping(ctx).Err()
}

func (b *Broker) Publish(ctx context.Context, channel string, messageType string, payload any) error {
	if b == nil || b.redis == nil {
		return errors.New("redis client not initialized")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(message{Type: messageType, Data: data})
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, channel, raw).Err()
}

func (b *Broker) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	if b == nil || b.redis == nil {
		return nil
	}
	return b.redis.Subscribe(ctx, channels...)
}

func (b *Broker) Close() error {
	if b == nil || b.redis == nil {
		return nil
	}
	return b.redis.Close()
}

func (b *Broker) Client() *redis.Client {
	if b == nil {
		return nil
	}
	return b.redis
}
