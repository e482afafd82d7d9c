package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"visualdiff/internal/core/domain"
	"visualdiff/internal/core/errs"
)

// Publisher is the subset of *redis.Client used by Redis.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// Redis publishes summaries to a pub/sub channel.
type Redis struct {
	client  Publisher
	channel string
}

// NewRedis dials addr lazily and publishes to channel.
func NewRedis(addr, password string, db int, channel string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisWithClient(client, channel)
}

// NewRedisWithClient publishes through an existing client.
func NewRedisWithClient(client Publisher, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

// Notify implements ports.Notifier.
func (r *Redis) Notify(ctx context.Context, s domain.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errs.Wrap(errs.CodeNotify, err, "failed to encode summary")
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return errs.Wrap(errs.CodeNotify, err, "failed to publish to %s", r.channel)
	}
	return nil
}

// Close implements ports.Notifier.
func (r *Redis) Close() error {
	return r.client.Close()
}
