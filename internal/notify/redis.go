package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"escrow-sync-go/internal/models"

	"github.com/redis/go-redis/v9"
)

// Redis publishes agreement events on a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis accepts either a redis:// URL or a bare host:port.
func NewRedis(ctx context.Context, redisURL, channel string) (*Redis, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to reach redis: %w", err)
	}

	return &Redis{client: client, channel: channel}, nil
}

func (r *Redis) Publish(ctx context.Context, ev models.AgreementEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode agreement event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis channel %s: %w", r.channel, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
