package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
	Key      string `yaml:"key"`
}

func (c *RedisConfig) ApplyDefaults() {
	if c.Channel == "" {
		c.Channel = "sensorhub:stream"
	}
	if c.Key == "" {
		c.Key = "sensorhub:current"
	}
}

// redisClient is the part of *redis.Client the sink uses.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisSink caches the latest snapshot under Key and publishes every batch
// snapshot on Channel, so late readers and live subscribers both work.
type RedisSink struct {
	client redisClient
	cfg    RedisConfig
}

func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewRedisSink(client redisClient, cfg RedisConfig) *RedisSink {
	cfg.ApplyDefaults()
	return &RedisSink{client: client, cfg: cfg}
}

func (r *RedisSink) Name() string { return "redis" }

func (r *RedisSink) WriteBatch(ctx context.Context, batches []domain.Batch) error {
	if len(batches) == 0 {
		return nil
	}
	for _, b := range batches {
		body, err := json.Marshal(b.Snapshot)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		if err := r.client.Publish(ctx, r.cfg.Channel, body).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", r.cfg.Channel, err)
		}
	}

	latest, err := json.Marshal(batches[len(batches)-1].Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.cfg.Key, latest, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", r.cfg.Key, err)
	}
	return nil
}

func (r *RedisSink) Close() error { return r.client.Close() }

var _ ports.Sink = (*RedisSink)(nil)
