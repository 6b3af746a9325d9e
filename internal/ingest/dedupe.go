package ingest

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "permit:ingest:"

// Deduper remembers which deliveries were already handed to the bus.
type Deduper interface {
	// Claim reports whether key is seen for the first time.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a redelivery is processed again.
	Release(ctx context.Context, key string) error
}

// RedisDeduper claims keys with SET NX and a TTL.
type RedisDeduper struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, dedupeKeyPrefix+key, time.Now().UTC().Unix(), d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, dedupeKeyPrefix+key).Err()
}

// noDedupe processes every delivery. Used when redis is not configured.
type noDedupe struct{}

func (noDedupe) Claim(context.Context, string) (bool, error) { return true, nil }
func (noDedupe) Release(context.Context, string) error        { return nil }
