package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/verifdevis/devis-cli/internal/config"
)

const purgeBatch = 200

// Redis stores entries in Redis under a key prefix.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis connects to the configured Redis server and pings it.
func NewRedis(cfg config.CacheConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrapf(err, "cache: ping redis %s", cfg.RedisAddr)
	}
	return NewRedisFromClient(client, cfg.Prefix), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "cache: redis get")
	}
	return v, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return eris.Wrap(r.client.Set(ctx, r.prefix+key, value, ttl).Err(), "cache: redis set")
}

// Purge deletes every key under the prefix and returns how many were removed.
// Keys are collected before deletion so that deletes never shift the scan.
func (r *Redis) Purge(ctx context.Context) (int, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"company:*", purgeBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, eris.Wrap(err, "cache: redis scan")
	}

	var n int
	for start := 0; start < len(keys); start += purgeBatch {
		end := min(start+purgeBatch, len(keys))
		deleted, err := r.client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return n, eris.Wrap(err, "cache: redis delete")
		}
		n += int(deleted)
	}
	return n, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
