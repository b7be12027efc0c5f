package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dshills/warden"
)

const defaultRedisPrefix = "warden:kv"

// RedisKVConfig configures the Redis-backed key-value store.
type RedisKVConfig struct {
	Address  string
	Password string
	DB       int
	// Prefix namespaces all keys written by this store. Defaults to
	// "warden:kv".
	Prefix string
}

// RedisKV is a Redis-backed namespaced key-value store. Values expire
// server-side when written with a TTL.
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV connects to Redis and verifies the connection.
func NewRedisKV(ctx context.Context, cfg RedisKVConfig) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping redis: %v", warden.ErrStorageFailure, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisKV{client: client, prefix: prefix}, nil
}

func (r *RedisKV) key(namespace, key string) string {
	return r.prefix + ":" + namespace + ":" + key
}

// Get implements warden.KV.
func (r *RedisKV) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.key(namespace, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: redis get: %v", warden.ErrStorageFailure, err)
	}
	return val, true, nil
}

// Set implements warden.KV. A zero TTL stores the value without expiry.
func (r *RedisKV) Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(namespace, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", warden.ErrStorageFailure, err)
	}
	return nil
}

// Delete implements warden.KV.
func (r *RedisKV) Delete(ctx context.Context, namespace, key string) error {
	if err := r.client.Del(ctx, r.key(namespace, key)).Err(); err != nil {
		return fmt.Errorf("%w: redis del: %v", warden.ErrStorageFailure, err)
	}
	return nil
}

// Keys implements warden.KV. Uses SCAN so large namespaces do not block
// the server.
func (r *RedisKV) Keys(ctx context.Context, namespace string) ([]string, error) {
	full, err := r.scanNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}

	strip := r.prefix + ":" + namespace + ":"
	keys := make([]string, 0, len(full))
	for _, k := range full {
		keys = append(keys, strings.TrimPrefix(k, strip))
	}
	sort.Strings(keys)
	return keys, nil
}

// ClearNamespace implements warden.KV.
func (r *RedisKV) ClearNamespace(ctx context.Context, namespace string) error {
	full, err := r.scanNamespace(ctx, namespace)
	if err != nil {
		return err
	}
	if len(full) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: redis clear namespace: %v", warden.ErrStorageFailure, err)
	}
	return nil
}

func (r *RedisKV) scanNamespace(ctx context.Context, namespace string) ([]string, error) {
	pattern := r.prefix + ":" + namespace + ":*"
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: redis scan: %v", warden.ErrStorageFailure, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Close releases the Redis connection.
func (r *RedisKV) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

var _ warden.KV = (*RedisKV)(nil)
