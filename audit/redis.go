package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisKey        = "warden:audit"
	defaultRedisMaxEntries = 10000
)

// RedisRecorderConfig configures the Redis-backed recorder.
type RedisRecorderConfig struct {
	Address  string
	Password string
	DB       int
	// Key is the Redis list entries are pushed to. Defaults to
	// "warden:audit".
	Key string
	// MaxEntries caps the list length; older entries are trimmed.
	// Defaults to 10000. Negative disables trimming.
	MaxEntries int64
}

// RedisRecorder pushes JSON entries onto a capped Redis list, newest
// first.
type RedisRecorder struct {
	client     *redis.Client
	key        string
	maxEntries int64
}

// NewRedisRecorder connects to Redis and verifies the connection.
func NewRedisRecorder(ctx context.Context, cfg RedisRecorderConfig) (*RedisRecorder, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = defaultRedisKey
	}
	maxEntries := cfg.MaxEntries
	if maxEntries == 0 {
		maxEntries = defaultRedisMaxEntries
	}
	return &RedisRecorder{client: client, key: key, maxEntries: maxEntries}, nil
}

// Record implements Recorder.
func (r *RedisRecorder) Record(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	if err := r.client.LPush(ctx, r.key, data).Err(); err != nil {
		return fmt.Errorf("push audit entry: %w", err)
	}
	if r.maxEntries > 0 {
		if err := r.client.LTrim(ctx, r.key, 0, r.maxEntries-1).Err(); err != nil {
			return fmt.Errorf("trim audit list: %w", err)
		}
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *RedisRecorder) Recent(ctx context.Context, limit int64) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := r.client.LRange(ctx, r.key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read audit list: %w", err)
	}

	entries := make([]*Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// Close releases the Redis connection.
func (r *RedisRecorder) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

var _ Recorder = (*RedisRecorder)(nil)
