package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator records which alerts were sent so a condition that stays
// tripped is not re-sent on every evaluation.
type Deduplicator struct {
	rdb *redis.Client
}

// New creates a Deduplicator backed by Redis.
func New(redisURL, password string) (*Deduplicator, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Deduplicator{rdb: rdb}, nil
}

// Close shuts down the Redis connection.
func (d *Deduplicator) Close() error {
	return d.rdb.Close()
}

// Ping checks the Redis connection.
func (d *Deduplicator) Ping(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}

// AlreadySent reports whether key is recorded. On a Redis error it reports
// false along with the error, so callers still deliver the alert.
func (d *Deduplicator) AlreadySent(ctx context.Context, key string) (bool, error) {
	exists, err := d.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// Record marks key as sent for ttl. A zero ttl never expires.
func (d *Deduplicator) Record(ctx context.Context, key string, ttl time.Duration) {
	d.rdb.Set(ctx, key, "1", ttl) //nolint:errcheck
}

// Clear removes a dedup key so the alert can fire again when the condition resets.
func (d *Deduplicator) Clear(ctx context.Context, key string) {
	d.rdb.Del(ctx, key) //nolint:errcheck
}

// ClearByPattern removes every key matching a glob pattern.
func (d *Deduplicator) ClearByPattern(ctx context.Context, pattern string) {
	iter := d.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		d.rdb.Del(ctx, keys...) //nolint:errcheck
	}
}
