package contentstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "certledger:content:"

var redisLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "certledger_content_redis_duration_seconds",
	Help:    "Latency of content store operations against Redis.",
	Buckets: prometheus.DefBuckets,
}, []string{"op"})

// RedisStore keeps blobs as Redis strings under a fixed key prefix.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	maxSize int64
}

// NewRedisStore wraps an existing client. ttl <= 0 keeps blobs forever.
func NewRedisStore(client *redis.Client, ttl time.Duration, maxSize int64) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, maxSize: maxSize}
}

// DialRedis parses url, connects and pings before returning the store.
func DialRedis(ctx context.Context, url string, ttl time.Duration, maxSize int64) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStore(client, ttl, maxSize), nil
}

// Put implements Store. Without a TTL existing keys are left untouched.
// With one, every Put of the same bytes restarts the expiry.
func (s *RedisStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := checkSize(data, s.maxSize); err != nil {
		return "", err
	}
	id := IDOf(data)
	start := time.Now()
	var err error
	if s.ttl > 0 {
		err = s.client.Set(ctx, redisKeyPrefix+id, data, s.ttl).Err()
	} else {
		err = s.client.SetNX(ctx, redisKeyPrefix+id, data, 0).Err()
	}
	redisLatency.WithLabelValues("put").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("%w: set %s: %w", ErrUnavailable, id, err)
	}
	return id, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) ([]byte, error) {
	d, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	data, err := s.client.Get(ctx, redisKeyPrefix+d.String()).Bytes()
	redisLatency.WithLabelValues("get").Observe(time.Since(start).Seconds())
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrUnavailable, d, err)
	}
	if err := verify(d, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
