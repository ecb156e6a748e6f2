package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// ErrMiss is returned when no fresh entry exists for a key. An entry past
// its expiry counts as a miss even if Redis has not reaped it yet.
var ErrMiss = errors.New("cache miss")

const keyPrefix = "result:"

// Entry is one cached query result.
type Entry struct {
	Key         string          `json:"key"`
	EndpointID  string          `json:"endpoint_id"`
	Payload     json.RawMessage `json:"payload"`
	ExecutionMs int64           `json:"execution_ms"`
	StoredAt    time.Time       `json:"stored_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// Cache stores query results in Redis with per-entry TTLs. Hit counters are
// best-effort telemetry kept in sibling keys.
type Cache struct {
	client *redis.Client
	log    *logrus.Entry
	now    func() time.Time
}

// NewClient connects to Redis and verifies the connection.
func NewClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

func New(logger *logrus.Logger, client *redis.Client) *Cache {
	return &Cache{
		client: client,
		log:    logger.WithField("component", "result_cache"),
		now:    time.Now,
	}
}

// Lookup returns the entry for key, or ErrMiss when absent or expired.
func (c *Cache) Lookup(ctx context.Context, key string) (*Entry, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		return nil, ErrMiss
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		// Corrupt entry, drop it and treat as a miss.
		c.client.Del(ctx, keyPrefix+key)
		return nil, ErrMiss
	}

	if !entry.ExpiresAt.After(c.now()) {
		return nil, ErrMiss
	}

	return &entry, nil
}

// Store upserts an entry for key, replacing any previous value.
func (c *Cache) Store(ctx context.Context, key, endpointID string, payload json.RawMessage, execution time.Duration, ttl time.Duration) error {
	now := c.now()
	entry := Entry{
		Key:         key,
		EndpointID:  endpointID,
		Payload:     payload,
		ExecutionMs: execution.Milliseconds(),
		StoredAt:    now,
		ExpiresAt:   now.Add(ttl),
	}

	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := c.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// RecordHit bumps the access counter and last-access timestamp for key.
// Failures are reported but must never fail the response path.
func (c *Cache) RecordHit(ctx context.Context, key string) error {
	ttl, err := c.client.TTL(ctx, keyPrefix+key).Result()
	if err != nil || ttl <= 0 {
		ttl = time.Hour
	}

	pipe := c.client.Pipeline()
	pipe.Incr(ctx, keyPrefix+key+":hits")
	pipe.Expire(ctx, keyPrefix+key+":hits", ttl)
	pipe.Set(ctx, keyPrefix+key+":last_access", c.now().Format(time.RFC3339Nano), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record cache hit: %w", err)
	}
	return nil
}

// Invalidate removes specific entries and their counters.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	full := make([]string, 0, len(keys)*3)
	for _, key := range keys {
		full = append(full, keyPrefix+key, keyPrefix+key+":hits", keyPrefix+key+":last_access")
	}
	if len(full) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("cache invalidation failed: %w", err)
	}
	return nil
}

// Purge removes every cached result.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	var removed int64
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.log.WithError(err).WithField("key", iter.Val()).Warn("Failed to purge cache key")
			continue
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cache purge scan failed: %w", err)
	}
	return removed, nil
}
