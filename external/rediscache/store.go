// Package rediscache provides a Redis-backed response cache for the base client.
package rediscache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Dorico-Dynamics/txova-go-core/logging"

	"github.com/cinescope/cinescope-go-clients/base"
)

// DefaultKeyPrefix namespaces cache keys in a shared Redis database.
const DefaultKeyPrefix = "cinescope:http:"

// redisClient is the subset of the go-redis client used by Store.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Store is a base.CacheStore backed by Redis. Entries are stored as JSON
// and expire through the Redis TTL.
type Store struct {
	client redisClient
	prefix string
	logger *logging.Logger
}

// Config holds the configuration for the Redis store.
type Config struct {
	// URL is the Redis connection URL, e.g. redis://localhost:6379/0 (required).
	URL string

	// KeyPrefix is prepended to every key (default: "cinescope:http:").
	KeyPrefix string
}

// NewStore creates a Store connected to the configured Redis server.
func NewStore(cfg *Config, logger *logging.Logger) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return newStore(redis.NewClient(opts), cfg.KeyPrefix, logger), nil
}

func newStore(client redisClient, prefix string, logger *logging.Logger) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Get returns the entry stored under key. A missing key is a miss, not an error.
func (s *Store) Get(ctx context.Context, key string) (*base.CachedResponse, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var entry base.CachedResponse
	if err := json.Unmarshal(raw, &entry); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "discarding corrupt cache entry", "key", key, "error", err.Error())
		}
		return nil, false, nil
	}

	return &entry, true, nil
}

// Set stores entry under key for ttl. A non-positive ttl stores nothing.
func (s *Store) Set(ctx context.Context, key string, entry *base.CachedResponse, ttl time.Duration) error {
	if ttl <= 0 || entry == nil {
		return nil
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := s.client.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	return nil
}

// Ping checks the connection to Redis.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
