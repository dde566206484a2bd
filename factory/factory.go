// Package factory provides a client factory that wires the OMDB client to
// its cache store and metrics recorder.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Dorico-Dynamics/txova-go-core/logging"

	"github.com/cinescope/cinescope-go-clients/base"
	"github.com/cinescope/cinescope-go-clients/config"
	"github.com/cinescope/cinescope-go-clients/external/rediscache"
	"github.com/cinescope/cinescope-go-clients/metrics"
	"github.com/cinescope/cinescope-go-clients/services/omdb"
)

// Config holds the configuration for the client factory.
type Config struct {
	// OMDBBaseURL is the base URL of the OMDB API.
	OMDBBaseURL string

	// OMDBAPIKey is the OMDB API key.
	OMDBAPIKey string

	// Timeout is the upstream request timeout.
	Timeout time.Duration

	// Retry is the retry configuration. Retries are disabled by default.
	Retry base.RetryConfig

	// CircuitBreaker is the circuit breaker configuration. Nil disables it.
	CircuitBreaker *base.CircuitBreakerConfig

	// Cache is the declared cache policy.
	Cache base.CachePolicy

	// CacheBackend is one of config.CacheMemory, config.CacheRedis or config.CacheNone.
	CacheBackend string

	// MemoryCacheSize bounds the memory backend. Zero uses the default.
	MemoryCacheSize int

	// RedisURL is the Redis connection URL for the redis backend.
	RedisURL string

	// RedisKeyPrefix namespaces cache keys in Redis.
	RedisKeyPrefix string

	// Registerer receives the upstream metrics. Nil disables metrics.
	Registerer prometheus.Registerer
}

// FromConfig converts the process configuration into a factory Config.
func FromConfig(cfg *config.Config, reg prometheus.Registerer) *Config {
	out := &Config{
		OMDBBaseURL:  cfg.OMDB.BaseURL,
		OMDBAPIKey:   cfg.OMDB.APIKey,
		Timeout:      cfg.OMDB.Timeout,
		Retry:        base.DefaultRetryConfig(),
		CacheBackend: cfg.Cache.Backend,
		Cache: base.CachePolicy{
			SuccessTTL:           cfg.Cache.SuccessTTL,
			NotFoundTTL:          cfg.Cache.NotFoundTTL,
			StaleWhileRevalidate: cfg.Cache.StaleWhileRevalidate,
		},
		MemoryCacheSize: cfg.Cache.MemorySize,
		RedisURL:        cfg.Cache.RedisURL,
		RedisKeyPrefix:  cfg.Cache.KeyPrefix,
		Registerer:      reg,
	}
	out.Retry.MaxRetries = cfg.OMDB.MaxRetries

	if cfg.CircuitBreaker.Enabled {
		cb := base.DefaultCircuitBreakerConfig("omdb")
		if cfg.CircuitBreaker.FailureThreshold > 0 {
			cb.FailureThreshold = cfg.CircuitBreaker.FailureThreshold
		}
		if cfg.CircuitBreaker.SuccessThreshold > 0 {
			cb.SuccessThreshold = cfg.CircuitBreaker.SuccessThreshold
		}
		if cfg.CircuitBreaker.Timeout > 0 {
			cb.Timeout = cfg.CircuitBreaker.Timeout
		}
		out.CircuitBreaker = cb
	}

	return out
}

// Factory creates and shares the wired clients.
// Each dependency is created lazily on first use and reused afterwards.
type Factory struct {
	cfg    *Config
	logger *logging.Logger

	mu       sync.RWMutex
	omdb     *omdb.Client
	store    base.CacheStore
	redis    *rediscache.Store
	recorder *metrics.Recorder
}

// New creates a new client factory.
func New(cfg *Config, logger *logging.Logger) (*Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	return &Factory{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// OMDB returns the OMDB client, creating it if necessary.
func (f *Factory) OMDB() (*omdb.Client, error) {
	f.mu.RLock()
	if f.omdb != nil {
		defer f.mu.RUnlock()
		return f.omdb, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double-check after acquiring write lock
	if f.omdb != nil {
		return f.omdb, nil
	}

	if f.cfg.OMDBBaseURL == "" {
		return nil, fmt.Errorf("OMDB base URL is not configured")
	}

	store, err := f.cacheStoreLocked()
	if err != nil {
		return nil, err
	}

	cfg := &omdb.Config{
		BaseURL:        f.cfg.OMDBBaseURL,
		APIKey:         f.cfg.OMDBAPIKey,
		Timeout:        f.cfg.Timeout,
		Retry:          f.cfg.Retry,
		CircuitBreaker: f.cfg.CircuitBreaker,
		Cache:          f.cfg.Cache,
		CacheStore:     store,
	}
	if rec := f.recorderLocked(); rec != nil {
		cfg.Recorder = rec
	}

	client, err := omdb.NewClient(cfg, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create omdb client: %w", err)
	}

	f.omdb = client
	return f.omdb, nil
}

// CacheStore returns the configured cache store, or nil when caching is disabled.
func (f *Factory) CacheStore() (base.CacheStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cacheStoreLocked()
}

func (f *Factory) cacheStoreLocked() (base.CacheStore, error) {
	if f.store != nil {
		return f.store, nil
	}

	switch f.cfg.CacheBackend {
	case config.CacheNone:
		return nil, nil //nolint:nilnil // caching disabled
	case config.CacheRedis:
		store, err := rediscache.NewStore(&rediscache.Config{
			URL:       f.cfg.RedisURL,
			KeyPrefix: f.cfg.RedisKeyPrefix,
		}, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis cache: %w", err)
		}
		f.redis = store
		f.store = store
	case "", config.CacheMemory:
		f.store = base.NewMemoryCache(f.cfg.MemoryCacheSize)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", f.cfg.CacheBackend)
	}

	return f.store, nil
}

// Recorder returns the metrics recorder, or nil when no registerer is configured.
func (f *Factory) Recorder() *metrics.Recorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recorderLocked()
}

func (f *Factory) recorderLocked() *metrics.Recorder {
	if f.recorder == nil && f.cfg.Registerer != nil {
		f.recorder = metrics.NewRecorder(f.cfg.Registerer)
	}
	return f.recorder
}

// Close releases the connections held by created dependencies.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.redis != nil {
		if err := f.redis.Close(); err != nil {
			return fmt.Errorf("failed to close redis cache: %w", err)
		}
		f.redis = nil
		f.store = nil
	}
	return nil
}

// DependencyHealth represents the health status of a dependency.
type DependencyHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthCheck checks the health of the configured dependencies concurrently.
// The upstream API is reported unhealthy while its circuit breaker is open;
// it is never called from here.
func (f *Factory) HealthCheck(ctx context.Context) []DependencyHealth {
	var results []DependencyHealth
	var wg sync.WaitGroup
	var mu sync.Mutex

	// Helper to add a health check result
	addResult := func(name string, healthy bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		result := DependencyHealth{Name: name, Healthy: healthy}
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		client, err := f.OMDB()
		if err != nil {
			addResult("omdb", false, err)
			return
		}
		if stats := client.CircuitBreakerStats(); stats != nil && stats.State == base.CircuitOpen {
			addResult("omdb", false, fmt.Errorf("circuit breaker open"))
			return
		}
		addResult("omdb", true, nil)
	}()

	if f.cfg.CacheBackend == config.CacheRedis {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.CacheStore(); err != nil {
				addResult("cache", false, err)
				return
			}
			f.mu.RLock()
			store := f.redis
			f.mu.RUnlock()
			if store == nil {
				addResult("cache", false, fmt.Errorf("redis cache is closed"))
				return
			}
			err := store.Ping(ctx)
			addResult("cache", err == nil, err)
		}()
	}

	wg.Wait()
	return results
}

// AllHealthy returns true if all configured dependencies are healthy.
func (f *Factory) AllHealthy(ctx context.Context) bool {
	results := f.HealthCheck(ctx)
	for _, r := range results {
		if !r.Healthy {
			return false
		}
	}
	return true
}
