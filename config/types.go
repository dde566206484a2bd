package config

import "time"

// Config is the process configuration.
type Config struct {
	OMDB           OMDBConfig           `mapstructure:"omdb"`
	Cache          CacheConfig          `mapstructure:"cache"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

// OMDBConfig holds the upstream API connection details.
type OMDBConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// CacheConfig selects the response cache and its policy.
type CacheConfig struct {
	Backend              string        `mapstructure:"backend"`
	MemorySize           int           `mapstructure:"memory_size"`
	RedisURL             string        `mapstructure:"redis_url"`
	KeyPrefix            string        `mapstructure:"key_prefix"`
	SuccessTTL           time.Duration `mapstructure:"success_ttl"`
	NotFoundTTL          time.Duration `mapstructure:"not_found_ttl"`
	StaleWhileRevalidate time.Duration `mapstructure:"stale_while_revalidate"`
}

// CircuitBreakerConfig enables the upstream circuit breaker.
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// ServerConfig holds the JSON API listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
