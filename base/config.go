package base

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultTimeout             = 10 * time.Second
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second
)

// Config is fixed when the client is built. Only BaseURL is required.
type Config struct {
	// BaseURL anchors every request path; see URLNormalizer.
	BaseURL string

	// Timeout bounds one attempt, body read included.
	Timeout time.Duration

	// Connection pool settings, ignored when Transport is set.
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	TLSConfig           *tls.Config

	// Transport replaces the pooled transport, mostly in tests.
	Transport http.RoundTripper

	Retry RetryConfig

	// CircuitBreaker is disabled when nil.
	CircuitBreaker *CircuitBreakerConfig

	Cache CachePolicy

	// CacheStore holds cached responses. With a nil store the Cache-Control
	// request header is still sent but nothing is kept.
	CacheStore CacheStore

	Recorder Recorder
}

// DefaultConfig returns a Config without a base URL.
func DefaultConfig() *Config {
	return &Config{
		Timeout:             defaultTimeout,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		Retry:               DefaultRetryConfig(),
		Cache:               DefaultCachePolicy(),
	}
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (c *Config) WithDefaults() *Config {
	cfg := *c

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost == 0 {
		cfg.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = defaultIdleConnTimeout
	}
	cfg.Retry = cfg.Retry.WithDefaults()
	cfg.Cache = cfg.Cache.WithDefaults()

	return &cfg
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("base URL is required")
	case c.Timeout <= 0:
		return fmt.Errorf("timeout must be positive")
	}

	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("base URL %q is not absolute: %w", c.BaseURL, err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if c.CircuitBreaker != nil {
		if err := c.CircuitBreaker.Validate(); err != nil {
			return fmt.Errorf("circuit breaker: %w", err)
		}
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache policy: %w", err)
	}
	return nil
}
