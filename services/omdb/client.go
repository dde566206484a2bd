// Package omdb provides a client for the OMDB movie metadata API.
package omdb

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Dorico-Dynamics/txova-go-core/errors"
	"github.com/Dorico-Dynamics/txova-go-core/logging"

	"github.com/cinescope/cinescope-go-clients/base"
)

// DefaultBaseURL is the public OMDB endpoint.
const DefaultBaseURL = "https://www.omdbapi.com"

// CodeUpstreamFailure indicates the upstream could not serve an operation.
const CodeUpstreamFailure errors.Code = "UPSTREAM_FAILURE"

// Stable caller-facing messages, one per operation.
const (
	MessageFetchMovies  = "Failed to fetch movies"
	MessageFetchMovie   = "Failed to fetch movie"
	MessageSearchMovies = "Failed to search movies"
)

// Popular movies are the upstream's matches for a fixed search term.
const (
	popularSearchTerm = "movie"
	mediaTypeMovie    = "movie"
	plotFull          = "full"
)

// Client is the OMDB API client.
type Client struct {
	client *base.Client
	apiKey string
	logger *logging.Logger
}

// Config holds the configuration for the OMDB client.
type Config struct {
	// BaseURL is the base URL of the OMDB API (required).
	BaseURL string

	// APIKey is sent with every request (required).
	APIKey string

	// Timeout is the request timeout (default: 10s).
	Timeout time.Duration

	// Retry is the retry configuration. Retries are disabled by default.
	Retry base.RetryConfig

	// CircuitBreaker is the circuit breaker configuration.
	CircuitBreaker *base.CircuitBreakerConfig

	// Cache is the declared cache policy.
	Cache base.CachePolicy

	// CacheStore holds cached responses. Optional.
	CacheStore base.CacheStore

	// Recorder receives latency measurements. Optional.
	Recorder base.Recorder
}

// DefaultConfig returns a default configuration for the OMDB client.
func DefaultConfig(baseURL, apiKey string) *Config {
	return &Config{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: 10 * time.Second,
		Retry:   base.DefaultRetryConfig(),
		Cache:   base.DefaultCachePolicy(),
	}
}

// NewClient creates a new OMDB client.
func NewClient(cfg *Config, logger *logging.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	baseCfg := &base.Config{
		BaseURL:        cfg.BaseURL,
		Timeout:        cfg.Timeout,
		Retry:          cfg.Retry,
		CircuitBreaker: cfg.CircuitBreaker,
		Cache:          cfg.Cache,
		CacheStore:     cfg.CacheStore,
		Recorder:       cfg.Recorder,
	}

	baseClient, err := base.NewClient(baseCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create base client: %w", err)
	}

	return &Client{
		client: baseClient,
		apiKey: cfg.APIKey,
		logger: logger,
	}, nil
}

// PopularMovies retrieves a page of popular movies. Pages below 1 are treated as 1.
func (c *Client) PopularMovies(ctx context.Context, page int) (*SearchResult, error) {
	var result SearchResult
	err := c.get(ctx).
		WithQuery("s", popularSearchTerm).
		WithQuery("type", mediaTypeMovie).
		WithQuery("page", strconv.Itoa(NormalizePage(page))).
		Decode(&result)
	if err != nil {
		return nil, c.fail(ctx, MessageFetchMovies, err)
	}

	if !result.Response {
		return nil, c.reject(ctx, MessageFetchMovies, result.Error)
	}

	return &result, nil
}

// MovieByID retrieves the full record of a single title.
func (c *Client) MovieByID(ctx context.Context, id string) (*MovieDetails, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.ValidationError("movie ID is required")
	}

	var details MovieDetails
	err := c.get(ctx).
		WithQuery("i", id).
		WithQuery("plot", plotFull).
		Decode(&details)
	if err != nil {
		return nil, c.fail(ctx, MessageFetchMovie, err)
	}

	if !details.Response {
		return nil, c.reject(ctx, MessageFetchMovie, details.Error)
	}

	return &details, nil
}

// SearchMovies retrieves a page of titles matching query.
// An empty query fails without contacting the upstream.
func (c *Client) SearchMovies(ctx context.Context, query string, page int) (*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.ValidationError("search query is required")
	}

	var result SearchResult
	err := c.get(ctx).
		WithQuery("s", query).
		WithQuery("page", strconv.Itoa(NormalizePage(page))).
		Decode(&result)
	if err != nil {
		return nil, c.fail(ctx, MessageSearchMovies, err)
	}

	if !result.Response {
		return nil, c.reject(ctx, MessageSearchMovies, result.Error)
	}

	return &result, nil
}

// CircuitBreakerStats returns the circuit breaker stats, or nil if disabled.
func (c *Client) CircuitBreakerStats() *base.CircuitBreakerStats {
	return c.client.CircuitBreakerStats()
}

func (c *Client) get(ctx context.Context) *base.Request {
	return c.client.Get(ctx, "/").WithQuery("apikey", c.apiKey)
}

// fail wraps a transport or decoding failure. Transport failures were
// already logged when they were classified.
func (c *Client) fail(ctx context.Context, message string, cause error) error {
	if base.AsNormalizedError(cause) == nil && c.logger != nil {
		c.logger.WarnContext(ctx, message, "error", cause.Error())
	}
	return errors.Wrap(CodeUpstreamFailure, message, cause)
}

// reject turns a "Response": "False" payload into a domain error.
func (c *Client) reject(ctx context.Context, message, upstream string) error {
	cause := &UpstreamError{Message: upstream}
	if c.logger != nil {
		c.logger.WarnContext(ctx, message, "upstream_error", cause.Error())
	}
	return errors.Wrap(CodeUpstreamFailure, message, cause)
}

// UpstreamError is the failure reported in an upstream payload.
type UpstreamError struct {
	Message string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return "upstream reported failure"
	}
	return e.Message
}

// NotFound reports whether the upstream said the title does not exist.
func (e *UpstreamError) NotFound() bool {
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "incorrect imdb id")
}

// UpstreamMessage returns the most specific failure detail in err's chain:
// the upstream payload's error, else the normalized transport message.
func UpstreamMessage(err error) string {
	var upstream *UpstreamError
	if stderrors.As(err, &upstream) {
		return upstream.Error()
	}
	if nerr := base.AsNormalizedError(err); nerr != nil {
		return nerr.Message
	}
	return ""
}

// IsNotFound reports whether err means the requested title does not exist.
func IsNotFound(err error) bool {
	var upstream *UpstreamError
	if stderrors.As(err, &upstream) {
		return upstream.NotFound()
	}
	if nerr := base.AsNormalizedError(err); nerr != nil {
		return nerr.IsNotFound()
	}
	return errors.IsCode(err, errors.CodeNotFound)
}

// NormalizePage returns page, or 1 when page is below 1.
func NormalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// ParsePage parses a page parameter. Non-numeric values become 1.
func ParsePage(raw string) int {
	page, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 1
	}
	return NormalizePage(page)
}
