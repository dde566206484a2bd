package base

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	txcontext "github.com/Dorico-Dynamics/txova-go-core/context"
	"github.com/Dorico-Dynamics/txova-go-core/logging"
	"golang.org/x/sync/singleflight"
)

// Standard request headers.
const (
	headerAccept         = "Accept"
	headerCacheControl   = "Cache-Control"
	headerRequestedWith  = "X-Requested-With"
	acceptJSON           = "application/json"
	requestedWithXHR     = "XMLHttpRequest"
	measurementNameStart = "api-"
)

// Client is the base HTTP client for a single upstream read API.
// Every request runs three steps in order: prepare (headers and start mark),
// measure (latency of the response) and, on failure, classify (normalize and
// log the error).
type Client struct {
	httpClient     *http.Client
	baseURL        string
	timeout        time.Duration
	urls           *URLNormalizer
	normalizer     *Normalizer
	logger         *logging.Logger
	retryer        *Retryer
	circuitBreaker *CircuitBreaker
	serviceName    string
	cachePolicy    CachePolicy
	cache          CacheStore
	recorder       Recorder
	timings        *timings
	revalidations  singleflight.Group
	now            func() time.Time
}

// NewClient creates a new Client with the given configuration.
func NewClient(cfg *Config, logger *logging.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
			TLSClientConfig:     cfg.TLSConfig,
			ForceAttemptHTTP2:   true,
		}
	}

	var circuitBreaker *CircuitBreaker
	if cfg.CircuitBreaker != nil {
		circuitBreaker = NewCircuitBreaker(cfg.CircuitBreaker)
	}

	urls := NewURLNormalizer(cfg.BaseURL)

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		baseURL:        urls.BaseURL(),
		timeout:        cfg.Timeout,
		urls:           urls,
		normalizer:     NewNormalizer(cfg.BaseURL),
		logger:         logger,
		retryer:        NewRetryer(cfg.Retry),
		circuitBreaker: circuitBreaker,
		serviceName:    extractServiceName(cfg.BaseURL),
		cachePolicy:    cfg.Cache,
		cache:          cfg.CacheStore,
		recorder:       cfg.Recorder,
		timings:        newTimings(),
		now:            time.Now,
	}, nil
}

// extractServiceName extracts a service name from a URL for logging purposes.
func extractServiceName(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

// Do executes a GET request. Fresh cached responses are returned without a
// network call; stale ones are returned while a background refresh runs.
// Any failure is returned as a *NormalizedError.
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	if req.Method != http.MethodGet {
		return nil, c.classify(ctx, Failure{Request: req, Err: fmt.Errorf("method %s is not supported", req.Method)})
	}

	key := CacheKey(req.Method, req.URL.String())
	if resp, hit, err := c.fromCache(ctx, req, key); hit {
		return resp, err
	}

	return c.fetch(ctx, req, key)
}

// fromCache serves req from the cache store. hit is false on a miss.
func (c *Client) fromCache(ctx context.Context, req *http.Request, key string) (*Response, bool, error) {
	if c.cache == nil {
		return nil, false, nil
	}

	entry, found, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logDebug(ctx, "cache lookup failed", "url", redactURL(req.URL), "error", err.Error())
		return nil, false, nil
	}

	now := c.now()
	if !found || !entry.Usable(now) {
		return nil, false, nil
	}

	if !entry.Fresh(now) {
		c.revalidate(ctx, req, key)
	}

	c.logDebug(ctx, "http response served from cache",
		"url", redactURL(req.URL),
		"status", entry.StatusCode,
		"fresh", entry.Fresh(now),
	)

	resp := responseFromCache(entry)
	if !resp.IsSuccess() {
		return nil, true, c.classify(ctx, Failure{
			Response: &http.Response{StatusCode: entry.StatusCode, Status: entry.Status, Header: resp.Headers},
			Request:  req,
		})
	}
	return resp, true, nil
}

// revalidate refreshes a stale entry in the background, once per key.
func (c *Client) revalidate(ctx context.Context, req *http.Request, key string) {
	bg := context.WithoutCancel(ctx)
	go func() {
		_, _, _ = c.revalidations.Do(key, func() (any, error) {
			rctx, cancel := context.WithTimeout(bg, c.timeout)
			defer cancel()
			_, err := c.fetch(rctx, req.Clone(rctx), key)
			return nil, err
		})
	}()
}

// fetch performs the network round trip for req.
func (c *Client) fetch(ctx context.Context, req *http.Request, key string) (*Response, error) {
	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		return nil, c.classify(ctx, Failure{
			Request: req,
			Err:     fmt.Errorf("%w for %s", ErrCircuitOpen, c.serviceName),
		})
	}

	prepared := c.prepare(ctx, req)
	c.logRequestStart(ctx, prepared)

	resp, body, err := c.send(ctx, prepared)
	if err != nil {
		c.timings.measure(c.markKey(prepared.URL), c.now())
		c.recordResult(false)
		return nil, c.classify(ctx, Failure{Request: prepared, Err: err})
	}

	duration := c.measure(prepared, resp)
	c.recordResult(resp.StatusCode < http.StatusInternalServerError)
	c.store(ctx, key, resp, body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.classify(ctx, Failure{Response: resp, Request: prepared})
	}

	c.logDebug(ctx, "http request completed",
		"method", prepared.Method,
		"url", redactURL(prepared.URL),
		"service", c.serviceName,
		"status", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

// prepare returns a copy of req carrying the standard headers and records the
// start mark used by measure.
func (c *Client) prepare(ctx context.Context, req *http.Request) *http.Request {
	prepared := req.Clone(ctx)
	if prepared.Header == nil {
		prepared.Header = make(http.Header)
	}

	prepared.Header.Set(headerAccept, acceptJSON)
	prepared.Header.Set(headerRequestedWith, requestedWithXHR)
	if prepared.Method == http.MethodGet {
		prepared.Header.Set(headerCacheControl, c.cachePolicy.RequestHeader())
	}
	c.addTracingHeaders(ctx, prepared)

	c.timings.mark(c.markKey(prepared.URL), c.now())
	return prepared
}

// measure records the elapsed time since the start mark for the response's
// path, if one exists, and clears the mark.
func (c *Client) measure(req *http.Request, resp *http.Response) time.Duration {
	u := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		u = resp.Request.URL
	}

	key := c.markKey(u)
	duration, ok := c.timings.measure(key, c.now())
	if !ok {
		return 0
	}

	if c.recorder != nil {
		c.recorder.Record(Measurement{
			Name:     measurementNameStart + key,
			Method:   req.Method,
			Path:     u.Path,
			Status:   resp.StatusCode,
			Duration: duration,
		})
	}
	return duration
}

// classify normalizes a failure and logs it once. Failures against the bare
// base URL are not logged.
func (c *Client) classify(ctx context.Context, f Failure) *NormalizedError {
	nerr := c.normalizer.Normalize(f)

	if c.logger != nil && nerr.URL != c.baseURL {
		attrs := []any{
			"url", nerr.URL,
			"path", c.urls.Path(nerr.URL),
			"method", nerr.Method,
			"service", c.serviceName,
			"origin", string(nerr.Origin),
			"message", nerr.Message,
			"stack", nerr.Stack,
			"timestamp", nerr.Timestamp.Format(time.RFC3339Nano),
		}
		if f.Response != nil {
			attrs = append(attrs, "status", nerr.Status, "status_text", statusText(f.Response))
		}
		c.logger.WarnContext(ctx, "api error", attrs...)
	}

	return nerr
}

// send executes req, retrying according to the retryer. The body of the
// returned response has already been read and closed.
func (c *Client) send(ctx context.Context, req *http.Request) (*http.Response, []byte, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		resp, err := c.httpClient.Do(req.Clone(ctx))
		if err != nil {
			if !c.retryer.ShouldRetry(nil, err, attempt) {
				return nil, nil, err
			}
			c.logRetry(ctx, req, attempt, err)
			if waitErr := c.retryer.Wait(ctx, nil, attempt); waitErr != nil {
				return nil, nil, waitErr
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read response body: %w", err)
		}

		if c.retryer.ShouldRetry(resp, nil, attempt) {
			c.logRetry(ctx, req, attempt, fmt.Errorf("status %d", resp.StatusCode))
			if waitErr := c.retryer.Wait(ctx, resp, attempt); waitErr != nil {
				return nil, nil, waitErr
			}
			continue
		}

		return resp, body, nil
	}
}

// store caches resp according to the cache policy.
func (c *Client) store(ctx context.Context, key string, resp *http.Response, body []byte) {
	if c.cache == nil {
		return
	}

	ttl := c.cachePolicy.TTL(resp.StatusCode, resp.Header)
	if ttl <= 0 {
		return
	}

	entry := &CachedResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    resp.Header.Clone(),
		Body:       body,
		StoredAt:   c.now(),
		FreshFor:   ttl,
		StaleFor:   c.cachePolicy.StaleWhileRevalidate,
	}
	if err := c.cache.Set(ctx, key, entry, ttl+entry.StaleFor); err != nil {
		c.logDebug(ctx, "cache store failed", "error", err.Error())
	}
}

// markKey is the timing key for u: its path and redacted query, without the host.
func (c *Client) markKey(u *url.URL) string {
	return c.urls.Path(redactURL(u))
}

// recordResult records the result for the circuit breaker.
func (c *Client) recordResult(success bool) {
	if c.circuitBreaker != nil {
		c.circuitBreaker.Record(success)
	}
}

// addTracingHeaders adds X-Request-ID and X-Correlation-ID headers from context.
func (c *Client) addTracingHeaders(ctx context.Context, req *http.Request) {
	if requestID := txcontext.RequestID(ctx); requestID != "" {
		req.Header.Set(txcontext.HeaderRequestID, requestID)
	}

	if correlationID := txcontext.CorrelationID(ctx); correlationID != "" {
		req.Header.Set(txcontext.HeaderCorrelationID, correlationID)
	}
}

// logRequestStart logs the start of a request at DEBUG level.
func (c *Client) logRequestStart(ctx context.Context, req *http.Request) {
	c.logDebug(ctx, "http request started",
		"method", req.Method,
		"url", redactURL(req.URL),
		"service", c.serviceName,
	)
}

// logRetry logs a retry attempt.
func (c *Client) logRetry(ctx context.Context, req *http.Request, attempt int, err error) {
	c.logDebug(ctx, "http request retrying",
		"method", req.Method,
		"url", redactURL(req.URL),
		"service", c.serviceName,
		"attempt", attempt+1,
		"max_attempts", c.retryer.MaxRetries()+1,
		"error", err.Error(),
	)
}

func (c *Client) logDebug(ctx context.Context, msg string, attrs ...any) {
	if c.logger == nil {
		return
	}
	c.logger.DebugContext(ctx, msg, attrs...)
}

// Get creates a GET request for path, resolved against the base URL.
func (c *Client) Get(ctx context.Context, path string) *Request {
	return &Request{
		client: c,
		ctx:    ctx,
		path:   path,
		query:  make(url.Values),
	}
}

// Request is a GET request being built.
type Request struct {
	client *Client
	ctx    context.Context
	path   string
	query  url.Values
}

// WithQuery sets a query parameter on the request.
func (r *Request) WithQuery(key, value string) *Request {
	r.query.Set(key, value)
	return r
}

// WithQueryParams adds multiple query parameters to the request.
func (r *Request) WithQueryParams(params url.Values) *Request {
	for key, values := range params {
		for _, value := range values {
			r.query.Add(key, value)
		}
	}
	return r
}

// Do executes the request and returns the response.
func (r *Request) Do() (*Response, error) {
	req, err := r.build()
	if err != nil {
		return nil, err
	}
	return r.client.Do(r.ctx, req)
}

// Decode executes the request and decodes the JSON response into dest.
// A body that does not decode is classified like any other failure.
func (r *Request) Decode(dest any) error {
	req, err := r.build()
	if err != nil {
		return err
	}

	resp, err := r.client.Do(r.ctx, req)
	if err != nil {
		return err
	}

	if err := resp.Decode(dest); err != nil {
		return r.client.classify(r.ctx, Failure{Request: req, Err: err})
	}
	return nil
}

func (r *Request) build() (*http.Request, error) {
	fullURL := r.client.urls.Normalize(r.path)
	if len(r.query) > 0 {
		fullURL += "?" + r.query.Encode()
	}

	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, r.client.classify(r.ctx, Failure{Err: fmt.Errorf("failed to create request: %w", err)})
	}
	return req, nil
}

// CircuitBreakerStats returns the circuit breaker stats, or nil if no circuit breaker.
func (c *Client) CircuitBreakerStats() *CircuitBreakerStats {
	if c.circuitBreaker == nil {
		return nil
	}
	stats := c.circuitBreaker.Stats()
	return &stats
}

// BaseURL returns the base URL of the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}
