package base

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// RetryConfig controls the backoff between attempts.
type RetryConfig struct {
	// MaxRetries counts attempts after the first one. Zero disables retries.
	MaxRetries int

	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64

	// Jitter is the fraction of each wait that is randomised, 0 to 1.
	Jitter float64
}

// DefaultRetryConfig keeps retries off; the backoff settings only matter once
// MaxRetries is raised.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialWait: 100 * time.Millisecond,
		MaxWait:     2 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// WithDefaults fills in the backoff when none of InitialWait, MaxWait and
// Jitter is set; once any is set the others are kept, so a zero Jitter stays
// zero. A zero Multiplier is never valid and always gets the default.
// MaxRetries is left alone.
func (c RetryConfig) WithDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.InitialWait == 0 && c.MaxWait == 0 && c.Jitter == 0 {
		c.InitialWait = d.InitialWait
		c.MaxWait = d.MaxWait
		c.Jitter = d.Jitter
	}
	if c.Multiplier == 0 {
		c.Multiplier = d.Multiplier
	}
	return c
}

// Validate checks the backoff bounds.
func (c *RetryConfig) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return fmt.Errorf("max retries cannot be negative")
	case c.InitialWait < 0, c.MaxWait < 0:
		return fmt.Errorf("waits cannot be negative")
	case c.MaxWait > 0 && c.InitialWait > c.MaxWait:
		return fmt.Errorf("initial wait %v exceeds max wait %v", c.InitialWait, c.MaxWait)
	case c.Multiplier < 1.0:
		return fmt.Errorf("multiplier must be at least 1.0")
	case c.Jitter < 0 || c.Jitter > 1.0:
		return fmt.Errorf("jitter must be between 0 and 1")
	}
	return nil
}

// Retryer decides whether and when a failed attempt is repeated.
// With MaxRetries at zero every request gets exactly one attempt.
type Retryer struct {
	config RetryConfig
}

// NewRetryer creates a new Retryer with the given configuration.
func NewRetryer(config RetryConfig) *Retryer {
	return &Retryer{
		config: config.WithDefaults(),
	}
}

// ShouldRetry reports whether attempt may be followed by another one.
// Cancelled requests are never retried.
func (r *Retryer) ShouldRetry(resp *http.Response, err error, attempt int) bool {
	if attempt >= r.config.MaxRetries {
		return false
	}

	if err != nil {
		return !isAbort(err)
	}

	return resp != nil && IsRetryableStatus(resp.StatusCode)
}

// WaitDuration calculates the wait before the next attempt using exponential
// backoff with jitter. A Retry-After header takes precedence, capped at MaxWait.
func (r *Retryer) WaitDuration(resp *http.Response, attempt int) time.Duration {
	if retryAfter := parseRetryAfter(resp); retryAfter > 0 {
		return min(retryAfter, r.config.MaxWait)
	}

	wait := float64(r.config.InitialWait) * math.Pow(r.config.Multiplier, float64(attempt))

	jitterRange := wait * r.config.Jitter
	wait += (rand.Float64() * 2 * jitterRange) - jitterRange // #nosec G404 -- jitter does not require crypto rand

	wait = min(wait, float64(r.config.MaxWait))
	return time.Duration(max(wait, 0))
}

// Wait blocks for the calculated duration or until ctx is done.
func (r *Retryer) Wait(ctx context.Context, resp *http.Response, attempt int) error {
	duration := r.WaitDuration(resp, attempt)
	if duration == 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MaxRetries returns the maximum number of retries.
func (r *Retryer) MaxRetries() int {
	return r.config.MaxRetries
}

// parseRetryAfter parses a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(max(seconds, 0)) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil {
		return max(time.Until(t), 0)
	}

	return 0
}
