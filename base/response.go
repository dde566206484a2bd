package base

import (
	"encoding/json"
	"net/http"
)

// Response is a successful upstream response with its body fully read.
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Headers contains the response headers.
	Headers http.Header

	// Body contains the raw response body.
	Body []byte

	// Cached is true when the response was served from the cache store.
	Cached bool
}

// IsSuccess returns true if the response has a 2xx status code.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode decodes the JSON response body into dest.
func (r *Response) Decode(dest any) error {
	if len(r.Body) == 0 {
		return ErrBadGateway("empty response body")
	}

	if err := json.Unmarshal(r.Body, dest); err != nil {
		return ErrBadGatewayWrap("failed to decode response", err)
	}

	return nil
}

// String returns the response body as a string.
func (r *Response) String() string {
	return string(r.Body)
}

// Header returns the value of a response header.
func (r *Response) Header(key string) string {
	return r.Headers.Get(key)
}

func responseFromCache(entry *CachedResponse) *Response {
	return &Response{
		StatusCode: entry.StatusCode,
		Headers:    entry.Headers.Clone(),
		Body:       entry.Body,
		Cached:     true,
	}
}
