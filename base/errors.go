// Package base provides the foundation HTTP client for upstream read APIs.
// It includes URL normalization, error normalization, response caching,
// latency instrumentation, retry logic and an optional circuit breaker.
package base

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Dorico-Dynamics/txova-go-core/errors"
)

// Client-specific error codes extending txova-go-core/errors.
const (
	// CodeTimeout indicates a request timed out.
	CodeTimeout errors.Code = "TIMEOUT"
	// CodeNetwork indicates the upstream could not be reached.
	CodeNetwork errors.Code = "NETWORK_ERROR"
	// CodeAborted indicates the caller cancelled the request.
	CodeAborted errors.Code = "ABORTED"
	// CodeCircuitOpen indicates the circuit breaker is open.
	CodeCircuitOpen errors.Code = "CIRCUIT_OPEN"
	// CodeBadGateway indicates the upstream service returned an invalid response.
	CodeBadGateway errors.Code = "BAD_GATEWAY"
)

// StatusClientClosedRequest is the non-standard status used for aborted requests.
const StatusClientClosedRequest = 499

// codeHTTPStatus maps client-specific error codes to HTTP status codes.
var codeHTTPStatus = map[errors.Code]int{
	CodeTimeout:     http.StatusGatewayTimeout,
	CodeNetwork:     http.StatusBadGateway,
	CodeAborted:     StatusClientClosedRequest,
	CodeCircuitOpen: http.StatusServiceUnavailable,
	CodeBadGateway:  http.StatusBadGateway,
}

// HTTPStatusForCode returns the HTTP status code for a client-specific error code.
// Falls back to the core errors package for standard codes.
func HTTPStatusForCode(code errors.Code) int {
	if status, ok := codeHTTPStatus[code]; ok {
		return status
	}
	return code.HTTPStatus()
}

// ErrBadGateway creates a bad gateway error for invalid upstream responses.
func ErrBadGateway(message string) *errors.AppError {
	return errors.New(CodeBadGateway, message)
}

// ErrBadGatewayWrap creates a bad gateway error wrapping an existing error.
func ErrBadGatewayWrap(message string, cause error) *errors.AppError {
	return errors.Wrap(CodeBadGateway, message, cause)
}

// IsBadGateway checks if the error is a bad gateway error.
func IsBadGateway(err error) bool {
	return errors.IsCode(err, CodeBadGateway)
}

// ErrCircuitOpen is the cause recorded when the circuit breaker rejects a request.
var ErrCircuitOpen = stderrors.New("circuit breaker open")

// Origin identifies the failure mode a NormalizedError was classified from.
type Origin string

const (
	// OriginHTTPStatus is an upstream response with a non-2xx status.
	OriginHTTPStatus Origin = "HttpStatusError"
	// OriginNetwork is a connection-level failure with no response.
	OriginNetwork Origin = "NetworkError"
	// OriginTimeout is a request that exceeded its deadline.
	OriginTimeout Origin = "TimeoutError"
	// OriginAbort is a request cancelled by the caller.
	OriginAbort Origin = "AbortError"
	// OriginUnknown is anything else.
	OriginUnknown Origin = "UnknownError"
)

// NormalizedError is the single error shape that crosses the client boundary.
// It is created only by a Normalizer.
type NormalizedError struct {
	Message   string
	Status    int
	Origin    Origin
	URL       string
	Method    string
	Stack     string
	Timestamp time.Time

	cause error
}

// Error implements the error interface.
func (e *NormalizedError) Error() string {
	return e.Message
}

// Unwrap returns the underlying transport error, if any.
func (e *NormalizedError) Unwrap() error {
	return e.cause
}

// StackTrace returns the stack captured when the failure was first observed.
func (e *NormalizedError) StackTrace() string {
	return e.Stack
}

// Code maps the error origin to a txova-go-core error code.
func (e *NormalizedError) Code() errors.Code {
	switch e.Origin {
	case OriginHTTPStatus:
		return codeForStatus(e.Status)
	case OriginNetwork:
		return CodeNetwork
	case OriginTimeout:
		return CodeTimeout
	case OriginAbort:
		return CodeAborted
	default:
		switch {
		case stderrors.Is(e.cause, ErrCircuitOpen):
			return CodeCircuitOpen
		case IsBadGateway(e.cause):
			return CodeBadGateway
		}
		return errors.CodeInternalError
	}
}

// IsNotFound reports whether the upstream answered 404.
func (e *NormalizedError) IsNotFound() bool {
	return e.Origin == OriginHTTPStatus && e.Status == http.StatusNotFound
}

func codeForStatus(status int) errors.Code {
	switch {
	case status == http.StatusNotFound:
		return errors.CodeNotFound
	case status == http.StatusUnauthorized:
		return errors.CodeInvalidCredentials
	case status == http.StatusForbidden:
		return errors.CodeForbidden
	case status == http.StatusTooManyRequests:
		return errors.CodeRateLimited
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return CodeTimeout
	case status == http.StatusServiceUnavailable:
		return errors.CodeServiceUnavailable
	case status >= 500:
		return CodeBadGateway
	default:
		return errors.CodeValidationError
	}
}

// AsNormalizedError returns the NormalizedError in err's chain, or nil.
func AsNormalizedError(err error) *NormalizedError {
	var nerr *NormalizedError
	if stderrors.As(err, &nerr) {
		return nerr
	}
	return nil
}

// IsTimeout checks if the error is a normalized timeout error.
func IsTimeout(err error) bool {
	nerr := AsNormalizedError(err)
	return nerr != nil && nerr.Origin == OriginTimeout
}

// IsAbort checks if the error is a normalized abort error.
func IsAbort(err error) bool {
	nerr := AsNormalizedError(err)
	return nerr != nil && nerr.Origin == OriginAbort
}

// IsNetwork checks if the error is a normalized network error.
func IsNetwork(err error) bool {
	nerr := AsNormalizedError(err)
	return nerr != nil && nerr.Origin == OriginNetwork
}

// IsCircuitOpen checks if the error was caused by an open circuit breaker.
func IsCircuitOpen(err error) bool {
	return stderrors.Is(err, ErrCircuitOpen)
}

// IsRetryableStatus returns true if the HTTP status code is retryable.
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Failure describes a failed request as observed by the transport.
// Response is set when the upstream answered; Request when one was built.
type Failure struct {
	Response *http.Response
	Request  *http.Request
	Err      error
}

// Normalizer classifies failures into NormalizedErrors.
type Normalizer struct {
	urls *URLNormalizer
	now  func() time.Time
}

// NewNormalizer creates a Normalizer anchored to the given base URL.
func NewNormalizer(baseURL string) *Normalizer {
	return &Normalizer{
		urls: NewURLNormalizer(baseURL),
		now:  time.Now,
	}
}

// Normalize classifies f. Classification is terminal on the first match:
// a response means an HTTP status error; otherwise cancellation, deadline and
// connection failures are told apart by the transport error.
func (n *Normalizer) Normalize(f Failure) *NormalizedError {
	nerr := &NormalizedError{
		Method:    http.MethodGet,
		URL:       n.urls.BaseURL(),
		Stack:     stackOf(f.Err),
		Timestamp: n.now().UTC(),
		cause:     f.Err,
	}
	if f.Request != nil {
		nerr.Method = f.Request.Method
		nerr.URL = n.urls.Normalize(redactURL(f.Request.URL))
	}

	switch {
	case f.Response != nil:
		nerr.Origin = OriginHTTPStatus
		nerr.Status = f.Response.StatusCode
		nerr.Message = fmt.Sprintf("%d %s - %s", f.Response.StatusCode, statusText(f.Response), nerr.URL)
	case isAbort(f.Err):
		nerr.Origin = OriginAbort
		nerr.Status = StatusClientClosedRequest
		nerr.Message = "Request aborted - " + nerr.URL
	case isTimeout(f.Err):
		nerr.Origin = OriginTimeout
		nerr.Status = http.StatusRequestTimeout
		nerr.Message = "Request timed out - " + nerr.URL
	case f.Request != nil && isNetwork(f.Err):
		nerr.Origin = OriginNetwork
		nerr.Status = 0
		nerr.Message = "Network error - " + nerr.URL
	default:
		nerr.Origin = OriginUnknown
		nerr.Status = http.StatusInternalServerError
		switch {
		case stderrors.Is(f.Err, ErrCircuitOpen):
			nerr.Status = http.StatusServiceUnavailable
		case IsBadGateway(f.Err):
			nerr.Status = http.StatusBadGateway
		}
		nerr.Message = "Unknown error occurred"
		if f.Err != nil && f.Err.Error() != "" {
			nerr.Message = f.Err.Error()
		}
	}

	return nerr
}

// statusText returns the reason phrase of resp, falling back to the standard text.
func statusText(resp *http.Response) string {
	code := fmt.Sprintf("%d ", resp.StatusCode)
	if text := strings.TrimPrefix(resp.Status, code); text != "" && text != resp.Status {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// stackOf keeps the stack of an already-normalized error or captures a fresh one.
func stackOf(err error) string {
	var traced interface{ StackTrace() string }
	if stderrors.As(err, &traced) {
		if stack := traced.StackTrace(); stack != "" {
			return stack
		}
	}
	return string(debug.Stack())
}

func isAbort(err error) bool {
	return err != nil && stderrors.Is(err, context.Canceled)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

func isNetwork(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return stderrors.As(err, &opErr)
}
