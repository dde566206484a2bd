// Package metrics provides Prometheus instrumentation for upstream requests
// made by the base client and for the JSON API served by httpapi.
//
// Metrics registered by NewRecorder:
//
//	cinescope_upstream_request_duration_seconds  histogram: upstream latency by method/path/status
//	cinescope_upstream_requests_total            counter: upstream requests by method/path/status
//	cinescope_http_request_duration_seconds      histogram: API latency by method/route/status
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cinescope/cinescope-go-clients/base"
)

const namespace = "cinescope"

// maxPathLabel bounds label length.
const maxPathLabel = 64

// Recorder implements base.Recorder on top of Prometheus collectors.
type Recorder struct {
	upstreamDuration *prometheus.HistogramVec
	upstreamRequests *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// NewRecorder creates a Recorder and registers its collectors with reg.
// Pass prometheus.NewRegistry() for an isolated registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream API request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total upstream API requests that received a response.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(r.upstreamDuration, r.upstreamRequests, r.httpDuration)
	return r
}

// Record implements base.Recorder.
func (r *Recorder) Record(m base.Measurement) {
	labels := []string{m.Method, sanitizePath(m.Path), strconv.Itoa(m.Status)}
	r.upstreamDuration.WithLabelValues(labels...).Observe(m.Duration.Seconds())
	r.upstreamRequests.WithLabelValues(labels...).Inc()
}

// Middleware records the latency of each request handled by next.
// route returns the templated route for a request, e.g. "/api/movies/{id}".
func (r *Recorder) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, req)

			path := req.URL.Path
			if route != nil {
				if p := route(req); p != "" {
					path = p
				}
			}
			r.httpDuration.
				WithLabelValues(req.Method, sanitizePath(path), strconv.Itoa(rw.status)).
				Observe(time.Since(start).Seconds())
		})
	}
}

// Handler returns the scrape handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// responseWriter captures the status code written by a handler.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func sanitizePath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > maxPathLabel {
		return path[:maxPathLabel] + "..."
	}
	return path
}
