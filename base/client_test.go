package base

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	txcontext "github.com/Dorico-Dynamics/txova-go-core/context"
	"github.com/Dorico-Dynamics/txova-go-core/logging"
)

func newTestClient(t *testing.T, cfg *Config, logger *logging.Logger) *Client {
	t.Helper()
	client, err := NewClient(cfg, logger)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func TestNewClient(t *testing.T) {
	t.Run("creates client with valid config", func(t *testing.T) {
		client := newTestClient(t, &Config{BaseURL: "https://www.omdbapi.com"}, nil)
		if client.BaseURL() != "https://www.omdbapi.com" {
			t.Errorf("expected BaseURL 'https://www.omdbapi.com', got %s", client.BaseURL())
		}
		if client.retryer.MaxRetries() != 0 {
			t.Errorf("expected retries disabled, got %d", client.retryer.MaxRetries())
		}
	})

	t.Run("nil config without base URL fails", func(t *testing.T) {
		if _, err := NewClient(nil, nil); err == nil {
			t.Fatal("expected error for nil config without BaseURL")
		}
	})

	t.Run("trims trailing slash from base URL", func(t *testing.T) {
		client := newTestClient(t, &Config{BaseURL: "https://www.omdbapi.com/"}, nil)
		if client.BaseURL() != "https://www.omdbapi.com" {
			t.Errorf("expected BaseURL without trailing slash, got %s", client.BaseURL())
		}
	})

	t.Run("creates circuit breaker when configured", func(t *testing.T) {
		client := newTestClient(t, &Config{
			BaseURL:        "https://www.omdbapi.com",
			CircuitBreaker: DefaultCircuitBreakerConfig("omdb"),
		}, nil)
		if client.CircuitBreakerStats() == nil {
			t.Error("expected circuit breaker stats")
		}
	})

	t.Run("no circuit breaker stats by default", func(t *testing.T) {
		client := newTestClient(t, &Config{BaseURL: "https://www.omdbapi.com"}, nil)
		if client.CircuitBreakerStats() != nil {
			t.Error("expected nil stats when no circuit breaker")
		}
	})
}

func TestClientPreparesRequest(t *testing.T) {
	var got http.Header
	var gotPath, gotQuery string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"Response":"True"}`))
	}))
	defer server.Close()

	client := newTestClient(t, &Config{BaseURL: server.URL}, nil)

	ctx := txcontext.WithRequestID(context.Background(), "req-123")
	ctx = txcontext.WithCorrelationID(ctx, "corr-456")

	resp, err := client.Get(ctx, "//search").WithQuery("s", "alien").Do()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	checks := map[string]string{
		"Accept":           "application/json",
		"X-Requested-With": "XMLHttpRequest",
		"Cache-Control":    "public, max-age=21600, stale-while-revalidate=60",
		"X-Request-Id":     "req-123",
		"X-Correlation-Id": "corr-456",
	}
	for header, want := range checks {
		if got.Get(header) != want {
			t.Errorf("expected %s %q, got %q", header, want, got.Get(header))
		}
	}
	if gotPath != "/search" {
		t.Errorf("expected path /search, got %s", gotPath)
	}
	if gotQuery != "s=alien" {
		t.Errorf("expected query s=alien, got %s", gotQuery)
	}
}

func TestClientRejectsNonGET(t *testing.T) {
	client := newTestClient(t, &Config{BaseURL: "https://www.omdbapi.com"}, nil)

	req, _ := http.NewRequest(http.MethodPost, "https://www.omdbapi.com/movies", nil)
	_, err := client.Do(context.Background(), req)
	nerr := AsNormalizedError(err)
	if nerr == nil {
		t.Fatalf("expected *NormalizedError for POST request, got %T: %v", err, err)
	}
	if nerr.Origin != OriginUnknown || nerr.Status != http.StatusInternalServerError {
		t.Errorf("expected unknown origin with 500, got %s %d", nerr.Origin, nerr.Status)
	}
	if nerr.Method != http.MethodPost {
		t.Errorf("expected method POST, got %s", nerr.Method)
	}
}

func TestClientDecodeFailureIsNormalized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer server.Close()

	client := newTestClient(t, &Config{BaseURL: server.URL}, nil)

	var dest map[string]any
	err := client.Get(context.Background(), "/").WithQuery("apikey", "secret").Decode(&dest)

	nerr := AsNormalizedError(err)
	if nerr == nil {
		t.Fatalf("expected *NormalizedError, got %T: %v", err, err)
	}
	if nerr.Origin != OriginUnknown || nerr.Status != http.StatusBadGateway {
		t.Errorf("expected unknown origin with 502, got %s %d", nerr.Origin, nerr.Status)
	}
	if nerr.Code() != CodeBadGateway {
		t.Errorf("expected code %s, got %s", CodeBadGateway, nerr.Code())
	}
	if strings.Contains(nerr.URL, "secret") {
		t.Errorf("expected redacted URL, got %s", nerr.URL)
	}
}

func TestRequestBuildFailureIsNormalized(t *testing.T) {
	client := newTestClient(t, &Config{BaseURL: "https://www.omdbapi.com"}, nil)

	//nolint:staticcheck // a nil context makes request construction fail
	_, err := client.Get(nil, "/").Do()
	if AsNormalizedError(err) == nil {
		t.Fatalf("expected *NormalizedError, got %T: %v", err, err)
	}
}

func TestClientHTTPStatusError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, &Config{BaseURL: server.URL}, nil)

	_, err := client.Get(context.Background(), "").WithQuery("apikey", "secret").Do()
	nerr := AsNormalizedError(err)
	if nerr == nil {
		t.Fatalf("expected *NormalizedError, got %T %v", err, err)
	}
	if nerr.Origin != OriginHTTPStatus || nerr.Status != http.StatusInternalServerError {
		t.Errorf("expected HttpStatusError 500, got %s %d", nerr.Origin, nerr.Status)
	}
	want := "500 Internal Server Error - " + server.URL + "/?apikey=REDACTED"
	if nerr.Message != want {
		t.Errorf("expected message %q, got %q", want, nerr.Message)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("expected a single attempt, got %d", attempts)
	}
}

func TestClientRetriesWhenEnabled(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, &Config{
		BaseURL: server.URL,
		Retry: RetryConfig{
			MaxRetries:  2,
			InitialWait: time.Millisecond,
			MaxWait:     5 * time.Millisecond,
		},
	}, nil)

	if _, err := client.Get(context.Background(), "/retry").Do(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestClientTransportFailures(t *testing.T) {
	t.Run("network error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		baseURL := server.URL
		server.Close()

		client := newTestClient(t, &Config{BaseURL: baseURL}, nil)
		_, err := client.Get(context.Background(), "/movies").Do()
		if !IsNetwork(err) {
			t.Fatalf("expected network error, got %v", err)
		}
		if AsNormalizedError(err).Status != 0 {
			t.Errorf("expected status 0, got %d", AsNormalizedError(err).Status)
		}
	})

	t.Run("aborted request", func(t *testing.T) {
		client := newTestClient(t, &Config{BaseURL: "https://www.omdbapi.com"}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := client.Get(ctx, "/movies").Do()
		if !IsAbort(err) {
			t.Fatalf("expected abort error, got %v", err)
		}
		if AsNormalizedError(err).Status != StatusClientClosedRequest {
			t.Errorf("expected status 499, got %d", AsNormalizedError(err).Status)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer server.Close()

		client := newTestClient(t, &Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond}, nil)
		_, err := client.Get(context.Background(), "/slow").Do()
		if !IsTimeout(err) {
			t.Fatalf("expected timeout error, got %v", err)
		}
		if AsNormalizedError(err).Status != http.StatusRequestTimeout {
			t.Errorf("expected status 408, got %d", AsNormalizedError(err).Status)
		}
	})
}

func TestClientCaching(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/broken":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/private":
			w.Header().Set("Cache-Control", "no-store")
			_, _ = w.Write([]byte(`{}`))
		default:
			_, _ = w.Write([]byte(`{"Response":"True"}`))
		}
	}))
	defer server.Close()

	tests := []struct {
		name     string
		path     string
		wantHits int32
		wantErr  bool
	}{
		{"success is cached", "/ok", 1, false},
		{"not found is cached", "/missing", 1, true},
		{"server error is not cached", "/broken", 2, true},
		{"server no-store wins", "/private", 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			atomic.StoreInt32(&hits, 0)
			client := newTestClient(t, &Config{BaseURL: server.URL, CacheStore: NewMemoryCache(0)}, nil)

			for i := 0; i < 2; i++ {
				resp, err := client.Get(context.Background(), tt.path).Do()
				if (err != nil) != tt.wantErr {
					t.Fatalf("call %d: error = %v, wantErr %v", i, err, tt.wantErr)
				}
				if i == 1 && resp != nil && tt.wantHits == 1 && !resp.Cached {
					t.Error("expected second response to come from cache")
				}
			}

			if got := atomic.LoadInt32(&hits); got != tt.wantHits {
				t.Errorf("expected %d upstream hits, got %d", tt.wantHits, got)
			}
		})
	}
}

func TestClientCachedNotFoundIsNormalized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, &Config{BaseURL: server.URL, CacheStore: NewMemoryCache(0)}, nil)

	_, _ = client.Get(context.Background(), "/gone").Do()
	_, err := client.Get(context.Background(), "/gone").Do()

	nerr := AsNormalizedError(err)
	if nerr == nil || !nerr.IsNotFound() {
		t.Fatalf("expected normalized 404 from cache, got %v", err)
	}
}

func TestClientStaleWhileRevalidate(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, &Config{BaseURL: server.URL, CacheStore: NewMemoryCache(0)}, nil)

	var mu sync.Mutex
	now := time.Now()
	client.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	if _, err := client.Get(context.Background(), "/popular").Do(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	now = now.Add(6*time.Hour + 30*time.Second)
	mu.Unlock()

	resp, err := client.Get(context.Background(), "/popular").Do()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Cached {
		t.Error("expected stale response to be served from cache")
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&hits) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("expected background revalidation, got %d upstream hits", got)
	}
}

func TestClientMeasuresLatency(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var measurements []Measurement
	client := newTestClient(t, &Config{
		BaseURL: server.URL,
		Recorder: RecorderFunc(func(m Measurement) {
			measurements = append(measurements, m)
		}),
	}, nil)

	if _, err := client.Get(context.Background(), "/titles").WithQuery("apikey", "secret").Do(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(measurements) != 1 {
		t.Fatalf("expected 1 measurement, got %d", len(measurements))
	}
	m := measurements[0]
	if m.Name != "api-titles?apikey=REDACTED" {
		t.Errorf("unexpected measurement name %q", m.Name)
	}
	if m.Path != "/titles" || m.Method != http.MethodGet || m.Status != http.StatusOK {
		t.Errorf("unexpected measurement %+v", m)
	}
	if m.Duration < 0 {
		t.Errorf("expected non-negative duration, got %v", m.Duration)
	}
	if client.timings.pending() != 0 {
		t.Errorf("expected start mark to be cleared, %d pending", client.timings.pending())
	}
}

func TestClientLogsFailuresOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var logOutput strings.Builder
	logger := logging.New(logging.Config{
		Level:  slog.LevelDebug,
		Format: logging.FormatText,
		Output: &logOutput,
	})

	client := newTestClient(t, &Config{BaseURL: server.URL}, logger)

	t.Run("logs failing path", func(t *testing.T) {
		logOutput.Reset()
		_, _ = client.Get(context.Background(), "/movies").Do()

		if n := strings.Count(logOutput.String(), "api error"); n != 1 {
			t.Errorf("expected one error log line, got %d:\n%s", n, logOutput.String())
		}
		if !strings.Contains(logOutput.String(), "stack=") {
			t.Error("expected stack in error log")
		}
	})

	t.Run("skips bare base URL", func(t *testing.T) {
		logOutput.Reset()
		_, err := client.Get(context.Background(), "").Do()
		if err == nil {
			t.Fatal("expected error")
		}
		if strings.Contains(logOutput.String(), "api error") {
			t.Errorf("expected no error log for bare base URL, got:\n%s", logOutput.String())
		}
	})
}

func TestClientCircuitBreakerRejects(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, &Config{
		BaseURL: server.URL,
		CircuitBreaker: &CircuitBreakerConfig{
			FailureThreshold: 1,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
			Name:             "omdb",
		},
	}, nil)

	_, _ = client.Get(context.Background(), "/a").Do()
	_, err := client.Get(context.Background(), "/a").Do()

	if !IsCircuitOpen(err) {
		t.Fatalf("expected circuit open error, got %v", err)
	}
	if AsNormalizedError(err) == nil {
		t.Error("expected circuit open error to be normalized")
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected 1 upstream hit, got %d", hits)
	}
}
