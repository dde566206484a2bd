package base

import (
	"net/http"
	"testing"
)

func TestResponseIsSuccess(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{200, true},
		{204, true},
		{299, true},
		{301, false},
		{404, false},
		{500, false},
	}

	for _, tt := range tests {
		r := &Response{StatusCode: tt.status}
		if got := r.IsSuccess(); got != tt.want {
			t.Errorf("IsSuccess() for %d = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestResponseDecode(t *testing.T) {
	t.Run("decodes JSON body", func(t *testing.T) {
		r := &Response{StatusCode: 200, Body: []byte(`{"Title":"Inception"}`)}

		var dest struct {
			Title string `json:"Title"`
		}
		if err := r.Decode(&dest); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dest.Title != "Inception" {
			t.Errorf("expected title 'Inception', got %s", dest.Title)
		}
	})

	t.Run("invalid JSON is a bad gateway error", func(t *testing.T) {
		r := &Response{StatusCode: 200, Body: []byte(`<html>`)}

		var dest map[string]any
		err := r.Decode(&dest)
		if !IsBadGateway(err) {
			t.Errorf("expected bad gateway error, got %v", err)
		}
	})

	t.Run("empty body is a bad gateway error", func(t *testing.T) {
		r := &Response{StatusCode: 200}

		var dest map[string]any
		if err := r.Decode(&dest); !IsBadGateway(err) {
			t.Errorf("expected bad gateway error, got %v", err)
		}
	})
}

func TestResponseFromCache(t *testing.T) {
	entry := &CachedResponse{
		StatusCode: 200,
		Headers:    http.Header{"X-Test": {"1"}},
		Body:       []byte(`{}`),
	}

	r := responseFromCache(entry)
	if !r.Cached {
		t.Error("expected Cached to be true")
	}
	if r.Header("X-Test") != "1" {
		t.Errorf("expected header to be copied, got %q", r.Header("X-Test"))
	}

	r.Headers.Set("X-Test", "2")
	if entry.Headers.Get("X-Test") != "1" {
		t.Error("expected cached headers to be isolated from the response")
	}
	if r.String() != "{}" {
		t.Errorf("unexpected body %q", r.String())
	}
}
