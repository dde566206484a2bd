package base

import (
	"sync"
	"time"
)

// Measurement is a completed upstream request duration.
type Measurement struct {
	// Name is "api-" followed by the request path and redacted query.
	Name string
	// Method is the HTTP method.
	Method string
	// Path is the URL path without the query string.
	Path string
	// Status is the response status code.
	Status int
	// Duration is the time between the start mark and the response.
	Duration time.Duration
}

// Recorder receives request measurements.
type Recorder interface {
	Record(m Measurement)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(m Measurement)

// Record calls f(m).
func (f RecorderFunc) Record(m Measurement) {
	f(m)
}

// timings holds start marks keyed by request path. Two in-flight requests to
// the same path share a mark; the later start wins.
type timings struct {
	mu    sync.Mutex
	marks map[string]time.Time
}

func newTimings() *timings {
	return &timings{marks: make(map[string]time.Time)}
}

// mark records the start time for key.
func (t *timings) mark(key string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.marks[key] = at
}

// measure returns the elapsed time since the mark for key and clears it.
func (t *timings) measure(key string, at time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start, ok := t.marks[key]
	if !ok {
		return 0, false
	}
	delete(t.marks, key)
	return at.Sub(start), true
}

// pending returns the number of marks not yet measured.
func (t *timings) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.marks)
}
