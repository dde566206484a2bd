package base

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CachePolicy declares how long responses may be reused.
type CachePolicy struct {
	// SuccessTTL is how long a 2xx response is fresh (default: 6h).
	SuccessTTL time.Duration

	// NotFoundTTL is how long a 404 response is fresh (default: 5m).
	NotFoundTTL time.Duration

	// StaleWhileRevalidate is how long a stale entry may still be served
	// while it is refreshed in the background (default: 60s).
	StaleWhileRevalidate time.Duration
}

// DefaultCachePolicy returns the default cache policy.
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{
		SuccessTTL:           6 * time.Hour,
		NotFoundTTL:          5 * time.Minute,
		StaleWhileRevalidate: 60 * time.Second,
	}
}

// WithDefaults returns the default policy for a zero CachePolicy. Otherwise
// the policy is kept as is, so a zero TTL disables caching for that class of
// response.
func (p CachePolicy) WithDefaults() CachePolicy {
	if p == (CachePolicy{}) {
		return DefaultCachePolicy()
	}
	return p
}

// Validate validates the cache policy.
func (p CachePolicy) Validate() error {
	if p.SuccessTTL < 0 || p.NotFoundTTL < 0 || p.StaleWhileRevalidate < 0 {
		return fmt.Errorf("cache durations cannot be negative")
	}
	return nil
}

// RequestHeader returns the Cache-Control value sent with GET requests.
func (p CachePolicy) RequestHeader() string {
	return fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d",
		int(p.SuccessTTL.Seconds()), int(p.StaleWhileRevalidate.Seconds()))
}

// TTL returns how long a response with the given status and headers stays
// fresh. Zero means the response must not be cached.
func (p CachePolicy) TTL(statusCode int, header http.Header) time.Duration {
	var ttl time.Duration
	switch {
	case statusCode == http.StatusNotFound:
		ttl = p.NotFoundTTL
	case statusCode >= 200 && statusCode < 300:
		ttl = p.SuccessTTL
	default:
		return 0
	}

	directives := parseCacheControl(header.Get("Cache-Control"))
	if _, ok := directives["no-store"]; ok {
		return 0
	}
	if _, ok := directives["no-cache"]; ok {
		return 0
	}
	if raw, ok := directives["max-age"]; ok {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds >= 0 {
			ttl = time.Duration(seconds) * time.Second
		}
	}

	return ttl
}

// parseCacheControl splits a Cache-Control header into lower-cased directives.
func parseCacheControl(value string) map[string]string {
	directives := make(map[string]string)
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, arg, _ := strings.Cut(part, "=")
		directives[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(arg), `"`)
	}
	return directives
}

// CachedResponse is a response held by a CacheStore.
type CachedResponse struct {
	StatusCode int           `json:"status_code"`
	Status     string        `json:"status"`
	Headers    http.Header   `json:"headers"`
	Body       []byte        `json:"body"`
	StoredAt   time.Time     `json:"stored_at"`
	FreshFor   time.Duration `json:"fresh_for"`
	StaleFor   time.Duration `json:"stale_for"`
}

// Fresh reports whether the entry can be served without revalidation.
func (c *CachedResponse) Fresh(now time.Time) bool {
	return now.Before(c.StoredAt.Add(c.FreshFor))
}

// Usable reports whether the entry can be served at all, possibly stale.
func (c *CachedResponse) Usable(now time.Time) bool {
	return now.Before(c.StoredAt.Add(c.FreshFor + c.StaleFor))
}

// CacheStore persists cached responses. Implementations must be safe for
// concurrent use.
type CacheStore interface {
	Get(ctx context.Context, key string) (*CachedResponse, bool, error)
	Set(ctx context.Context, key string, entry *CachedResponse, ttl time.Duration) error
}

// CacheKey derives the store key for a request. The URL is hashed so secrets
// in the query string never reach the store.
func CacheKey(method, rawURL string) string {
	sum := sha256.Sum256([]byte(method + " " + rawURL))
	return hex.EncodeToString(sum[:])
}

// DefaultMemoryCacheSize is the entry limit used when NewMemoryCache is given
// a non-positive size.
const DefaultMemoryCacheSize = 1000

// MemoryCache is an in-process CacheStore holding at most size entries. The
// least recently used entry is evicted first.
type MemoryCache struct {
	mu    sync.Mutex
	size  int
	order *list.List
	items map[string]*list.Element
	now   func() time.Time
}

type memoryEntry struct {
	key       string
	response  *CachedResponse
	expiresAt time.Time
}

// NewMemoryCache creates an empty MemoryCache bounded to size entries.
func NewMemoryCache(size int) *MemoryCache {
	if size <= 0 {
		size = DefaultMemoryCacheSize
	}
	return &MemoryCache{
		size:  size,
		order: list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
	}
}

// Get returns the entry for key if it has not expired.
func (m *MemoryCache) Get(_ context.Context, key string) (*CachedResponse, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	entry := node.Value.(*memoryEntry)
	if !m.now().Before(entry.expiresAt) {
		m.remove(node)
		return nil, false, nil
	}
	m.order.MoveToFront(node)
	return entry.response, true, nil
}

// Set stores entry under key for ttl, evicting expired entries from the cold
// end and then the least recently used ones while over the limit.
func (m *MemoryCache) Set(_ context.Context, key string, entry *CachedResponse, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if node, ok := m.items[key]; ok {
		node.Value = &memoryEntry{key: key, response: entry, expiresAt: now.Add(ttl)}
		m.order.MoveToFront(node)
	} else {
		m.items[key] = m.order.PushFront(&memoryEntry{key: key, response: entry, expiresAt: now.Add(ttl)})
	}

	for node := m.order.Back(); node != nil; {
		prev := node.Prev()
		expired := !now.Before(node.Value.(*memoryEntry).expiresAt)
		if !expired && m.order.Len() <= m.size {
			break
		}
		m.remove(node)
		node = prev
	}
	return nil
}

func (m *MemoryCache) remove(node *list.Element) {
	m.order.Remove(node)
	delete(m.items, node.Value.(*memoryEntry).key)
}

// Len returns the number of stored entries.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
