package base

import (
	"net/url"
	"regexp"
	"strings"
)

// schemeHostPrefix matches a leading "scheme://host/" segment. The host stops
// at a query or fragment so those survive.
var schemeHostPrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://[^/?#]*/?`)

// URLNormalizer rewrites arbitrary URLs so they are anchored to a single base URL.
type URLNormalizer struct {
	baseURL string
}

// NewURLNormalizer creates a URLNormalizer for the given base URL.
// A trailing slash on the base URL is ignored.
func NewURLNormalizer(baseURL string) *URLNormalizer {
	return &URLNormalizer{baseURL: strings.TrimRight(baseURL, "/")}
}

// BaseURL returns the base URL every normalized URL is anchored to.
func (n *URLNormalizer) BaseURL() string {
	return n.baseURL
}

// Normalize strips any scheme and host prefix and any leading slashes from
// raw and joins what remains onto the base URL. An empty remainder yields
// the base URL unchanged. No percent-decoding is performed.
func (n *URLNormalizer) Normalize(raw string) string {
	path := n.trimPrefixes(raw)
	if path == "" {
		return n.baseURL
	}
	return n.baseURL + "/" + path
}

// Path returns raw with the scheme, host and leading slashes removed.
func (n *URLNormalizer) Path(raw string) string {
	return n.trimPrefixes(raw)
}

func (n *URLNormalizer) trimPrefixes(raw string) string {
	path := raw

	// A URL already anchored to the base keeps its base path segments.
	if n.baseURL != "" && strings.HasPrefix(path, n.baseURL) {
		rest := path[len(n.baseURL):]
		if rest == "" || rest[0] == '/' || rest[0] == '?' || rest[0] == '#' {
			path = rest
		}
	}

	for {
		trimmed := strings.TrimLeft(path, "/")
		trimmed = schemeHostPrefix.ReplaceAllString(trimmed, "")
		if trimmed == path {
			return path
		}
		path = trimmed
	}
}

// redactedQueryParams are never written to logs, error messages or cache keys.
var redactedQueryParams = []string{"apikey"}

// redactURL returns u as a string with secret query parameters masked.
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	if u.RawQuery == "" {
		return u.String()
	}

	query := u.Query()
	changed := false
	for _, key := range redactedQueryParams {
		if query.Has(key) {
			query.Set(key, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return u.String()
	}

	clone := *u
	clone.RawQuery = query.Encode()
	return clone.String()
}
