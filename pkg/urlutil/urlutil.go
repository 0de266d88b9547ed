// Package urlutil provides stateless URL normalization, domain extraction,
// and include/exclude pattern matching for the crawl engine. Dedup state
// lives in the orchestrator, not here.
package urlutil

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"webcrawl/pkg/utils"
)

// Normalize standardizes a URL for comparison and dedup storage.
// It lowercases the scheme and host, removes default ports (80 for http,
// 443 for https), removes trailing slashes from paths (unless root "/"),
// ensures an empty path becomes "/", and strips fragments and query strings.
// Does not modify the input *url.URL.
func Normalize(u *url.URL) string {
	if u == nil {
		return ""
	}
	// Work on a copy
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil { // Host included a port
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = normalized.Path[:len(normalized.Path)-1]
	}

	normalized.Fragment = ""
	normalized.RawQuery = ""

	return normalized.String()
}

// ParseAndNormalize parses a URL string using the stricter
// url.ParseRequestURI (requiring a scheme) and then normalizes it.
// Returns the normalized string, the parsed URL, and any parse error.
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", nil, utils.WrapErrorf(utils.ErrInvalidURL, "parsing '%s': %v", urlStr, err)
	}
	return Normalize(parsed), parsed, nil
}

// Resolve resolves a possibly-relative link against a base URL and returns
// the absolute URL. Links with non-http(s) schemes yield ok=false.
func Resolve(base *url.URL, href string) (abs *url.URL, ok bool) {
	if base == nil || href == "" {
		return nil, false
	}
	linkURL, err := base.Parse(href)
	if err != nil {
		return nil, false
	}
	if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
		return nil, false
	}
	return linkURL, true
}

// ExtractDomain returns the lowercased registrable host of a URL.
// Fails on URLs with no host.
func ExtractDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", utils.WrapErrorf(utils.ErrInvalidURL, "parsing '%s': %v", rawURL, err)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", utils.WrapErrorf(utils.ErrInvalidURL, "'%s' has no host", rawURL)
	}
	return host, nil
}

// CompilePatterns compiles URL filter pattern strings into *regexp.Regexp.
// It fails fast on the first invalid pattern, identifying it in the error,
// rather than silently dropping filters: a crawl must never run with
// exclude rules disabled behind the operator's back.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" { // Skip empty patterns silently
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, utils.WrapErrorf(utils.ErrInvalidPattern, "pattern #%d ('%s'): %v", i+1, pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Matches reports whether a URL passes the include/exclude pattern filters.
// Exclude patterns win over include patterns; an empty include list matches
// everything. Patterns are matched against the full URL string.
func Matches(target string, includes, excludes []*regexp.Regexp) bool {
	if target == "" {
		return false
	}

	for _, pattern := range excludes {
		if pattern.MatchString(target) {
			return false
		}
	}

	if len(includes) == 0 {
		return true
	}
	for _, pattern := range includes {
		if pattern.MatchString(target) {
			return true
		}
	}
	return false
}
