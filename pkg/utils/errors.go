package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// --- Sentinel Errors for Categorization ---
//
// Security-class errors are fatal and never downgraded. Fetch-class errors
// are classified per URL and surfaced to the orchestrator. Policy-class
// errors skip a URL without affecting crawl health. Resource-class
// conditions degrade the crawl instead of failing it. Configuration-class
// errors are fatal at startup.
var (
	// Security-class
	ErrUnsafeDomain = errors.New("unsafe domain (SSRF-prone target)")

	// Fetch-class
	ErrFetchTimeout    = errors.New("fetch timed out")
	ErrConnection      = errors.New("connection error")
	ErrClientHTTPError = errors.New("client HTTP error (4xx)")
	ErrServerHTTPError = errors.New("server HTTP error (5xx)")
	ErrUnknownFetch    = errors.New("unknown fetch error")
	ErrRetryFailed     = errors.New("request failed after all retries") // Wraps the last underlying error

	// Policy-class
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrURLExcluded      = errors.New("URL excluded by pattern")
	ErrMaxDepthExceeded = errors.New("maximum crawl depth exceeded")
	ErrAlreadyVisited   = errors.New("URL already visited")

	// Resource-class
	ErrRateLimited      = errors.New("rate limited")
	ErrRateLimitTimeout = errors.New("timeout waiting for rate-limit token")
	ErrWorkerSpawn      = errors.New("timeout dispatching worker")
	ErrSitemapBudget    = errors.New("sitemap entry budget exceeded")

	// Configuration-class
	ErrInvalidURL       = errors.New("invalid URL")
	ErrInvalidPattern   = errors.New("invalid URL pattern")
	ErrConfigValidation = errors.New("configuration validation error")

	// Internal plumbing
	ErrParsing          = errors.New("parsing error")
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
)

// WrapErrorf wraps a sentinel error with formatted context.
// Returns nil if err is nil.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...))
}

// CategorizeError maps an error to a stable category string used by crawl
// stats and logging.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrUnsafeDomain):
		return "Security_UnsafeDomain"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrURLExcluded):
		return "Policy_Pattern"
	case errors.Is(err, ErrMaxDepthExceeded):
		return "Policy_MaxDepth"
	case errors.Is(err, ErrAlreadyVisited):
		return "Policy_Visited"
	case errors.Is(err, ErrRateLimited):
		return "Resource_RateLimited"
	case errors.Is(err, ErrRateLimitTimeout):
		return "Resource_RateLimitTimeout"
	case errors.Is(err, ErrWorkerSpawn):
		return "Resource_WorkerSpawn"
	case errors.Is(err, ErrSitemapBudget):
		return "Resource_SitemapBudget"
	case errors.Is(err, ErrRetryFailed):
		underlying := errors.Unwrap(err)
		if underlying != nil {
			if errors.Is(underlying, ErrServerHTTPError) {
				return "Fetch_ServerError"
			}
			if errors.Is(underlying, ErrClientHTTPError) {
				return "Fetch_ClientError"
			}
			return categorizeNetwork(underlying)
		}
		return "Fetch_Unknown"
	case errors.Is(err, ErrClientHTTPError):
		msg := err.Error()
		if strings.Contains(msg, " 404 ") {
			return "Fetch_HTTP404"
		}
		if strings.Contains(msg, " 403 ") {
			return "Fetch_HTTP403"
		}
		if strings.Contains(msg, " 429 ") {
			return "Fetch_HTTP429"
		}
		return "Fetch_ClientError"
	case errors.Is(err, ErrServerHTTPError):
		return "Fetch_ServerError"
	case errors.Is(err, ErrFetchTimeout):
		return "Fetch_Timeout"
	case errors.Is(err, ErrConnection):
		return "Fetch_Connection"
	case errors.Is(err, ErrUnknownFetch):
		return "Fetch_Unknown"
	case errors.Is(err, ErrInvalidURL):
		return "Config_InvalidURL"
	case errors.Is(err, ErrInvalidPattern):
		return "Config_InvalidPattern"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrParsing):
		return "Content_Parsing"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	}

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Fetch_Timeout"
	}

	return categorizeNetwork(err)
}

// categorizeNetwork inspects raw network errors that were not wrapped by
// one of the fetch sentinels.
func categorizeNetwork(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Fetch_Timeout"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return "Fetch_Timeout"
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "reset by peer"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"):
		return "Fetch_Connection"
	}
	return "Fetch_Unknown"
}

// ClassifyStatusCode maps an HTTP status code to the fetch-class sentinel
// appropriate for it, or nil for 2xx.
func ClassifyStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500:
		return ErrServerHTTPError
	case code >= 400:
		return ErrClientHTTPError
	default:
		return ErrUnknownFetch
	}
}
