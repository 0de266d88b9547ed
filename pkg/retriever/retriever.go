// Package retriever defines the page-fetch capability consumed by the crawl
// engine. The orchestration layer is retriever-agnostic: any implementation
// that can turn a URL into raw content can be swapped in without touching
// frontier, politeness, or scheduling logic.
package retriever

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Options carries per-fetch parameters.
type Options struct {
	UserAgent string
	Timeout   time.Duration // 0 means the retriever's own default
}

// Result is the outcome of a successful fetch.
type Result struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	FinalURL   *url.URL // URL after redirects
	Duration   time.Duration
}

// Retriever fetches one URL and returns its raw content.
// Implementations must respect ctx cancellation and never block
// indefinitely.
type Retriever interface {
	Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error)
}
