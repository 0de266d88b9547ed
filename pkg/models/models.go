package models

import "time"

// FrontierEntry represents a URL queued for crawling and its discovery depth.
type FrontierEntry struct {
	URL   string
	Depth int
}

// SitemapEntry is one URL found in a sitemap.
type SitemapEntry struct {
	Loc        string
	LastMod    string
	Priority   float64
	ChangeFreq string
}

// CrawlResult is the outcome of successfully fetching one URL.
// It is created by a worker and owned by the orchestrator once reported;
// it is never mutated after being stored.
type CrawlResult struct {
	URL             string
	Title           string
	Description     string
	RawContent      string
	Markdown        string
	StatusCode      int
	ResponseTimeMS  int64
	DiscoveredLinks []string
	Depth           int
	CrawledAt       time.Time
}

// CrawlStats holds the running aggregate counters for a crawl.
// Mutated only by the orchestrator's control loop.
type CrawlStats struct {
	CrawlID        string
	URLsCrawled    int
	URLsFailed     int
	URLsDiscovered int
	URLsSkipped    int
	ResultsStored  int
	ResultsDropped int
	DomainCounts   map[string]int
	ErrorCounts    map[string]int
	StartTime      time.Time
	Duration       time.Duration
}

// NewCrawlStats initializes stats for a crawl session.
func NewCrawlStats(crawlID string) *CrawlStats {
	return &CrawlStats{
		CrawlID:      crawlID,
		DomainCounts: make(map[string]int),
		ErrorCounts:  make(map[string]int),
		StartTime:    time.Now(),
	}
}

// ResultMeta is the nested metadata object in JSONL output.
type ResultMeta struct {
	StatusCode     int    `json:"status_code"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	Depth          int    `json:"depth"`
	ContentHash    string `json:"content_hash,omitempty"`
	LinkCount      int    `json:"link_count"`
}

// ResultJSONL is the one-object-per-line JSON output shape for a crawled page.
type ResultJSONL struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Content     string     `json:"content"`
	Meta        ResultMeta `json:"meta"`
	CrawledAt   string     `json:"crawled_at"` // RFC3339
}
