package config

import "time"

// CrawlConfig holds the shape of a single crawl: where it starts, how far
// it goes, and which URLs it may touch. Populated from CLI flags; the
// seed URL and the explicit URL list are mutually exclusive.
type CrawlConfig struct {
	SeedURL         string        `yaml:"seed_url,omitempty"`
	URLList         []string      `yaml:"url_list,omitempty"`
	MaxDepth        int           `yaml:"max_depth"`
	MaxWorkers      int           `yaml:"max_workers"`
	MaxResults      int           `yaml:"max_results"`
	IncludePatterns []string      `yaml:"include_patterns,omitempty"`
	ExcludePatterns []string      `yaml:"exclude_patterns,omitempty"`
	RespectRobots   bool          `yaml:"respect_robots"`
	SameDomainOnly  bool          `yaml:"same_domain_only"`
	UserAgent       string        `yaml:"user_agent,omitempty"`
	GlobalTimeout   time.Duration `yaml:"global_timeout,omitempty"`
	CleanupOnFail   bool          `yaml:"cleanup_on_fail,omitempty"`
}

// RateLimitConfig tunes the per-domain token buckets and the blocked-caller
// backoff policy.
type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxTokens         int           `yaml:"max_tokens"`
	WaitTimeout       time.Duration `yaml:"wait_timeout,omitempty"`
	InitialBackoff    time.Duration `yaml:"initial_backoff,omitempty"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier,omitempty"`
	MaxBackoff        time.Duration `yaml:"max_backoff,omitempty"`
}

// SitemapConfig bounds recursive sitemap discovery. Four independent caps:
// recursion depth, entries taken from one index, total entries across the
// whole pass, and child-fetch fan-out concurrency.
type SitemapConfig struct {
	MaxDepth           int           `yaml:"max_depth,omitempty"`
	MaxEntriesPerIndex int           `yaml:"max_entries_per_index,omitempty"`
	MaxTotalEntries    int           `yaml:"max_total_entries,omitempty"`
	FetchConcurrency   int           `yaml:"fetch_concurrency,omitempty"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout,omitempty"`
}

// AppConfig holds the global application configuration, loadable from YAML.
type AppConfig struct {
	DefaultUserAgent   string           `yaml:"default_user_agent,omitempty"`
	MaxRetries         int              `yaml:"max_retries,omitempty"`
	InitialRetryDelay  time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay      time.Duration    `yaml:"max_retry_delay,omitempty"`
	MaxPageSizeBytes   int64            `yaml:"max_page_size_bytes,omitempty"`
	PerPageTimeout     time.Duration    `yaml:"per_page_timeout,omitempty"`
	WorkerSpawnTimeout time.Duration    `yaml:"worker_spawn_timeout,omitempty"`
	DrainGracePeriod   time.Duration    `yaml:"drain_grace_period,omitempty"`
	RateLimit          RateLimitConfig  `yaml:"rate_limit,omitempty"`
	Sitemap            SitemapConfig    `yaml:"sitemap,omitempty"`
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client.
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}
