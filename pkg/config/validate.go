package config

import (
	"fmt"
	"time"

	"webcrawl/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = "webcrawl/1.0"
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// MaxPageSizeBytes
	if c.MaxPageSizeBytes <= 0 {
		c.MaxPageSizeBytes = 10 << 20 // 10 MB
	}

	// PerPageTimeout
	if c.PerPageTimeout < 0 {
		warnings = append(warnings, "per_page_timeout cannot be negative, disabling timeout")
		c.PerPageTimeout = 0
	}

	// WorkerSpawnTimeout
	if c.WorkerSpawnTimeout <= 0 {
		c.WorkerSpawnTimeout = 10 * time.Second
	}

	// DrainGracePeriod
	if c.DrainGracePeriod <= 0 {
		c.DrainGracePeriod = 30 * time.Second
	}

	warnings = append(warnings, c.RateLimit.validate()...)
	warnings = append(warnings, c.Sitemap.validate()...)
	c.validateHTTPClientSettings()

	return warnings, nil // AppConfig validation never fails fatally
}

// validate applies rate-limit defaults.
func (r *RateLimitConfig) validate() (warnings []string) {
	if r.RequestsPerSecond <= 0 {
		warnings = append(warnings, "requests_per_second should be > 0, defaulting to 2")
		r.RequestsPerSecond = 2
	}
	if r.MaxTokens <= 0 {
		warnings = append(warnings, "max_tokens should be > 0, defaulting to 5")
		r.MaxTokens = 5
	}
	if r.WaitTimeout <= 0 {
		r.WaitTimeout = 30 * time.Second
	}
	if r.InitialBackoff <= 0 {
		r.InitialBackoff = 50 * time.Millisecond
	}
	if r.BackoffMultiplier <= 1 {
		r.BackoffMultiplier = 2
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = 2 * time.Second
	}
	return warnings
}

// validate applies sitemap cap defaults. All four caps stay independent.
func (s *SitemapConfig) validate() (warnings []string) {
	if s.MaxDepth <= 0 {
		s.MaxDepth = 3
	}
	if s.MaxEntriesPerIndex <= 0 {
		s.MaxEntriesPerIndex = 500
	}
	if s.MaxTotalEntries <= 0 {
		s.MaxTotalEntries = 5000
	}
	if s.FetchConcurrency <= 0 {
		s.FetchConcurrency = 4
	}
	if s.FetchTimeout <= 0 {
		s.FetchTimeout = 20 * time.Second
	}
	return warnings
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks CrawlConfig fields. Configuration-class problems
// (missing input, conflicting modes) fail fatally before the crawl begins.
func (c *CrawlConfig) Validate() (warnings []string, err error) {
	if c.SeedURL == "" && len(c.URLList) == 0 {
		return nil, fmt.Errorf("%w: either a seed URL or a URL list is required", utils.ErrConfigValidation)
	}
	if c.SeedURL != "" && len(c.URLList) > 0 {
		return nil, fmt.Errorf("%w: seed URL and URL list are mutually exclusive", utils.ErrConfigValidation)
	}

	if c.MaxDepth < 0 {
		warnings = append(warnings, "max_depth cannot be negative, setting to 0")
		c.MaxDepth = 0
	}
	if c.MaxWorkers <= 0 {
		warnings = append(warnings, "max_workers should be > 0, defaulting to 4")
		c.MaxWorkers = 4
	}
	if c.MaxResults <= 0 {
		warnings = append(warnings, "max_results should be > 0, defaulting to 1000")
		c.MaxResults = 1000
	}
	if c.GlobalTimeout < 0 {
		warnings = append(warnings, "global_timeout cannot be negative, disabling timeout")
		c.GlobalTimeout = 0
	}
	return warnings, nil
}
