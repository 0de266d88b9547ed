// Package robots enforces the crawl's politeness and safety boundary:
// pre-network domain validation and cached robots.txt rule checks.
package robots

import (
	"context"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"webcrawl/pkg/retriever"
	"webcrawl/pkg/utils"
)

// Handler fetches, parses, and caches robots.txt data per domain and
// answers allow/disallow checks. When enforcement is off, every check
// passes without touching the network.
type Handler struct {
	fetcher   retriever.Retriever
	cache     map[string]*robotstxt.RobotsData // domain -> parsed data (nil = fetch failed)
	cacheMu   sync.Mutex
	enforce   bool
	userAgent string
	log       *logrus.Entry
}

// NewHandler creates a Handler. enforce toggles robots.txt checks; domain
// validation is always active regardless.
func NewHandler(fetcher retriever.Retriever, enforce bool, userAgent string, log *logrus.Entry) *Handler {
	return &Handler{
		fetcher:   fetcher,
		cache:     make(map[string]*robotstxt.RobotsData),
		enforce:   enforce,
		userAgent: userAgent,
		log:       log,
	}
}

// Allowed reports whether the crawl may fetch targetURL. Unsafe domains
// are always refused. When robots.txt cannot be fetched or parsed the
// crawl proceeds (permissive default), but that permissiveness never
// applies to the safety check.
func (h *Handler) Allowed(ctx context.Context, targetURL *url.URL) error {
	if err := ValidateDomain(targetURL.Hostname()); err != nil {
		return err
	}
	if !h.enforce {
		return nil
	}

	data := h.rules(ctx, targetURL)
	if data == nil {
		return nil
	}
	if !data.TestAgent(targetURL.RequestURI(), h.userAgent) {
		return utils.WrapErrorf(utils.ErrRobotsDisallowed, "'%s' for agent '%s'", targetURL, h.userAgent)
	}
	return nil
}

// CrawlDelay returns the robots.txt crawl-delay for the URL's domain in
// seconds, or 0 when none applies.
func (h *Handler) CrawlDelay(ctx context.Context, targetURL *url.URL) float64 {
	if !h.enforce {
		return 0
	}
	data := h.rules(ctx, targetURL)
	if data == nil {
		return 0
	}
	if group := data.FindGroup(h.userAgent); group != nil {
		return group.CrawlDelay.Seconds()
	}
	return 0
}

// Sitemaps returns the sitemap URLs declared in the domain's robots.txt.
// Declared sitemaps are useful for discovery even when enforcement is off.
func (h *Handler) Sitemaps(ctx context.Context, targetURL *url.URL) []string {
	data := h.rules(ctx, targetURL)
	if data == nil {
		return nil
	}
	return data.Sitemaps
}

// rules returns the parsed robots.txt for the URL's domain, fetching on
// cache miss. Returns nil when the file is missing or unparseable; that
// nil is cached so the domain is only tried once.
func (h *Handler) rules(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	domain := targetURL.Hostname()

	h.cacheMu.Lock()
	data, found := h.cache[domain]
	h.cacheMu.Unlock()
	if found {
		return data
	}

	robotsURL := &url.URL{Scheme: targetURL.Scheme, Host: targetURL.Host, Path: "/robots.txt"}
	if robotsURL.Scheme != "http" && robotsURL.Scheme != "https" {
		robotsURL.Scheme = "https"
	}
	robotsLog := h.log.WithFields(logrus.Fields{"domain": domain, "robots_url": robotsURL.String()})
	robotsLog.Info("Fetching robots.txt...")

	data = h.fetchAndParse(ctx, robotsURL.String(), robotsLog)

	h.cacheMu.Lock()
	h.cache[domain] = data
	h.cacheMu.Unlock()
	return data
}

func (h *Handler) fetchAndParse(ctx context.Context, robotsURL string, robotsLog *logrus.Entry) *robotstxt.RobotsData {
	res, err := h.fetcher.Fetch(ctx, robotsURL, retriever.Options{UserAgent: h.userAgent})
	if err != nil {
		robotsLog.Warnf("Fetching robots.txt failed, assuming allowed: %v", err)
		return nil
	}

	data, err := robotstxt.FromBytes(res.Body)
	if err != nil {
		robotsLog.Warnf("Error parsing robots.txt, assuming allowed: %v", err)
		return nil
	}
	robotsLog.Debug("Successfully fetched and parsed robots.txt")
	return data
}
