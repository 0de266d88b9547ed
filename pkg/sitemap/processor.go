// Package sitemap discovers and parses sitemaps for a domain under strict
// resource bounds. Sitemap indexes recurse into child sitemaps, so four
// independent caps keep a hostile or broken site from consuming the crawl:
// recursion depth, entries taken from any single file, total entries across
// the whole pass, and child-fetch fan-out concurrency.
package sitemap

import (
	"context"
	"encoding/xml"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"webcrawl/pkg/config"
	"webcrawl/pkg/models"
	"webcrawl/pkg/retriever"
)

// wellKnownPaths are probed when robots.txt declares no sitemaps.
var wellKnownPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemaps.xml",
}

// Processor fetches and recursively parses sitemaps for one domain.
type Processor struct {
	fetcher   retriever.Retriever
	cfg       config.SitemapConfig
	userAgent string
	log       *logrus.Entry
}

// NewProcessor creates a Processor. The config is assumed to be validated.
func NewProcessor(fetcher retriever.Retriever, cfg config.SitemapConfig, userAgent string, log *logrus.Entry) *Processor {
	return &Processor{
		fetcher:   fetcher,
		cfg:       cfg,
		userAgent: userAgent,
		log:       log.WithField("component", "sitemap"),
	}
}

// Discover locates the domain's sitemaps and returns their entries.
// robotsSitemaps, when non-empty, takes precedence over the well-known
// path probe. A single entry budget spans everything discovered here.
func (p *Processor) Discover(ctx context.Context, seed *url.URL, robotsSitemaps []string) []models.SitemapEntry {
	bud := &budget{remaining: p.cfg.MaxTotalEntries, log: p.log}
	seen := &visitedSet{urls: make(map[string]bool)}

	roots := robotsSitemaps
	if len(roots) == 0 {
		for _, path := range wellKnownPaths {
			probe := &url.URL{Scheme: seed.Scheme, Host: seed.Host, Path: path}
			roots = append(roots, probe.String())
		}
	}

	var entries []models.SitemapEntry
	for _, root := range roots {
		found := p.parse(ctx, root, 0, bud, seen)
		entries = append(entries, found...)
		// A successful probe hit ends the well-known scan; declared
		// sitemaps are all tried.
		if len(robotsSitemaps) == 0 && len(found) > 0 {
			break
		}
	}
	p.log.WithFields(logrus.Fields{"domain": seed.Hostname(), "entries": len(entries)}).
		Info("Sitemap discovery finished")
	return entries
}

// parse fetches one sitemap and returns its entries, recursing into index
// children with bounded concurrency. A fetch or parse failure discards
// only that subtree.
func (p *Processor) parse(ctx context.Context, sitemapURL string, depth int, bud *budget, seen *visitedSet) []models.SitemapEntry {
	smLog := p.log.WithFields(logrus.Fields{"sitemap_url": sitemapURL, "sitemap_depth": depth})

	if depth > p.cfg.MaxDepth {
		smLog.Warn("Sitemap recursion depth cap reached, skipping")
		return nil
	}
	if bud.spent() {
		return nil
	}
	if !seen.markVisited(sitemapURL) {
		smLog.Debug("Sitemap already processed, skipping")
		return nil
	}

	res, err := p.fetcher.Fetch(ctx, sitemapURL, retriever.Options{
		UserAgent: p.userAgent,
		Timeout:   p.cfg.FetchTimeout,
	})
	if err != nil {
		smLog.Debugf("Sitemap fetch failed, discarding subtree: %v", err)
		return nil
	}

	// Try parsing as a sitemap index first
	var index XMLSitemapIndex
	errIndex := xml.Unmarshal(res.Body, &index)
	if errIndex == nil && len(index.Sitemaps) > 0 {
		return p.parseIndex(ctx, index, depth, bud, seen, smLog)
	}

	var urlSet XMLURLSet
	if errURLSet := xml.Unmarshal(res.Body, &urlSet); errURLSet != nil {
		smLog.Debugf("Content was not a valid Sitemap Index or URL Set (Index err=%v; URLSet err=%v)", errIndex, errURLSet)
		return nil
	}
	return p.parseURLSet(urlSet, bud, smLog)
}

// parseIndex recurses into an index's children concurrently. The per-index
// cap applies to how many children are followed; the shared budget is
// checked again inside each child.
func (p *Processor) parseIndex(ctx context.Context, index XMLSitemapIndex, depth int, bud *budget, seen *visitedSet, smLog *logrus.Entry) []models.SitemapEntry {
	children := index.Sitemaps
	if len(children) > p.cfg.MaxEntriesPerIndex {
		smLog.Warnf("Sitemap index lists %d children, following first %d", len(children), p.cfg.MaxEntriesPerIndex)
		children = children[:p.cfg.MaxEntriesPerIndex]
	}
	smLog.Infof("Parsed as Sitemap Index, following %d references", len(children))

	var mu sync.Mutex
	var entries []models.SitemapEntry

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.FetchConcurrency)
	for _, child := range children {
		childURL := child.Loc
		if _, err := url.ParseRequestURI(childURL); err != nil {
			smLog.Warnf("Invalid nested sitemap URL '%s': %v", childURL, err)
			continue
		}
		g.Go(func() error {
			found := p.parse(gctx, childURL, depth+1, bud, seen)
			if len(found) > 0 {
				mu.Lock()
				entries = append(entries, found...)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return entries
}

// parseURLSet converts a urlset's entries, honoring the per-index cap and
// drawing the remainder from the shared budget.
func (p *Processor) parseURLSet(urlSet XMLURLSet, bud *budget, smLog *logrus.Entry) []models.SitemapEntry {
	urls := urlSet.URLs
	if len(urls) > p.cfg.MaxEntriesPerIndex {
		smLog.Warnf("URL Set lists %d entries, taking first %d", len(urls), p.cfg.MaxEntriesPerIndex)
		urls = urls[:p.cfg.MaxEntriesPerIndex]
	}

	granted := bud.take(len(urls))
	urls = urls[:granted]

	entries := make([]models.SitemapEntry, 0, len(urls))
	for _, u := range urls {
		if u.Loc == "" {
			continue
		}
		entries = append(entries, models.SitemapEntry{
			Loc:        u.Loc,
			LastMod:    u.LastMod,
			ChangeFreq: u.ChangeFreq,
			Priority:   u.Priority,
		})
	}
	smLog.Infof("Parsed as URL Set, took %d URLs", len(entries))
	return entries
}

// budget is the shared total-entry accumulator for one discovery pass.
// All parse goroutines draw from it; the truncation warning fires once.
type budget struct {
	mu        sync.Mutex
	remaining int
	truncated bool
	log       *logrus.Entry
}

// take grants up to n entries from the budget and returns the granted count.
func (b *budget) take(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= b.remaining {
		b.remaining -= n
		return n
	}
	granted := b.remaining
	b.remaining = 0
	if !b.truncated {
		b.truncated = true
		b.log.Warn("Sitemap total entry budget exhausted, truncating remaining sitemaps")
	}
	return granted
}

func (b *budget) spent() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining <= 0
}

// visitedSet guards against sitemap indexes that reference each other.
type visitedSet struct {
	mu   sync.Mutex
	urls map[string]bool
}

// markVisited returns true if the URL was newly marked.
func (v *visitedSet) markVisited(u string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.urls[u] {
		return false
	}
	v.urls[u] = true
	return true
}
