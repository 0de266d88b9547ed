package crawl

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"webcrawl/pkg/extract"
	"webcrawl/pkg/models"
	"webcrawl/pkg/retriever"
	"webcrawl/pkg/robots"
	"webcrawl/pkg/utils"
)

// worker executes one page fetch at a time. Workers are policy consumers
// only: they check cached robots rules, fetch, and extract, but never
// touch the frontier or the visited set. All scheduling decisions belong
// to the orchestrator.
type worker struct {
	fetcher     retriever.Retriever
	robots      *robots.Handler
	extractor   *extract.Extractor
	userAgent   string
	pageTimeout time.Duration
	log         *logrus.Entry
}

// taskResult is the worker's report back to the control loop.
type taskResult struct {
	entry  models.FrontierEntry
	result *models.CrawlResult // nil when the fetch failed or was skipped
	links  []string            // discovered outbound links, normalized
	err    error
}

// crawlOne processes a single frontier entry: robots check, fetch,
// extract. Returns the result and the outbound links, or a classified
// error.
func (w *worker) crawlOne(ctx context.Context, entry models.FrontierEntry) (*models.CrawlResult, []string, error) {
	taskLog := w.log.WithFields(logrus.Fields{"url": entry.URL, "depth": entry.Depth})

	parsed, err := url.Parse(entry.URL)
	if err != nil {
		return nil, nil, utils.WrapErrorf(utils.ErrInvalidURL, "'%s': %v", entry.URL, err)
	}

	if err := w.robots.Allowed(ctx, parsed); err != nil {
		return nil, nil, err
	}

	res, fetchErr := w.fetcher.Fetch(ctx, entry.URL, retriever.Options{
		UserAgent: w.userAgent,
		Timeout:   w.pageTimeout,
	})
	if fetchErr != nil {
		// A 4xx comes back with a response shell; preserve the status
		// code in the failure report.
		if res != nil {
			taskLog.WithField("status_code", res.StatusCode).Debug("Fetch returned an error status")
		}
		return nil, nil, fetchErr
	}

	page, extractErr := w.extractor.Extract(res.Body, res.FinalURL)
	if extractErr != nil {
		return nil, nil, extractErr
	}

	result := &models.CrawlResult{
		URL:             entry.URL,
		Title:           page.Title,
		Description:     page.Description,
		RawContent:      page.Text,
		Markdown:        page.Markdown,
		StatusCode:      res.StatusCode,
		ResponseTimeMS:  res.Duration.Milliseconds(),
		DiscoveredLinks: page.Links,
		Depth:           entry.Depth,
		CrawledAt:       time.Now().UTC(),
	}
	taskLog.WithFields(logrus.Fields{
		"status_code": res.StatusCode,
		"links":       len(page.Links),
		"duration_ms": result.ResponseTimeMS,
	}).Debug("Page crawled")
	return result, page.Links, nil
}

// isPolicySkip reports whether the error is a quiet per-URL policy skip
// rather than a fetch failure.
func isPolicySkip(err error) bool {
	return errors.Is(err, utils.ErrRobotsDisallowed) ||
		errors.Is(err, utils.ErrURLExcluded) ||
		errors.Is(err, utils.ErrMaxDepthExceeded) ||
		errors.Is(err, utils.ErrAlreadyVisited)
}
