// Package crawl contains the orchestration core: a single control loop
// that owns the frontier, the visited set, and the accumulated results,
// and a pool of workers that only fetch and extract. State flows one way:
// the loop dispatches entries to workers and workers report back on a
// completion channel.
package crawl

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"webcrawl/pkg/config"
	"webcrawl/pkg/extract"
	"webcrawl/pkg/frontier"
	"webcrawl/pkg/models"
	"webcrawl/pkg/ratelimit"
	"webcrawl/pkg/retriever"
	"webcrawl/pkg/robots"
	"webcrawl/pkg/sitemap"
	"webcrawl/pkg/urlutil"
	"webcrawl/pkg/utils"
)

// State is the orchestrator lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Orchestrator coordinates one crawl from seeding to the final stats
// summary. Create with New, run once with Run.
type Orchestrator struct {
	crawlCfg config.CrawlConfig
	appCfg   *config.AppConfig

	fetcher   retriever.Retriever
	robots    *robots.Handler
	limiter   *ratelimit.Limiter
	sitemaps  *sitemap.Processor
	extractor *extract.Extractor

	pool *semaphore.Weighted

	// Cleanup, when set together with CleanupOnFail, runs after a crawl
	// that ends by interruption or error, before Run returns.
	Cleanup func()

	state atomic.Int32

	// control-loop-owned, never touched from workers
	front     *frontier.Frontier
	visited   map[string]bool
	results   []models.CrawlResult
	stats     *models.CrawlStats
	capWarned bool

	includes   []*regexp.Regexp
	excludes   []*regexp.Regexp
	seedDomain string

	log *logrus.Entry
}

// New creates an Orchestrator. Both configs are assumed to be validated;
// include/exclude patterns are compiled here and an invalid pattern is a
// fatal configuration error.
func New(
	crawlCfg config.CrawlConfig,
	appCfg *config.AppConfig,
	fetcher retriever.Retriever,
	robotsHandler *robots.Handler,
	limiter *ratelimit.Limiter,
	sitemaps *sitemap.Processor,
	log *logrus.Logger,
) (*Orchestrator, error) {
	includes, err := urlutil.CompilePatterns(crawlCfg.IncludePatterns)
	if err != nil {
		return nil, err
	}
	excludes, err := urlutil.CompilePatterns(crawlCfg.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	entry := log.WithField("component", "orchestrator")
	return &Orchestrator{
		crawlCfg:  crawlCfg,
		appCfg:    appCfg,
		fetcher:   fetcher,
		robots:    robotsHandler,
		limiter:   limiter,
		sitemaps:  sitemaps,
		extractor: extract.New(entry),
		pool:      semaphore.NewWeighted(int64(crawlCfg.MaxWorkers)),
		front:     frontier.New(),
		visited:   make(map[string]bool),
		includes:  includes,
		excludes:  excludes,
		log:       entry,
	}, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	prev := State(o.state.Swap(int32(s)))
	if prev != s {
		o.log.WithFields(logrus.Fields{"from": prev.String(), "to": s.String()}).Info("Orchestrator state change")
	}
}

// Run executes the crawl until the frontier drains, a budget ends it, or
// ctx is cancelled. It always returns the accumulated results and a final
// stats summary, even on interruption.
func (o *Orchestrator) Run(ctx context.Context) ([]models.CrawlResult, *models.CrawlStats, error) {
	o.stats = models.NewCrawlStats(uuid.NewString())
	runLog := o.log.WithField("crawl_id", o.stats.CrawlID)

	// The global timeout is the crawl's own wall-clock budget; parent is
	// kept so budget expiry can be told apart from an external interrupt.
	parent := ctx
	if o.crawlCfg.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.crawlCfg.GlobalTimeout)
		defer cancel()
	}

	// Workers run on their own context so that draining can let them
	// finish after ctx is cancelled, then cut them off at the grace
	// deadline.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	seeded, err := o.seed(ctx, runLog)
	if err != nil {
		o.setState(StateTerminated)
		o.finalize(runLog)
		return nil, o.stats, err
	}
	runLog.WithField("seeds", seeded).Info("Crawl seeded")

	o.setState(StateRunning)

	w := &worker{
		fetcher:     o.fetcher,
		robots:      o.robots,
		extractor:   o.extractor,
		userAgent:   o.userAgent(),
		pageTimeout: o.appCfg.PerPageTimeout,
		log:         runLog,
	}

	completions := make(chan taskResult, o.crawlCfg.MaxWorkers)
	inFlight := 0
	interrupted := false

	progress := time.NewTicker(15 * time.Second)
	defer progress.Stop()

	ctxDone := ctx.Done()
	var graceTimer <-chan time.Time

	startDrain := func() <-chan time.Time {
		if o.State() == StateRunning {
			runLog.Warnf("Shutdown requested (%v), draining %d in-flight workers", ctx.Err(), inFlight)
			o.setState(StateDraining)
			interrupted = true
		}
		return time.After(o.appCfg.DrainGracePeriod)
	}

	for {
		// Checked at the top of every iteration, not only in the select:
		// a cancellation must win over a backlog of ready completions.
		if ctxDone != nil && ctx.Err() != nil {
			ctxDone = nil
			graceTimer = startDrain()
		}

		if o.State() == StateRunning {
			if stop := o.dispatch(ctx, workerCtx, w, completions, &inFlight, runLog); stop {
				o.setState(StateDraining)
				interrupted = true
			}
		}

		if inFlight == 0 {
			if o.State() == StateDraining || o.front.Len() == 0 {
				break
			}
		}

		select {
		case tr := <-completions:
			inFlight--
			o.handleCompletion(tr, runLog)

		case <-ctxDone:
			ctxDone = nil
			graceTimer = startDrain()

		case <-graceTimer:
			runLog.Warnf("Drain grace period elapsed, cancelling %d in-flight workers", inFlight)
			cancelWorkers()
			graceTimer = nil

		case <-progress.C:
			runLog.WithFields(logrus.Fields{
				"state":     o.State().String(),
				"frontier":  o.front.Len(),
				"in_flight": inFlight,
				"stored":    len(o.results),
				"crawled":   o.stats.URLsCrawled,
				"failed":    o.stats.URLsFailed,
			}).Info("Crawl progress")
		}
	}

	o.setState(StateTerminated)
	o.finalize(runLog)

	if interrupted {
		// The crawl reaching its own wall-clock budget is a normal
		// terminal transition: keep the results, no cleanup.
		if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			runLog.Infof("Global timeout (%v) reached, ending crawl with %d stored results",
				o.crawlCfg.GlobalTimeout, len(o.results))
			return o.results, o.stats, nil
		}
		if o.crawlCfg.CleanupOnFail && o.Cleanup != nil {
			runLog.Warn("Cleanup-on-fail set, discarding partial artifacts")
			o.Cleanup()
			return nil, o.stats, ctx.Err()
		}
		return o.results, o.stats, ctx.Err()
	}
	return o.results, o.stats, nil
}

// dispatch starts workers while the pool has capacity and the frontier
// has entries. The inFlight bound keeps outstanding completions within
// the channel buffer, so a worker's final send never blocks. Returns
// true when the context died while waiting for a pool slot.
func (o *Orchestrator) dispatch(ctx, workerCtx context.Context, w *worker, completions chan<- taskResult, inFlight *int, runLog *logrus.Entry) bool {
	for o.front.Len() > 0 && *inFlight < o.crawlCfg.MaxWorkers {
		entry, _ := o.front.Pop()

		// Bounded wait for a pool slot. A full pool frees slots only
		// when a worker finishes, so this also paces the loop.
		acquireCtx, cancel := context.WithTimeout(ctx, o.appCfg.WorkerSpawnTimeout)
		err := o.pool.Acquire(acquireCtx, 1)
		cancel()
		if err != nil {
			o.front.Push(entry)
			if ctx.Err() != nil {
				return true
			}
			runLog.WithField("url", entry.URL).Warn("Worker spawn timeout, requeueing")
			o.stats.ErrorCounts[utils.CategorizeError(utils.ErrWorkerSpawn)]++
			return false
		}

		*inFlight++
		go func(entry models.FrontierEntry) {
			defer o.pool.Release(1)
			defer func() {
				if r := recover(); r != nil {
					runLog.WithFields(logrus.Fields{
						"url":         entry.URL,
						"panic_info":  r,
						"stack_trace": string(debug.Stack()),
					}).Error("PANIC recovered in worker")
					completions <- taskResult{entry: entry, err: utils.ErrUnknownFetch}
				}
			}()

			if err := o.waitForToken(workerCtx, entry); err != nil {
				completions <- taskResult{entry: entry, err: err}
				return
			}
			result, links, err := w.crawlOne(workerCtx, entry)
			completions <- taskResult{entry: entry, result: result, links: links, err: err}
		}(entry)
	}
	return false
}

// waitForToken blocks on the entry's domain bucket within the configured
// wait budget. A robots.txt crawl-delay caps the domain's refill rate
// before the wait begins.
func (o *Orchestrator) waitForToken(ctx context.Context, entry models.FrontierEntry) error {
	domain, err := urlutil.ExtractDomain(entry.URL)
	if err != nil {
		return err
	}
	if parsed, perr := url.Parse(entry.URL); perr == nil {
		if delay := o.robots.CrawlDelay(ctx, parsed); delay > 0 {
			o.limiter.CapRate(domain, 1/delay)
		}
	}
	return o.limiter.Wait(ctx, domain, o.appCfg.RateLimit.WaitTimeout)
}

// handleCompletion folds one worker report into stats, results, and the
// frontier. Runs only on the control loop.
func (o *Orchestrator) handleCompletion(tr taskResult, runLog *logrus.Entry) {
	taskLog := runLog.WithFields(logrus.Fields{"url": tr.entry.URL, "depth": tr.entry.Depth})

	if tr.err != nil {
		switch {
		case errors.Is(tr.err, utils.ErrRateLimitTimeout):
			// Resource pressure, not a page failure. Requeue unless
			// we are already draining.
			o.stats.ErrorCounts[utils.CategorizeError(tr.err)]++
			if o.State() == StateRunning {
				taskLog.Debug("Rate limit wait timed out, requeueing")
				o.front.Push(tr.entry)
			}
		case isPolicySkip(tr.err):
			o.stats.URLsSkipped++
			o.stats.ErrorCounts[utils.CategorizeError(tr.err)]++
			taskLog.Debugf("Skipped: %v", tr.err)
		default:
			o.stats.URLsFailed++
			o.stats.ErrorCounts[utils.CategorizeError(tr.err)]++
			taskLog.Warnf("Crawl failed: %v", tr.err)
		}
		return
	}

	o.stats.URLsCrawled++
	if domain, err := urlutil.ExtractDomain(tr.entry.URL); err == nil {
		o.stats.DomainCounts[domain]++
	}

	if len(o.results) < o.crawlCfg.MaxResults {
		o.results = append(o.results, *tr.result)
		o.stats.ResultsStored++
	} else {
		o.stats.ResultsDropped++
		if !o.capWarned {
			o.capWarned = true
			runLog.Warnf("Result cap (%d) reached, continuing crawl without storing further pages", o.crawlCfg.MaxResults)
		}
	}

	// Links found at the depth limit are counted but never enqueued.
	o.stats.URLsDiscovered += len(tr.links)
	if tr.entry.Depth >= o.crawlCfg.MaxDepth {
		return
	}
	for _, link := range tr.links {
		o.enqueue(link, tr.entry.Depth+1, taskLog)
	}
}

// enqueue runs the admission pipeline for one candidate URL: normalize,
// scheme and domain scope, include/exclude patterns, safety validation,
// and dedup. Survivors enter the frontier exactly once.
func (o *Orchestrator) enqueue(rawURL string, depth int, taskLog *logrus.Entry) {
	normalized, parsed, err := urlutil.ParseAndNormalize(rawURL)
	if err != nil {
		return
	}
	if o.crawlCfg.SameDomainOnly && o.seedDomain != "" && parsed.Hostname() != o.seedDomain {
		return
	}
	if !urlutil.Matches(normalized, o.includes, o.excludes) {
		return
	}
	if err := robots.ValidateDomain(parsed.Hostname()); err != nil {
		taskLog.Debugf("Rejected unsafe link: %v", err)
		return
	}
	if o.visited[normalized] {
		return
	}
	o.visited[normalized] = true
	o.front.Push(models.FrontierEntry{URL: normalized, Depth: depth})
}

// seed fills the frontier from either the explicit URL list or the seed
// URL plus its discovered sitemaps. Returns the number of admitted seeds;
// zero admitted seeds is a fatal configuration problem.
func (o *Orchestrator) seed(ctx context.Context, runLog *logrus.Entry) (int, error) {
	var candidates []string
	if len(o.crawlCfg.URLList) > 0 {
		candidates = o.crawlCfg.URLList
	} else {
		candidates = []string{o.crawlCfg.SeedURL}
	}

	admitted := 0
	var firstUnsafe error
	for _, raw := range candidates {
		normalized, parsed, err := urlutil.ParseAndNormalize(raw)
		if err != nil {
			runLog.Warnf("Skipping invalid seed URL '%s': %v", raw, err)
			continue
		}
		if err := robots.ValidateDomain(parsed.Hostname()); err != nil {
			runLog.Errorf("Rejecting unsafe seed URL '%s': %v", raw, err)
			if firstUnsafe == nil {
				firstUnsafe = err
			}
			continue
		}
		if o.visited[normalized] {
			continue
		}
		o.visited[normalized] = true
		o.front.Push(models.FrontierEntry{URL: normalized, Depth: 0})
		admitted++

		if o.seedDomain == "" {
			o.seedDomain = parsed.Hostname()
		}
	}

	if admitted == 0 {
		if firstUnsafe != nil {
			return 0, firstUnsafe
		}
		return 0, utils.WrapErrorf(utils.ErrConfigValidation, "no valid seed URLs")
	}

	// Website mode: grow the seed set from the site's sitemaps.
	if o.crawlCfg.SeedURL != "" && o.sitemaps != nil {
		_, seedParsed, err := urlutil.ParseAndNormalize(o.crawlCfg.SeedURL)
		if err == nil {
			declared := o.robots.Sitemaps(ctx, seedParsed)
			entries := o.sitemaps.Discover(ctx, seedParsed, declared)
			before := o.front.Len()
			for _, e := range entries {
				o.enqueue(e.Loc, 0, runLog)
			}
			runLog.Infof("Sitemap discovery added %d URLs", o.front.Len()-before)
		}
	}
	return admitted, nil
}

func (o *Orchestrator) userAgent() string {
	if o.crawlCfg.UserAgent != "" {
		return o.crawlCfg.UserAgent
	}
	return o.appCfg.DefaultUserAgent
}

// finalize closes out the stats summary. Runs exactly once per crawl.
func (o *Orchestrator) finalize(runLog *logrus.Entry) {
	o.stats.Duration = time.Since(o.stats.StartTime)
	runLog.WithFields(logrus.Fields{
		"crawled":    o.stats.URLsCrawled,
		"failed":     o.stats.URLsFailed,
		"skipped":    o.stats.URLsSkipped,
		"discovered": o.stats.URLsDiscovered,
		"stored":     o.stats.ResultsStored,
		"dropped":    o.stats.ResultsDropped,
		"duration":   o.stats.Duration.Round(time.Millisecond).String(),
	}).Info("Crawl finished")
}
