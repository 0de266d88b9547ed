package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"webcrawl/pkg/config"
	"webcrawl/pkg/crawl"
	"webcrawl/pkg/output"
	"webcrawl/pkg/ratelimit"
	"webcrawl/pkg/retriever"
	"webcrawl/pkg/robots"
	"webcrawl/pkg/sitemap"
	"webcrawl/pkg/utils"
)

// stringSliceFlag collects repeatable flag values.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ",") }

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func main() {
	// --- Early Initialization & Flags ---
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel) // Default level

	var includePatterns, excludePatterns stringSliceFlag
	urlFlag := flag.String("url", "", "Seed URL to crawl (website mode)")
	urlsFileFlag := flag.String("urls-file", "", "File with one URL per line (list mode)")
	depthFlag := flag.Int("depth", 2, "Maximum link depth from the seed")
	workersFlag := flag.Int("workers", 4, "Maximum concurrent workers")
	rpsFlag := flag.Float64("rps", 2, "Requests per second per domain")
	burstFlag := flag.Int("burst", 5, "Token bucket burst size per domain")
	flag.Var(&includePatterns, "include", "Regex a URL must match to be crawled (repeatable)")
	flag.Var(&excludePatterns, "exclude", "Regex that excludes a URL from the crawl (repeatable)")
	respectRobotsFlag := flag.Bool("respect-robots", true, "Honor robots.txt disallow rules")
	sameDomainFlag := flag.Bool("same-domain", true, "Follow links on the seed domain only")
	retrieverFlag := flag.String("retriever", "http", "Page retriever: http or headless")
	formatFlag := flag.String("format", "console", "Output format: console, jsonl, or markdown")
	outFlag := flag.String("out", "crawl-output", "Output directory for file formats")
	maxResultsFlag := flag.Int("max-results", 1000, "Maximum results to store")
	timeoutFlag := flag.Duration("timeout", 0, "Global crawl timeout (0 disables)")
	cleanupFlag := flag.Bool("cleanup-on-fail", false, "Discard partial output files if the crawl is interrupted")
	userAgentFlag := flag.String("user-agent", "", "Override the User-Agent header")
	configFileFlag := flag.String("config", "", "Optional YAML file with application settings")
	logLevelFlag := flag.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	pprofAddr := flag.String("pprof", "", "Address for pprof HTTP server (e.g. ':6060', empty to disable)")
	flag.Parse()

	// --- Logger Configuration ---
	level, err := logrus.ParseLevel(*logLevelFlag)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", *logLevelFlag, err)
	} else {
		log.SetLevel(level)
	}

	// --- Load Application Configuration ---
	var appCfg config.AppConfig
	if *configFileFlag != "" {
		log.Infof("Loading configuration from %s", *configFileFlag)
		yamlFile, err := os.ReadFile(*configFileFlag)
		if err != nil {
			log.Fatalf("Read config file '%s' error: %v", *configFileFlag, err)
		}
		if err := yaml.Unmarshal(yamlFile, &appCfg); err != nil {
			log.Fatalf("Parse config file '%s' error: %v", *configFileFlag, err)
		}
	}
	appCfg.RateLimit.RequestsPerSecond = *rpsFlag
	appCfg.RateLimit.MaxTokens = *burstFlag
	appWarnings, _ := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}

	// --- Build and Validate Crawl Configuration ---
	crawlCfg := config.CrawlConfig{
		SeedURL:         *urlFlag,
		MaxDepth:        *depthFlag,
		MaxWorkers:      *workersFlag,
		MaxResults:      *maxResultsFlag,
		IncludePatterns: includePatterns,
		ExcludePatterns: excludePatterns,
		RespectRobots:   *respectRobotsFlag,
		SameDomainOnly:  *sameDomainFlag,
		UserAgent:       *userAgentFlag,
		GlobalTimeout:   *timeoutFlag,
		CleanupOnFail:   *cleanupFlag,
	}
	if *urlsFileFlag != "" {
		urls, err := readURLList(*urlsFileFlag)
		if err != nil {
			log.Fatalf("Read URL list '%s' error: %v", *urlsFileFlag, err)
		}
		crawlCfg.URLList = urls
	}
	crawlWarnings, err := crawlCfg.Validate()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	for _, w := range crawlWarnings {
		log.Warn(w)
	}

	format, err := output.ParseFormat(*formatFlag)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// --- Start pprof HTTP Server (Optional) ---
	if *pprofAddr != "" {
		go func() {
			log.Infof("Starting pprof HTTP server on: http://%s/debug/pprof/", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				log.Errorf("Pprof server failed to start on %s: %v", *pprofAddr, err)
			}
		}()
	}

	// --- Signal Handling ---
	crawlCtx, cancelCrawl := context.WithCancel(context.Background())
	defer cancelCrawl()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancelCrawl()

		// Allow force exit on second signal or timeout
		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(appCfg.DrainGracePeriod + 30*time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	// ===========================================================
	// == Initialize Components ==
	// ===========================================================
	log.Info("Initializing components...")

	userAgent := crawlCfg.UserAgent
	if userAgent == "" {
		userAgent = appCfg.DefaultUserAgent
	}

	var fetcher retriever.Retriever
	switch *retrieverFlag {
	case "http":
		fetcher = retriever.NewHTTPRetriever(&appCfg, log.WithField("component", "retriever"))
	case "headless":
		headless, err := retriever.NewHeadlessRetriever(retriever.HeadlessConfig{
			MaxParallel:       crawlCfg.MaxWorkers,
			NavigationTimeout: appCfg.PerPageTimeout,
		}, log.WithField("component", "retriever"))
		if err != nil {
			log.Fatalf("Failed to initialize headless retriever: %v", err)
		}
		defer headless.Close()
		fetcher = headless
	default:
		log.Fatalf("Configuration error: unknown retriever '%s' (want http or headless)", *retrieverFlag)
	}

	robotsHandler := robots.NewHandler(fetcher, crawlCfg.RespectRobots, userAgent, log.WithField("component", "robots"))
	limiter := ratelimit.New(appCfg.RateLimit, log.WithField("component", "ratelimit"))
	sitemaps := sitemap.NewProcessor(fetcher, appCfg.Sitemap, userAgent, logrus.NewEntry(log))

	outputMgr, err := output.NewManager(format, *outFlag, log.WithField("component", "output"))
	if err != nil {
		log.Fatalf("Failed to initialize output: %v", err)
	}
	defer outputMgr.Close()

	orch, err := crawl.New(crawlCfg, &appCfg, fetcher, robotsHandler, limiter, sitemaps, log)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	orch.Cleanup = outputMgr.CleanupArtifacts

	// ===========================================================
	// == Run ==
	// ===========================================================
	results, stats, runErr := orch.Run(crawlCtx)

	for i := range results {
		if writeErr := outputMgr.WriteResult(&results[i]); writeErr != nil {
			log.Errorf("Failed to write result: %v", writeErr)
		}
	}
	outputMgr.WriteSummary(stats)
	outputMgr.Close()

	// --- Exit ---
	if runErr != nil {
		switch {
		case errors.Is(runErr, context.Canceled):
			log.Warn("Crawl cancelled gracefully.")
			os.Exit(0)
		case errors.Is(runErr, context.DeadlineExceeded):
			log.Error("Crawl interrupted by an external deadline.")
			os.Exit(1)
		case errors.Is(runErr, utils.ErrConfigValidation), errors.Is(runErr, utils.ErrUnsafeDomain):
			log.Errorf("Crawl aborted: %v", runErr)
			os.Exit(2)
		default:
			log.Errorf("Crawl finished with error: %v", runErr)
			os.Exit(1)
		}
	}
	log.Info("Crawl completed successfully.")
}

// readURLList loads the list-mode input file, skipping blank lines and
// #-comments.
func readURLList(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no URLs found in '%s'", path)
	}
	return urls, nil
}
