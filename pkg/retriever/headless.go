package retriever

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"webcrawl/pkg/utils"
)

// HeadlessConfig controls the chromedp-backed retriever.
type HeadlessConfig struct {
	MaxParallel       int           // concurrent browser tabs; 0 disables the bound
	NavigationTimeout time.Duration // per-page navigation deadline
}

// HeadlessRetriever fetches pages through headless Chrome so that
// JavaScript-rendered content is visible to the crawl. The rendering logic
// itself lives entirely in the browser; this type only drives navigation
// and captures the resulting DOM.
type HeadlessRetriever struct {
	cfg         HeadlessConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	log         *logrus.Entry
}

// NewHeadlessRetriever starts a shared Chrome exec allocator. Call Close
// when the crawl finishes.
func NewHeadlessRetriever(cfg HeadlessConfig, log *logrus.Entry) (*HeadlessRetriever, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("headless max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &HeadlessRetriever{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		log:         log,
	}, nil
}

// Close cancels the allocator context, shutting the browser down.
func (h *HeadlessRetriever) Close() {
	h.allocCancel()
}

// Fetch navigates with a headless browser tab and returns the rendered DOM.
func (h *HeadlessRetriever) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	if err := h.acquire(ctx); err != nil {
		return nil, err
	}
	defer h.release()

	tabCtx, tabCancel := chromedp.NewContext(h.allocator)
	defer tabCancel()

	timeout := h.cfg.NavigationTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	tabCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	// Stop the navigation if the crawl itself is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			tabCancel()
		case <-tabCtx.Done():
		}
	}()

	meta := &responseMeta{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	start := time.Now()
	var html, finalURL string
	actions := []chromedp.Action{
		h.setupAction(opts.UserAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return nil, classifyTransportError(fmt.Errorf("headless navigation: %w", err))
	}

	status, headers := meta.snapshot()
	if status == 0 {
		status = http.StatusOK
	}
	parsedFinal, err := url.Parse(finalURL)
	if err != nil || parsedFinal.Host == "" {
		parsedFinal, err = url.Parse(rawURL)
		if err != nil {
			return nil, utils.WrapErrorf(utils.ErrInvalidURL, "final URL '%s'", finalURL)
		}
	}

	res := &Result{
		StatusCode: status,
		Body:       []byte(html),
		Headers:    headers,
		FinalURL:   parsedFinal,
		Duration:   time.Since(start),
	}
	if fetchErr := utils.ClassifyStatusCode(status); fetchErr != nil {
		return res, fmt.Errorf("%w: status %d", fetchErr, status)
	}
	return res, nil
}

func (h *HeadlessRetriever) setupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (h *HeadlessRetriever) acquire(ctx context.Context) error {
	if h.limiter == nil {
		return nil
	}
	select {
	case h.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait cancelled: %w", ctx.Err())
	}
}

func (h *HeadlessRetriever) release() {
	if h.limiter == nil {
		return
	}
	select {
	case <-h.limiter:
	default:
	}
}

// responseMeta captures the status and headers of the main document
// response from CDP network events.
type responseMeta struct {
	mu      sync.Mutex
	status  int
	headers http.Header
}

func (m *responseMeta) captureEvent(ev interface{}) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return // keep the first document response
	}
	m.status = int(resp.Response.Status)
	headers := http.Header{}
	for k, v := range resp.Response.Headers {
		if s, ok := v.(string); ok {
			headers.Set(k, s)
		}
	}
	m.headers = headers
}

func (m *responseMeta) snapshot() (int, http.Header) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.headers == nil {
		return m.status, http.Header{}
	}
	return m.status, m.headers
}
