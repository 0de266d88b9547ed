package retriever

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"webcrawl/pkg/config"
	"webcrawl/pkg/utils"
)

// HTTPRetriever fetches pages with a tuned net/http client and retries
// transient failures (5xx, 429, network errors) with exponential backoff
// and jitter. 4xx responses are returned immediately and classified as
// client errors.
type HTTPRetriever struct {
	client *http.Client
	cfg    *config.AppConfig
	log    *logrus.Entry
}

// NewHTTPRetriever creates an HTTPRetriever from the app-level HTTP client
// and retry settings.
func NewHTTPRetriever(cfg *config.AppConfig, log *logrus.Entry) *HTTPRetriever {
	return &HTTPRetriever{
		client: newClient(cfg.HTTPClientSettings, log),
		cfg:    cfg,
		log:    log,
	}
}

// newClient builds an http.Client from the provided configuration.
func newClient(cfg config.HTTPClientConfig, log *logrus.Entry) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20,
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
}

// Fetch performs the HTTP GET with retries and returns the body, headers,
// status code, and final URL after redirects.
func (r *HTTPRetriever) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrRequestCreation, "for '%s': %v", rawURL, err)
	}
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}

	start := time.Now()
	resp, err := r.doWithRetry(ctx, req)
	if err != nil {
		// 4xx responses come back with both a response and a classified
		// error; read the body so the caller still sees the status code.
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return &Result{
				StatusCode: resp.StatusCode,
				Headers:    resp.Header,
				FinalURL:   resp.Request.URL,
				Duration:   time.Since(start),
			}, err
		}
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	maxBody := r.cfg.MaxPageSizeBytes
	limited := io.LimitReader(resp.Body, maxBody+1) // +1 to detect exceeding the limit
	body, readErr := io.ReadAll(limited)
	if readErr != nil {
		return nil, utils.WrapErrorf(utils.ErrResponseBodyRead, "from '%s': %v", rawURL, readErr)
	}
	if int64(len(body)) > maxBody {
		return nil, utils.WrapErrorf(utils.ErrResponseBodyRead, "page '%s' exceeds max size (%d bytes)", rawURL, maxBody)
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
		FinalURL:   resp.Request.URL,
		Duration:   time.Since(start),
	}, nil
}

// doWithRetry executes the request, retrying 5xx/429 and transient network
// errors with exponential backoff plus jitter. On a 2xx it returns the open
// response. On a non-retryable status it returns the open response together
// with the classified error; the caller owns the body in both cases.
func (r *HTTPRetriever) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	var resp *http.Response

	reqLog := r.log.WithField("url", req.URL.String())
	maxRetries := r.cfg.MaxRetries
	initialDelay := r.cfg.InitialRetryDelay
	maxDelay := r.cfg.MaxRetryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
			}
			return nil, ctx.Err()
		default:
		}

		if attempt > 0 {
			delay := backoffDelay(initialDelay, maxDelay, attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Warn("Retrying request...")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
				}
				return nil, ctx.Err()
			}
		}

		resp, lastErr = r.client.Do(req.WithContext(ctx))

		if lastErr != nil {
			if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
				drainAndClose(resp)
				return nil, lastErr
			}
			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", lastErr)
			drainAndClose(resp)
			continue
		}

		statusCode := resp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return resp, nil

		case statusCode >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, resp.Status)
			drainAndClose(resp)
			continue

		case statusCode == http.StatusTooManyRequests:
			resLog.Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status)
			drainAndClose(resp)
			continue

		case statusCode >= 400 && statusCode < 500:
			resLog.Warn("Client error (4xx), not retrying")
			return resp, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status)

		default:
			resLog.Warnf("Non-retryable/unexpected status: %d", statusCode)
			return resp, fmt.Errorf("%w: status %d %s", utils.ErrUnknownFetch, statusCode, resp.Status)
		}
	}

	reqLog.Errorf("All %d fetch retries failed. Last error: %v", maxRetries+1, lastErr)
	drainAndClose(resp)
	if lastErr != nil {
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return nil, utils.ErrRetryFailed
}

// backoffDelay computes initial * 2^(attempt-1), capped at max, with
// +/- 10% jitter to avoid synchronized retry storms.
func backoffDelay(initial, max time.Duration, attempt int) time.Duration {
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	delay := time.Duration(backoff)
	if delay <= 0 || delay > max {
		delay = max
	}
	var jitter time.Duration
	if delay > 0 {
		jitter = time.Duration(rand.Int63n(int64(delay)/5)) - (delay / 10)
	}
	final := delay + jitter
	if final < 0 {
		final = 0
	}
	return final
}

// classifyTransportError wraps a network-level error with the matching
// fetch-class sentinel so callers can distinguish timeouts from
// connection failures without string inspection.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", utils.ErrFetchTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, utils.ErrRetryFailed) || errors.Is(err, utils.ErrServerHTTPError) ||
		errors.Is(err, utils.ErrClientHTTPError) || errors.Is(err, utils.ErrUnknownFetch) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", utils.ErrFetchTimeout, err)
	}
	return fmt.Errorf("%w: %w", utils.ErrConnection, err)
}

func drainAndClose(resp *http.Response) {
	if resp != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
