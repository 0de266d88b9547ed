// Package ratelimit implements per-domain token-bucket rate limiting for
// crawl politeness. Each domain owns an independent bucket that refills
// continuously; blocked callers retry with exponential backoff plus jitter
// so that many workers stalled on the same domain do not wake in lockstep.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"webcrawl/pkg/config"
	"webcrawl/pkg/utils"
)

// Limiter manages one token bucket per domain. Buckets are created lazily
// on first use and live for the duration of the crawl. All bucket mutation
// is serialized inside rate.Limiter; the map itself is guarded by a mutex.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	cfg     config.RateLimitConfig
	log     *logrus.Entry
}

// New creates a Limiter. The config is assumed to be validated.
func New(cfg config.RateLimitConfig, log *logrus.Entry) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		cfg:     cfg,
		log:     log,
	}
}

// bucket returns the token bucket for a domain, creating it full on first
// request.
func (l *Limiter) bucket(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[domain]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.MaxTokens)
		l.buckets[domain] = b
		l.log.WithFields(logrus.Fields{
			"domain": domain, "rps": l.cfg.RequestsPerSecond, "burst": l.cfg.MaxTokens,
		}).Debug("Created domain token bucket")
	}
	return b
}

// TryConsume makes a non-blocking attempt to take one token for the domain.
// Returns ErrRateLimited when the bucket is empty.
func (l *Limiter) TryConsume(domain string) error {
	if l.bucket(domain).Allow() {
		return nil
	}
	return utils.WrapErrorf(utils.ErrRateLimited, "domain '%s'", domain)
}

// Wait blocks until a token is available for the domain or the timeout
// budget is spent. Retries use exponential backoff
// (initial * multiplier^attempt, capped) with random jitter of up to a few
// tens of milliseconds. Never blocks past the caller-supplied budget.
func (l *Limiter) Wait(ctx context.Context, domain string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = l.cfg.WaitTimeout
	}
	deadline := time.Now().Add(timeout)
	b := l.bucket(domain)

	backoff := l.cfg.InitialBackoff
	for attempt := 0; ; attempt++ {
		if b.Allow() {
			if attempt > 0 {
				l.log.WithFields(logrus.Fields{"domain": domain, "attempts": attempt + 1}).
					Debug("Token acquired after backoff")
			}
			return nil
		}

		// Jitter keeps concurrent blocked callers from retrying at
		// identical timestamps.
		jitter := time.Duration(rand.Int63n(int64(30 * time.Millisecond)))
		sleep := backoff + jitter
		if remaining := time.Until(deadline); sleep > remaining {
			if remaining <= 0 {
				return utils.WrapErrorf(utils.ErrRateLimitTimeout, "domain '%s' after %v", domain, timeout)
			}
			sleep = remaining
		}

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}

		if time.Now().After(deadline) && !b.Allow() {
			return utils.WrapErrorf(utils.ErrRateLimitTimeout, "domain '%s' after %v", domain, timeout)
		} else if time.Now().After(deadline) {
			return nil
		}

		backoff = time.Duration(float64(backoff) * l.cfg.BackoffMultiplier)
		if backoff > l.cfg.MaxBackoff {
			backoff = l.cfg.MaxBackoff
		}
	}
}

// CapRate lowers a domain's refill rate to at most rps. Honors a
// robots.txt crawl-delay: a faster configured bucket is slowed down, a
// slower one is left alone, and the cap is never raised again.
func (l *Limiter) CapRate(domain string, rps float64) {
	if rps <= 0 {
		return
	}
	b := l.bucket(domain)
	if float64(b.Limit()) > rps {
		b.SetLimit(rate.Limit(rps))
		l.log.WithFields(logrus.Fields{"domain": domain, "rps": rps}).
			Debug("Capped domain rate per crawl-delay")
	}
}

// Tokens reports the current token count for a domain's bucket, creating
// the bucket if needed. Intended for tests and diagnostics.
func (l *Limiter) Tokens(domain string) float64 {
	return l.bucket(domain).Tokens()
}

// Domains returns the number of buckets created so far.
func (l *Limiter) Domains() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
