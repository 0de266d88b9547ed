package ratelimit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"webcrawl/pkg/config"
	"webcrawl/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testConfig(rps float64, burst int) config.RateLimitConfig {
	return config.RateLimitConfig{
		RequestsPerSecond: rps,
		MaxTokens:         burst,
		WaitTimeout:       time.Second,
		InitialBackoff:    5 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        50 * time.Millisecond,
	}
}

func TestTryConsume_BurstThenLimited(t *testing.T) {
	l := New(testConfig(0.001, 3), testLogger()) // effectively no refill

	for i := 0; i < 3; i++ {
		if err := l.TryConsume("example.com"); err != nil {
			t.Fatalf("token %d: unexpected error: %v", i+1, err)
		}
	}
	err := l.TryConsume("example.com")
	if !errors.Is(err, utils.ErrRateLimited) {
		t.Fatalf("after burst: err = %v, want ErrRateLimited", err)
	}
}

func TestTryConsume_DomainsIndependent(t *testing.T) {
	l := New(testConfig(0.001, 1), testLogger())

	if err := l.TryConsume("a.example.com"); err != nil {
		t.Fatalf("domain a: %v", err)
	}
	if err := l.TryConsume("b.example.com"); err != nil {
		t.Fatalf("domain b should have its own bucket: %v", err)
	}
	if err := l.TryConsume("a.example.com"); !errors.Is(err, utils.ErrRateLimited) {
		t.Fatalf("domain a second token: err = %v, want ErrRateLimited", err)
	}
	if l.Domains() != 2 {
		t.Errorf("Domains() = %d, want 2", l.Domains())
	}
}

func TestWait_SucceedsAfterRefill(t *testing.T) {
	l := New(testConfig(50, 1), testLogger()) // refills a token every 20ms

	if err := l.TryConsume("example.com"); err != nil {
		t.Fatalf("initial token: %v", err)
	}
	start := time.Now()
	if err := l.Wait(context.Background(), "example.com", 500*time.Millisecond); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("Wait took %v, expected well under the budget", elapsed)
	}
}

func TestWait_TimesOut(t *testing.T) {
	l := New(testConfig(0.001, 1), testLogger())

	if err := l.TryConsume("example.com"); err != nil {
		t.Fatalf("initial token: %v", err)
	}
	start := time.Now()
	err := l.Wait(context.Background(), "example.com", 60*time.Millisecond)
	if !errors.Is(err, utils.ErrRateLimitTimeout) {
		t.Fatalf("err = %v, want ErrRateLimitTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Wait blocked %v, should respect its budget", elapsed)
	}
}

func TestCapRate_LowersButNeverRaises(t *testing.T) {
	l := New(testConfig(5, 1), testLogger())

	if err := l.TryConsume("example.com"); err != nil {
		t.Fatalf("initial token: %v", err)
	}
	l.CapRate("example.com", 0.01) // one token per 100s

	time.Sleep(30 * time.Millisecond)
	if err := l.TryConsume("example.com"); !errors.Is(err, utils.ErrRateLimited) {
		t.Fatalf("capped bucket refilled: err = %v, want ErrRateLimited", err)
	}

	// A higher cap must not undo a stricter one.
	l.CapRate("example.com", 500)
	time.Sleep(30 * time.Millisecond)
	if err := l.TryConsume("example.com"); !errors.Is(err, utils.ErrRateLimited) {
		t.Fatalf("cap was raised: err = %v, want ErrRateLimited", err)
	}
}

func TestWait_ConcurrentCallersDesynchronized(t *testing.T) {
	// One token every 50ms; both callers start against an empty bucket,
	// so they must take turns rather than waking in lockstep.
	l := New(testConfig(20, 1), testLogger())
	if err := l.TryConsume("example.com"); err != nil {
		t.Fatalf("initial token: %v", err)
	}

	type wake struct {
		at  time.Time
		err error
	}
	wakes := make(chan wake, 2)
	for i := 0; i < 2; i++ {
		go func() {
			err := l.Wait(context.Background(), "example.com", 2*time.Second)
			wakes <- wake{at: time.Now(), err: err}
		}()
	}

	first, second := <-wakes, <-wakes
	if first.err != nil || second.err != nil {
		t.Fatalf("Wait errors: %v, %v", first.err, second.err)
	}
	delta := second.at.Sub(first.at)
	if delta < 0 {
		delta = -delta
	}
	if delta < time.Millisecond {
		t.Errorf("both callers acquired tokens %v apart, expected desynchronized wakeups", delta)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	l := New(testConfig(0.001, 1), testLogger())
	if err := l.TryConsume("example.com"); err != nil {
		t.Fatalf("initial token: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := l.Wait(ctx, "example.com", 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
