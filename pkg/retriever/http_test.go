package retriever

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcrawl/pkg/config"
	"webcrawl/pkg/utils"
)

func testRetriever(t *testing.T, mutate func(*config.AppConfig)) *HTTPRetriever {
	t.Helper()
	cfg := &config.AppConfig{
		MaxRetries:        2,
		InitialRetryDelay: time.Millisecond,
		MaxRetryDelay:     5 * time.Millisecond,
		MaxPageSizeBytes:  1 << 20,
	}
	if mutate != nil {
		mutate(cfg)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewHTTPRetriever(cfg, logrus.NewEntry(log))
}

func TestFetch_Success(t *testing.T) {
	var gotAgent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent.Store(r.UserAgent())
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>ok</html>"))
	}))
	defer server.Close()

	res, err := testRetriever(t, nil).Fetch(context.Background(), server.URL, Options{UserAgent: "testbot/1.0"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "<html>ok</html>", string(res.Body))
	assert.Equal(t, "text/html", res.Headers.Get("Content-Type"))
	assert.Equal(t, "testbot/1.0", gotAgent.Load())
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestFetch_RetriesServerErrorThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer server.Close()

	res, err := testRetriever(t, nil).Fetch(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(res.Body))
	assert.Equal(t, int32(2), attempts.Load())
}

func TestFetch_Retries429(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	_, err := testRetriever(t, nil).Fetch(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestFetch_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	res, err := testRetriever(t, nil).Fetch(context.Background(), server.URL, Options{})
	assert.ErrorIs(t, err, utils.ErrClientHTTPError)
	assert.Equal(t, int32(1), attempts.Load(), "4xx must not be retried")
	require.NotNil(t, res, "status code survives a client error")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestFetch_RetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := testRetriever(t, nil).Fetch(context.Background(), server.URL, Options{})
	assert.ErrorIs(t, err, utils.ErrRetryFailed)
	assert.ErrorIs(t, err, utils.ErrServerHTTPError)
	assert.Equal(t, int32(3), attempts.Load(), "initial attempt plus MaxRetries")
}

func TestFetch_BodySizeLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer server.Close()

	r := testRetriever(t, func(cfg *config.AppConfig) { cfg.MaxPageSizeBytes = 1024 })
	_, err := r.Fetch(context.Background(), server.URL, Options{})
	assert.ErrorIs(t, err, utils.ErrResponseBodyRead)
}

func TestFetch_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("landed"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	res, err := testRetriever(t, nil).Fetch(context.Background(), server.URL+"/start", Options{})
	require.NoError(t, err)
	assert.Equal(t, "landed", string(res.Body))
	assert.Equal(t, "/final", res.FinalURL.Path)
}

func TestFetch_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := testRetriever(t, nil).Fetch(ctx, server.URL, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetch_InvalidURL(t *testing.T) {
	_, err := testRetriever(t, nil).Fetch(context.Background(), "://missing-scheme", Options{})
	assert.ErrorIs(t, err, utils.ErrRequestCreation)
}

func TestBackoffDelay_JitterDesynchronizes(t *testing.T) {
	initial := 100 * time.Millisecond
	max := 2 * time.Second

	// Two callers computing the same attempt should not land on the same
	// delay, or synchronized retry storms would follow.
	seen := make(map[time.Duration]bool)
	for i := 0; i < 16; i++ {
		seen[backoffDelay(initial, max, 2)] = true
	}
	assert.Greater(t, len(seen), 1, "jitter should vary the delay between callers")

	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffDelay(initial, max, attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, max+max/5, "delay must stay near the cap even at high attempts")
	}
}
