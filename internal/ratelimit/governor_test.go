package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAllowsBurstWithoutDelay(t *testing.T) {
	g := New(1000, 5, nil) // fast rate, avoid flaking on timing
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := g.Acquire(ctx, "amazon.com")
		require.NoError(t, err)
	}

	stats := g.Stats("amazon.com")
	assert.Equal(t, uint64(5), stats.RequestsMade)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	g := New(0.01, 1, nil) // ~100s interval, force a wait
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Acquire(ctx, "amazon.de")
	require.NoError(t, err) // first call consumes the burst token immediately

	_, err = g.Acquire(ctx, "amazon.de")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHostsAreIndependent(t *testing.T) {
	g := New(0.01, 1, nil)
	ctx := context.Background()

	_, err := g.Acquire(ctx, "amazon.com")
	require.NoError(t, err)

	// A different host must not be throttled by amazon.com's bucket.
	done := make(chan error, 1)
	go func() {
		_, err := g.Acquire(ctx, "googleapis.com")
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("acquire on a distinct host blocked on another host's bucket")
	}
}

func TestOnRateLimitedWidensInterval(t *testing.T) {
	g := New(10, 1, nil)
	before := g.Stats("amazon.co.jp").CurrentInterval

	g.OnRateLimited("amazon.co.jp", 2*time.Second)

	after := g.Stats("amazon.co.jp")
	assert.Greater(t, after.CurrentInterval, before)
	assert.Equal(t, uint64(1), after.BackoffEvents)
}

func TestOnRateLimitedClampsToMaxInterval(t *testing.T) {
	g := New(10, 1, nil)
	g.maxInterval = 5 * time.Second

	backoff := g.OnRateLimited("amazon.com", time.Hour)
	assert.LessOrEqual(t, backoff, 5*time.Second+time.Second) // allow jitter headroom
}

func TestResetRestoresBaseInterval(t *testing.T) {
	g := New(10, 1, nil)
	g.OnRateLimited("openlibrary.org", time.Second)
	assert.NotEqual(t, g.defaultRate, g.Stats("openlibrary.org").CurrentInterval)

	g.Reset("openlibrary.org")
	assert.Equal(t, g.defaultRate, g.Stats("openlibrary.org").CurrentInterval)
}

func TestObserveResponseTooManyRequests(t *testing.T) {
	g := New(10, 1, nil)

	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	resp.Header.Set("Retry-After", "1")

	g.ObserveResponse("amazon.com", resp)
	assert.Equal(t, uint64(1), g.Stats("amazon.com").BackoffEvents)
}

func TestObserveResponseNilIsNoop(t *testing.T) {
	g := New(10, 1, nil)
	g.ObserveResponse("amazon.com", nil)
	assert.Equal(t, uint64(0), g.Stats("amazon.com").BackoffEvents)
}

func TestParseRetryAfterSecondsAndDate(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))

	future := time.Now().Add(2 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.Greater(t, d, time.Duration(0))
}

func TestNewIntegrationWithHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := New(1000, 5, nil)
	_, err := g.Acquire(context.Background(), "amazon.com")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	g.ObserveResponse("amazon.com", resp)
}
