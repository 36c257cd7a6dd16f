// Package ratelimit provides a per-host request governor used by every ASIN
// source adapter so a slow or throttling marketplace cannot starve requests
// bound for a different host.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ebookops/calibre-pipeline/internal/logger"
	"github.com/ebookops/calibre-pipeline/internal/metrics"
)

// Stats reports the observed behavior of a single host's bucket.
type Stats struct {
	RequestsMade    uint64
	TotalDelay      time.Duration
	BackoffEvents   uint64
	CurrentInterval time.Duration
}

type hostBucket struct {
	mu            sync.Mutex
	limiter       *rate.Limiter
	baseInterval  time.Duration
	interval      time.Duration
	maxInterval   time.Duration
	backoffFactor float64
	jitterFactor  float64
	stats         Stats
}

// Governor grants per-host permission to make outbound requests, adapting
// each host's interval independently when that host signals it is
// rate-limited (HTTP 429, Retry-After).
type Governor struct {
	mu            sync.Mutex
	hosts         map[string]*hostBucket
	defaultRate   time.Duration
	burst         int
	maxInterval   time.Duration
	backoffFactor float64
	jitterFactor  float64
	logger        *logger.Logger
}

const (
	DefaultInterval      = 2 * time.Second
	DefaultBurst         = 1
	DefaultMaxInterval   = 10 * time.Minute
	DefaultBackoffFactor = 8.0
	DefaultJitterFactor  = 0.5
)

// New creates a Governor. requestsPerSecond <= 0 falls back to the default
// conservative rate of one request per two seconds.
func New(requestsPerSecond float64, burst int, log *logger.Logger) *Governor {
	interval := DefaultInterval
	if requestsPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / requestsPerSecond)
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	if log == nil {
		log = logger.Get()
	}
	return &Governor{
		hosts:         make(map[string]*hostBucket),
		defaultRate:   interval,
		burst:         burst,
		maxInterval:   DefaultMaxInterval,
		backoffFactor: DefaultBackoffFactor,
		jitterFactor:  DefaultJitterFactor,
		logger:        log,
	}
}

func (g *Governor) bucket(host string) *hostBucket {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.hosts[host]
	if !ok {
		b = &hostBucket{
			limiter:       rate.NewLimiter(rate.Every(g.defaultRate), g.burst),
			baseInterval:  g.defaultRate,
			interval:      g.defaultRate,
			maxInterval:   g.maxInterval,
			backoffFactor: g.backoffFactor,
			jitterFactor:  g.jitterFactor,
		}
		g.hosts[host] = b
	}
	return b
}

// Acquire blocks until a request to host is permitted, returning the delay
// actually observed. It respects ctx cancellation.
func (g *Governor) Acquire(ctx context.Context, host string) (time.Duration, error) {
	b := g.bucket(host)

	start := time.Now()
	if err := b.limiter.Wait(ctx); err != nil {
		// Wait fails early, with its own unwrapped error, when the next
		// token would arrive after ctx's deadline; report that as the
		// deadline error so callers can match it with errors.Is.
		if ctx.Err() == nil {
			if _, ok := ctx.Deadline(); ok {
				err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
			}
		}
		return time.Since(start), err
	}
	delay := time.Since(start)

	b.mu.Lock()
	b.stats.RequestsMade++
	b.stats.TotalDelay += delay
	b.mu.Unlock()

	metrics.Pipeline.GovernorDelaySeconds.WithLabelValues(host).Observe(delay.Seconds())

	return delay, nil
}

// OnRateLimited tells the governor host signalled it is being throttled,
// optionally with a server-provided Retry-After duration. The host's
// interval is widened exponentially with jitter.
func (g *Governor) OnRateLimited(host string, retryAfter time.Duration) time.Duration {
	b := g.bucket(host)

	b.mu.Lock()
	defer b.mu.Unlock()

	base := b.interval
	if retryAfter > 0 {
		base = time.Duration(float64(retryAfter) * 1.2)
	}

	backoff := time.Duration(float64(base) * b.backoffFactor)
	jitter := time.Duration((rand.Float64()*2 - 1) * float64(backoff) * b.jitterFactor)
	backoff += jitter

	if backoff < b.baseInterval {
		backoff = b.baseInterval
	}
	if backoff > b.maxInterval {
		backoff = b.maxInterval
	}

	b.interval = backoff
	b.limiter.SetLimit(rate.Every(backoff))
	b.stats.BackoffEvents++

	metrics.Pipeline.GovernorBackoffs.WithLabelValues(host).Inc()

	g.logger.Warn().
		Str("host", host).
		Dur("new_interval", backoff).
		Msg("rate limited, widening request interval")

	return backoff
}

// ObserveResponse inspects standard rate-limit response headers and adapts
// the host's bucket accordingly; a no-op if resp is nil or carries none.
func (g *Governor) ObserveResponse(host string, resp *http.Response) {
	if resp == nil {
		return
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		g.OnRateLimited(host, parseRetryAfter(resp.Header.Get("Retry-After")))
		return
	}
	if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" {
		if n, err := strconv.Atoi(remaining); err == nil && n <= 1 {
			g.OnRateLimited(host, parseRetryAfter(resp.Header.Get("Retry-After")))
		}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 0
}

// Reset restores host's interval to its configured base rate.
func (g *Governor) Reset(host string) {
	b := g.bucket(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interval = b.baseInterval
	b.limiter.SetLimit(rate.Every(b.baseInterval))
}

// Stats returns a snapshot of host's observed usage.
func (g *Governor) Stats(host string) Stats {
	b := g.bucket(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.CurrentInterval = b.interval
	return s
}
