package asin

import (
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ebookops/calibre-pipeline/internal/asin/sources"
	"github.com/ebookops/calibre-pipeline/internal/logger"
	"github.com/ebookops/calibre-pipeline/internal/metrics"
)

// breakerPool keeps one circuit breaker per marketplace host, tripping
// after five consecutive adapter failures against that host and probing
// again after a cooldown.
type breakerPool struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[sources.Result]
	log      *logger.Logger
}

func newBreakerPool(log *logger.Logger) *breakerPool {
	return &breakerPool{breakers: make(map[string]*gobreaker.CircuitBreaker[sources.Result]), log: log}
}

func (p *breakerPool) forHost(host string) *gobreaker.CircuitBreaker[sources.Result] {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[host]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn().Str("host", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			if to == gobreaker.StateOpen {
				metrics.Pipeline.CircuitBreakerTrips.WithLabelValues(name).Inc()
			}
		},
	}
	cb := gobreaker.NewCircuitBreaker[sources.Result](settings)
	p.breakers[host] = cb
	return cb
}
