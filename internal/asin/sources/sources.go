// Package sources implements the per-provider ASIN lookup adapters: a pure
// function of its inputs and the shared HTTP fabric. A source-level miss
// (a clean response that simply contains no ASIN) is reported as a zero
// Result with a nil error and is never fatal to the resolver. A transport
// failure or non-2xx response is reported as a non-nil error instead —
// still folded into "try the next source" by the resolver's dispatch loop,
// but distinguishable so the per-host circuit breaker can observe it.
package sources

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ebookops/calibre-pipeline/internal/logger"
)

// Name identifies one of the four adapters wired into the resolver.
type Name string

const (
	ISBNDirect   Name = "isbn-direct"
	AmazonSearch Name = "amazon-search"
	GoogleBooks  Name = "google-books"
	OpenLibrary  Name = "openlibrary"
)

const requestTimeout = 10 * time.Second

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
}

// Result is a single adapter's outcome: a found ASIN, or an empty string
// when the source produced no usable match.
type Result struct {
	ASIN string
}

// Source is implemented by every ASIN provider adapter.
type Source interface {
	Name() Name
	Lookup(ctx context.Context, query Query) (Result, error)
}

// Query is the input every adapter receives; fields not relevant to a given
// adapter are simply ignored.
type Query struct {
	ISBN        string
	Title       string
	Author      string
	Marketplace string // amazon.com, amazon.de, ...
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

func randomUserAgent() string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(userAgents))))
	if err != nil {
		return userAgents[0]
	}
	return userAgents[n.Int64()]
}

// errBadStatus reports a non-2xx HTTP response, distinct from a clean
// zero-match Result — the resolver's breaker treats this as a real failure.
func errBadStatus(code int) error {
	return fmt.Errorf("unexpected status %d", code)
}

func setCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", randomUserAgent())
	req.Header.Set("Accept", "text/html,application/json,*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}

// All returns the four standard-order adapters, sharing the given logger.
func All(log *logger.Logger) []Source {
	return []Source{
		NewISBNDirect(log),
		NewAmazonSearch(log),
		NewGoogleBooks(log),
		NewOpenLibrary(log),
	}
}
