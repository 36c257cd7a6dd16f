// Package asin implements the multi-source, cache-backed, rate-limited
// ASIN resolution engine: deterministic strategy ordering across an ASIN
// cache, localized search terms, and a fixed fallback chain of source
// adapters.
package asin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ebookops/calibre-pipeline/internal/asin/sources"
	"github.com/ebookops/calibre-pipeline/internal/cache"
	"github.com/ebookops/calibre-pipeline/internal/localize"
	"github.com/ebookops/calibre-pipeline/internal/logger"
	"github.com/ebookops/calibre-pipeline/internal/metrics"
	"github.com/ebookops/calibre-pipeline/internal/ratelimit"
	"github.com/ebookops/calibre-pipeline/internal/types"
)

// DefaultCacheTTL is applied to freshly resolved entries when the caller
// does not override it.
const DefaultCacheTTL = 30 * 24 * time.Hour

// sourceConfidence is the fixed per-source baseline from the strategy
// table; amazon-search's confidence additionally depends on whether the
// query came from the localized_primary term or a later fallback.
var sourceConfidence = map[sources.Name]float64{
	sources.ISBNDirect:  0.95,
	sources.GoogleBooks: 0.6,
	sources.OpenLibrary: 0.5,
}

const (
	amazonSearchLocalizedConfidence = 0.85
	amazonSearchFallbackConfidence  = 0.7
)

// Resolver sequences cache lookups, localized search terms, and the fixed
// adapter fallback chain to resolve a book identity to an ASIN.
type Resolver struct {
	cache     *cache.ASINCache
	governor  *ratelimit.Governor
	breakers  *breakerPool
	extractor *localize.Extractor
	sources   map[sources.Name]sources.Source
	cacheTTL  time.Duration
	log       *logger.Logger
}

// Options configures a Resolver.
type Options struct {
	Cache     *cache.ASINCache
	Governor  *ratelimit.Governor
	Extractor *localize.Extractor
	CacheTTL  time.Duration
	Logger    *logger.Logger
}

// New builds a Resolver. A nil Governor falls back to the default
// conservative rate; a nil Cache is replaced by an in-memory SQLite ASIN
// cache that lives only as long as the Resolver.
func New(opts Options) *Resolver {
	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}
	log = log.With("asin_resolver")

	gov := opts.Governor
	if gov == nil {
		gov = ratelimit.New(0, 0, log)
	}
	extractor := opts.Extractor
	if extractor == nil {
		extractor = localize.NewExtractor(log)
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	asinCache := opts.Cache
	if asinCache == nil {
		asinCache = cache.NewASINCache(":memory:", log)
	}

	srcMap := make(map[sources.Name]sources.Source)
	for _, s := range sources.All(log) {
		srcMap[s.Name()] = s
	}

	return &Resolver{
		cache:     asinCache,
		governor:  gov,
		breakers:  newBreakerPool(log),
		extractor: extractor,
		sources:   srcMap,
		cacheTTL:  ttl,
		log:       log,
	}
}

// ValidateASIN reports whether s matches the authoritative ASIN shape.
func (r *Resolver) ValidateASIN(s string) bool {
	return ValidateASIN(s)
}

// LookupByISBN resolves an ASIN from an ISBN, consulting the cache first
// then isbn-direct, amazon-search(amazon.com), google-books, and
// openlibrary. A
// structurally invalid ISBN (bad length or failed checksum) skips
// isbn-direct and openlibrary entirely — both depend on Amazon/OpenLibrary
// recognizing the ISBN verbatim, which a malformed one cannot produce a
// useful redirect or exact match for — and falls straight to the
// full-text-search adapters.
func (r *Resolver) LookupByISBN(ctx context.Context, isbn string, useCache bool) types.ASINLookupResult {
	key := cache.ASINCacheKey(isbn, "", "", "")
	if useCache {
		if hit, ok := r.cache.Get(key); ok {
			metrics.Pipeline.ASINCacheHits.Inc()
			return hit
		}
		metrics.Pipeline.ASINCacheMisses.Inc()
	}

	order := []sources.Name{sources.ISBNDirect, sources.AmazonSearch, sources.GoogleBooks, sources.OpenLibrary}
	if !localize.ValidateISBN(isbn) {
		order = []sources.Name{sources.AmazonSearch, sources.GoogleBooks}
	}

	q := sources.Query{ISBN: localize.DigitsOnly(isbn), Marketplace: "amazon.com"}
	result, errs := r.dispatch(ctx, order, q, amazonSearchFallbackConfidence)
	if !result.Found() {
		result.Error = errs
	}
	if result.Found() && useCache {
		r.cache.Put(key, result, r.cacheTTL)
	}
	return result
}

// LookupByTitle resolves an ASIN from a bare title+author pair, with no
// localized search terms available (language is assumed English).
func (r *Resolver) LookupByTitle(ctx context.Context, title, author string, useCache bool) types.ASINLookupResult {
	key := cache.ASINCacheKey("", title, author, "")
	if useCache {
		if hit, ok := r.cache.Get(key); ok {
			metrics.Pipeline.ASINCacheHits.Inc()
			return hit
		}
		metrics.Pipeline.ASINCacheMisses.Inc()
	}

	q := sources.Query{Title: title, Author: author, Marketplace: "amazon.com"}
	result, errs := r.dispatch(ctx, []sources.Name{sources.AmazonSearch, sources.GoogleBooks}, q, amazonSearchFallbackConfidence)
	if !result.Found() {
		result.Error = errs
	}
	if result.Found() && useCache {
		r.cache.Put(key, result, r.cacheTTL)
	}
	return result
}

// LookupByFile extracts identity metadata from path, then resolves through
// the localized SearchTerm sequence before falling back to the standard
// source chain.
func (r *Resolver) LookupByFile(ctx context.Context, path string, useCache bool) types.ASINLookupResult {
	md := r.extractor.Extract(path)
	identity := types.BookIdentity{
		Title:    md.Title,
		Author:   md.Author,
		Series:   md.Series,
		SeriesIx: md.SeriesIndex,
		Language: md.Language,
	}

	key := cache.ASINCacheKey("", identity.Title, identity.Author, identity.Language)
	if useCache {
		if hit, ok := r.cache.Get(key); ok {
			metrics.Pipeline.ASINCacheHits.Inc()
			return hit
		}
		metrics.Pipeline.ASINCacheMisses.Inc()
	}

	terms := localize.SearchTerms(identity)
	var failures []string
	for _, term := range terms {
		q := sources.Query{Title: term.Title, Author: term.Author, Marketplace: term.Marketplace}
		confidence := amazonSearchFallbackConfidence
		if term.Strategy == "localized_primary" {
			confidence = amazonSearchLocalizedConfidence
		}
		result, err := r.call(ctx, sources.AmazonSearch, q, confidence)
		if err != "" {
			failures = append(failures, fmt.Sprintf("%s: %s", term.Strategy, err))
			continue
		}
		if result.Found() {
			if useCache {
				r.cache.Put(key, result, r.cacheTTL)
			}
			return result
		}
	}

	result, errs := r.dispatch(ctx, []sources.Name{sources.GoogleBooks, sources.OpenLibrary}, sources.Query{Title: identity.Title, Author: identity.Author}, 0)
	if result.Found() {
		if useCache {
			r.cache.Put(key, result, r.cacheTTL)
		}
		return result
	}
	failures = append(failures, errs)
	result.Error = strings.Join(nonEmpty(failures), "; ")
	return result
}

// dispatch tries each source in order, returning on the first valid ASIN.
// ampFallbackConfidence is used for amazon-search entries in the chain.
func (r *Resolver) dispatch(ctx context.Context, order []sources.Name, q sources.Query, ampFallbackConfidence float64) (types.ASINLookupResult, string) {
	var failures []string
	for _, name := range order {
		confidence := sourceConfidence[name]
		if name == sources.AmazonSearch {
			confidence = ampFallbackConfidence
		}
		result, errStr := r.call(ctx, name, q, confidence)
		if errStr != "" {
			failures = append(failures, fmt.Sprintf("%s: %s", name, errStr))
			continue
		}
		if result.Found() {
			return result, ""
		}
		failures = append(failures, fmt.Sprintf("%s: no match", name))
	}
	return types.ASINLookupResult{}, strings.Join(nonEmpty(failures), "; ")
}

func (r *Resolver) call(ctx context.Context, name sources.Name, q sources.Query, confidence float64) (types.ASINLookupResult, string) {
	src, ok := r.sources[name]
	if !ok {
		return types.ASINLookupResult{}, "source not registered"
	}

	host := hostFor(name, q.Marketplace)
	if _, err := r.governor.Acquire(ctx, host); err != nil {
		return types.ASINLookupResult{}, err.Error()
	}

	start := time.Now()
	cb := r.breakers.forHost(host)
	raw, err := cb.Execute(func() (sources.Result, error) {
		return src.Lookup(ctx, q)
	})
	metrics.Pipeline.ASINLookupDuration.WithLabelValues(string(name)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.Pipeline.ASINLookupsTotal.WithLabelValues(string(name), "error").Inc()
		return types.ASINLookupResult{}, err.Error()
	}

	if raw.ASIN == "" || !ValidateASIN(raw.ASIN) {
		metrics.Pipeline.ASINLookupsTotal.WithLabelValues(string(name), "miss").Inc()
		return types.ASINLookupResult{}, ""
	}

	metrics.Pipeline.ASINLookupsTotal.WithLabelValues(string(name), "hit").Inc()
	return types.ASINLookupResult{
		ASIN:        strings.ToUpper(raw.ASIN),
		Source:      string(name),
		Confidence:  confidence,
		Marketplace: q.Marketplace,
		LookedUpAt:  time.Now(),
	}, ""
}

func hostFor(name sources.Name, marketplace string) string {
	switch name {
	case sources.ISBNDirect:
		return "amazon.com"
	case sources.AmazonSearch:
		if marketplace == "" {
			return "amazon.com"
		}
		return marketplace
	case sources.GoogleBooks:
		return "googleapis.com"
	case sources.OpenLibrary:
		return "openlibrary.org"
	default:
		return "unknown"
	}
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// BatchItem pairs a BookIdentity with the outcome of resolving it.
type BatchItem struct {
	Identity types.BookIdentity
	Result   types.ASINLookupResult
}

// Batch resolves many identities, respecting ctx cancellation between
// items. ISBN-bearing identities use LookupByISBN; everything else uses
// LookupByTitle. A cancelled batch returns the items completed so far.
func (r *Resolver) Batch(ctx context.Context, identities []types.BookIdentity, useCache bool) []BatchItem {
	batchID := uuid.NewString()
	log := r.log.With("asin_batch")
	log.Info().Str("batch_id", batchID).Int("count", len(identities)).Msg("starting batch resolution")

	items := make([]BatchItem, 0, len(identities))
	for _, identity := range identities {
		select {
		case <-ctx.Done():
			return items
		default:
		}

		var result types.ASINLookupResult
		switch {
		case identity.ISBN != "":
			result = r.LookupByISBN(ctx, identity.ISBN, useCache)
		default:
			result = r.LookupByTitle(ctx, identity.Title, identity.Author, useCache)
		}
		items = append(items, BatchItem{Identity: identity, Result: result})
	}
	log.Info().Str("batch_id", batchID).Int("resolved", len(items)).Msg("batch resolution complete")
	return items
}

// CheckAvailability makes a lightweight request against the ASIN's detail
// page to confirm it still resolves, without re-running the full strategy
// chain.
func (r *Resolver) CheckAvailability(ctx context.Context, asinCode string) (bool, error) {
	if !ValidateASIN(asinCode) {
		return false, fmt.Errorf("invalid asin: %s", asinCode)
	}

	host := "amazon.com"
	if _, err := r.governor.Acquire(ctx, host); err != nil {
		return false, err
	}

	return checkDPPage(ctx, host, asinCode)
}
