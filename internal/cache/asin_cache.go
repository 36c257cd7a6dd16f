package cache

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"gorm.io/gorm"

	"github.com/ebookops/calibre-pipeline/internal/logger"
	"github.com/ebookops/calibre-pipeline/internal/types"
)

var nonDigit = regexp.MustCompile(`\D`)

// ASINCacheKey builds the normalized cache key for a book identity lookup,
// following the three key shapes the resolver uses depending on which
// fields are available.
func ASINCacheKey(isbn, title, author, language string) string {
	norm := func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	}

	if isbn != "" && title == "" && author == "" && language == "" {
		return "isbn_" + nonDigit.ReplaceAllString(isbn, "")
	}
	if language != "" {
		return norm(nonDigit.ReplaceAllString(isbn, "")) + "_" + norm(title) + "_" + norm(author) + "_" + norm(language)
	}
	return norm(title) + "_" + norm(author)
}

// asinCacheRow is the GORM model backing the persistent ASIN cache.
type asinCacheRow struct {
	Key        string `gorm:"primaryKey"`
	ASIN       string
	Source     string
	Confidence float64
	CachedAt   time.Time
	TTLSeconds int64
}

// ASINCache is the persistent, TTL-aware keyed store of prior ASIN lookups
// described by the resolver's cache contract. A ristretto hot cache sits in
// front of the SQLite-backed store so repeated lookups within one batch
// avoid a DB round trip.
type ASINCache struct {
	mu  sync.Mutex
	db  *gorm.DB
	hot *ristretto.Cache
	log *logger.Logger
}

// NewASINCache opens (or creates) the cache at path. A load failure never
// propagates: the cache simply starts empty, per the corruption policy
// shared with the validation cache.
func NewASINCache(path string, log *logger.Logger) *ASINCache {
	if log == nil {
		log = logger.Get()
	}
	log = log.With("asin_cache")

	c := &ASINCache{log: log}

	db, err := openSQLite(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to open ASIN cache store, starting empty")
		return c
	}
	if err := db.AutoMigrate(&asinCacheRow{}); err != nil {
		log.Warn().Err(err).Msg("failed to migrate ASIN cache schema, starting empty")
		return c
	}
	c.db = db

	hot, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize hot cache, falling back to SQLite only")
		return c
	}
	c.hot = hot

	return c
}

// Get returns the cached lookup result for key, or ok=false on a miss or
// expired entry.
func (c *ASINCache) Get(key string) (types.ASINLookupResult, bool) {
	if c.hot != nil {
		if v, found := c.hot.Get(key); found {
			if result, ok := v.(types.ASINLookupResult); ok {
				result.Source = "cache"
				return result, true
			}
		}
	}

	if c.db == nil {
		return types.ASINLookupResult{}, false
	}

	var row asinCacheRow
	if err := c.db.Where("key = ?", key).First(&row).Error; err != nil {
		return types.ASINLookupResult{}, false
	}

	if row.TTLSeconds > 0 && time.Since(row.CachedAt) > time.Duration(row.TTLSeconds)*time.Second {
		return types.ASINLookupResult{}, false
	}

	result := types.ASINLookupResult{
		ASIN:        row.ASIN,
		Source:      "cache",
		Confidence:  row.Confidence,
		LookedUpAt:  row.CachedAt,
	}
	if c.hot != nil {
		c.hot.Set(key, result, 1)
	}
	return result, true
}

// Put stores result under key with the given TTL. Write failures are
// logged, not returned: correctness never depends on persistence.
func (c *ASINCache) Put(key string, result types.ASINLookupResult, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hot != nil {
		c.hot.SetWithTTL(key, result, 1, ttl)
	}

	if c.db == nil {
		return
	}

	row := asinCacheRow{
		Key:        key,
		ASIN:       result.ASIN,
		Source:     result.Source,
		Confidence: result.Confidence,
		CachedAt:   time.Now(),
		TTLSeconds: int64(ttl.Seconds()),
	}
	if err := c.db.Save(&row).Error; err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("failed to persist ASIN cache entry")
	}
}

// CleanupExpired sweeps persisted rows whose TTL has elapsed.
func (c *ASINCache) CleanupExpired() {
	if c.db == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var rows []asinCacheRow
	if err := c.db.Find(&rows).Error; err != nil {
		return
	}
	for _, row := range rows {
		if row.TTLSeconds > 0 && time.Since(row.CachedAt) > time.Duration(row.TTLSeconds)*time.Second {
			c.db.Delete(&row)
		}
	}
}

// Close releases the underlying database handle.
func (c *ASINCache) Close() error {
	if c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
