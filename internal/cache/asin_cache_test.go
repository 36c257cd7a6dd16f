package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebookops/calibre-pipeline/internal/types"
)

func TestASINCacheKeyShapes(t *testing.T) {
	assert.Equal(t, "isbn_9780765326355", ASINCacheKey("978-0-7653-2635-5", "", "", ""))
	assert.Equal(t, "mistborn_brandon sanderson", ASINCacheKey("", "Mistborn", "Brandon Sanderson", ""))
	assert.Equal(t, "_mistborn_brandon sanderson_de", ASINCacheKey("", "Mistborn", "Brandon Sanderson", "de"))
}

func TestASINCachePutAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asin.db")
	c := NewASINCache(path, nil)
	defer c.Close()

	key := ASINCacheKey("9780765326355", "", "", "")
	want := types.ASINLookupResult{ASIN: "B00ZVA3XL6", Source: "isbn-direct", Confidence: 0.9}

	c.Put(key, want, 30*24*time.Hour)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "B00ZVA3XL6", got.ASIN)
}

func TestASINCacheMissReturnsFalse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asin.db")
	c := NewASINCache(path, nil)
	defer c.Close()

	_, ok := c.Get("nonexistent_key")
	assert.False(t, ok)
}

func TestASINCacheExpiredEntryIsMiss(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asin.db")
	c := NewASINCache(path, nil)
	defer c.Close()

	key := "isbn_123"
	// Insert directly with a CachedAt far enough in the past that a short
	// TTL has already elapsed, bypassing the hot cache entirely.
	row := asinCacheRow{Key: key, ASIN: "B000000000", CachedAt: time.Now().Add(-time.Hour), TTLSeconds: 60}
	require.NoError(t, c.db.Save(&row).Error)

	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestASINCacheToleratesUnopenableStore(t *testing.T) {
	// A directory cannot be opened as a sqlite file; the cache must start
	// empty rather than erroring.
	dir := t.TempDir()
	c := NewASINCache(dir, nil)
	_, ok := c.Get("isbn_123")
	assert.False(t, ok)

	c.Put("isbn_123", types.ASINLookupResult{ASIN: "B000000000"}, time.Hour)
	_, ok = c.Get("isbn_123")
	assert.False(t, ok) // db is nil, and Put did not seed a hot cache without one
}
