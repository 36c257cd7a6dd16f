package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/ebookops/calibre-pipeline/internal/logger"
	"github.com/ebookops/calibre-pipeline/internal/types"
)

// validationCacheRow is the GORM model backing the persistent validation
// cache. ResultJSON stores the serialized types.ValidationResult since its
// shape is owned by the validation package, not this one.
type validationCacheRow struct {
	Key        string `gorm:"primaryKey"`
	ResultJSON string
	CachedAt   time.Time
}

// ValidationCache is the persistent keyed store of prior validation
// verdicts. Keys are a stable hash of a file's canonical path, size, and
// modification time, so a replaced file never returns a stale verdict.
type ValidationCache struct {
	mu  sync.Mutex
	db  *gorm.DB
	log *logger.Logger
}

// NewValidationCache opens (or creates) the cache at path. Like the ASIN
// cache, a failure to load never surfaces: the cache starts empty.
func NewValidationCache(path string, log *logger.Logger) *ValidationCache {
	if log == nil {
		log = logger.Get()
	}
	log = log.With("validation_cache")

	c := &ValidationCache{log: log}

	db, err := openSQLite(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to open validation cache store, starting empty")
		return c
	}
	if err := db.AutoMigrate(&validationCacheRow{}); err != nil {
		log.Warn().Err(err).Msg("failed to migrate validation cache schema, starting empty")
		return c
	}
	c.db = db
	return c
}

// FileKey derives the cache key for path using its size and modification
// time, so the key changes whenever the file is replaced.
func FileKey(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	raw := fmt.Sprintf("%s:%d:%d", path, info.Size(), info.ModTime().UnixNano())
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:]), nil
}

// Get returns the cached verdict for key, or ok=false on a miss.
func (c *ValidationCache) Get(key string) (types.ValidationResult, bool) {
	if c.db == nil {
		return types.ValidationResult{}, false
	}

	var row validationCacheRow
	if err := c.db.Where("key = ?", key).First(&row).Error; err != nil {
		return types.ValidationResult{}, false
	}

	var result types.ValidationResult
	if err := json.Unmarshal([]byte(row.ResultJSON), &result); err != nil {
		return types.ValidationResult{}, false
	}
	return result, true
}

// Put stores result under key. A write failure is logged and otherwise
// ignored — correctness does not depend on persistence.
func (c *ValidationCache) Put(key string, result types.ValidationResult) {
	if c.db == nil {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("failed to serialize validation result")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	row := validationCacheRow{Key: key, ResultJSON: string(data), CachedAt: time.Now()}
	if err := c.db.Save(&row).Error; err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("failed to persist validation cache entry")
	}
}

// Clear removes every entry from the cache.
func (c *ValidationCache) Clear() {
	if c.db == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.db.Exec("DELETE FROM validation_cache_rows")
}

// Close releases the underlying database handle.
func (c *ValidationCache) Close() error {
	if c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
