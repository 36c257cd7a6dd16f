package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebookops/calibre-pipeline/internal/types"
)

func TestFileKeyChangesWhenFileReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.epub")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	key1, err := FileKey(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("a different, longer payload"), 0o644))
	key2, err := FileKey(path)
	require.NoError(t, err)

	assert.NotEqual(t, key1, key2)
}

func TestValidationCachePutAndGet(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "validation.db")
	c := NewValidationCache(dbPath, nil)
	defer c.Close()

	bookPath := filepath.Join(t.TempDir(), "book.epub")
	require.NoError(t, os.WriteFile(bookPath, []byte("data"), 0o644))
	key, err := FileKey(bookPath)
	require.NoError(t, err)

	result := types.ValidationResult{Path: bookPath, DetectedFormat: types.FormatEPUB, Status: types.StatusValid}
	c.Put(key, result)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, types.StatusValid, got.Status)
	assert.Equal(t, types.FormatEPUB, got.DetectedFormat)
}

func TestValidationCacheMissReturnsFalse(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "validation.db")
	c := NewValidationCache(dbPath, nil)
	defer c.Close()

	_, ok := c.Get("does-not-exist")
	assert.False(t, ok)
}

func TestValidationCacheToleratesUnopenableStore(t *testing.T) {
	dir := t.TempDir()
	c := NewValidationCache(dir, nil) // a directory, not a valid sqlite file
	c.Put("k", types.ValidationResult{Status: types.StatusValid})
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestValidationCacheClear(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "validation.db")
	c := NewValidationCache(dbPath, nil)
	defer c.Close()

	c.Put("k1", types.ValidationResult{Status: types.StatusValid})
	c.Clear()

	_, ok := c.Get("k1")
	assert.False(t, ok)
}
