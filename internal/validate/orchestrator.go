package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ebookops/calibre-pipeline/internal/cache"
	"github.com/ebookops/calibre-pipeline/internal/logger"
	"github.com/ebookops/calibre-pipeline/internal/metrics"
	"github.com/ebookops/calibre-pipeline/internal/types"
)

// knownExtensions is the set of extensions the discovery walk considers an
// ebook, independent of whether this package can structurally validate it.
var knownExtensions = map[string]bool{
	".mobi": true, ".epub": true, ".azw": true, ".azw3": true,
	".pdf": true, ".txt": true, ".fb2": true, ".lit": true,
	".pdb": true, ".rtf": true, ".docx": true, ".doc": true,
}

// compatibilityClasses absorbs near-equivalent detected/expected format
// pairs so a zip-flavored epub or an azw misdetected as azw3 doesn't read
// as a mismatch.
var compatibilityClasses = [][]types.FileFormat{
	{types.FormatEPUB, types.FormatZip},
	{types.FormatMOBI, types.FormatAZW, types.FormatAZW3},
}

// Orchestrator discovers ebook files under a root directory, validates
// each against its expected format, and aggregates results sorted by path.
type Orchestrator struct {
	cache *cache.ValidationCache
	log   *logger.Logger
}

// NewOrchestrator builds an Orchestrator. A nil ValidationCache disables
// caching entirely (every call performs a fresh validation).
func NewOrchestrator(validationCache *cache.ValidationCache, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Get()
	}
	return &Orchestrator{cache: validationCache, log: log.With("validation_orchestrator")}
}

// Options configures a single ValidateDirectory call.
type Options struct {
	Recursive bool
	Formats   []string // lower-cased extensions without the dot, e.g. "epub"; empty = all known
	Parallel  bool
	Workers   int
	UseCache  bool
}

// ValidateDirectory discovers ebook files under root and validates each,
// returning results sorted by path regardless of completion order. A
// non-existent or non-directory root yields an empty slice, not an error.
func (o *Orchestrator) ValidateDirectory(root string, opts Options) []types.ValidationResult {
	start := time.Now()
	defer func() { metrics.Pipeline.ValidationDuration.Observe(time.Since(start).Seconds()) }()

	paths := o.discover(root, opts)
	if len(paths) == 0 {
		return nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	results := make([]types.ValidationResult, len(paths))

	if opts.Parallel && len(paths) > 1 {
		var g errgroup.Group
		g.SetLimit(workers)
		for i, path := range paths {
			i, path := i, path
			g.Go(func() error {
				results[i] = o.validateOne(path, opts.UseCache)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, path := range paths {
			results[i] = o.validateOne(path, opts.UseCache)
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results
}

func (o *Orchestrator) discover(root string, opts Options) []string {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil
	}

	var formatFilter map[string]bool
	if len(opts.Formats) > 0 {
		formatFilter = make(map[string]bool, len(opts.Formats))
		for _, f := range opts.Formats {
			formatFilter[strings.ToLower(f)] = true
		}
	}

	var paths []string
	walk := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if !opts.Recursive && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if !knownExtensions["."+ext] {
			return nil
		}
		if formatFilter != nil && !formatFilter[ext] {
			return nil
		}
		paths = append(paths, path)
		return nil
	}

	_ = filepath.WalkDir(root, walk)
	sort.Strings(paths)
	return paths
}

func (o *Orchestrator) validateOne(path string, useCache bool) (result types.ValidationResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = types.ValidationResult{
				Path:   path,
				Status: types.StatusUnreadable,
				Errors: []string{fmt.Sprintf("panic during validation: %v", rec)},
			}
		}
		metrics.Pipeline.ValidationResults.WithLabelValues(string(result.Status)).Inc()
	}()

	var key string
	if useCache && o.cache != nil {
		var err error
		key, err = cache.FileKey(path)
		if err == nil {
			if cached, ok := o.cache.Get(key); ok {
				metrics.Pipeline.ValidationCacheHits.Inc()
				cached.Path = path
				return cached
			}
		}
	}

	result = o.validate(path)

	if useCache && o.cache != nil && key != "" {
		cacheable := result
		cacheable.Path = ""
		o.cache.Put(key, cacheable)
	}
	return result
}

func (o *Orchestrator) validate(path string) types.ValidationResult {
	info, err := os.Stat(path)
	if err != nil {
		return types.ValidationResult{Path: path, Status: types.StatusUnreadable, Errors: []string{err.Error()}}
	}
	if info.IsDir() {
		return types.ValidationResult{Path: path, Status: types.StatusInvalid, Errors: []string{"path is a directory"}}
	}
	if info.Size() == 0 {
		return types.ValidationResult{Path: path, Status: types.StatusInvalid, Errors: []string{"file is empty"}}
	}

	data, err := readHead(path, 100)
	if err != nil {
		return types.ValidationResult{Path: path, Status: types.StatusUnreadable, Errors: []string{err.Error()}}
	}

	detected := DetectFormatFromPath(path, data)
	expected := extensionFormat(path)

	if !formatsCompatible(detected, expected) {
		return types.ValidationResult{
			Path:            path,
			DetectedFormat:  detected,
			ExtensionFormat: expected,
			Status:          types.StatusMismatch,
			Errors:          []string{fmt.Sprintf("detected format %q does not match extension-implied format %q", detected, expected)},
		}
	}

	switch expected {
	case types.FormatEPUB:
		structural, corrupted := ValidateEPUB(path)
		if corrupted {
			return types.ValidationResult{
				Path:           path,
				DetectedFormat: types.FormatCorruptedZip,
				Status:         types.StatusCorrupted,
				Errors:         []string{"not a valid zip archive"},
			}
		}
		return structuralToResult(path, detected, expected, structural)
	case types.FormatMOBI, types.FormatAZW, types.FormatAZW3:
		structural, corrupted := ValidateMOBI(path)
		if corrupted {
			return types.ValidationResult{Path: path, Status: types.StatusCorrupted, Errors: []string{"unreadable PDB header"}}
		}
		return structuralToResult(path, detected, expected, structural)
	default:
		return types.ValidationResult{Path: path, DetectedFormat: detected, ExtensionFormat: expected, Status: types.StatusValid}
	}
}

func structuralToResult(path string, detected, expected types.FileFormat, s StructuralResult) types.ValidationResult {
	status := types.StatusValid
	if !s.Valid {
		status = types.StatusInvalid
	}
	return types.ValidationResult{
		Path:            path,
		DetectedFormat:  detected,
		ExtensionFormat: expected,
		Status:          status,
		Errors:          s.Errors,
		Warnings:        s.Warnings,
		Details:         s.Details,
	}
}

func extensionFormat(path string) types.FileFormat {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "epub":
		return types.FormatEPUB
	case "mobi":
		return types.FormatMOBI
	case "azw":
		return types.FormatAZW
	case "azw3":
		return types.FormatAZW3
	case "pdf":
		return types.FormatPDF
	default:
		return types.FileFormat(ext)
	}
}

func formatsCompatible(detected, expected types.FileFormat) bool {
	if detected == expected {
		return true
	}
	for _, class := range compatibilityClasses {
		inDetected, inExpected := false, false
		for _, f := range class {
			if f == detected {
				inDetected = true
			}
			if f == expected {
				inExpected = true
			}
		}
		if inDetected && inExpected {
			return true
		}
	}
	return false
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.Read(buf)
	if err != nil && read == 0 {
		return nil, err
	}
	return buf[:read], nil
}
