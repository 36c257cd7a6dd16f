package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ebookops/calibre-pipeline/internal/asin"
	"github.com/ebookops/calibre-pipeline/internal/cache"
	"github.com/ebookops/calibre-pipeline/internal/config"
	"github.com/ebookops/calibre-pipeline/internal/localize"
	"github.com/ebookops/calibre-pipeline/internal/logger"
	"github.com/ebookops/calibre-pipeline/internal/ratelimit"
	"github.com/ebookops/calibre-pipeline/internal/types"
)

func runResolve(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	configFile := fs.String("config", "", "path to config file")
	logLevel := fs.String("log-level", "", "override configured log level")
	logFormat := fs.String("log-format", "", "override configured log format (console/json)")
	isbn := fs.String("isbn", "", "resolve by ISBN-10/13")
	title := fs.String("title", "", "resolve by title (with --author)")
	author := fs.String("author", "", "author to pair with --title")
	file := fs.String("file", "", "resolve by reading metadata out of an ebook file")
	dir := fs.String("dir", "", "resolve every ebook file found under this directory")
	recursive := fs.Bool("recursive", true, "recurse into subdirectories with --dir")
	workers := fs.Int("workers", 0, "accepted with --dir but has no effect: --dir lookups run one at a time")
	noCache := fs.Bool("no-cache", false, "bypass the ASIN cache")
	fs.Parse(args)

	cfg := loadConfigAndLogger(*configFile, *logLevel, *logFormat)
	log := logger.Get().With("cmd.resolve")

	resolver, closeFn := buildResolver(cfg, log)
	defer closeFn()
	useCache := !*noCache

	switch {
	case *isbn != "":
		printResult(resolver.LookupByISBN(ctx, *isbn, useCache))
	case *title != "":
		printResult(resolver.LookupByTitle(ctx, *title, *author, useCache))
	case *file != "":
		printResult(resolver.LookupByFile(ctx, *file, useCache))
	case *dir != "":
		if *workers <= 0 {
			*workers = cfg.Validation.Workers
		}
		resolveDirectory(ctx, resolver, *dir, *recursive, useCache)
	default:
		fmt.Fprintln(os.Stderr, "resolve: one of --isbn, --title, --file, or --dir is required")
		os.Exit(1)
	}
}

// buildResolver wires a Resolver from configuration: the on-disk ASIN
// cache, the per-host rate governor, and the metadata extractor. The
// returned close function must run before the process exits to flush the
// cache's underlying database handle.
func buildResolver(cfg *config.Config, log *logger.Logger) (*asin.Resolver, func()) {
	asinCache := cache.NewASINCache(cfg.ASINLookup.CachePath, log)
	governor := ratelimit.New(cfg.ASINLookup.RateLimit, int(cfg.ASINLookup.RateLimit)+1, log)
	extractor := localize.NewExtractor(log)

	resolver := asin.New(asin.Options{
		Cache:     asinCache,
		Governor:  governor,
		Extractor: extractor,
		CacheTTL:  cfg.ASINLookup.CacheTTL,
		Logger:    log,
	})

	return resolver, func() { _ = asinCache.Close() }
}

var knownEbookExt = map[string]bool{
	"epub": true, "mobi": true, "azw": true, "azw3": true, "pdf": true,
}

func resolveDirectory(ctx context.Context, resolver *asin.Resolver, dir string, recursive bool, useCache bool) {
	extractor := localize.NewExtractor(logger.Get())
	var identities []types.BookIdentity

	walk := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if !knownEbookExt[ext] {
			return nil
		}
		meta := extractor.Extract(path)
		identities = append(identities, types.BookIdentity{
			Title: meta.Title, Author: meta.Author,
			Series: meta.Series, SeriesIx: meta.SeriesIndex, Language: meta.Language,
		})
		return nil
	}
	_ = filepath.WalkDir(dir, walk)

	items := resolver.Batch(ctx, identities, useCache)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, item := range items {
		_ = enc.Encode(item.Result)
	}
}

func printResult(r types.ASINLookupResult) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(r)
	if !r.Found() {
		os.Exit(1)
	}
}
