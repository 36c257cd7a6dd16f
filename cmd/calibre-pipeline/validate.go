package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ebookops/calibre-pipeline/internal/cache"
	"github.com/ebookops/calibre-pipeline/internal/logger"
	"github.com/ebookops/calibre-pipeline/internal/validate"
)

func runValidate(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "", "path to config file")
	logLevel := fs.String("log-level", "", "override configured log level")
	logFormat := fs.String("log-format", "", "override configured log format (console/json)")
	dir := fs.String("dir", "", "directory of ebook files to validate (required)")
	recursive := fs.Bool("recursive", true, "recurse into subdirectories")
	parallel := fs.Bool("parallel", true, "validate files concurrently")
	workers := fs.Int("workers", 0, "worker count (0 = config default)")
	formats := fs.String("formats", "", "comma-separated extension allowlist, e.g. epub,mobi")
	noCache := fs.Bool("no-cache", false, "bypass the validation cache")
	fs.Parse(args)

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "validate: --dir is required")
		os.Exit(1)
	}

	cfg := loadConfigAndLogger(*configFile, *logLevel, *logFormat)
	log := logger.Get().With("cmd.validate")
	_ = ctx

	validationCache := cache.NewValidationCache(cfg.Validation.CachePath, log)
	defer validationCache.Close()

	orch := validate.NewOrchestrator(validationCache, log)

	w := *workers
	if w <= 0 {
		w = cfg.Validation.Workers
	}

	var formatList []string
	if *formats != "" {
		formatList = strings.Split(*formats, ",")
	}

	results := orch.ValidateDirectory(*dir, validate.Options{
		Recursive: *recursive,
		Formats:   formatList,
		Parallel:  *parallel,
		Workers:   w,
		UseCache:  !*noCache,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	invalid := 0
	for _, r := range results {
		_ = enc.Encode(r)
		if r.Status != "valid" {
			invalid++
		}
	}

	log.Info().Int("total", len(results)).Int("invalid", invalid).Msg("validation run complete")
	if invalid > 0 {
		os.Exit(1)
	}
}
