package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ebookops/calibre-pipeline/internal/cache"
	"github.com/ebookops/calibre-pipeline/internal/config"
	"github.com/ebookops/calibre-pipeline/internal/convert"
	"github.com/ebookops/calibre-pipeline/internal/localize"
	"github.com/ebookops/calibre-pipeline/internal/logger"
	"github.com/ebookops/calibre-pipeline/internal/types"
	"github.com/ebookops/calibre-pipeline/internal/validate"
)

// runRun drives the full pipeline (validate, resolve, optionally convert)
// across a library directory, either once or on a repeating interval,
// mirroring the one-shot-vs-daemon duality of the sync service this
// project grew out of.
func runRun(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configFile := fs.String("config", "", "path to config file")
	logLevel := fs.String("log-level", "", "override configured log level")
	logFormat := fs.String("log-format", "", "override configured log format (console/json)")
	dir := fs.String("dir", "", "library directory to process (required)")
	interval := fs.Duration("interval", 0, "repeat every interval (0 disables; use --once for a single pass)")
	once := fs.Bool("once", false, "run a single pass and exit, ignoring --interval")
	convertTo := fs.String("convert-to", "", "if set, convert every validated file to this format")
	dryRun := fs.Bool("dry-run", false, "report what would happen without converting or writing the cache")
	workers := fs.Int("workers", 0, "worker count for the validation stage (0 = config default); resolution runs one lookup at a time")
	fs.Parse(args)

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "run: --dir is required")
		os.Exit(1)
	}

	cfg := loadConfigAndLogger(*configFile, *logLevel, *logFormat)
	log := logger.Get().With("cmd.run")

	if *once || *interval <= 0 {
		runPass(ctx, cfg, log, *dir, *convertTo, *dryRun, *workers)
		return
	}

	log.Info().Dur("interval", *interval).Msg("starting periodic run loop")
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	runPass(ctx, cfg, log, *dir, *convertTo, *dryRun, *workers)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received, stopping run loop")
			return
		case <-ticker.C:
			runPass(ctx, cfg, log, *dir, *convertTo, *dryRun, *workers)
		}
	}
}

func runPass(ctx context.Context, cfg *config.Config, log *logger.Logger, dir, convertTo string, dryRun bool, workers int) {
	start := time.Now()
	log.Info().Str("dir", dir).Msg("starting pipeline pass")

	w := workers
	if w <= 0 {
		w = cfg.Validation.Workers
	}

	validationCache := cache.NewValidationCache(cfg.Validation.CachePath, log)
	defer validationCache.Close()

	validator := validate.NewOrchestrator(validationCache, log)
	results := validator.ValidateDirectory(dir, validate.Options{
		Recursive: true,
		Parallel:  true,
		Workers:   w,
		UseCache:  !dryRun,
	})

	validCount := 0
	for _, r := range results {
		if r.Status == types.StatusValid {
			validCount++
		}
	}
	log.Info().Int("total", len(results)).Int("valid", validCount).Msg("validation stage complete")

	resolver, closeResolver := buildResolver(cfg, log)
	defer closeResolver()
	extractor := localize.NewExtractor(log)

	var identities []types.BookIdentity
	var validPaths []string
	for _, r := range results {
		if r.Status != types.StatusValid {
			continue
		}
		meta := extractor.Extract(r.Path)
		identities = append(identities, types.BookIdentity{
			Title: meta.Title, Author: meta.Author,
			Series: meta.Series, SeriesIx: meta.SeriesIndex, Language: meta.Language,
		})
		validPaths = append(validPaths, r.Path)
	}

	resolved := resolver.Batch(ctx, identities, !dryRun)
	found := 0
	for _, item := range resolved {
		if item.Result.Found() {
			found++
		}
	}
	log.Info().Int("attempted", len(resolved)).Int("found", found).Msg("resolution stage complete")

	if convertTo != "" {
		orch := convert.NewOrchestrator(cfg.Conversion.OutputPath, cfg.Conversion.MaxParallel, cfg.Conversion.KFXPluginRequired, log)
		target := types.FileFormat(strings.ToLower(convertTo))

		var toConvert []string
		for _, p := range validPaths {
			if strings.TrimPrefix(strings.ToLower(filepath.Ext(p)), ".") != string(target) {
				toConvert = append(toConvert, p)
			}
		}

		convResults := orch.ConvertBatch(ctx, toConvert, cfg.Conversion.OutputPath, target, cfg.Conversion.MaxParallel, convert.Options{
			Quality:          convert.QualityHigh,
			IncludeCover:     true,
			PreserveMetadata: true,
		}, dryRun, func(fraction float64, description string) {
			log.Debug().Float64("fraction", fraction).Msg(description)
		})

		succeeded := 0
		for _, r := range convResults {
			if r.Status == types.ConversionSucceeded {
				succeeded++
			}
		}
		log.Info().Int("attempted", len(convResults)).Int("succeeded", succeeded).Msg("conversion stage complete")
	}

	log.Info().Dur("duration", time.Since(start)).Msg("pipeline pass complete")
}
