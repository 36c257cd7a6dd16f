package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/ebookops/calibre-pipeline/internal/convert"
	"github.com/ebookops/calibre-pipeline/internal/logger"
	"github.com/ebookops/calibre-pipeline/internal/types"
)

func runConvert(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	configFile := fs.String("config", "", "path to config file")
	logLevel := fs.String("log-level", "", "override configured log level")
	logFormat := fs.String("log-format", "", "override configured log format (console/json)")
	input := fs.String("input", "", "a single file, or a directory with --dir-mode (required)")
	dirMode := fs.Bool("dir-mode", false, "treat --input as a directory and find convertible files within it")
	recursive := fs.Bool("recursive", true, "recurse into subdirectories in --dir-mode")
	sourceFormat := fs.String("source-format", "", "restrict --dir-mode discovery to this source extension")
	outputDir := fs.String("output-dir", "", "output directory (defaults to config conversion.output_path)")
	format := fs.String("format", "epub", "target format: epub, mobi, azw3, pdf, kfx")
	quality := fs.String("quality", "high", "conversion quality: high, medium, low")
	includeCover := fs.Bool("include-cover", true, "include cover image in output")
	preserveMetadata := fs.Bool("preserve-metadata", true, "preserve source metadata in output")
	parallel := fs.Int("parallel", 0, "parallel conversion jobs (0 = config default)")
	dryRun := fs.Bool("dry-run", false, "validate and report without invoking ebook-convert")
	kfxSource := fs.Bool("from-kfx", false, "treat inputs as KFX source files (applies §4.12 naming and gating)")
	fs.Parse(args)

	if *input == "" {
		fmt.Fprintln(os.Stderr, "convert: --input is required")
		os.Exit(1)
	}

	cfg := loadConfigAndLogger(*configFile, *logLevel, *logFormat)
	log := logger.Get().With("cmd.convert")

	outDir := *outputDir
	if outDir == "" {
		outDir = cfg.Conversion.OutputPath
	}

	orch := convert.NewOrchestrator(outDir, cfg.Conversion.MaxParallel, cfg.Conversion.KFXPluginRequired, log)

	opts := convert.Options{
		Quality:          convert.Quality(*quality),
		IncludeCover:     *includeCover,
		PreserveMetadata: *preserveMetadata,
	}
	targetFormat := types.FileFormat(*format)

	p := *parallel
	if p <= 0 {
		p = cfg.Conversion.MaxParallel
	}

	var files []string
	if *dirMode {
		files = orch.FindConvertible(*input, *recursive, *sourceFormat)
		if len(files) == 0 {
			log.Warn().Str("dir", *input).Msg("no convertible files found")
			return
		}
	} else {
		files = []string{*input}
	}

	progress := func(fraction float64, description string) {
		log.Info().Float64("fraction", fraction).Msg(description)
	}

	var results []types.ConversionResult
	switch {
	case len(files) == 1 && !*dirMode && !*kfxSource:
		results = []types.ConversionResult{orch.ConvertSingle(ctx, files[0], "", targetFormat, opts, *dryRun)}
	case *kfxSource:
		results = orch.ConvertKFXBatch(ctx, files, outDir, targetFormat, p, opts, *dryRun, progress)
	default:
		results = orch.ConvertBatch(ctx, files, outDir, targetFormat, p, opts, *dryRun, progress)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	failures := 0
	for _, r := range results {
		_ = enc.Encode(r)
		if r.Status == types.ConversionFailed {
			failures++
		}
	}

	log.Info().Int("total", len(results)).Int("failed", failures).Msg("conversion run complete")
	if failures > 0 {
		os.Exit(1)
	}
}
