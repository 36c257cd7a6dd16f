// calibre-pipeline resolves ASINs, validates ebook files, and drives
// format conversion across a library directory, built on top of
// Calibre's command-line tools.
//
// Usage:
//
//	calibre-pipeline <command> [flags]
//
// Commands:
//
//	run       discover, resolve, validate, and convert a library directory
//	resolve   look up an ASIN for a single book or a directory of books
//	validate  structurally validate ebook files under a directory
//	convert   convert ebook files to a target format
//	doctor    report on system requirements (calibre tools, KFX plugin)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ebookops/calibre-pipeline/internal/config"
	"github.com/ebookops/calibre-pipeline/internal/logger"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		showHelp()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		showHelp()
		return
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Printf("calibre-pipeline version %s\n", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "run":
		runRun(ctx, args)
	case "resolve":
		runResolve(ctx, args)
	case "validate":
		runValidate(ctx, args)
	case "convert":
		runConvert(ctx, args)
	case "doctor":
		runDoctor(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		showHelp()
		os.Exit(1)
	}
}

// loadConfigAndLogger loads configuration from configFile and initializes
// the global logger, returning both. logLevel/logFormat, when non-empty,
// override whatever the config file or environment specify.
func loadConfigAndLogger(configFile, logLevel, logFormat string) *config.Config {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	// An empty LogFormat lets logger.build auto-detect console vs JSON from
	// whether stdout is a terminal. Only override that when the format was
	// explicitly requested on the command line or via LOG_FORMAT — a bare
	// config-file default doesn't count as explicit.
	format := logger.LogFormat("")
	switch {
	case logFormat != "":
		format = logger.ParseLogFormat(logFormat)
	case os.Getenv("LOG_FORMAT") != "":
		format = logger.ParseLogFormat(cfg.Logging.Format)
	}

	logger.ForceSetup(logger.Config{
		Level:  cfg.Logging.Level,
		Format: format,
		Output: os.Stdout,
	})

	return cfg
}

func showHelp() {
	fmt.Println("calibre-pipeline - ASIN resolution, validation, and conversion for an ebook library")
	fmt.Println("\nUsage:")
	fmt.Println("  calibre-pipeline <command> [flags]")
	fmt.Println("\nCommands:")
	fmt.Println("  run       discover, resolve, validate, and convert a library directory")
	fmt.Println("  resolve   look up an ASIN for a single book or a directory of books")
	fmt.Println("  validate  structurally validate ebook files under a directory")
	fmt.Println("  convert   convert ebook files to a target format")
	fmt.Println("  doctor    report on system requirements (calibre tools, KFX plugin)")
	fmt.Println("\nRun `calibre-pipeline <command> -h` for command-specific flags.")
}
