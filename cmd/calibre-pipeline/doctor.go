package main

import (
	"context"
	"flag"
	"fmt"
	"os/exec"
	"time"

	"github.com/ebookops/calibre-pipeline/internal/convert"
	"github.com/ebookops/calibre-pipeline/internal/logger"
)

// runDoctor reports on the external tooling the pipeline depends on:
// calibre, ebook-convert, and the KFX Output plugin.
func runDoctor(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	configFile := fs.String("config", "", "path to config file")
	logLevel := fs.String("log-level", "", "override configured log level")
	logFormat := fs.String("log-format", "", "override configured log format (console/json)")
	fs.Parse(args)

	_ = loadConfigAndLogger(*configFile, *logLevel, *logFormat)
	log := logger.Get().With("cmd.doctor")

	checks := []struct {
		name string
		args []string
	}{
		{"calibre", []string{"--version"}},
		{"ebook-convert", []string{"--version"}},
	}

	ok := true
	for _, c := range checks {
		available := probeVersion(ctx, c.name, c.args)
		status := "ok"
		if !available {
			status = "missing"
			ok = false
		}
		log.Info().Str("tool", c.name).Str("status", status).Msg("requirement check")
		fmt.Printf("%-16s %s\n", c.name, status)
	}

	kfxOK := convert.ProbeKFXPlugin(ctx)
	kfxStatus := "available"
	if !kfxOK {
		kfxStatus = "not installed"
		ok = false
	}
	log.Info().Str("tool", "kfx-plugin").Str("status", kfxStatus).Msg("requirement check")
	fmt.Printf("%-16s %s\n", "kfx-plugin", kfxStatus)

	if !ok {
		fmt.Println("\nSome requirements are missing. Conversion to affected formats will fail.")
	}
}

func probeVersion(ctx context.Context, name string, args []string) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).Run() == nil
}
