package convert

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ebookops/calibre-pipeline/internal/localize"
	"github.com/ebookops/calibre-pipeline/internal/logger"
	"github.com/ebookops/calibre-pipeline/internal/metrics"
	"github.com/ebookops/calibre-pipeline/internal/types"
)

const jobTimeout = 600 * time.Second

// supportedInputExtensions is the set of extensions find_convertible and
// the per-file pipeline's unsupported-extension check recognize. The
// per-file check additionally accepts .kfx sources (for ConvertKFXBatch);
// find_convertible does not discover them.
var supportedInputExtensions = map[string]bool{
	"epub": true, "mobi": true, "azw": true, "azw3": true, "pdf": true,
	"txt": true, "html": true, "rtf": true, "docx": true, "fb2": true,
	"lit": true, "pdb": true,
}

// outputSkipMarkers are filename-stem substrings that mark a file as a
// prior conversion output, excluded from find_convertible results so
// re-runs don't try to convert their own output back to itself.
var outputSkipMarkers = []string{"_kfx", "_from_kfx", "_converted"}

// ProgressFunc receives a completion fraction in [0,1] and a short
// human-readable status after every job in a batch finishes.
type ProgressFunc func(fraction float64, description string)

// Orchestrator drives ebook-convert across single files and batches with
// bounded parallelism, mirroring the worker-pool shape the validator uses.
type Orchestrator struct {
	OutputDir         string
	MaxParallel       int
	KFXPluginRequired bool
	log               *logger.Logger
}

// NewOrchestrator builds an Orchestrator. maxParallel <= 0 defaults to 4.
func NewOrchestrator(outputDir string, maxParallel int, kfxPluginRequired bool, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Get()
	}
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Orchestrator{
		OutputDir:         outputDir,
		MaxParallel:       maxParallel,
		KFXPluginRequired: kfxPluginRequired,
		log:               log.With("conversion_orchestrator"),
	}
}

// ConvertSingle converts one file. If output is empty, the path is derived
// from outputDir, the input's stem, and format. A pre-existing output is
// not skipped here — that skip semantics applies only to batch calls.
func (o *Orchestrator) ConvertSingle(ctx context.Context, input, output string, format types.FileFormat, opts Options, dryRun bool) types.ConversionResult {
	if output == "" {
		output = o.outputPath(input, format, false)
	}
	kfxAvailable := format == formatKFX && ProbeKFXPlugin(ctx)
	return o.convertOne(ctx, input, output, format, opts, dryRun, kfxAvailable)
}

// ConvertBatch converts files in parallel, skipping any whose output
// already exists (reported as ConversionSkipped, not a failure).
func (o *Orchestrator) ConvertBatch(ctx context.Context, files []string, outputDir string, format types.FileFormat, parallel int, opts Options, dryRun bool, progress ProgressFunc) []types.ConversionResult {
	if outputDir == "" {
		outputDir = o.OutputDir
	}
	if len(files) == 0 {
		return nil
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		o.log.Error().Err(err).Str("dir", outputDir).Msg("failed to create output directory")
	}

	kfxAvailable := format == formatKFX && ProbeKFXPlugin(ctx)

	results := make([]types.ConversionResult, len(files))
	pending := make(map[int]bool)

	for i, input := range files {
		output := filepath.Join(outputDir, stemOf(input)+"."+strings.ToLower(string(format)))
		if _, err := os.Stat(output); err == nil {
			results[i] = types.ConversionResult{
				InputPath:  input,
				OutputPath: output,
				Format:     string(format),
				Status:     types.ConversionSkipped,
			}
			continue
		}
		pending[i] = true
	}

	o.runParallel(ctx, files, results, pending, outputDir, format, opts, dryRun, kfxAvailable, parallel, progress)
	return results
}

// ConvertKFXBatch applies KFX-specific handling: the plugin gate runs once
// up front (when KFXPluginRequired), non-KFX inputs are pre-filtered into
// individual failure results, inputs whose output already exists are
// skipped (ConversionSkipped), and converted outputs always include the
// cover and use the `_from_kfx` naming scheme to avoid clobbering inputs.
func (o *Orchestrator) ConvertKFXBatch(ctx context.Context, files []string, outputDir string, format types.FileFormat, parallel int, opts Options, dryRun bool, progress ProgressFunc) []types.ConversionResult {
	if len(files) == 0 {
		return nil
	}
	if outputDir == "" {
		outputDir = o.OutputDir
	}

	if o.KFXPluginRequired && !ProbeKFXPlugin(ctx) {
		msg := "KFX Output plugin is required but not available. Please install the KFX plugin."
		out := make([]types.ConversionResult, len(files))
		for i, f := range files {
			out[i] = types.ConversionResult{InputPath: f, Format: string(format), Status: types.ConversionFailed, Error: msg}
		}
		return out
	}

	opts.IncludeCover = true

	var actual []string
	resultsByIdx := make([]types.ConversionResult, len(files))
	pending := make(map[int]bool)

	for i, f := range files {
		if strings.ToLower(filepath.Ext(f)) != ".kfx" {
			resultsByIdx[i] = types.ConversionResult{
				InputPath: f,
				Format:    string(format),
				Status:    types.ConversionFailed,
				Error:     fmt.Sprintf("file is not KFX format (detected: %s)", extOrUnknown(f)),
			}
			continue
		}
		out := filepath.Join(outputDir, stemOf(f)+"_from_kfx."+strings.ToLower(string(format)))
		if _, err := os.Stat(out); err == nil {
			resultsByIdx[i] = types.ConversionResult{
				InputPath:  f,
				OutputPath: out,
				Format:     string(format),
				Status:     types.ConversionSkipped,
			}
			continue
		}
		actual = append(actual, f)
		pending[i] = true
	}

	if len(actual) == 0 {
		return resultsByIdx
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		o.log.Error().Err(err).Str("dir", outputDir).Msg("failed to create output directory")
	}

	o.runParallelKFX(ctx, files, resultsByIdx, pending, outputDir, format, opts, dryRun, progress)
	return resultsByIdx
}

func (o *Orchestrator) runParallel(ctx context.Context, files []string, results []types.ConversionResult, pending map[int]bool, outputDir string, format types.FileFormat, opts Options, dryRun bool, kfxAvailable bool, parallel int, progress ProgressFunc) {
	if parallel <= 0 || parallel > o.MaxParallel {
		parallel = o.MaxParallel
	}

	total := len(pending)
	if total == 0 {
		return
	}
	completed := 0

	var g errgroup.Group
	g.SetLimit(parallel)
	var mu sync.Mutex

	for i, input := range files {
		if !pending[i] {
			continue
		}
		i, input := i, input
		g.Go(func() error {
			output := filepath.Join(outputDir, stemOf(input)+"."+strings.ToLower(string(format)))
			res := o.convertOne(ctx, input, output, format, opts, dryRun, kfxAvailable)
			results[i] = res
			mu.Lock()
			completed++
			if progress != nil {
				progress(float64(completed)/float64(total), describeResult(completed, total, res))
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) runParallelKFX(ctx context.Context, files []string, results []types.ConversionResult, pending map[int]bool, outputDir string, format types.FileFormat, opts Options, dryRun bool, progress ProgressFunc) {
	parallel := o.MaxParallel
	total := len(pending)
	if total == 0 {
		return
	}
	completed := 0

	var g errgroup.Group
	g.SetLimit(parallel)
	var mu sync.Mutex

	for i, input := range files {
		if !pending[i] {
			continue
		}
		i, input := i, input
		g.Go(func() error {
			output := filepath.Join(outputDir, stemOf(input)+"_from_kfx."+strings.ToLower(string(format)))
			res := o.convertOne(ctx, input, output, format, opts, dryRun, false)
			results[i] = res
			mu.Lock()
			completed++
			if progress != nil {
				progress(float64(completed)/float64(total), describeResult(completed, total, res))
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// convertOne runs the per-file pipeline described in the orchestrator
// contract: existence check, dry-run shortcut, subprocess invocation with
// a bounded timeout, and output verification.
func (o *Orchestrator) convertOne(ctx context.Context, input, output string, format types.FileFormat, opts Options, dryRun bool, kfxAvailable bool) types.ConversionResult {
	start := time.Now()
	base := types.ConversionResult{InputPath: input, OutputPath: output, Format: string(format)}

	info, err := os.Stat(input)
	if err != nil {
		base.Status = types.ConversionFailed
		base.Error = fmt.Sprintf("input file does not exist: %s", input)
		return base
	}
	if info.IsDir() {
		base.Status = types.ConversionFailed
		base.Error = fmt.Sprintf("input path is not a file: %s", input)
		return base
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(input), "."))
	if !supportedInputExtensions[ext] && ext != string(formatKFX) {
		base.Status = types.ConversionFailed
		base.Error = fmt.Sprintf("unsupported input format: .%s", ext)
		return base
	}
	base.SizeBefore = info.Size()

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		base.Status = types.ConversionFailed
		base.Error = err.Error()
		return base
	}

	if dryRun {
		base.Status = types.ConversionSucceeded
		base.Duration = 0
		base.SizeAfter = base.SizeBefore
		base.CompletedAt = start
		return base
	}

	cmd := BuildCommand(input, output, format, opts, kfxAvailable)
	base.Command = cmd

	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	execCmd := exec.CommandContext(jobCtx, cmd[0], cmd[1:]...)
	var stderr bytes.Buffer
	execCmd.Stderr = &stderr

	runErr := execCmd.Run()
	base.Duration = time.Since(start)
	base.CompletedAt = time.Now()

	defer func() {
		metrics.Pipeline.ConversionDuration.WithLabelValues(string(format)).Observe(base.Duration.Seconds())
		metrics.Pipeline.ConversionResults.WithLabelValues(string(format), string(base.Status)).Inc()
	}()

	if jobCtx.Err() == context.DeadlineExceeded {
		base.Status = types.ConversionFailed
		base.Error = fmt.Sprintf("conversion timeout (%.0fs exceeded) for %s", jobTimeout.Seconds(), filepath.Base(input))
		return base
	}
	if runErr != nil {
		base.Status = types.ConversionFailed
		if stderr.Len() > 0 {
			base.Error = strings.TrimSpace(stderr.String())
		} else {
			base.Error = runErr.Error()
		}
		return base
	}

	outInfo, err := os.Stat(output)
	if err != nil || outInfo.Size() == 0 {
		base.Status = types.ConversionFailed
		base.Error = "conversion completed but output file was not created"
		return base
	}

	base.Status = types.ConversionSucceeded
	base.SizeAfter = outInfo.Size()
	o.log.Info().Str("input", input).Str("output", output).Int64("size_after", base.SizeAfter).Msg("conversion succeeded")
	return base
}

// FindConvertible walks root and returns paths to files with a supported
// input extension, optionally filtered to sourceFormat, excluding files
// that look like prior conversion outputs. A missing or non-directory root
// yields an empty slice, not an error.
func (o *Orchestrator) FindConvertible(root string, recursive bool, sourceFormat string) []string {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil
	}

	want := sourceFormat
	if want != "" {
		want = strings.ToLower(strings.TrimPrefix(want, "."))
		if !supportedInputExtensions[want] {
			return nil
		}
	}

	var out []string
	walk := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if !recursive && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if !supportedInputExtensions[ext] {
			return nil
		}
		if want != "" && ext != want {
			return nil
		}
		stem := strings.ToLower(stemOf(path))
		for _, marker := range outputSkipMarkers {
			if strings.Contains(stem, marker) {
				return nil
			}
		}
		out = append(out, path)
		return nil
	}
	_ = filepath.WalkDir(root, walk)
	sort.Strings(out)
	return out
}

func (o *Orchestrator) outputPath(input string, format types.FileFormat, fromKFX bool) string {
	if fromKFX {
		return filepath.Join(o.OutputDir, stemOf(input)+"_from_kfx."+strings.ToLower(string(format)))
	}
	return filepath.Join(o.OutputDir, stemOf(input)+"."+strings.ToLower(string(format)))
}

func stemOf(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return localize.SanitizeFilename(stem)
}

func extOrUnknown(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "unknown"
	}
	return ext
}

func describeResult(completed, total int, res types.ConversionResult) string {
	status := "converted"
	if res.Status != types.ConversionSucceeded {
		status = "failed"
	}
	return fmt.Sprintf("%s %d/%d - %s", status, completed, total, filepath.Base(res.InputPath))
}

