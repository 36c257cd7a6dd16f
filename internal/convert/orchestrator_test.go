package convert

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebookops/calibre-pipeline/internal/types"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()
	return NewOrchestrator(dir, 2, false, nil), dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConvertSingleDryRunSynthesizesSuccess(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	input := writeFile(t, dir, "book.epub", "fake epub contents")

	result := o.ConvertSingle(context.Background(), input, "", types.FormatMOBI, Options{}, true)
	assert.Equal(t, types.ConversionSucceeded, result.Status)
	assert.Zero(t, result.Duration)
	assert.Equal(t, result.SizeBefore, result.SizeAfter)
	assert.Contains(t, result.OutputPath, "book.mobi")
}

func TestConvertSingleMissingInputFails(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	result := o.ConvertSingle(context.Background(), filepath.Join(dir, "missing.epub"), "", types.FormatMOBI, Options{}, true)
	assert.Equal(t, types.ConversionFailed, result.Status)
}

func TestConvertSingleUnsupportedExtensionFails(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	input := writeFile(t, dir, "book.xyz", "data")
	result := o.ConvertSingle(context.Background(), input, "", types.FormatEPUB, Options{}, true)
	assert.Equal(t, types.ConversionFailed, result.Status)
	assert.Contains(t, result.Error, "unsupported input format")
}

func TestConvertSingleDirectoryInputFails(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	sub := filepath.Join(dir, "sub.epub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	result := o.ConvertSingle(context.Background(), sub, "", types.FormatEPUB, Options{}, true)
	assert.Equal(t, types.ConversionFailed, result.Status)
}

func TestConvertBatchSkipsExistingOutput(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	input := writeFile(t, dir, "book.epub", "contents")
	writeFile(t, dir, "book.mobi", "already converted")

	results := o.ConvertBatch(context.Background(), []string{input}, dir, types.FormatMOBI, 2, Options{}, false, nil)
	require.Len(t, results, 1)
	assert.Equal(t, types.ConversionSkipped, results[0].Status)
}

func TestConvertBatchDryRunReportsProgress(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	a := writeFile(t, dir, "a.epub", "aaaa")
	b := writeFile(t, dir, "b.epub", "bbbb")

	var calls int
	results := o.ConvertBatch(context.Background(), []string{a, b}, dir, types.FormatMOBI, 2, Options{}, true, func(fraction float64, description string) {
		calls++
		assert.NotEmpty(t, description)
	})
	require.Len(t, results, 2)
	assert.Equal(t, 2, calls)
	for _, r := range results {
		assert.Equal(t, types.ConversionSucceeded, r.Status)
	}
}

func TestConvertBatchEmptyInputReturnsEmpty(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	assert.Empty(t, o.ConvertBatch(context.Background(), nil, dir, types.FormatMOBI, 2, Options{}, true, nil))
}

func TestFindConvertibleOnMissingRootReturnsEmpty(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	assert.Empty(t, o.FindConvertible(filepath.Join(dir, "nope"), true, ""))
}

func TestFindConvertibleFiltersBySourceFormatAndExcludesOutputs(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	writeFile(t, dir, "a.epub", "x")
	writeFile(t, dir, "b.mobi", "x")
	writeFile(t, dir, "a_from_kfx.epub", "x")
	writeFile(t, dir, "a_converted.epub", "x")

	files := o.FindConvertible(dir, false, "epub")
	require.Len(t, files, 1)
	assert.Contains(t, files[0], "a.epub")
}

func TestFindConvertibleSortsResults(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	writeFile(t, dir, "zzz.epub", "x")
	writeFile(t, dir, "aaa.epub", "x")

	files := o.FindConvertible(dir, false, "")
	require.Len(t, files, 2)
	assert.Contains(t, files[0], "aaa.epub")
	assert.Contains(t, files[1], "zzz.epub")
}

func TestConvertKFXBatchGateFailsWhenPluginRequired(t *testing.T) {
	dir := t.TempDir()
	o := NewOrchestrator(dir, 2, true, nil)
	input := writeFile(t, dir, "book.kfx", "x")

	results := o.ConvertKFXBatch(context.Background(), []string{input}, dir, types.FormatEPUB, 2, Options{}, true, nil)
	require.Len(t, results, 1)
	assert.Equal(t, types.ConversionFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "KFX Output plugin is required")
}

func TestConvertKFXBatchPreFiltersNonKFXInputs(t *testing.T) {
	dir := t.TempDir()
	o := NewOrchestrator(dir, 2, false, nil)
	kfx := writeFile(t, dir, "book.kfx", "x")
	other := writeFile(t, dir, "book.epub", "x")

	results := o.ConvertKFXBatch(context.Background(), []string{kfx, other}, dir, types.FormatEPUB, 2, Options{}, true, nil)
	require.Len(t, results, 2)

	byInput := map[string]types.ConversionResult{}
	for _, r := range results {
		byInput[r.InputPath] = r
	}
	assert.Equal(t, types.ConversionSucceeded, byInput[kfx].Status)
	assert.Contains(t, byInput[kfx].OutputPath, "_from_kfx")
	assert.Equal(t, types.ConversionFailed, byInput[other].Status)
	assert.Contains(t, byInput[other].Error, "not KFX format")
}

func TestConvertKFXBatchEmptyInputReturnsEmpty(t *testing.T) {
	o, dir := newTestOrchestrator(t)
	assert.Empty(t, o.ConvertKFXBatch(context.Background(), nil, dir, types.FormatEPUB, 2, Options{}, true, nil))
}
