// Package convert drives the external ebook-convert tool: building its
// argument vector for a given target format and orchestrating single and
// batch conversion jobs with bounded parallelism.
package convert

import "github.com/ebookops/calibre-pipeline/internal/types"

// Quality selects the conversion quality tier requested by the caller.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// Options configures a single conversion job, independent of input/output
// paths (those are supplied separately so the same Options can drive a
// whole batch).
type Options struct {
	Quality          Quality
	IncludeCover     bool
	PreserveMetadata bool
}

// BuildCommand produces the ebook-convert argument vector for converting
// input to output in the given target format. kfxPluginAvailable gates the
// extra KFX heuristics options (§4.12); it is ignored for non-kfx formats.
func BuildCommand(input, output string, format types.FileFormat, opts Options, kfxPluginAvailable bool) []string {
	cmd := []string{"ebook-convert", input, output}

	switch format {
	case formatKFX:
		cmd = append(cmd,
			"--output-profile", "kindle_fire",
			"--no-inline-toc",
			"--margin-left", "5",
			"--margin-right", "5",
			"--margin-top", "5",
			"--margin-bottom", "5",
			"--change-justification", "left",
			"--remove-paragraph-spacing",
			"--remove-paragraph-spacing-indent-size", "1.5",
			"--insert-blank-line",
			"--insert-blank-line-size", "0.5",
		)
		if kfxPluginAvailable {
			cmd = append(cmd, "--enable-heuristics", "--markup-chapter-headings", "--remove-fake-margins")
		}

	case types.FormatEPUB, types.FormatMOBI, types.FormatAZW3:
		if opts.Quality == QualityHigh {
			cmd = append(cmd, "--preserve-cover-aspect-ratio", "--embed-all-fonts", "--subset-embedded-fonts")
		}
		if !opts.IncludeCover {
			cmd = append(cmd, "--no-default-epub-cover")
		}

	case types.FormatPDF:
		cmd = append(cmd,
			"--paper-size", "a4",
			"--pdf-default-font-size", "12",
			"--pdf-mono-font-size", "10",
		)
	}

	if opts.PreserveMetadata {
		cmd = append(cmd, "--preserve-metadata")
	}

	switch opts.Quality {
	case QualityLow:
		cmd = append(cmd, "--compress-images", "--jpeg-quality", "60")
	case QualityHigh:
		if isTextFormat(format) {
			cmd = append(cmd, "--extra-css", "body { text-align: justify; }")
		}
	}

	return cmd
}

// formatKFX is the pseudo FileFormat value used to select KFX output; it
// does not appear in the detector's vocabulary since KFX is an output-only
// target, never something this package detects on disk.
const formatKFX types.FileFormat = "kfx"

func isTextFormat(format types.FileFormat) bool {
	switch format {
	case types.FormatEPUB, types.FormatMOBI, types.FormatAZW3, formatKFX, types.FormatTxt:
		return true
	default:
		return false
	}
}
