// Package types holds the data shapes shared across the resolution,
// validation, and conversion engines, kept separate so none of those
// packages need to import one another just to pass results around.
package types

import "time"

// BookIdentity is the minimal set of fields used to identify a book for
// ASIN resolution, independent of which adapter eventually finds a match.
type BookIdentity struct {
	Title    string
	Author   string
	ISBN     string
	Series   string
	SeriesIx string
	Language string
}

// SearchTerm is a single candidate query generated by the localization
// metadata extractor, consumed by the resolver in ascending Priority order.
type SearchTerm struct {
	Title       string
	Author      string
	Language    string
	Marketplace string
	Priority    int
	Strategy    string // localized_primary, english_equivalent, series_based, cross_language_fallback, filename_derived
}

// Query renders the term as the search string an adapter sends over HTTP.
func (t SearchTerm) Query() string {
	if t.Author == "" {
		return t.Title
	}
	return t.Title + " " + t.Author
}

// ASINLookupResult is the outcome of resolving a BookIdentity to an ASIN.
type ASINLookupResult struct {
	ASIN        string
	Source      string // isbn-direct, amazon-search, google-books, openlibrary, cache
	Confidence  float64
	Marketplace string
	LookedUpAt  time.Time
	Error       string // non-empty when the lookup failed; collects each tried source's failure reason
}

// Found reports whether the lookup produced a usable ASIN.
func (r ASINLookupResult) Found() bool {
	return r.ASIN != "" && r.Error == ""
}

// FileFormat identifies a detected ebook container format.
type FileFormat string

const (
	FormatEPUB    FileFormat = "epub"
	FormatMOBI    FileFormat = "mobi"
	FormatAZW     FileFormat = "azw"
	FormatAZW3    FileFormat = "azw3"
	FormatPDF     FileFormat = "pdf"
	FormatZip     FileFormat = "zip"
	FormatDocx    FileFormat = "docx"
	FormatOLE     FileFormat = "ole-compound"
	FormatTxt     FileFormat = "txt"
	FormatUnknown FileFormat = "unknown"

	// FormatCorruptedZip marks a ZIP-signatured file that failed to open as
	// an archive at all, distinct from FormatZip (opens fine, just isn't an
	// EPUB).
	FormatCorruptedZip FileFormat = "corrupted_zip"
)

// ValidationStatus is the terminal state of a single file's validation.
type ValidationStatus string

const (
	StatusValid       ValidationStatus = "valid"
	StatusInvalid     ValidationStatus = "invalid"
	StatusCorrupted   ValidationStatus = "corrupted"
	StatusMismatch    ValidationStatus = "extension_mismatch"
	StatusUnsupported ValidationStatus = "unsupported_format"
	StatusUnreadable  ValidationStatus = "unreadable"
)

// ValidationResult is the outcome of validating a single ebook file.
type ValidationResult struct {
	Path            string
	DetectedFormat  FileFormat
	ExtensionFormat FileFormat
	Status          ValidationStatus
	Errors          []string
	Warnings        []string
	Details         map[string]string
	ValidatedAt     time.Time
}

// ConversionStatus is the terminal state of a single conversion job.
type ConversionStatus string

const (
	ConversionSucceeded ConversionStatus = "succeeded"
	ConversionFailed    ConversionStatus = "failed"
	ConversionSkipped   ConversionStatus = "skipped" // output already existed
)

// ConversionResult is the outcome of converting a single input file.
type ConversionResult struct {
	InputPath   string
	OutputPath  string
	Format      string
	Status      ConversionStatus
	Command     []string
	Duration    time.Duration
	SizeBefore  int64
	SizeAfter   int64
	Error       string
	CompletedAt time.Time
}

// Succeeded reports whether the conversion produced usable output.
func (r ConversionResult) Succeeded() bool {
	return r.Status == ConversionSucceeded
}
