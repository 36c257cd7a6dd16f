// Package localize extracts book identity metadata from EPUB files and
// from filenames, normalizes language codes, maps languages to Amazon
// marketplaces, and generates the ordered SearchTerm sequence the ASIN
// resolver uses for localized lookups.
package localize

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ebookops/calibre-pipeline/internal/cache"
	"github.com/ebookops/calibre-pipeline/internal/logger"
	"github.com/ebookops/calibre-pipeline/internal/types"
)

// Metadata is the result of extracting identity information from a book
// file, independent of where that information came from.
type Metadata struct {
	Title         string
	Author        string
	Language      string
	Series        string
	SeriesIndex   string
	OriginalTitle string
	Corrupted     bool
}

var marketplaceByLanguage = map[string]string{
	"de": "amazon.de",
	"fr": "amazon.fr",
	"es": "amazon.es",
	"it": "amazon.it",
	"ja": "amazon.co.jp",
	"pt": "amazon.com.br",
	"nl": "amazon.nl",
	"en": "amazon.com",
}

var languageNormalization = map[string]string{
	"deu": "de", "ger": "de",
	"jpn": "ja",
	"eng": "en",
	"pt-br": "pt",
	"nld": "nl",
}

// englishTitleEquivalents maps a known foreign series/book title to its
// English equivalent, used for the english_equivalent SearchTerm strategy.
// Deliberately small: only the titles the original tooling shipped.
var englishTitleEquivalents = map[string]string{
	"kinder des nebels": "Mistborn",
	"der weg der könige": "The Way of Kings",
	"ruf der klingen":    "Words of Radiance",
	"himmelsleuchten":    "Skyward",
}

var languageHints = map[string]string{
	"kinder des": "de",
	"der weg":    "de",
	"ruf der":    "de",
	"ein":        "de",
}

// Extractor reads book identity metadata from EPUB files and from
// filenames, caching language-guess results for repeated titles within a
// single batch.
type Extractor struct {
	log        *logger.Logger
	titleLangs *cache.Memory[string, string]
}

// NewExtractor constructs an Extractor.
func NewExtractor(log *logger.Logger) *Extractor {
	if log == nil {
		log = logger.Get()
	}
	log = log.With("localize")
	return &Extractor{log: log, titleLangs: cache.NewMemory[string, string](log)}
}

// Extract derives Metadata for path, trying EPUB metadata first and
// falling back to filename heuristics; MOBI/AZW/AZW3 and every other
// format use the filename heuristics only. It never returns an error: a
// corrupted or unreadable file still yields a best-effort record derived
// from its filename.
func (e *Extractor) Extract(path string) Metadata {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".epub":
		if md, err := e.extractFromEPUB(path); err == nil {
			return md
		}
		e.log.Debug().Str("path", path).Msg("epub metadata extraction failed, falling back to filename")
		md := e.extractFromFilename(path)
		md.Corrupted = true
		return md
	case ".mobi", ".azw", ".azw3":
		return e.extractFromFilename(path)
	default:
		return e.extractFromFilename(path)
	}
}

type opfMetadata struct {
	XMLName xml.Name `xml:"package"`
	Title   []string `xml:"metadata>title"`
	Creator []string `xml:"metadata>creator"`
	Lang    []string `xml:"metadata>language"`
	Meta    []struct {
		Name    string `xml:"name,attr"`
		Content string `xml:"content,attr"`
	} `xml:"metadata>meta"`
}

type container struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

func (e *Extractor) extractFromEPUB(path string) (Metadata, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("open epub: %w", err)
	}
	defer r.Close()

	containerData, err := readZipFile(r, "META-INF/container.xml")
	if err != nil {
		return Metadata{}, err
	}

	var c container
	if err := xml.Unmarshal(containerData, &c); err != nil || len(c.Rootfiles) == 0 {
		return Metadata{}, fmt.Errorf("parse container.xml: %w", err)
	}

	opfData, err := readZipFile(r, c.Rootfiles[0].FullPath)
	if err != nil {
		return Metadata{}, err
	}

	var opf opfMetadata
	if err := xml.Unmarshal(opfData, &opf); err != nil {
		return Metadata{}, fmt.Errorf("parse opf: %w", err)
	}

	md := Metadata{}
	if len(opf.Title) > 0 {
		md.Title = strings.TrimSpace(opf.Title[0])
	}
	if len(opf.Creator) > 0 {
		md.Author = strings.TrimSpace(opf.Creator[0])
	}
	if len(opf.Lang) > 0 {
		md.Language = NormalizeLanguage(opf.Lang[0])
	}
	for _, m := range opf.Meta {
		switch m.Name {
		case "calibre:series":
			md.Series = m.Content
		case "calibre:series_index":
			md.SeriesIndex = m.Content
		}
	}

	if md.Language == "" {
		md.Language = e.guessLanguage(md.Title)
	}
	if md.Series == "" {
		if series, idx, title := extractSeriesFromTitle(md.Title); series != "" {
			md.Series, md.SeriesIndex, md.OriginalTitle = series, idx, title
		}
	}
	return md, nil
}

func readZipFile(r *zip.ReadCloser, name string) ([]byte, error) {
	for _, f := range r.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

var (
	authorSeriesTitleRe = regexp.MustCompile(`^([^_]+)_([^_]+)_([^_]+)$`)
	authorTitleRe       = regexp.MustCompile(`^([^_]+)_([^_]+)$`)
)

func (e *Extractor) extractFromFilename(path string) Metadata {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	md := Metadata{}
	if m := authorSeriesTitleRe.FindStringSubmatch(stem); m != nil {
		md.Author = titleCase(m[1])
		md.Series = titleCase(m[2])
		md.Title = titleCase(m[3])
	} else if m := authorTitleRe.FindStringSubmatch(stem); m != nil {
		md.Author = titleCase(m[1])
		md.Title = titleCase(m[2])
	} else {
		md.Title = titleCase(stem)
	}

	if series, idx, title := extractSeriesFromTitle(md.Title); series != "" {
		md.Series, md.SeriesIndex, md.OriginalTitle = series, idx, title
	}

	md.Language = e.guessLanguage(md.Title)
	return md
}

func titleCase(s string) string {
	s = strings.ReplaceAll(s, "-", " ")
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
		}
	}
	return strings.Join(words, " ")
}

var (
	seriesNumberedRe = regexp.MustCompile(`(?i)^(.+?)\s+(\d+)\s*-\s*(.+)$`)
	seriesBookRe     = regexp.MustCompile(`(?i)^(.+?)\s+book\s+(\d+)\s*:\s*(.+)$`)
	seriesParenRe    = regexp.MustCompile(`(?i)^(.+?)\s*\((\d+)\)\s*:\s*(.+)$`)
)

// extractSeriesFromTitle splits a combined title into series, series index,
// and bare title when it matches one of three known shapes: "Series 01 -
// Title", "Series Book 1: Title", "Series (1): Title".
func extractSeriesFromTitle(title string) (series, index, bareTitle string) {
	for _, re := range []*regexp.Regexp{seriesNumberedRe, seriesBookRe, seriesParenRe} {
		if m := re.FindStringSubmatch(title); m != nil {
			return strings.TrimSpace(m[1]), m[2], strings.TrimSpace(m[3])
		}
	}
	return "", "", ""
}

// NormalizeLanguage maps a raw ISO-639-2 or locale code to the two-letter
// codes this package uses internally.
func NormalizeLanguage(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if norm, ok := languageNormalization[lower]; ok {
		return norm
	}
	if len(lower) == 2 {
		return lower
	}
	return "en"
}

// guessLanguage consults a small substring dictionary when no language
// field was present in the source metadata.
func (e *Extractor) guessLanguage(title string) string {
	if title == "" {
		return "en"
	}
	if lang, ok := e.titleLangs.Get(title); ok {
		return lang
	}

	lower := strings.ToLower(title)
	lang := "en"
	for hint, l := range languageHints {
		if strings.Contains(lower, hint) {
			lang = l
			break
		}
	}
	e.titleLangs.Set(title, lang, time.Hour)
	return lang
}

// Marketplace returns the Amazon marketplace host for a normalized language
// code, falling back to amazon.com for anything not in the table.
func Marketplace(language string) string {
	if m, ok := marketplaceByLanguage[language]; ok {
		return m
	}
	return "amazon.com"
}

// EnglishEquivalent returns the hardcoded English title for a known foreign
// title, and whether one was found.
func EnglishEquivalent(title string) (string, bool) {
	v, ok := englishTitleEquivalents[strings.ToLower(strings.TrimSpace(title))]
	return v, ok
}

// SearchTerms builds the ordered SearchTerm sequence for a book identity,
// following the priority order: localized_primary, english_equivalent (if
// the language isn't English and a translation is known), series_based (if
// a series is known), cross_language_fallback. The resolver consumes terms
// in ascending Priority order.
func SearchTerms(identity types.BookIdentity) []types.SearchTerm {
	var terms []types.SearchTerm

	lang := identity.Language
	if lang == "" {
		lang = "en"
	}
	market := Marketplace(lang)

	terms = append(terms, types.SearchTerm{
		Title:       identity.Title,
		Author:      identity.Author,
		Language:    lang,
		Marketplace: market,
		Priority:    1,
		Strategy:    "localized_primary",
	})

	if lang != "en" {
		if english, ok := EnglishEquivalent(identity.Title); ok {
			terms = append(terms, types.SearchTerm{
				Title:       english,
				Author:      identity.Author,
				Language:    "en",
				Marketplace: "amazon.com",
				Priority:    2,
				Strategy:    "english_equivalent",
			})
		}
	}

	if identity.Series != "" {
		terms = append(terms, types.SearchTerm{
			Title:       strings.TrimSpace(identity.Series + " " + identity.Author),
			Author:      identity.Author,
			Language:    lang,
			Marketplace: market,
			Priority:    3,
			Strategy:    "series_based",
		})
	}

	terms = append(terms, types.SearchTerm{
		Title:       identity.Title,
		Author:      identity.Author,
		Language:    "en",
		Marketplace: "amazon.com",
		Priority:    4,
		Strategy:    "cross_language_fallback",
	})

	return terms
}
