package localize

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebookops/calibre-pipeline/internal/types"
)

func TestNormalizeLanguage(t *testing.T) {
	cases := map[string]string{
		"deu":   "de",
		"ger":   "de",
		"jpn":   "ja",
		"eng":   "en",
		"pt-BR": "pt",
		"nld":   "nl",
		"fr":    "fr",
		"":      "en",
		"zz-zz": "en",
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeLanguage(raw), "raw=%q", raw)
	}
}

func TestMarketplace(t *testing.T) {
	assert.Equal(t, "amazon.de", Marketplace("de"))
	assert.Equal(t, "amazon.co.jp", Marketplace("ja"))
	assert.Equal(t, "amazon.com", Marketplace("xx"))
	assert.Equal(t, "amazon.com", Marketplace(""))
}

func TestEnglishEquivalent(t *testing.T) {
	got, ok := EnglishEquivalent("Kinder des Nebels")
	require.True(t, ok)
	assert.Equal(t, "Mistborn", got)

	_, ok = EnglishEquivalent("Some Unknown Title")
	assert.False(t, ok)
}

func TestExtractSeriesFromTitleNumbered(t *testing.T) {
	series, idx, title := extractSeriesFromTitle("Mistborn 01 - The Final Empire")
	assert.Equal(t, "Mistborn", series)
	assert.Equal(t, "01", idx)
	assert.Equal(t, "The Final Empire", title)
}

func TestExtractSeriesFromTitleBook(t *testing.T) {
	series, idx, title := extractSeriesFromTitle("Mistborn Book 1: The Final Empire")
	assert.Equal(t, "Mistborn", series)
	assert.Equal(t, "1", idx)
	assert.Equal(t, "The Final Empire", title)
}

func TestExtractSeriesFromTitleParen(t *testing.T) {
	series, idx, title := extractSeriesFromTitle("Mistborn (1): The Final Empire")
	assert.Equal(t, "Mistborn", series)
	assert.Equal(t, "1", idx)
	assert.Equal(t, "The Final Empire", title)
}

func TestExtractSeriesFromTitleNoMatch(t *testing.T) {
	series, idx, title := extractSeriesFromTitle("The Final Empire")
	assert.Empty(t, series)
	assert.Empty(t, idx)
	assert.Empty(t, title)
}

func TestExtractFromFilenameAuthorTitle(t *testing.T) {
	e := NewExtractor(nil)
	md := e.extractFromFilename("/books/brandon sanderson_the final empire.epub")
	assert.Equal(t, "Brandon Sanderson", md.Author)
	assert.Equal(t, "The Final Empire", md.Title)
}

func TestExtractFromFilenameAuthorSeriesTitle(t *testing.T) {
	e := NewExtractor(nil)
	md := e.extractFromFilename("/books/brandon sanderson_mistborn_the final empire.epub")
	assert.Equal(t, "Brandon Sanderson", md.Author)
	assert.Equal(t, "Mistborn", md.Series)
	assert.Equal(t, "The Final Empire", md.Title)
}

func TestExtractFromFilenameNoSeparators(t *testing.T) {
	e := NewExtractor(nil)
	md := e.extractFromFilename("/books/the-final-empire.epub")
	assert.Equal(t, "The Final Empire", md.Title)
}

func writeTestEPUB(t *testing.T, path string, opf string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)

	containerXML := `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

	w, err := zw.Create("META-INF/container.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(containerXML))
	require.NoError(t, err)

	w, err = zw.Create("content.opf")
	require.NoError(t, err)
	_, err = w.Write([]byte(opf))
	require.NoError(t, err)

	require.NoError(t, zw.Close())
}

func TestExtractFromEPUBReadsDublinCoreAndCalibreMeta(t *testing.T) {
	opf := `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>The Final Empire</dc:title>
    <dc:creator>Brandon Sanderson</dc:creator>
    <dc:language>eng</dc:language>
    <meta name="calibre:series" content="Mistborn"/>
    <meta name="calibre:series_index" content="1"/>
  </metadata>
</package>`

	path := filepath.Join(t.TempDir(), "book.epub")
	writeTestEPUB(t, path, opf)

	e := NewExtractor(nil)
	md := e.Extract(path)

	assert.False(t, md.Corrupted)
	assert.Equal(t, "The Final Empire", md.Title)
	assert.Equal(t, "Brandon Sanderson", md.Author)
	assert.Equal(t, "en", md.Language)
	assert.Equal(t, "Mistborn", md.Series)
	assert.Equal(t, "1", md.SeriesIndex)
}

func TestExtractFromCorruptedEPUBFallsBackToFilename(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brandon sanderson_mistborn_the final empire.epub")
	require.NoError(t, os.WriteFile(path, []byte("not a zip file"), 0o644))

	e := NewExtractor(nil)
	md := e.Extract(path)

	assert.True(t, md.Corrupted)
	assert.Equal(t, "Brandon Sanderson", md.Author)
	assert.Equal(t, "Mistborn", md.Series)
}

func TestSearchTermsPriorityOrderingForLocalizedTitle(t *testing.T) {
	identity := types.BookIdentity{
		Title:    "Kinder des Nebels",
		Author:   "Brandon Sanderson",
		Series:   "Mistborn",
		Language: "de",
	}

	terms := SearchTerms(identity)
	require.Len(t, terms, 4)

	assert.Equal(t, "localized_primary", terms[0].Strategy)
	assert.Equal(t, "de", terms[0].Language)

	assert.Equal(t, "english_equivalent", terms[1].Strategy)
	assert.Equal(t, "en", terms[1].Language)
	assert.Equal(t, "Mistborn", terms[1].Title)

	assert.Equal(t, "series_based", terms[2].Strategy)
	assert.Equal(t, "amazon.de", terms[2].Marketplace)

	assert.Equal(t, "cross_language_fallback", terms[3].Strategy)
	assert.Equal(t, "en", terms[3].Language)

	for i, term := range terms {
		assert.Equal(t, i+1, term.Priority)
	}
}

func TestSearchTermsEnglishTitleSkipsEquivalentStrategy(t *testing.T) {
	identity := types.BookIdentity{
		Title:    "The Final Empire",
		Author:   "Brandon Sanderson",
		Language: "en",
	}

	terms := SearchTerms(identity)
	for _, term := range terms {
		assert.NotEqual(t, "english_equivalent", term.Strategy)
	}
}

func TestSearchTermsNoSeriesSkipsSeriesBasedStrategy(t *testing.T) {
	identity := types.BookIdentity{Title: "Standalone Novel", Author: "Some Author", Language: "en"}
	terms := SearchTerms(identity)
	for _, term := range terms {
		assert.NotEqual(t, "series_based", term.Strategy)
	}
}

func TestValidateISBN(t *testing.T) {
	assert.True(t, ValidateISBN("978-0-7653-2635-5"))
	assert.True(t, ValidateISBN("0-306-40615-2"))
	assert.False(t, ValidateISBN("978-0-7653-2635-6"))
	assert.False(t, ValidateISBN("not-an-isbn"))
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "9780765326355", DigitsOnly("978-0-7653-2635-5"))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "A_B_C", SanitizeFilename("A/B:C"))
	assert.Equal(t, "Spaced Title", SanitizeFilename("  Spaced   Title  "))
}
