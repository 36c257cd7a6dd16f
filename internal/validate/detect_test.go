package validate

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebookops/calibre-pipeline/internal/types"
)

func TestDetectFormatPDF(t *testing.T) {
	assert.Equal(t, types.FormatPDF, DetectFormat([]byte("%PDF-1.4\n...")))
}

func TestDetectFormatMOBI(t *testing.T) {
	buf := make([]byte, 80)
	copy(buf[60:68], []byte("BOOKMOBI"))
	assert.Equal(t, types.FormatMOBI, DetectFormat(buf))
}

func TestDetectFormatAZW3(t *testing.T) {
	buf := make([]byte, 80)
	copy(buf[60:68], []byte("TPZ3\x00\x00\x00\x00"))
	assert.Equal(t, types.FormatAZW3, DetectFormat(buf))
}

func TestDetectFormatAZWFallback(t *testing.T) {
	buf := make([]byte, 80)
	copy(buf[10:13], []byte("TPZ"))
	assert.Equal(t, types.FormatAZW, DetectFormat(buf))
}

func TestDetectFormatText(t *testing.T) {
	assert.Equal(t, types.FormatTxt, DetectFormat([]byte("Hello, this is plain text.\n")))
}

func TestDetectFormatUnknown(t *testing.T) {
	assert.Equal(t, types.FormatUnknown, DetectFormat([]byte{0x00, 0x01, 0x02, 0xFF, 0xFE}))
}

func writeMinimalEPUB(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("mimetype")
	require.NoError(t, err)
	_, err = w.Write([]byte("application/epub+zip"))
	require.NoError(t, err)

	w, err = zw.Create("META-INF/container.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte("<container/>"))
	require.NoError(t, err)

	w, err = zw.Create("content.opf")
	require.NoError(t, err)
	_, err = w.Write([]byte("<package/>"))
	require.NoError(t, err)

	require.NoError(t, zw.Close())
}

func TestDetectFormatFromPathDistinguishesEPUB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.epub")
	writeMinimalEPUB(t, path)

	data, err := readHead(path, 100)
	require.NoError(t, err)
	assert.Equal(t, types.FormatEPUB, DetectFormatFromPath(path, data))
}

func TestDetectFormatFromPathPlainZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("readme.txt")
	require.NoError(t, err)
	_, _ = w.Write([]byte("hi"))
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	data, err := readHead(path, 100)
	require.NoError(t, err)
	assert.Equal(t, types.FormatZip, DetectFormatFromPath(path, data))
}
