// Package validate implements the content-vs-extension file validation
// engine: magic-byte format detection, EPUB/MOBI structural checks, and a
// directory-wide orchestrator backed by a persistent result cache.
package validate

import (
	"archive/zip"
	"bytes"
	"context"
	"os/exec"
	"strings"
	"unicode"

	"github.com/ebookops/calibre-pipeline/internal/types"
)

const magicReadSize = 100

// DetectFormat classifies the first bytes of data according to the magic
// byte table: ZIP/EPUB containers, MOBI/AZW/AZW3 PDB headers, PDF, legacy
// Office compound documents, and a plain-text fallback.
func DetectFormat(data []byte) types.FileFormat {
	if len(data) > magicReadSize {
		data = data[:magicReadSize]
	}

	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return detectZipMember(data)
	}

	if len(data) >= 68 {
		header := data[60:68]
		switch {
		case bytes.Equal(header, []byte("BOOKMOBI")):
			return types.FormatMOBI
		case bytes.Equal(header, []byte("TPZ3\x00\x00\x00\x00")):
			return types.FormatAZW3
		}
	}
	if bytes.Contains(data, []byte("TPZ")) {
		return types.FormatAZW
	}

	if bytes.HasPrefix(data, []byte("%PDF")) {
		return types.FormatPDF
	}

	if bytes.HasPrefix(data, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}) {
		return types.FormatOLE
	}

	if isPrintableUTF8(data) {
		return types.FormatTxt
	}

	return types.FormatUnknown
}

// detectZipMember is only meaningful when the caller can reopen the whole
// archive; the magic-byte-only path can't distinguish epub/docx/zip beyond
// "this is a zip", so callers needing that distinction use
// DetectFormatFromPath instead.
func detectZipMember(_ []byte) types.FileFormat {
	return types.FormatZip
}

func isPrintableUTF8(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	s := string(data)
	if !isValidUTF8(s) {
		return false
	}
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func isValidUTF8(s string) bool {
	for _, r := range s {
		if r == unicode.ReplacementChar {
			return false
		}
	}
	return true
}

// DetectFormatFromPath opens path and classifies it using both the magic
// byte table and, for ZIP containers, archive introspection to distinguish
// epub/docx/zip.
func DetectFormatFromPath(path string, data []byte) types.FileFormat {
	format := DetectFormat(data)
	if format != types.FormatZip {
		return format
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return types.FormatZip
	}
	defer r.Close()

	hasContentTypes := false
	hasWordDir := false
	for _, f := range r.File {
		switch {
		case f.Name == "mimetype":
			if isEPUBMimetype(f) {
				return types.FormatEPUB
			}
		case f.Name == "[Content_Types].xml":
			hasContentTypes = true
		case strings.HasPrefix(f.Name, "word/"):
			hasWordDir = true
		}
	}
	if hasContentTypes && hasWordDir {
		return types.FormatDocx
	}
	return types.FormatZip
}

func isEPUBMimetype(f *zip.File) bool {
	rc, err := f.Open()
	if err != nil {
		return false
	}
	defer rc.Close()
	buf := make([]byte, 64)
	n, _ := rc.Read(buf)
	return strings.TrimSpace(string(buf[:n])) == "application/epub+zip"
}

// DetectViaFileCommand shells out to the host `file(1)` utility as a
// fallback when magic-byte detection is inconclusive. A missing binary is
// not an error: the caller simply gets FormatUnknown back.
func DetectViaFileCommand(ctx context.Context, path string) types.FileFormat {
	mimeOut, err := exec.CommandContext(ctx, "file", "--mime-type", "--brief", path).Output()
	if err == nil {
		mime := strings.TrimSpace(string(mimeOut))
		if f, ok := mimeToFormat[mime]; ok {
			return f
		}
	}

	descOut, err := exec.CommandContext(ctx, "file", "--brief", path).Output()
	if err != nil {
		return types.FormatUnknown
	}
	desc := strings.ToLower(strings.TrimSpace(string(descOut)))
	for substr, format := range descriptionToFormat {
		if strings.Contains(desc, substr) {
			return format
		}
	}
	return types.FormatUnknown
}

var mimeToFormat = map[string]types.FileFormat{
	"application/epub+zip": types.FormatEPUB,
	"application/pdf":      types.FormatPDF,
	"application/x-mobipocket-ebook": types.FormatMOBI,
}

var descriptionToFormat = map[string]types.FileFormat{
	"mobipocket": types.FormatMOBI,
	"epub":       types.FormatEPUB,
	"pdf":        types.FormatPDF,
}
