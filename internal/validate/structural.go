package validate

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
)

// StructuralResult carries the outcome of an EPUB or MOBI/AZW structural
// check along with whatever detail fields are worth surfacing.
type StructuralResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Details  map[string]string
}

// ValidateEPUB opens path as a ZIP archive and verifies the three
// conditions that make it a structurally sound EPUB: a literal `mimetype`
// member, a `META-INF/container.xml` member, and at least one `.opf`
// package document. A file that won't even open as a ZIP is reported
// through the Corrupted return value rather than as a generic error.
func ValidateEPUB(path string) (result StructuralResult, corrupted bool) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return StructuralResult{}, true
	}
	defer r.Close()

	details := map[string]string{}
	var hasMimetype, hasContainer, hasOPF bool
	var images, css, html int

	for _, f := range r.File {
		switch {
		case f.Name == "mimetype":
			hasMimetype = isEPUBMimetype(f)
		case f.Name == "META-INF/container.xml":
			hasContainer = true
		case strings.HasSuffix(f.Name, ".opf"):
			hasOPF = true
		}
		switch ext := strings.ToLower(extOf(f.Name)); ext {
		case ".jpg", ".jpeg", ".png", ".gif", ".svg":
			images++
		case ".css":
			css++
		case ".html", ".xhtml", ".htm":
			html++
		}
	}

	details["member_count"] = fmt.Sprintf("%d", len(r.File))
	details["image_count"] = fmt.Sprintf("%d", images)
	details["css_count"] = fmt.Sprintf("%d", css)
	details["html_count"] = fmt.Sprintf("%d", html)

	var errs []string
	if !hasMimetype {
		errs = append(errs, "missing or invalid mimetype member")
	}
	if !hasContainer {
		errs = append(errs, "missing META-INF/container.xml")
	}
	if !hasOPF {
		errs = append(errs, "no .opf package document found")
	}

	return StructuralResult{
		Valid:   len(errs) == 0,
		Errors:  errs,
		Details: details,
	}, false
}

func extOf(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}
	return name[i:]
}

// MOBI/AZW/AZW3 PDB header field offsets, per the Palm Database header
// layout the original format exploits for ebook storage.
const (
	pdbNameOffset        = 0
	pdbNameLength        = 32
	pdbCreationOffset    = 36
	pdbRecordCountOffset = 76
	pdbRecordCountLength = 2
	// pdbMinLength is the shortest buffer that can carry the BOOKMOBI/TPZ3
	// signature at offset 60; the record count field a few bytes further in
	// is read only when the buffer is long enough to hold it.
	pdbMinLength = 68
)

// ValidateMOBI reads the first 1024 bytes of path (or less, if the file is
// shorter) and classifies it as mobi/azw/azw3 using the same magic-byte
// table as the format detector, then extracts the PDB header fields.
func ValidateMOBI(path string) (result StructuralResult, corrupted bool) {
	f, err := os.Open(path)
	if err != nil {
		return StructuralResult{}, true
	}
	defer f.Close()

	buf := make([]byte, 1024)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return StructuralResult{}, true
	}
	buf = buf[:n]

	if len(buf) < pdbMinLength {
		return StructuralResult{Errors: []string{"file too short to contain a valid PDB header"}}, false
	}

	format := DetectFormat(buf)
	var warnings []string
	if format != "mobi" && format != "azw3" {
		if detectAZW(buf) {
			format = "azw"
			warnings = append(warnings, "classified as azw by TPZ marker without a matching header")
		} else {
			return StructuralResult{Errors: []string{"no recognized MOBI/AZW/AZW3 header signature"}}, false
		}
	}

	name := strings.TrimRight(string(buf[pdbNameOffset:pdbNameOffset+pdbNameLength]), "\x00")
	creation := binary.BigEndian.Uint32(buf[pdbCreationOffset : pdbCreationOffset+4])

	var recordCount uint16
	if len(buf) >= pdbRecordCountOffset+pdbRecordCountLength {
		recordCount = binary.BigEndian.Uint16(buf[pdbRecordCountOffset : pdbRecordCountOffset+pdbRecordCountLength])
	}

	if recordCount == 0 {
		warnings = append(warnings, "record count is zero")
	}

	details := map[string]string{
		"database_name": name,
		"creation_date": fmt.Sprintf("%d", creation),
		"record_count":  fmt.Sprintf("%d", recordCount),
		"format":        string(format),
	}

	return StructuralResult{Valid: true, Warnings: warnings, Details: details}, false
}

func detectAZW(buf []byte) bool {
	if len(buf) > magicReadSize {
		buf = buf[:magicReadSize]
	}
	return strings.Contains(string(buf), "TPZ")
}
