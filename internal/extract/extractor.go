// Package extract provides plain-text extraction from uploaded document files.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fieldline/voicekb/internal/models"
)

// Content types accepted at the upload boundary.
const (
	ContentTypePDF   = "application/pdf"
	ContentTypeDOCX  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypeXLSX  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypeText  = "text/plain"
	ContentTypeMD    = "text/markdown"
	ContentTypeOctet = "application/octet-stream"
)

// extByContentType maps declared content types to canonical extensions.
var extByContentType = map[string]string{
	ContentTypePDF:  ".pdf",
	ContentTypeDOCX: ".docx",
	ContentTypeXLSX: ".xlsx",
	ContentTypeText: ".txt",
	ContentTypeMD:   ".md",
}

// supportedExts are the file extensions extraction understands.
var supportedExts = map[string]bool{
	".pdf":  true,
	".docx": true,
	".xlsx": true,
	".txt":  true,
	".md":   true,
	".rst":  true,
}

// Extractor extracts plain text from document files. It is the narrow
// collaborator the ingestion pipeline talks to; storage and embedding never
// see raw file bytes.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// IsSupported reports whether the declared content type and file name describe
// a format extraction can handle. A recognized content type is enough; for
// generic types (octet-stream, empty) the file extension decides.
func (e *Extractor) IsSupported(contentType, fileName string) bool {
	ct := normalizeContentType(contentType)
	if _, ok := extByContentType[ct]; ok {
		return true
	}
	if strings.HasPrefix(ct, "text/") {
		return true
	}
	return supportedExts[strings.ToLower(filepath.Ext(fileName))]
}

// ExtractText reads the file at path and returns its text content. The format
// is chosen from the declared content type first, then the path extension.
// Returns models.ErrUnsupportedFormat for formats extraction cannot handle.
func (e *Extractor) ExtractText(path, contentType string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	ext := extByContentType[normalizeContentType(contentType)]
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(path))
	}
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts text from content based on the given extension
// (including the leading dot).
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	case ".txt", ".md", ".rst", "":
		return extractPlain(content)
	default:
		return "", fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, ext)
	}
}

// normalizeContentType strips parameters ("text/plain; charset=utf-8") and lowercases.
func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
