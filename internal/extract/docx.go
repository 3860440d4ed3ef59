package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// DOCX is a ZIP whose main body lives in word/document.xml (OOXML). Text nodes
// are <w:t> elements; extracting those directly is robust against paragraph
// and run attributes that trip up higher-level DOCX libraries.
var docxTextNode = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// extractDOCX extracts text from .docx bytes.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	var docXML []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("extract DOCX: open %s: %w", f.Name, err)
		}
		docXML, err = io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("extract DOCX: read %s: %w", f.Name, err)
		}
		break
	}
	if docXML == nil {
		return "", fmt.Errorf("extract DOCX: word/document.xml not found")
	}
	matches := docxTextNode.FindAllSubmatch(docXML, -1)
	if len(matches) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		if t := strings.TrimSpace(string(m[1])); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}
