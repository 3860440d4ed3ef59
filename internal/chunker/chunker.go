// Package chunker splits document text into overlapping fixed-size segments.
package chunker

import (
	"strings"
	"unicode"
)

// Chunker splits text into overlapping character-based chunks, preferring
// paragraph, sentence, and word boundaries over hard character cuts.
type Chunker struct {
	chunkSize int
	overlap   int
}

// NewChunker creates a chunker with the given size and overlap (in characters).
// Invalid parameters fall back to a 1000/250 split.
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

// Split splits text into chunks no longer than the configured size, with the
// configured overlap of repeated context between consecutive chunks. Output is
// deterministic for identical input. Empty or whitespace-only input yields an
// empty result, and no output chunk is ever empty or whitespace-only.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.chunkSize {
		return []string{strings.TrimSpace(text)}
	}
	var chunks []string
	pos := 0
	for pos < len(runes) {
		end := pos + c.chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.breakPoint(runes, pos, end)
		}
		chunk := strings.TrimSpace(string(runes[pos:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(runes) {
			break
		}
		next := end - c.overlap
		if next <= pos {
			next = pos + 1
		}
		pos = next
	}
	return chunks
}

// breakPoint finds the best split position in runes[start:limit], preferring
// paragraph breaks, then sentence ends, then word boundaries. The hard limit
// is used when no natural boundary falls in the second half of the window.
func (c *Chunker) breakPoint(runes []rune, start, limit int) int {
	min := start + c.chunkSize/2
	window := string(runes[start:limit])

	if i := strings.LastIndex(window, "\n\n"); i >= 0 && start+i > min {
		return start + i + 2
	}
	for i := limit - 1; i > min; i-- {
		if isSentenceEnd(runes[i-1]) && unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	for i := limit - 1; i > min; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return limit
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?':
		return true
	}
	return false
}
