package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Boundary preference, strongest break first.
var separators = []string{"\n\n", "\n", ". ", " "}

// Splitter cuts document text into overlapping chunks sized for embedding.
// Boundaries prefer natural breaks (paragraph, newline, sentence, word) near
// the end of the window and fall back to a hard cut when none exists.
// Splitting is deterministic: the same text always yields the same chunks.
type Splitter struct {
	size    int
	overlap int
}

// New returns a Splitter producing chunks of at most size bytes with the
// given overlap between consecutive chunks. Out-of-range values fall back
// to sane defaults.
func New(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &Splitter{size: size, overlap: overlap}
}

// Split chunks text. Whitespace-only input yields no chunks; any other
// input yields at least one. Every chunk except possibly the last ends at
// a natural break when one exists in the second half of its window.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= s.size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + s.size
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		cut := s.cutPoint(text, start, end)
		chunks = append(chunks, text[start:cut])

		next := cut - s.overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

// cutPoint picks the boundary for the chunk starting at start with hard
// limit end. It takes the latest break in the second half of the window,
// trying stronger separators first. The separator stays attached to the
// left chunk so concatenation still covers the source. A hard cut is
// pulled back to a rune boundary.
func (s *Splitter) cutPoint(text string, start, end int) int {
	window := text[start:end]
	min := s.size / 2
	for _, sep := range separators {
		if i := strings.LastIndex(window, sep); i >= min {
			return start + i + len(sep)
		}
	}
	for end > start+1 && !utf8.RuneStart(text[end]) {
		end--
	}
	return end
}
