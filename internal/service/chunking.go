package service

import (
	"strings"
	"unicode"
)

// Break points are only accepted past these fractions of the window.
const (
	paragraphBreakMinRatio = 0.5
	sentenceBreakMinRatio  = 0.5
	wordBreakMinRatio      = 0.3
)

// ChunkConfig controls how document text is split before embedding.
type ChunkConfig struct {
	Size    int // window size in characters
	Overlap int // characters repeated at the start of the next chunk
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Size:    1000,
		Overlap: 200,
	}
}

// Normalized returns a config that always makes forward progress. A
// non-positive size falls back to the default and an overlap that is not
// smaller than the size is reduced to a quarter of it.
func (c ChunkConfig) Normalized() ChunkConfig {
	if c.Size <= 0 {
		c.Size = DefaultChunkConfig().Size
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.Overlap >= c.Size {
		c.Overlap = c.Size / 4
	}
	return c
}

// ChunkText splits text into overlapping chunks of at most cfg.Size
// characters, cutting at paragraph, sentence or word boundaries when one is
// available in the back part of the window.
func ChunkText(text string, cfg ChunkConfig) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	cfg = cfg.Normalized()

	runes := []rune(text)
	if len(runes) <= cfg.Size {
		return []string{text}
	}

	chunks := make([]string, 0, len(runes)/(cfg.Size-cfg.Overlap)+1)
	start := 0
	for start < len(runes) {
		end := start + cfg.Size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = findBreak(runes, start, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}
		start = nextStart(runes, start, end, cfg.Overlap)
	}

	return chunks
}

// findBreak returns the exclusive end of the chunk starting at start whose
// window ends at end.
func findBreak(runes []rune, start, end int) int {
	window := end - start

	minPos := start + int(float64(window)*paragraphBreakMinRatio)
	for i := end - 2; i > minPos; i-- {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			return i + 2
		}
	}

	minPos = start + int(float64(window)*sentenceBreakMinRatio)
	for i := end - 1; i > minPos; i-- {
		if isSentenceEnd(runes, i, end) {
			return i + 1
		}
	}

	minPos = start + int(float64(window)*wordBreakMinRatio)
	for i := end - 1; i > minPos; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}

	return end
}

// isSentenceEnd reports whether runes[i] is terminal punctuation followed by
// a newline, by a space and a capital letter, or by the end of the window.
func isSentenceEnd(runes []rune, i, end int) bool {
	switch runes[i] {
	case '.', '!', '?':
	default:
		return false
	}
	if i+1 == end {
		return true
	}
	next := runes[i+1]
	if next == '\n' {
		return true
	}
	return next == ' ' && i+2 < len(runes) && unicode.IsUpper(runes[i+2])
}

// nextStart steps back from the break by at most overlap characters, and by
// no more than half of the chunk just emitted. Overlap never reaches back
// across a paragraph break.
func nextStart(runes []rune, start, end, overlap int) int {
	if half := (end - start) / 2; overlap > half {
		overlap = half
	}
	next := end - overlap
	if next < 0 {
		next = 0
	}
	if next <= start {
		return end
	}

	for i := end - 2; i >= next; i-- {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			return i + 2
		}
	}
	return next
}
