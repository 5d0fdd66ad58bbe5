// Package chunk splits documents into bounded, overlapping passages for
// embedding.
package chunk

import (
	"strings"
	"unicode/utf8"
)

// Defaults match the document store's embedding-friendly passage size.
const (
	DefaultSize    = 512
	DefaultOverlap = 128
)

// Split slices text into chunks of at most targetSize characters with
// roughly overlap characters shared between neighbors. Short inputs come
// back whole. When a window's right edge lands mid-word the cut retracts to
// the preceding space, but only when that space lies past the window's
// midpoint; otherwise the hard cut stands so chunks never degenerate.
// Chunks are trimmed of surrounding whitespace and empties are dropped.
func Split(text string, targetSize, overlap int) []string {
	if targetSize <= 0 {
		targetSize = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if len(text) <= targetSize {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + targetSize
		if end >= len(text) {
			end = len(text)
		} else if cut := strings.LastIndexByte(text[start:end], ' '); cut > targetSize/2 {
			end = start + cut
		} else {
			// A hard cut must not land inside a multi-byte rune.
			boundary := end
			for boundary > start && !utf8.RuneStart(text[boundary]) {
				boundary--
			}
			if boundary > start {
				end = boundary
			}
		}

		if c := strings.TrimSpace(text[start:end]); c != "" {
			chunks = append(chunks, c)
		}
		if end >= len(text) {
			break
		}

		// Overlap the next window with the adjusted end. When overlap is as
		// large as the window this would stall, so fall back to a clean
		// advance to keep termination guaranteed.
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}
