// Package chunker splits text into an ordered sequence of overlapping,
// boundary-aware chunks sized to fit under a token budget.
package chunker

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"telegram-ai-subscription/internal/bigcontext/tokenest"
)

const (
	overlapTokens  = 200
	boundaryZone   = 0.30 // fraction of the search window, counted from the end
	searchWindow   = 1.0
	minRestrictLen = 1
)

// Chunk is one ordered, contiguous (modulo overlap) piece of the source
// text.
type Chunk struct {
	Index int
	Text  string
}

// boundary patterns, most specific first. Each is searched for its
// rightmost match within the restricted zone; the first pattern with any
// match in the zone wins.
var (
	sectionBoundary  = regexp.MustCompile(`\n(?:#{1,3}[ \t]|={3,}|-{3,})`)
	paragraphBoundary = regexp.MustCompile(`\n\n`)
	lineBoundary      = regexp.MustCompile(`\n`)
	sentenceBoundary  = regexp.MustCompile(`[.!?][ \t\n]`)
	wordBoundary      = regexp.MustCompile(`[ \t]`)
)

// Split segments text into ordered chunks, each at most maxChunkTokens
// tokens (per the same estimator used to size it), with ~overlapTokens
// of trailing context repeated at the start of the next chunk.
func Split(text string, maxChunkTokens int) []Chunk {
	if text == "" {
		return nil
	}

	totalTokens := tokenest.Estimate(text)
	if totalTokens <= maxChunkTokens {
		return []Chunk{{Index: 0, Text: text}}
	}

	runes := []rune(text)
	n := len(runes)
	charsPerToken := float64(n) / float64(max(totalTokens, 1))
	maxChunkChars := int(math.Floor(float64(maxChunkTokens) * charsPerToken))
	overlapChars := int(math.Floor(float64(overlapTokens) * charsPerToken))
	if maxChunkChars < 1 {
		maxChunkChars = n
	}

	var chunks []Chunk
	offset := 0
	for offset < n {
		end := offset + maxChunkChars
		if end > n {
			end = n
		}
		if end < n {
			end = offset + findBoundary(runes[offset:end])
		}

		slice := strings.TrimSpace(string(runes[offset:end]))
		if slice != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: slice})
		}

		if end >= n {
			break
		}
		next := end - overlapChars
		if next <= offset {
			next = offset + 1
		}
		offset = next
	}
	return chunks
}

// findBoundary picks the best natural cut point inside window, searched
// in the last boundaryZone fraction of the window so chunks are never
// too short. Returns a rune offset relative to the start of window.
func findBoundary(window []rune) int {
	wlen := len(window)
	zoneStart := int(math.Ceil(float64(wlen) * (1 - boundaryZone)))
	if zoneStart < 0 {
		zoneStart = 0
	}
	if zoneStart >= wlen {
		return wlen
	}

	ws := string(window)
	zoneStartByte := len(string(window[:zoneStart]))
	zone := ws[zoneStartByte:]

	for _, re := range []*regexp.Regexp{sectionBoundary, paragraphBoundary, lineBoundary, sentenceBoundary, wordBoundary} {
		if idx := lastMatchEnd(re, zone); idx >= 0 {
			return zoneStart + utf8.RuneCountInString(zone[:idx])
		}
	}
	// Level 6: hard cut at the window edge.
	return wlen
}

// lastMatchEnd returns the byte offset just past the rightmost match of
// re in s, or -1 if re does not match.
func lastMatchEnd(re *regexp.Regexp, s string) int {
	matches := re.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return -1
	}
	return matches[len(matches)-1][1]
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
