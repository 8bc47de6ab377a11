// Package tokenest estimates token counts for arbitrary text without a
// round trip to the provider, using a script-aware character heuristic.
package tokenest

import "math"

const (
	asciiCharsPerToken    = 4.0
	nonASCIICharsPerToken = 1.5
)

// Estimate counts code points <= 127 as ASCII (4 chars/token) and code
// points > 127 as non-ASCII (1.5 chars/token). Non-Latin scripts
// tokenize roughly 2-3x denser than English; a naive len/4 estimator
// undersizes chunks enough to overrun the model's output limit on
// translation-style tasks.
func Estimate(s string) int {
	if s == "" {
		return 0
	}
	var ascii, nonASCII int
	for _, r := range s {
		if r <= 127 {
			ascii++
		} else {
			nonASCII++
		}
	}
	return int(math.Ceil(float64(ascii)/asciiCharsPerToken + float64(nonASCII)/nonASCIICharsPerToken))
}
