// Package sizer computes the maximum safe token budget for one chunk,
// given a model's context window and the surrounding instruction size.
package sizer

import "math"

const (
	systemPromptReserve = 500
	metadataReserve     = 100
	overlapReserve      = 200
	minChunkTokens      = 2000

	contextFraction = 0.40
	outputFraction  = 0.9
)

// MaxChunkTokens returns the largest number of tokens one chunk may
// contain. contextLength is the model's total token window;
// instructionTokens is the size of the user's instruction;
// maxOutputTokens is the model's output cap, or 0 if unknown.
//
// The context-based limit leaves 60% of the window for the model's
// output plus safety margin, since translation-like tasks commonly
// produce output comparable in size to input. The 2,000-token floor
// guarantees forward progress on small-window models.
func MaxChunkTokens(contextLength, instructionTokens, maxOutputTokens int) int {
	contextLimit := contextFraction*float64(contextLength) - systemPromptReserve - float64(instructionTokens) - metadataReserve - overlapReserve

	outputLimit := math.Inf(1)
	if maxOutputTokens > 0 {
		outputLimit = math.Floor(outputFraction * float64(maxOutputTokens))
	}

	limit := math.Min(contextLimit, outputLimit)
	result := int(math.Floor(limit))
	if result < minChunkTokens {
		result = minChunkTokens
	}
	return result
}
