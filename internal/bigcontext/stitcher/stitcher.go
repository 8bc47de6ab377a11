// Package stitcher assembles per-chunk outputs into a final artifact,
// with a safety rule that suppresses a lossy remote merge pass.
package stitcher

import (
	"context"
	"fmt"
	"math"
	"strings"

	"telegram-ai-subscription/internal/bigcontext/tokenest"
	"telegram-ai-subscription/internal/domain/ports/adapter"
	"telegram-ai-subscription/internal/infra/metrics"
)

const (
	boundaryMarker    = "\n\n---CHUNK BOUNDARY---\n\n"
	safetyFraction    = 0.9
	defaultOutputFrac = 0.5
)

// Params bundles the context the stitcher needs to decide between a
// remote seam-smoothing pass and safe concatenation.
type Params struct {
	Outputs          []string
	Instruction      string
	ModelID          string
	ContextLength    int
	MaxOutputTokens  int // 0 if unknown
	EnableStitchPass bool
}

// Stitch returns the final assembled text. If there is zero or one
// output, or the job did not opt into a stitch pass, it is returned
// unchanged/concatenated without a remote call.
func Stitch(ctx context.Context, remote adapter.RemoteClient, p Params) (string, error) {
	if len(p.Outputs) == 0 {
		return "", nil
	}
	if len(p.Outputs) == 1 {
		return p.Outputs[0], nil
	}
	if !p.EnableStitchPass {
		metrics.IncStitch("skipped")
		return join(p.Outputs), nil
	}

	totalOutputTokens := 0
	for _, o := range p.Outputs {
		totalOutputTokens += tokenest.Estimate(o)
	}

	effectiveMaxOutput := p.MaxOutputTokens
	if effectiveMaxOutput <= 0 {
		effectiveMaxOutput = int(math.Floor(float64(p.ContextLength) * defaultOutputFrac))
	}

	// A stitch pass that cannot emit the full text in one reply will
	// truncate; safe concatenation is lossless.
	if float64(totalOutputTokens) > safetyFraction*float64(effectiveMaxOutput) {
		metrics.IncStitch("skipped")
		return join(p.Outputs), nil
	}

	metrics.IncStitch("remote")
	sys := fmt.Sprintf(
		"Original instruction: %s\n\nThe following outputs were produced independently for consecutive, overlapping "+
			"sections of one document and are joined below with the literal boundary marker %q. "+
			"Smooth the transitions and remove redundancies at boundaries only. "+
			"Do not summarize, truncate, or drop any content away from the boundaries.",
		p.Instruction, boundaryMarker,
	)
	user := strings.Join(p.Outputs, boundaryMarker)

	content, _, _, err := remote.Complete(ctx, p.ModelID, []adapter.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: user},
	}, p.MaxOutputTokens)
	if err != nil {
		return "", err
	}
	return content, nil
}

func join(outputs []string) string {
	return strings.Join(outputs, "\n\n")
}
