package ai

import (
	"context"

	"telegram-ai-subscription/internal/domain/ports/adapter"
)

// PricingLookup resolves a model's per-million-token price so a
// RemoteClient decorator can turn a raw token usage into a real cost.
// usecase.ModelCatalogUseCase's Get returns a full catalog entry, so
// main.go reshapes it through PricingLookupFunc; ai does not import the
// usecase package.
type PricingLookup interface {
	Get(ctx context.Context, modelID string) (PricingEntry, error)
}

// PricingEntry is the subset of the model catalog a cost calculation
// needs.
type PricingEntry struct {
	InputPricePerMillion  float64
	OutputPricePerMillion float64
}

// PricingLookupFunc adapts a plain function (a use case's Get, reshaped)
// to PricingLookup so main.go doesn't need a named adapter type.
type PricingLookupFunc func(ctx context.Context, modelID string) (PricingEntry, error)

func (f PricingLookupFunc) Get(ctx context.Context, modelID string) (PricingEntry, error) {
	return f(ctx, modelID)
}

var _ adapter.RemoteClient = (*costedAI)(nil)

// costedAI decorates a RemoteClient so Usage.Cost is populated from
// the persisted model catalog's pricing instead of being left at zero,
// the way the pre-run cost estimate in job_uc.go already computes cost
// from the same pricing fields.
type costedAI struct {
	inner   adapter.RemoteClient
	pricing PricingLookup
}

func NewCostedAI(inner adapter.RemoteClient, pricing PricingLookup) adapter.RemoteClient {
	if pricing == nil {
		return inner
	}
	return &costedAI{inner: inner, pricing: pricing}
}

func (c *costedAI) Complete(ctx context.Context, modelID string, messages []adapter.Message, maxTokens int) (string, string, adapter.Usage, error) {
	content, finishReason, usage, err := c.inner.Complete(ctx, modelID, messages, maxTokens)
	if err != nil {
		return content, finishReason, usage, err
	}
	if entry, perr := c.pricing.Get(ctx, modelID); perr == nil {
		usage.Cost = float64(usage.PromptTokens)/1_000_000*entry.InputPricePerMillion +
			float64(usage.CompletionTokens)/1_000_000*entry.OutputPricePerMillion
	}
	return content, finishReason, usage, nil
}

func (c *costedAI) CountTokens(ctx context.Context, modelID string, messages []adapter.Message) (int, error) {
	return c.inner.CountTokens(ctx, modelID, messages)
}
