// File: internal/infra/adapters/ai/multi_adapter.go
package ai

import (
	"context"
	"errors"
	"strings"

	"telegram-ai-subscription/internal/domain/ports/adapter"
)

var _ adapter.RemoteClient = (*MultiAIAdapter)(nil)

// MultiAIAdapter routes a model id to the provider client that serves it.
type MultiAIAdapter struct {
	defaultProvider string
	byProvider      map[string]adapter.RemoteClient
	modelToProvider map[string]string
}

func NewMultiAIAdapter(
	defaultProvider string,
	byProvider map[string]adapter.RemoteClient,
	modelToProvider map[string]string,
) *MultiAIAdapter {
	return &MultiAIAdapter{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

func (m *MultiAIAdapter) resolveProvider(model string) string {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"):
		return "openai"
	default:
		return m.defaultProvider
	}
}

func (m *MultiAIAdapter) pick(model string) adapter.RemoteClient {
	if a := m.byProvider[m.resolveProvider(model)]; a != nil {
		return a
	}
	for _, a := range m.byProvider {
		if a != nil {
			return a
		}
	}
	return nil
}

func (m *MultiAIAdapter) Complete(ctx context.Context, modelID string, messages []adapter.Message, maxTokens int) (string, string, adapter.Usage, error) {
	a := m.pick(modelID)
	if a == nil {
		return "", "", adapter.Usage{}, &adapter.RemoteError{Kind: adapter.ErrKindInvalidRequest, Err: errors.New("no provider configured for model " + modelID)}
	}
	return a.Complete(ctx, modelID, messages, maxTokens)
}

func (m *MultiAIAdapter) CountTokens(ctx context.Context, modelID string, messages []adapter.Message) (int, error) {
	a := m.pick(modelID)
	if a == nil {
		return 0, &adapter.RemoteError{Kind: adapter.ErrKindInvalidRequest, Err: errors.New("no provider configured for model " + modelID)}
	}
	return a.CountTokens(ctx, modelID, messages)
}
