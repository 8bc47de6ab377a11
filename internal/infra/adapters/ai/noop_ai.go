package ai

import (
	"context"
	"log"
	"strings"
	"time"

	"telegram-ai-subscription/internal/domain/ports/adapter"
)

var _ adapter.RemoteClient = (*NoopAIAdapter)(nil)

// NoopAIAdapter stands in for a real provider in local/dev runs. It
// echoes the last message's content back, prefixed with "[noop] ", so a
// chunking/stitching pipeline can be exercised end-to-end without
// spending real tokens.
type NoopAIAdapter struct{}

func NewNoopAIAdapter() *NoopAIAdapter {
	return &NoopAIAdapter{}
}

func (a *NoopAIAdapter) Complete(ctx context.Context, modelID string, messages []adapter.Message, maxTokens int) (string, string, adapter.Usage, error) {
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return "", "", adapter.Usage{}, ctx.Err()
	}
	var last string
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	log.Printf("[noop-ai] model=%s messages=%d\n", modelID, len(messages))
	reply := "[noop] " + last
	tokens := len(strings.Fields(reply))
	return reply, "stop", adapter.Usage{PromptTokens: len(strings.Fields(last)), CompletionTokens: tokens, TotalTokens: tokens}, nil
}

func (a *NoopAIAdapter) CountTokens(ctx context.Context, modelID string, messages []adapter.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += len(strings.Fields(m.Content))
	}
	return total, nil
}
