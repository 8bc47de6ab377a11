package ai

import (
	"context"

	"telegram-ai-subscription/internal/domain/ports/adapter"
)

var _ adapter.RemoteClient = (*limitedAI)(nil)

// limitedAI bounds concurrent outstanding calls to a provider so the
// scheduler's per-job worker pool doesn't outrun the provider's own
// rate limit regardless of how many jobs run at once.
type limitedAI struct {
	inner adapter.RemoteClient
	sem   chan struct{}
}

func NewLimitedAI(inner adapter.RemoteClient, maxConcurrent int) adapter.RemoteClient {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAI{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedAI) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedAI) Complete(ctx context.Context, modelID string, messages []adapter.Message, maxTokens int) (string, string, adapter.Usage, error) {
	if err := l.acquire(ctx); err != nil {
		return "", "", adapter.Usage{}, err
	}
	defer func() { <-l.sem }()
	return l.inner.Complete(ctx, modelID, messages, maxTokens)
}

func (l *limitedAI) CountTokens(ctx context.Context, modelID string, messages []adapter.Message) (int, error) {
	if err := l.acquire(ctx); err != nil {
		return 0, err
	}
	defer func() { <-l.sem }()
	return l.inner.CountTokens(ctx, modelID, messages)
}
