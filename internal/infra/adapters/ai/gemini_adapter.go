// File: internal/infra/adapters/ai/gemini_adapter.go
package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"

	"telegram-ai-subscription/internal/domain/ports/adapter"
	"telegram-ai-subscription/internal/infra/metrics"
)

var _ adapter.RemoteClient = (*GeminiAdapter)(nil)

type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
}

func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{client: c, defaultModel: defaultModel}, nil
}

func (g *GeminiAdapter) Complete(ctx context.Context, modelID string, messages []adapter.Message, maxTokens int) (string, string, adapter.Usage, error) {
	if len(messages) == 0 {
		return "", "", adapter.Usage{}, &adapter.RemoteError{Kind: adapter.ErrKindInvalidRequest, Err: errors.New("gemini: no messages")}
	}
	modelID = modelOrDefault(modelID, g.defaultModel)
	history := toGenAIHistory(messages[:len(messages)-1])
	last := messages[len(messages)-1]
	if strings.ToLower(last.Role) != "user" {
		return "", "", adapter.Usage{}, &adapter.RemoteError{Kind: adapter.ErrKindInvalidRequest, Err: errors.New("gemini: last message must be from user")}
	}

	start := time.Now()
	chat, err := g.client.Chats.Create(ctx, modelID, &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	}, history)
	if err != nil {
		metrics.ObserveRemoteCall("gemini", modelID, int(time.Since(start).Milliseconds()), false, 0, 0)
		return "", "", adapter.Usage{}, classifyGeminiError(err)
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: last.Content})
	latencyMs := int(time.Since(start).Milliseconds())
	if err != nil {
		metrics.ObserveRemoteCall("gemini", modelID, latencyMs, false, 0, 0)
		return "", "", adapter.Usage{}, classifyGeminiError(err)
	}

	text, finish := "", ""
	if resp != nil && len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		finish = string(cand.FinishReason)
		if cand.Content != nil && len(cand.Content.Parts) > 0 {
			text = cand.Content.Parts[0].Text
		}
	}
	usage := adapter.Usage{}
	if resp != nil && resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	metrics.ObserveRemoteCall("gemini", modelID, latencyMs, true, usage.PromptTokens, usage.CompletionTokens)
	return text, finish, usage, nil
}

func (g *GeminiAdapter) CountTokens(ctx context.Context, modelID string, messages []adapter.Message) (int, error) {
	modelID = modelOrDefault(modelID, g.defaultModel)
	contents := toGenAIHistory(messages)
	resp, err := g.client.Models.CountTokens(ctx, modelID, contents, nil)
	if err != nil {
		return 0, classifyGeminiError(err)
	}
	return int(resp.TotalTokens), nil
}

func toGenAIHistory(msgs []adapter.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		switch strings.ToLower(m.Role) {
		case "assistant", "model":
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return out
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return &adapter.RemoteError{Kind: adapter.ErrKindRateLimited, Err: err}
		case apiErr.Code >= 500:
			return &adapter.RemoteError{Kind: adapter.ErrKindServerError, Err: err}
		case apiErr.Code >= 400:
			return &adapter.RemoteError{Kind: adapter.ErrKindInvalidRequest, Err: err}
		}
	}
	return &adapter.RemoteError{Kind: adapter.ErrKindTransientNetwork, Err: err}
}
