package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/pkoukk/tiktoken-go"

	"telegram-ai-subscription/internal/domain/ports/adapter"
	"telegram-ai-subscription/internal/infra/metrics"
)

var _ adapter.RemoteClient = (*OpenAIAdapter)(nil)

// OpenAIAdapter talks to the Chat Completions API through the official
// SDK and estimates prompt tokens locally with tiktoken so callers can
// size a request before paying for a round trip.
type OpenAIAdapter struct {
	client       openai.Client
	defaultModel string
}

func NewOpenAIAdapter(apiKey, baseURL, defaultModel string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai: empty api key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &OpenAIAdapter{
		client:       openai.NewClient(opts...),
		defaultModel: defaultModel,
	}, nil
}

func (o *OpenAIAdapter) Complete(ctx context.Context, modelID string, messages []adapter.Message, maxTokens int) (string, string, adapter.Usage, error) {
	modelID = modelOrDefault(modelID, o.defaultModel)
	start := time.Now()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelID),
		Messages: toOpenAIMessages(messages),
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	latencyMs := int(time.Since(start).Milliseconds())
	if err != nil {
		metrics.ObserveRemoteCall("openai", modelID, latencyMs, false, 0, 0)
		return "", "", adapter.Usage{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		metrics.ObserveRemoteCall("openai", modelID, latencyMs, false, 0, 0)
		return "", "", adapter.Usage{}, &adapter.RemoteError{Kind: adapter.ErrKindServerError, Err: errors.New("openai: empty choices")}
	}

	usage := adapter.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	metrics.ObserveRemoteCall("openai", modelID, latencyMs, true, usage.PromptTokens, usage.CompletionTokens)

	choice := resp.Choices[0]
	return choice.Message.Content, string(choice.FinishReason), usage, nil
}

func (o *OpenAIAdapter) CountTokens(ctx context.Context, modelID string, messages []adapter.Message) (int, error) {
	modelID = modelOrDefault(modelID, o.defaultModel)
	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0, fmt.Errorf("tiktoken: %w", err)
		}
	}
	total := 0
	for _, m := range messages {
		total += len(enc.Encode(m.Content, nil, nil)) + 4 // per-message role/format overhead
	}
	return total, nil
}

func toOpenAIMessages(messages []adapter.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func modelOrDefault(model, def string) string {
	if model != "" {
		return model
	}
	return def
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return &adapter.RemoteError{Kind: adapter.ErrKindRateLimited, Err: err}
		case apiErr.StatusCode >= 500:
			return &adapter.RemoteError{Kind: adapter.ErrKindServerError, Err: err}
		case apiErr.StatusCode >= 400:
			return &adapter.RemoteError{Kind: adapter.ErrKindInvalidRequest, Err: err}
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &adapter.RemoteError{Kind: adapter.ErrKindTransientNetwork, Err: err}
	}
	return &adapter.RemoteError{Kind: adapter.ErrKindServerError, Err: err}
}
