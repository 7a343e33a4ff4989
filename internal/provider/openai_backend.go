package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"newsrun/internal/resilience/circuitbreaker"
	"newsrun/internal/resilience/retry"
)

// OpenAIBackend is the Provider Gateway's primary backend, grounded on
// internal/infra/summarizer/openai.go's circuit-breaker+retry shape but
// generalized from a fixed Japanese-summary prompt to an arbitrary
// canonical message list.
type OpenAIBackend struct {
	client         *openai.Client
	model          string
	maxTokens      int
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

// NewOpenAIBackend constructs a backend bound to model, wrapped in the
// teacher's standard AI-API circuit breaker and retry policy.
func NewOpenAIBackend(apiKey, model string, maxTokens int) *OpenAIBackend {
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &OpenAIBackend{
		client:         openai.NewClient(apiKey),
		model:          model,
		maxTokens:      maxTokens,
		circuitBreaker: circuitbreaker.New(circuitbreaker.OpenAIAPIConfig()),
		retryConfig:    retry.AIAPIConfig(),
	}
}

// Name implements Backend.
func (o *OpenAIBackend) Name() string { return "openai" }

// Generate implements Backend by translating the canonical message list
// to OpenAI's chat-completion request shape and back.
func (o *OpenAIBackend) Generate(ctx context.Context, messages []Message) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	var result Response
	retryErr := retry.WithBackoff(ctx, o.retryConfig, func() error {
		cbResult, err := o.circuitBreaker.Execute(func() (interface{}, error) {
			return o.doGenerate(ctx, messages)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				slog.Warn("openai api circuit breaker open, request rejected",
					slog.String("service", "openai-api"),
					slog.String("state", o.circuitBreaker.State().String()))
				return fmt.Errorf("openai api unavailable: circuit breaker open")
			}
			return err
		}
		result = cbResult.(Response)
		return nil
	})
	if retryErr != nil {
		return Response{}, fmt.Errorf("openai generate failed after retries: %w", retryErr)
	}
	return result, nil
}

func (o *OpenAIBackend) doGenerate(ctx context.Context, messages []Message) (Response, error) {
	req := openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		Messages:  toOpenAIMessages(messages),
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return Response{}, &RateLimitError{
				RetryAfter: retryAfterFromOpenAIError(apiErr),
				Upstream:   err,
			}
		}
		return Response{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("openai api returned empty response")
	}

	return Response{
		Choices: []Choice{{
			Message:      Message{Role: RoleAssistant, Content: resp.Choices[0].Message.Content},
			FinishReason: string(resp.Choices[0].FinishReason),
		}},
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Model: resp.Model,
	}, nil
}

// toOpenAIMessages converts the canonical message list directly: the
// OpenAI chat API accepts a system role natively, so no folding is
// required here (contrast ClaudeBackend).
func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// retryAfterFromOpenAIError has no structured retry-after field on
// go-openai's APIError; fall back to a conservative default so the
// Gateway's cooling window is never zero on a 429.
func retryAfterFromOpenAIError(_ *openai.APIError) time.Duration {
	return 30 * time.Second
}
