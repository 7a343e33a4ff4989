package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"newsrun/internal/resilience/circuitbreaker"
	"newsrun/internal/resilience/retry"
)

// isClaudeRateLimit reports whether err represents a 429 response.
// The SDK's error type across versions isn't worth pinning a field on
// here; the upstream message reliably names the status.
func isClaudeRateLimit(err error) bool {
	return err != nil && strings.Contains(err.Error(), "429")
}

// ClaudeBackend is the Provider Gateway's fallback backend, grounded on
// internal/infra/summarizer/claude.go, generalized from a fixed
// Japanese-summary prompt to an arbitrary canonical message list.
type ClaudeBackend struct {
	client         anthropic.Client
	model          string
	maxTokens      int
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

// NewClaudeBackend constructs a backend bound to model.
func NewClaudeBackend(apiKey, model string, maxTokens int) *ClaudeBackend {
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_5_20250929)
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &ClaudeBackend{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          model,
		maxTokens:      maxTokens,
		circuitBreaker: circuitbreaker.New(circuitbreaker.ClaudeAPIConfig()),
		retryConfig:    retry.AIAPIConfig(),
	}
}

// Name implements Backend.
func (c *ClaudeBackend) Name() string { return "claude" }

// Generate implements Backend. Claude's API has no system-role message
// slot, so the system content is folded into the first user message
// per spec §4.3 before the call is made.
func (c *ClaudeBackend) Generate(ctx context.Context, messages []Message) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	folded := prependSystemIntoFirstUser(messages)

	var result Response
	retryErr := retry.WithBackoff(ctx, c.retryConfig, func() error {
		cbResult, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			return c.doGenerate(ctx, folded)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				slog.Warn("claude api circuit breaker open, request rejected",
					slog.String("service", "claude-api"),
					slog.String("state", c.circuitBreaker.State().String()))
				return fmt.Errorf("claude api unavailable: circuit breaker open")
			}
			return err
		}
		result = cbResult.(Response)
		return nil
	})
	if retryErr != nil {
		return Response{}, fmt.Errorf("claude generate failed after retries: %w", retryErr)
	}
	return result, nil
}

func (c *ClaudeBackend) doGenerate(ctx context.Context, messages []Message) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages:  toClaudeMessages(messages),
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if isClaudeRateLimit(err) {
			return Response{}, &RateLimitError{RetryAfter: 30 * time.Second, Upstream: err}
		}
		return Response{}, fmt.Errorf("claude api error: %w", err)
	}
	if len(msg.Content) == 0 {
		return Response{}, fmt.Errorf("claude api returned empty response")
	}

	textBlock, ok := msg.Content[0].AsAny().(anthropic.TextBlock)
	if !ok {
		return Response{}, fmt.Errorf("claude api returned unexpected response type")
	}

	return Response{
		Choices: []Choice{{
			Message:      Message{Role: RoleAssistant, Content: textBlock.Text},
			FinishReason: string(msg.StopReason),
		}},
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		Model: string(msg.Model),
	}, nil
}

func toClaudeMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(block))
		default:
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}
