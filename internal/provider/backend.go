package provider

import (
	"context"
	"fmt"
	"time"
)

// Backend is one chat-completion backend the Gateway can call — an
// OpenAI-shaped primary or a Claude-shaped fallback. Both ship with the
// package; a test backend only needs to satisfy this interface.
type Backend interface {
	// Name identifies the backend for cooling/quota bookkeeping and logs.
	Name() string
	// Generate issues one chat-completion call. A RateLimitError return
	// drives the Gateway's cooling state machine; any other error is
	// treated as a plain upstream failure.
	Generate(ctx context.Context, messages []Message) (Response, error)
}

// RateLimitError is returned by a Backend when the upstream responded
// 429. RetryAfter and the quota fields are best-effort: a backend that
// can't parse them from the response leaves them zero.
type RateLimitError struct {
	RetryAfter time.Duration
	QuotaLimit int
	QuotaUsage int
	HaveQuota  bool
	Upstream   error
}

func (e *RateLimitError) Error() string {
	if e.Upstream != nil {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Upstream)
	}
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return e.Upstream }
