// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package utils

import (
	"context"
	"time"

	"github.com/loomgate/loomgate/pkg/logger"
	"github.com/loomgate/loomgate/pkg/providers"
)

// RetryingProvider wraps an LLMProvider so transient completion failures
// (rate limits, 5xx, timeouts) are retried behind the provider boundary.
// The Agent Loop itself never retries; this keeps that contract while
// still absorbing the failures worth absorbing.
type RetryingProvider struct {
	providers.LLMProvider
	policy RetryPolicy
}

// WithRetry decorates p with policy. A zero-valued policy (no attempt
// timeouts) passes calls straight through.
func WithRetry(p providers.LLMProvider, policy RetryPolicy) *RetryingProvider {
	return &RetryingProvider{LLMProvider: p, policy: policy}
}

// DefaultLLMRetryPolicy is the stock completion retry schedule: three
// attempts under per-attempt timeouts, short jittered backoff between
// them, retry notices logged.
func DefaultLLMRetryPolicy() RetryPolicy {
	return RetryPolicy{
		AttemptTimeouts: []time.Duration{60 * time.Second, 60 * time.Second, 90 * time.Second},
		Backoffs:        []time.Duration{time.Second, 3 * time.Second},
		MaxJitter:       500 * time.Millisecond,
		Notify: func(attempt, total int, decision RetryDecision) {
			logger.WarnCF("providers", FormatLLMRetryNotice(attempt, total, decision), map[string]any{
				"attempt": attempt, "total": total, "status": decision.Status, "reason": string(decision.Reason),
			})
		},
	}
}

// Complete retries the wrapped provider's Complete per the policy.
func (r *RetryingProvider) Complete(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition) (*providers.CompletionResponse, error) {
	return DoWithRetry(ctx, r.policy, func(attemptCtx context.Context) (*providers.CompletionResponse, error) {
		return r.LLMProvider.Complete(attemptCtx, messages, tools)
	})
}
