// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package chat

import (
	"strings"

	"github.com/loomgate/loomgate/pkg/agent"
)

// ParseChatError turns a raw provider/runner error message into the
// structured payload carried by `state: error` chat frames, so operator
// clients can react per class (offer history compaction on context
// overflow, back off on rate limits) without string-matching themselves.
func ParseChatError(msg, provider string) map[string]any {
	payload := map[string]any{
		"type":    classifyChatError(msg),
		"message": msg,
	}
	if provider != "" {
		payload["provider"] = provider
	}
	return payload
}

func classifyChatError(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case agent.IsContextWindowError(msg):
		return "context_window"
	case strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "status 429") ||
		strings.Contains(lower, "http 429"):
		return "rate_limit"
	case strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "status 401"):
		return "auth"
	case strings.Contains(lower, "context canceled"):
		return "aborted"
	case strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "timed out"):
		return "timeout"
	default:
		return "unknown"
	}
}
