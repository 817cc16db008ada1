package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsContextWindowError(t *testing.T) {
	matching := []string{
		"context_length_exceeded",
		"model hit max_tokens",
		"Too Many Tokens in request",
		"request too large for model",
		"maximum context length is 200000",
		"exceeds the context window",
		"token limit reached",
		"content_too_large",
		"request_too_large",
		"upstream returned status 413",
		"HTTP 413 Payload Too Large",
	}
	for _, msg := range matching {
		require.True(t, IsContextWindowError(msg), msg)
	}

	nonMatching := []string{
		"",
		"rate limit exceeded",
		"connection refused",
		"status 429",
		"invalid api key",
	}
	for _, msg := range nonMatching {
		require.False(t, IsContextWindowError(msg), msg)
	}
}
