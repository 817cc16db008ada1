// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package providers

import "strings"

// ModelRef is a parsed model reference: which provider serves it and the
// provider-native model name.
type ModelRef struct {
	Provider string
	Model    string
}

// ParseModelRef parses "anthropic/claude-sonnet-4-5" into
// {Provider: "anthropic", Model: "claude-sonnet-4-5"}. A bare model name
// (no recognized provider prefix) is attributed to defaultProvider.
// Returns nil for empty input.
func ParseModelRef(raw string, defaultProvider string) *ModelRef {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if idx := strings.Index(raw, "/"); idx > 0 {
		prefix := strings.TrimSpace(raw[:idx])
		model := strings.TrimSpace(raw[idx+1:])
		if model == "" {
			return nil
		}
		if isKnownProviderPrefix(prefix) {
			return &ModelRef{Provider: NormalizeProvider(prefix), Model: model}
		}
	}

	return &ModelRef{
		Provider: NormalizeProvider(defaultProvider),
		Model:    raw,
	}
}

// knownProviderPrefixes covers the providers this runtime can construct:
// Anthropic natively, and everything the OpenAI-compatible client can
// reach through a base-URL override.
var knownProviderPrefixes = map[string]struct{}{
	"anthropic":  {},
	"openai":     {},
	"openrouter": {},
	"groq":       {},
	"deepseek":   {},
	"mistral":    {},
	"ollama":     {},
	"vllm":       {},
}

func isKnownProviderPrefix(prefix string) bool {
	_, ok := knownProviderPrefixes[NormalizeProvider(prefix)]
	return ok
}

// NormalizeProvider maps the common aliases onto canonical provider ids.
func NormalizeProvider(provider string) string {
	p := strings.ToLower(strings.TrimSpace(provider))
	switch p {
	case "claude":
		return "anthropic"
	case "gpt":
		return "openai"
	}
	return p
}

// ModelKey returns a canonical "provider/model" key for deduplication.
func ModelKey(provider, model string) string {
	return NormalizeProvider(provider) + "/" + strings.ToLower(strings.TrimSpace(model))
}
