package providers

import "testing"

func TestParseModelRef_ProviderPrefix(t *testing.T) {
	ref := ParseModelRef("anthropic/claude-sonnet-4-5", "openai")
	if ref == nil || ref.Provider != "anthropic" || ref.Model != "claude-sonnet-4-5" {
		t.Fatalf("ParseModelRef = %+v", ref)
	}
}

func TestParseModelRef_BareModelUsesDefault(t *testing.T) {
	ref := ParseModelRef("gpt-4o", "openai")
	if ref == nil || ref.Provider != "openai" || ref.Model != "gpt-4o" {
		t.Fatalf("ParseModelRef = %+v", ref)
	}
}

func TestParseModelRef_UnknownPrefixTreatedAsModel(t *testing.T) {
	// A slash that isn't a known provider prefix stays part of the model
	// name (e.g. an openrouter-style org/model id under the default).
	ref := ParseModelRef("meta-llama/llama-3-70b", "openrouter")
	if ref == nil || ref.Provider != "openrouter" || ref.Model != "meta-llama/llama-3-70b" {
		t.Fatalf("ParseModelRef = %+v", ref)
	}
}

func TestParseModelRef_Aliases(t *testing.T) {
	ref := ParseModelRef("claude/claude-haiku-4-5", "openai")
	if ref == nil || ref.Provider != "anthropic" {
		t.Fatalf("ParseModelRef alias = %+v", ref)
	}
	if NormalizeProvider("GPT") != "openai" {
		t.Fatal("NormalizeProvider(GPT) != openai")
	}
}

func TestParseModelRef_Empty(t *testing.T) {
	if ref := ParseModelRef("  ", "openai"); ref != nil {
		t.Fatalf("expected nil for empty input, got %+v", ref)
	}
	if ref := ParseModelRef("anthropic/", "openai"); ref != nil {
		t.Fatalf("expected nil for empty model, got %+v", ref)
	}
}

func TestModelKey(t *testing.T) {
	if got := ModelKey("Claude", " Claude-Sonnet-4-5 "); got != "anthropic/claude-sonnet-4-5" {
		t.Fatalf("ModelKey = %q", got)
	}
}
