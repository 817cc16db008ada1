package providers

import (
	"strings"
	"testing"
)

func TestExtractEmbeddedToolCall_FencedBlock(t *testing.T) {
	text := "before\n```tool_call\n{\"tool\":\"exec\",\"arguments\":{\"command\":\"echo hello\"}}\n```\nafter"

	call, remaining, ok := ExtractEmbeddedToolCall(text)
	if !ok {
		t.Fatalf("expected a parsed tool call")
	}
	if !strings.HasPrefix(call.ID, "text-") {
		t.Fatalf("call.ID = %q, want text- prefix", call.ID)
	}
	if call.Name != "exec" {
		t.Fatalf("call.Name = %q, want %q", call.Name, "exec")
	}
	if call.Arguments["command"] != "echo hello" {
		t.Fatalf("command arg mismatch: %+v", call.Arguments)
	}
	if remaining != "before\nafter" {
		t.Fatalf("remaining = %q", remaining)
	}
}

func TestExtractEmbeddedToolCall_DefaultsArguments(t *testing.T) {
	text := "```tool_call\n{\"tool\":\"ping\"}\n```"

	call, remaining, ok := ExtractEmbeddedToolCall(text)
	if !ok {
		t.Fatalf("expected a parsed tool call")
	}
	if call.Arguments == nil || len(call.Arguments) != 0 {
		t.Fatalf("Arguments = %+v, want empty object", call.Arguments)
	}
	if remaining != "" {
		t.Fatalf("remaining = %q, want empty", remaining)
	}
}

func TestExtractEmbeddedToolCall_OnlyBeforeText(t *testing.T) {
	text := "here goes\n```tool_call\n{\"tool\":\"ping\"}\n```"

	_, remaining, ok := ExtractEmbeddedToolCall(text)
	if !ok {
		t.Fatalf("expected a parsed tool call")
	}
	if remaining != "here goes" {
		t.Fatalf("remaining = %q", remaining)
	}
}

func TestExtractEmbeddedToolCall_NoMatch(t *testing.T) {
	text := "just a plain reply with no tool calls"
	_, _, ok := ExtractEmbeddedToolCall(text)
	if ok {
		t.Fatalf("expected no match")
	}
}

func TestExtractEmbeddedToolCall_MissingToolField(t *testing.T) {
	text := "```tool_call\n{\"arguments\":{}}\n```"
	_, _, ok := ExtractEmbeddedToolCall(text)
	if ok {
		t.Fatalf("expected no match when required tool field is absent")
	}
}

func TestExtractEmbeddedToolCall_MalformedJSONLeavesUnchanged(t *testing.T) {
	text := "```tool_call\nnot json\n```"
	_, _, ok := ExtractEmbeddedToolCall(text)
	if ok {
		t.Fatalf("expected no match for malformed JSON")
	}
}
