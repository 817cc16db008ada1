package providers

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// ExtractEmbeddedToolCall implements the text-embedded tool-call rescue: it
// finds a ```tool_call fenced block, parses its interior as a structured
// value with a required "tool" string and an optional "arguments" object
// (defaulting to {}), and synthesizes a ToolCall with id "text-<uuid>".
//
// remainingText is the surrounding text with the fenced block removed: the
// before- and after-fence content joined by a newline when both are
// non-empty, or whichever side is non-empty, or "" when both are empty.
// A malformed or absent block leaves the response untouched: ok is false
// and the caller should use the original text as-is.
func ExtractEmbeddedToolCall(text string) (call ToolCall, remainingText string, ok bool) {
	openIdx := strings.Index(text, "```tool_call")
	if openIdx == -1 {
		return ToolCall{}, "", false
	}

	interiorStart := openIdx + len("```tool_call")
	// Skip the line break(s) immediately after the fence tag.
	for interiorStart < len(text) && (text[interiorStart] == '\r' || text[interiorStart] == '\n') {
		interiorStart++
	}

	closeIdx := strings.Index(text[interiorStart:], "```")
	if closeIdx == -1 {
		return ToolCall{}, "", false
	}
	closeIdx += interiorStart

	interior := text[interiorStart:closeIdx]

	var parsed struct {
		Tool      *string        `json:"tool"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(interior), &parsed); err != nil {
		return ToolCall{}, "", false
	}
	if parsed.Tool == nil || *parsed.Tool == "" {
		return ToolCall{}, "", false
	}

	args := parsed.Arguments
	if args == nil {
		args = map[string]any{}
	}

	before := strings.TrimSpace(text[:openIdx])
	afterFenceEnd := closeIdx + len("```")
	after := ""
	if afterFenceEnd <= len(text) {
		after = strings.TrimSpace(text[afterFenceEnd:])
	}

	switch {
	case before != "" && after != "":
		remainingText = before + "\n" + after
	case before != "":
		remainingText = before
	case after != "":
		remainingText = after
	default:
		remainingText = ""
	}

	return ToolCall{
		ID:        "text-" + uuid.New().String(),
		Name:      *parsed.Tool,
		Arguments: args,
	}, remainingText, true
}
