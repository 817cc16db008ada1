package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PromptContext carries the optional sections BuildSystemPrompt folds into
// the preamble.
type PromptContext struct {
	Preamble      string
	ProjectContext string
	SessionLabel  string
	MessageCount  int

	// SessionStats is a pre-rendered one-line summary of the session's
	// message and token counts, supplied by the chat layer.
	SessionStats string

	Tools       []ToolSchema
	NativeTools bool
}

// BuildSystemPrompt assembles the system prompt sent to the provider: a
// preamble, an optional project-context block, an optional current-session
// block, and, when tools are registered, a tool catalog. When the provider
// has no native tool-calling support, a fenced-block calling convention is
// appended so the model knows how to emit tool calls as text.
func BuildSystemPrompt(pc PromptContext) string {
	var b strings.Builder

	b.WriteString(pc.Preamble)
	b.WriteString("\n")

	if pc.ProjectContext != "" {
		b.WriteString("\n## Project Context\n\n")
		b.WriteString(pc.ProjectContext)
		b.WriteString("\n")
	}

	if pc.SessionLabel != "" || pc.MessageCount > 0 || pc.SessionStats != "" {
		b.WriteString("\n## Current Session\n\n")
		if pc.SessionLabel != "" {
			fmt.Fprintf(&b, "Label: %s\n", pc.SessionLabel)
		}
		if pc.SessionStats != "" {
			b.WriteString(pc.SessionStats)
			b.WriteString("\n")
		} else {
			fmt.Fprintf(&b, "Messages so far: %d\n", pc.MessageCount)
		}
	}

	if len(pc.Tools) > 0 {
		b.WriteString("\n## Available Tools\n\n")
		for _, t := range pc.Tools {
			fmt.Fprintf(&b, "- **%s**: %s\n", t.Name, t.Description)
			if t.Parameters != nil {
				if raw, err := json.MarshalIndent(t.Parameters, "  ", "  "); err == nil {
					fmt.Fprintf(&b, "  parameters: %s\n", string(raw))
				}
			}
		}

		if !pc.NativeTools {
			b.WriteString("\n## How to call tools\n\n")
			b.WriteString("This model does not receive tools through a native calling " +
				"interface. To call a tool, emit a fenced block:\n\n")
			b.WriteString("```tool_call\n{\"tool\": \"tool_name\", \"arguments\": {...}}\n```\n\n")
			b.WriteString("Only one tool call per block. Wait for the result before calling another tool.\n")
		}
	}

	b.WriteString("\n## Guidelines\n\n")
	b.WriteString("Be direct and concise. Use tools when they let you verify rather than guess.\n")

	return b.String()
}
