package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSystemPromptNativeToolsOmitsCallingConvention(t *testing.T) {
	out := BuildSystemPrompt(PromptContext{
		Preamble:    "You are an assistant.",
		Tools:       []ToolSchema{{Name: "search", Description: "search the web"}},
		NativeTools: true,
	})
	require.Contains(t, out, "## Available Tools")
	require.NotContains(t, out, "## How to call tools")
}

func TestBuildSystemPromptTextEmbeddedToolsIncludesCallingConvention(t *testing.T) {
	out := BuildSystemPrompt(PromptContext{
		Preamble:    "You are an assistant.",
		Tools:       []ToolSchema{{Name: "search", Description: "search the web"}},
		NativeTools: false,
	})
	require.Contains(t, out, "## How to call tools")
	require.Contains(t, out, "```tool_call")
}

func TestBuildSystemPromptNoToolsOmitsBothSections(t *testing.T) {
	out := BuildSystemPrompt(PromptContext{Preamble: "You are an assistant."})
	require.NotContains(t, out, "## Available Tools")
	require.NotContains(t, out, "## How to call tools")
}

func TestBuildSystemPromptIncludesOptionalSections(t *testing.T) {
	out := BuildSystemPrompt(PromptContext{
		Preamble:       "preamble",
		ProjectContext: "this repo does X",
		SessionLabel:   "my session",
		MessageCount:   3,
	})
	require.Contains(t, out, "## Project Context")
	require.Contains(t, out, "this repo does X")
	require.Contains(t, out, "## Current Session")
	require.Contains(t, out, "my session")
	require.Contains(t, out, "Messages so far: 3")
}

func TestBuildSystemPromptPrefersSessionStats(t *testing.T) {
	out := BuildSystemPrompt(PromptContext{
		Preamble:     "preamble",
		MessageCount: 3,
		SessionStats: `Session "main": 3 messages, 140 tokens used (100 input / 40 output).`,
	})
	require.Contains(t, out, "## Current Session")
	require.Contains(t, out, "140 tokens used")
	require.NotContains(t, out, "Messages so far")
}
