// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package agenttools

import "context"

// EchoTool returns its input back unchanged. It takes no sandbox and is
// useful for exercising the Agent Loop's tool-call plumbing without a
// sandbox backend configured.
type EchoTool struct{}

func NewEchoTool() *EchoTool { return &EchoTool{} }

func (t *EchoTool) Name() string        { return "echo" }
func (t *EchoTool) Description() string { return "Return the given text unchanged." }
func (t *EchoTool) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string", "description": "Text to echo back."},
		},
		"required": []string{"text"},
	}
}

func (t *EchoTool) Execute(_ context.Context, args map[string]any) (any, error) {
	text, _ := args["text"].(string)
	return map[string]any{"text": text}, nil
}
