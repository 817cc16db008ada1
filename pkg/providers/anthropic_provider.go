// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/loomgate/loomgate/pkg/logger"
)

// AnthropicProvider implements LLMProvider against the Anthropic Messages
// API via the official SDK.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicProvider builds a provider bound to a default model. apiBase
// overrides the SDK's default endpoint when non-empty (proxies, gateways).
func NewAnthropicProvider(apiKey, apiBase, model string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	client := anthropic.NewClient(opts...)
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return &AnthropicProvider{client: &client, model: model}
}

func (p *AnthropicProvider) Name() string        { return "Anthropic" }
func (p *AnthropicProvider) ID() string          { return "anthropic" }
func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*CompletionResponse, error) {
	var system string
	msgParams := make([]anthropic.MessageParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "user":
			msgParams = append(msgParams, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			msgParams = append(msgParams, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			msgParams = append(msgParams, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		}
	}

	toolParams := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		toolParams = append(toolParams, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Function.Name,
				Description: anthropic.String(t.Function.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: t.Function.Parameters},
			},
		})
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 8192,
		Messages:  msgParams,
		Tools:     toolParams,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: complete: %w", err)
	}

	out := &CompletionResponse{
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}

	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Text += variant.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			raw, _ := json.Marshal(variant.Input)
			_ = json.Unmarshal(raw, &args)
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:           variant.ID,
				Name:         variant.Name,
				Arguments:    args,
				RawArguments: string(raw),
			})
		default:
			logger.DebugCF("providers", "anthropic: ignoring unhandled content block", nil)
		}
	}

	return out, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, messages []Message) (<-chan StreamEvent, error) {
	out := make(chan StreamEvent)

	msgParams := make([]anthropic.MessageParam, 0, len(messages))
	var system string
	for _, m := range messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		if m.Role == "user" {
			msgParams = append(msgParams, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 8192,
		Messages:  msgParams,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	go func() {
		defer close(out)
		var usage Usage
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if text := variant.Delta.Text; text != "" {
					out <- StreamEvent{Kind: StreamDelta, Delta: text}
				}
			case anthropic.MessageDeltaEvent:
				usage.OutputTokens = int(variant.Usage.OutputTokens)
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamEvent{Kind: StreamError, Err: err.Error()}
			return
		}
		out <- StreamEvent{Kind: StreamDone, Usage: usage}
	}()

	return out, nil
}
