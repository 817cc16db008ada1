package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomgate/loomgate/pkg/hooks"
	"github.com/loomgate/loomgate/pkg/providers"
)

// scriptedProvider returns one CompletionResponse per call, in order, and
// records every message slice it was handed.
type scriptedProvider struct {
	responses []*providers.CompletionResponse
	errs      []error
	calls     int
	supports  bool
	seen      [][]providers.Message
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) ID() string          { return "scripted" }
func (p *scriptedProvider) SupportsTools() bool { return p.supports }

func (p *scriptedProvider) Complete(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition) (*providers.CompletionResponse, error) {
	p.seen = append(p.seen, append([]providers.Message(nil), messages...))
	idx := p.calls
	p.calls++
	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	return p.responses[idx], nil
}

func (p *scriptedProvider) Stream(ctx context.Context, messages []providers.Message) (<-chan providers.StreamEvent, error) {
	return nil, errors.New("not implemented")
}

type echoTool struct{}

func (echoTool) Name() string                    { return "echo" }
func (echoTool) Description() string             { return "echoes its input" }
func (echoTool) ParametersSchema() map[string]any { return map[string]any{"type": "object"} }
func (echoTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return args["text"], nil
}

func TestRunSimpleTextReply(t *testing.T) {
	p := &scriptedProvider{
		supports: true,
		responses: []*providers.CompletionResponse{
			{Text: "hello there", Usage: providers.Usage{InputTokens: 10, OutputTokens: 5}},
		},
	}

	result, err := Run(context.Background(), AgentRunInput{
		Provider:    p,
		UserMessage: "hi",
		SessionKey:  "s1",
	})
	require.NoError(t, err)
	require.Equal(t, "hello there", result.Text)
	require.Equal(t, 1, result.Iterations)
	require.Equal(t, 0, result.ToolCallsMade)
	require.Equal(t, 10, result.Usage.InputTokens)
}

func TestRunNativeToolRoundTrip(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(echoTool{})

	p := &scriptedProvider{
		supports: true,
		responses: []*providers.CompletionResponse{
			{
				ToolCalls: []providers.ToolCall{{ID: "call-1", Name: "echo", Arguments: map[string]any{"text": "ping"}}},
				Usage:     providers.Usage{InputTokens: 1, OutputTokens: 1},
			},
			{Text: "done", Usage: providers.Usage{InputTokens: 1, OutputTokens: 1}},
		},
	}

	result, err := Run(context.Background(), AgentRunInput{
		Provider:    p,
		Registry:    registry,
		UserMessage: "say ping",
		SessionKey:  "s2",
	})
	require.NoError(t, err)
	require.Equal(t, "done", result.Text)
	require.Equal(t, 2, result.Iterations)
	require.Equal(t, 1, result.ToolCallsMade)

	// The second provider call must carry the tool result keyed by the same
	// tool_call_id the first call issued.
	secondCallMessages := p.seen[1]
	var sawToolResult bool
	for _, m := range secondCallMessages {
		if m.Role == "tool" && m.ToolCallID == "call-1" {
			sawToolResult = true
			require.Equal(t, `{"result":"ping"}`, m.Content)
		}
	}
	require.True(t, sawToolResult)
}

func TestRunTextEmbeddedToolCall(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(echoTool{})

	p := &scriptedProvider{
		supports: false,
		responses: []*providers.CompletionResponse{
			{Text: "before\n```tool_call\n{\"tool\": \"echo\", \"arguments\": {\"text\": \"hi\"}}\n```\nafter"},
			{Text: "final answer"},
		},
	}

	result, err := Run(context.Background(), AgentRunInput{
		Provider:    p,
		Registry:    registry,
		UserMessage: "do it",
		SessionKey:  "s3",
	})
	require.NoError(t, err)
	require.Equal(t, "final answer", result.Text)
	require.Equal(t, 1, result.ToolCallsMade)

	secondCallMessages := p.seen[1]
	var sawToolResult bool
	for _, m := range secondCallMessages {
		if m.Role == "tool" {
			sawToolResult = true
			require.Equal(t, `{"result":"hi"}`, m.Content)
		}
	}
	require.True(t, sawToolResult)
}

func TestRunHookBlockAtStart(t *testing.T) {
	reg := hooks.NewRegistry()
	reg.OnBeforeAgentStart("deny-all", 0, func(ctx context.Context, p *hooks.BeforeAgentStartPayload) (hooks.HookAction, error) {
		return hooks.Block("not allowed"), nil
	})

	p := &scriptedProvider{supports: true}
	_, err := Run(context.Background(), AgentRunInput{
		Provider:    p,
		UserMessage: "hi",
		SessionKey:  "s4",
		Hooks:       reg,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "agent start blocked by hook: not allowed")
	require.Equal(t, 0, p.calls)
}

func TestRunToolResultPersistModifyPayloadRedacts(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(echoTool{})

	reg := hooks.NewRegistry()
	reg.OnToolResultPersist("redact", 0, func(ctx context.Context, p *hooks.ToolResultPersistPayload) (hooks.HookAction, error) {
		return hooks.ModifyPayload(map[string]any{"result": "[redacted]", "error": ""}), nil
	})

	p := &scriptedProvider{
		supports: true,
		responses: []*providers.CompletionResponse{
			{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "secret"}}}},
			{Text: "done"},
		},
	}

	_, err := Run(context.Background(), AgentRunInput{
		Provider:    p,
		Registry:    registry,
		UserMessage: "go",
		SessionKey:  "s5",
		Hooks:       reg,
	})
	require.NoError(t, err)

	secondCallMessages := p.seen[1]
	var toolContent string
	for _, m := range secondCallMessages {
		if m.Role == "tool" {
			toolContent = m.Content
		}
	}
	require.Equal(t, `{"error":"","result":"[redacted]"}`, toolContent)
}

func TestRunUnknownToolShortCircuits(t *testing.T) {
	reg := hooks.NewRegistry()
	afterFired := false
	reg.OnAfterToolCall("spy", 0, func(ctx context.Context, p *hooks.AfterToolCallPayload) (hooks.HookAction, error) {
		afterFired = true
		return hooks.Continue(), nil
	})
	persistFired := false
	reg.OnToolResultPersist("spy", 0, func(ctx context.Context, p *hooks.ToolResultPersistPayload) (hooks.HookAction, error) {
		persistFired = true
		return hooks.Continue(), nil
	})

	p := &scriptedProvider{
		supports: true,
		responses: []*providers.CompletionResponse{
			{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "nope", Arguments: map[string]any{}}}},
			{Text: "done"},
		},
	}

	var events []RunnerEvent
	result, err := Run(context.Background(), AgentRunInput{
		Provider:    p,
		Registry:    NewToolRegistry(),
		UserMessage: "go",
		SessionKey:  "s8",
		Hooks:       reg,
		EventSink:   EventSinkFunc(func(e RunnerEvent) { events = append(events, e) }),
	})
	require.NoError(t, err)
	require.Equal(t, "done", result.Text)

	// A lookup miss skips AfterToolCall and ToolResultPersist entirely.
	require.False(t, afterFired)
	require.False(t, persistFired)

	var sawEnd bool
	for _, e := range events {
		if e.Kind == EventToolCallEnd && e.ToolCallID == "c1" {
			sawEnd = true
			require.False(t, e.Success)
			require.Contains(t, e.Error, "unknown tool: nope")
		}
	}
	require.True(t, sawEnd)

	secondCallMessages := p.seen[1]
	var toolContent string
	for _, m := range secondCallMessages {
		if m.Role == "tool" && m.ToolCallID == "c1" {
			toolContent = m.Content
		}
	}
	require.Equal(t, `{"error":"unknown tool: nope"}`, toolContent)
}

func TestRunContextWindowExceeded(t *testing.T) {
	p := &scriptedProvider{
		supports: true,
		responses: []*providers.CompletionResponse{nil},
		errs:      []error{errors.New("400: maximum context length exceeded")},
	}

	_, err := Run(context.Background(), AgentRunInput{
		Provider:    p,
		UserMessage: "hi",
		SessionKey:  "s6",
	})
	require.Error(t, err)
	require.True(t, IsContextWindowExceeded(err))
}

func TestRunIterationCapEnforced(t *testing.T) {
	responses := make([]*providers.CompletionResponse, 0, MaxIterations)
	for i := 0; i < MaxIterations; i++ {
		responses = append(responses, &providers.CompletionResponse{
			ToolCalls: []providers.ToolCall{{ID: "loop", Name: "echo", Arguments: map[string]any{"text": "x"}}},
		})
	}
	registry := NewToolRegistry()
	registry.Register(echoTool{})

	p := &scriptedProvider{supports: true, responses: responses}
	result, err := Run(context.Background(), AgentRunInput{
		Provider:    p,
		Registry:    registry,
		UserMessage: "loop forever",
		SessionKey:  "s7",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "agent loop exceeded max iterations")
	require.Equal(t, MaxIterations, result.Iterations)
	require.Equal(t, MaxIterations, p.calls)
	require.Equal(t, MaxIterations, result.ToolCallsMade)
}
