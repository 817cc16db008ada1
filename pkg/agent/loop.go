// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomgate/loomgate/pkg/hooks"
	"github.com/loomgate/loomgate/pkg/logger"
	"github.com/loomgate/loomgate/pkg/metrics"
	"github.com/loomgate/loomgate/pkg/providers"
	"github.com/loomgate/loomgate/pkg/tracing"
)

// defaultMaxToolResultBytes is used when AgentRunInput.MaxToolResultBytes
// is left at its zero value (callers that don't read config, mostly tests).
const defaultMaxToolResultBytes = 8192

// Run drives one turn of the Agent Loop: it sends the user message (plus
// history) to the provider, executes any tool calls the model requests,
// feeds the results back, and repeats until the model answers with plain
// text or the iteration cap is reached.
func Run(ctx context.Context, in AgentRunInput) (*AgentRunResult, error) {
	sink := in.EventSink
	if sink == nil {
		sink = noopSink{}
	}
	hookRegistry := in.Hooks
	if hookRegistry == nil {
		hookRegistry = hooks.NewRegistry()
	}

	maxToolResultBytes := in.MaxToolResultBytes
	if maxToolResultBytes <= 0 {
		maxToolResultBytes = defaultMaxToolResultBytes
	}

	startPayload := &hooks.BeforeAgentStartPayload{SessionKey: in.SessionKey, Model: modelName(in.Provider)}
	if action := hookRegistry.DispatchBeforeAgentStart(ctx, startPayload); action.IsBlock() {
		return nil, otherError("agent start blocked by hook: %s", action.Reason())
	}

	messages := make([]providers.Message, 0, len(in.History)+2)
	if in.SystemPrompt != "" {
		messages = append(messages, providers.Message{Role: "system", Content: in.SystemPrompt})
	}
	messages = append(messages, in.History...)
	messages = append(messages, providers.Message{Role: "user", Content: in.UserMessage})

	nativeTools := in.Provider.SupportsTools() && in.Registry != nil && len(in.Registry.Names()) > 0

	var toolDefs []providers.ToolDefinition
	if in.Registry != nil {
		for _, s := range in.Registry.ListSchemas() {
			toolDefs = append(toolDefs, providers.ToolDefinition{
				Type: "function",
				Function: providers.ToolFunctionDefinition{
					Name:        s.Name,
					Description: s.Description,
					Parameters:  s.Parameters,
				},
			})
		}
	}
	if !nativeTools {
		toolDefs = nil
	}

	var totalUsage providers.Usage
	toolCallsMade := 0

	for iteration := 1; iteration <= MaxIterations; iteration++ {
		iterCtx, span := tracing.StartIteration(ctx, in.SessionKey, iteration)
		metrics.Iterations.Inc()

		sink.Emit(RunnerEvent{Kind: EventIteration, Iteration: iteration})
		sink.Emit(RunnerEvent{Kind: EventThinking, Iteration: iteration})

		lastUser := lastUserContent(messages)
		sendingPayload := &hooks.MessageSendingPayload{SessionKey: in.SessionKey, Content: lastUser}
		if action := hookRegistry.DispatchMessageSending(iterCtx, sendingPayload); action.IsBlock() {
			span.End()
			return nil, otherError("run blocked before sending: %s", action.Reason())
		}

		resp, err := in.Provider.Complete(iterCtx, messages, toolDefs)
		if err != nil {
			logger.ErrorCF("agent", "provider call failed", map[string]any{
				"iteration": iteration, "error": err.Error(),
			})
			span.End()
			if IsContextWindowError(err.Error()) {
				return nil, contextWindowExceeded(err.Error())
			}
			return nil, otherError("provider call failed: %v", err)
		}

		totalUsage.InputTokens += resp.Usage.InputTokens
		totalUsage.OutputTokens += resp.Usage.OutputTokens

		sink.Emit(RunnerEvent{Kind: EventThinkingDone, Iteration: iteration})
		hookRegistry.DispatchMessageSent(iterCtx, &hooks.MessageSentPayload{SessionKey: in.SessionKey, Text: resp.Text})

		toolCalls := resp.ToolCalls
		text := resp.Text
		if !nativeTools && len(toolCalls) == 0 {
			if call, remaining, ok := providers.ExtractEmbeddedToolCall(resp.Text); ok {
				toolCalls = []providers.ToolCall{call}
				text = remaining
			}
		}

		if len(toolCalls) == 0 {
			hookRegistry.DispatchAgentEnd(iterCtx, &hooks.AgentEndPayload{
				SessionKey:    in.SessionKey,
				Text:          text,
				Iterations:    iteration,
				ToolCallsMade: toolCallsMade,
			})
			span.End()
			return &AgentRunResult{
				Text:          text,
				Iterations:    iteration,
				ToolCallsMade: toolCallsMade,
				Usage:         totalUsage,
			}, nil
		}

		assistantMsg := providers.Message{Role: "assistant", Content: text, ToolCalls: toolCalls}
		messages = append(messages, assistantMsg)
		if text != "" {
			sink.Emit(RunnerEvent{Kind: EventThinkingText, Text: text, Iteration: iteration})
		}

		for _, tc := range toolCalls {
			toolCallsMade++
			toolCtx, toolSpan := tracing.StartToolCall(iterCtx, tc.Name)
			toolStart := time.Now()
			sink.Emit(RunnerEvent{Kind: EventToolCallStart, ToolCallID: tc.ID, ToolName: tc.Name, Arguments: tc.Arguments})

			args := tc.Arguments
			beforePayload := &hooks.BeforeToolCallPayload{SessionKey: in.SessionKey, ToolName: tc.Name, Arguments: args}
			action := hookRegistry.DispatchBeforeToolCall(toolCtx, beforePayload)
			if action.IsBlock() {
				sink.Emit(RunnerEvent{Kind: EventToolCallEnd, ToolCallID: tc.ID, ToolName: tc.Name, Success: false, Error: action.Reason()})
				blockedContent := Sanitize(envelopeJSON(map[string]any{
					"error": fmt.Sprintf("blocked by hook: %s", action.Reason()),
				}), maxToolResultBytes)
				messages = append(messages, providers.Message{
					Role:       "tool",
					Content:    blockedContent,
					ToolCallID: tc.ID,
				})
				metrics.ToolCalls.WithLabelValues(tc.Name, "blocked").Inc()
				toolSpan.End()
				continue
			}
			if action.IsModify() {
				if modified, ok := action.Payload().(map[string]any); ok {
					args = modified
				}
			}

			tool, found := lookupTool(in.Registry, tc.Name)
			if !found {
				errMsg := fmt.Sprintf("unknown tool: %s", tc.Name)
				sink.Emit(RunnerEvent{Kind: EventToolCallEnd, ToolCallID: tc.ID, ToolName: tc.Name, Success: false, Error: errMsg})
				messages = append(messages, providers.Message{
					Role:       "tool",
					Content:    Sanitize(envelopeJSON(map[string]any{"error": errMsg}), maxToolResultBytes),
					ToolCallID: tc.ID,
				})
				metrics.ToolCalls.WithLabelValues(tc.Name, "unknown").Inc()
				toolSpan.End()
				continue
			}

			result, execErr := invokeTool(toolCtx, tool, in.ToolContext, args)
			metrics.SandboxExecDuration.WithLabelValues(toolBackendLabel(in.ToolContext)).Observe(time.Since(toolStart).Seconds())

			success := execErr == nil
			errMsg := ""
			if execErr != nil {
				errMsg = execErr.Error()
			}
			outcome := "ok"
			if !success {
				outcome = "error"
			}
			metrics.ToolCalls.WithLabelValues(tc.Name, outcome).Inc()
			sink.Emit(RunnerEvent{Kind: EventToolCallEnd, ToolCallID: tc.ID, ToolName: tc.Name, Success: success, Error: errMsg, Result: result})
			hookRegistry.DispatchAfterToolCall(toolCtx, &hooks.AfterToolCallPayload{
				SessionKey: in.SessionKey, ToolName: tc.Name, Success: success, Result: result, Error: errMsg,
			})

			var envelope map[string]any
			if success {
				envelope = map[string]any{"result": result}
			} else {
				envelope = map[string]any{"error": errMsg}
			}
			persistPayload := &hooks.ToolResultPersistPayload{SessionKey: in.SessionKey, ToolName: tc.Name, Envelope: envelope}
			persistAction := hookRegistry.DispatchToolResultPersist(toolCtx, persistPayload)
			switch {
			case persistAction.IsBlock():
				envelope = map[string]any{"error": fmt.Sprintf("result blocked: %s", persistAction.Reason())}
			case persistAction.IsModify():
				if modified, ok := persistAction.Payload().(map[string]any); ok {
					envelope = modified
				}
			}

			content := Sanitize(envelopeJSON(envelope), maxToolResultBytes)

			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: tc.ID,
			})
			toolSpan.End()
		}

		span.End()
	}

	hookRegistry.DispatchAgentEnd(ctx, &hooks.AgentEndPayload{
		SessionKey:    in.SessionKey,
		Text:          "",
		Iterations:    MaxIterations,
		ToolCallsMade: toolCallsMade,
	})
	return &AgentRunResult{
		Iterations:    MaxIterations,
		ToolCallsMade: toolCallsMade,
		Usage:         totalUsage,
	}, otherError("agent loop exceeded max iterations")
}

func lookupTool(registry *ToolRegistry, name string) (AgentTool, bool) {
	if registry == nil {
		return nil, false
	}
	return registry.Get(name)
}

// invokeTool merges the ambient tool context over the call arguments
// (shallow, context wins) and runs the tool.
func invokeTool(ctx context.Context, tool AgentTool, toolContext map[string]any, args map[string]any) (any, error) {
	merged := make(map[string]any, len(toolContext)+len(args))
	for k, v := range args {
		merged[k] = v
	}
	for k, v := range toolContext {
		merged[k] = v
	}
	return tool.Execute(ctx, merged)
}

// envelopeJSON serializes a tool-result envelope ({"result": value} or
// {"error": message}) to its JSON string form. Marshal failures (e.g. a
// tool result containing a channel or function value) fall back to a
// best-effort textual envelope rather than dropping the result.
func envelopeJSON(envelope map[string]any) string {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, fmt.Sprintf("unserializable tool result: %v", err))
	}
	return string(raw)
}

func lastUserContent(messages []providers.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// toolBackendLabel extracts a sandbox backend label for the exec-duration
// histogram from the tool invocation context, falling back to "host" when
// the caller hasn't set one (e.g. sandboxing disabled for this agent).
func toolBackendLabel(toolContext map[string]any) string {
	if v, ok := toolContext["sandbox_backend"].(string); ok && v != "" {
		return v
	}
	return "host"
}

func modelName(p providers.LLMProvider) string {
	if p == nil {
		return ""
	}
	return p.ID()
}
