// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package chat

import (
	"fmt"

	"github.com/loomgate/loomgate/pkg/agent"
)

// maxUIOutputBytes caps stdout/stderr fields relayed in tool_call_end
// frames so a chatty command doesn't produce huge broadcast frames. The
// full output still reaches the model; only the operator-facing copy is
// capped.
const maxUIOutputBytes = 10_000

// Broadcaster is the fire-and-forget fan-out the chat service publishes
// frames through. The gateway's connection layer implements it; it must
// never block the turn.
type Broadcaster interface {
	Broadcast(event string, payload map[string]any)
}

// BroadcasterFunc adapts a plain function to Broadcaster.
type BroadcasterFunc func(event string, payload map[string]any)

func (f BroadcasterFunc) Broadcast(event string, payload map[string]any) { f(event, payload) }

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(string, map[string]any) {}

// eventFrame translates one RunnerEvent into a chat broadcast frame, or
// nil for event kinds that carry no operator-facing state.
func eventFrame(runID, sessionKey string, ev agent.RunnerEvent) map[string]any {
	base := func(state string) map[string]any {
		return map[string]any{
			"runId":      runID,
			"sessionKey": sessionKey,
			"state":      state,
		}
	}

	switch ev.Kind {
	case agent.EventThinking:
		return base("thinking")
	case agent.EventThinkingDone:
		return base("thinking_done")
	case agent.EventToolCallStart:
		frame := base("tool_call_start")
		frame["toolCallId"] = ev.ToolCallID
		frame["toolName"] = ev.ToolName
		frame["arguments"] = ev.Arguments
		return frame
	case agent.EventToolCallEnd:
		frame := base("tool_call_end")
		frame["toolCallId"] = ev.ToolCallID
		frame["toolName"] = ev.ToolName
		frame["success"] = ev.Success
		if ev.Error != "" {
			frame["error"] = ParseChatError(ev.Error, "")
		}
		if ev.Result != nil {
			frame["result"] = capResultForUI(ev.Result)
		}
		return frame
	case agent.EventThinkingText:
		frame := base("thinking_text")
		frame["text"] = ev.Text
		return frame
	case agent.EventTextDelta:
		frame := base("delta")
		frame["text"] = ev.Text
		return frame
	case agent.EventIteration:
		frame := base("iteration")
		frame["iteration"] = ev.Iteration
		return frame
	default:
		return nil
	}
}

// capResultForUI truncates oversized stdout/stderr fields in a tool result
// before it rides a broadcast frame. Non-map results pass through as-is.
func capResultForUI(result any) any {
	m, ok := result.(map[string]any)
	if !ok {
		return result
	}
	capped := make(map[string]any, len(m))
	for k, v := range m {
		capped[k] = v
	}
	for _, field := range []string{"stdout", "stderr"} {
		s, ok := capped[field].(string)
		if !ok || len(s) <= maxUIOutputBytes {
			continue
		}
		capped[field] = fmt.Sprintf("%s\n\n... [truncated — %d bytes total]", s[:maxUIOutputBytes], len(s))
	}
	return capped
}
