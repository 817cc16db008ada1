// Package agent implements the bounded, iterative "LLM <-> tool" state
// machine that turns a user message into a final assistant reply through
// any number of tool calls.
package agent

import (
	"github.com/loomgate/loomgate/pkg/hooks"
	"github.com/loomgate/loomgate/pkg/providers"
)

// MaxIterations bounds how many provider round-trips a single turn may take
// before the loop gives up and returns whatever it has.
const MaxIterations = 25

// RunnerEventKind discriminates the kinds of progress signal RunnerEvent
// can carry.
type RunnerEventKind int

const (
	EventThinking RunnerEventKind = iota
	EventThinkingDone
	EventToolCallStart
	EventToolCallEnd
	EventThinkingText
	EventTextDelta
	EventIteration
	EventSubAgentStart
	EventSubAgentEnd
)

// RunnerEvent is an observable progress signal emitted to the caller of
// the loop during a turn.
type RunnerEvent struct {
	Kind RunnerEventKind

	// ToolCallStart / ToolCallEnd
	ToolCallID   string
	ToolName     string
	Arguments    map[string]any
	Success      bool
	Error        string
	Result       any

	// ThinkingText / TextDelta
	Text string

	// Iteration
	Iteration int

	// SubAgentStart / SubAgentEnd
	SubAgentID string
}

// EventSink receives RunnerEvents emitted during a turn. Implementations
// must not block the loop for long; a buffered channel or fire-and-forget
// broadcast is expected upstream of this interface (out of scope here).
type EventSink interface {
	Emit(RunnerEvent)
}

// EventSinkFunc adapts a plain function to EventSink.
type EventSinkFunc func(RunnerEvent)

func (f EventSinkFunc) Emit(e RunnerEvent) { f(e) }

// noopSink discards every event; used when the caller passes a nil sink.
type noopSink struct{}

func (noopSink) Emit(RunnerEvent) {}

// AgentRunResult is returned by Run on clean termination.
type AgentRunResult struct {
	Text          string
	Iterations    int
	ToolCallsMade int
	Usage         providers.Usage
}

// AgentRunInput is the full set of arguments to Run: the provider to talk
// to, the tools it may call, the assembled prompt and message, and the
// optional collaborators (event sink, prior history, tool context, hooks).
type AgentRunInput struct {
	Provider     providers.LLMProvider
	Registry     *ToolRegistry
	SystemPrompt string
	UserMessage  string
	SessionKey   string
	EventSink    EventSink
	History      []providers.Message
	ToolContext  map[string]any
	Hooks        *hooks.Registry

	// MaxToolResultBytes caps the serialized size of each tool-result
	// envelope before it is appended to the conversation. Zero falls back
	// to defaultMaxToolResultBytes; callers normally set this from
	// config.Config.MaxToolResultBytes.
	MaxToolResultBytes int
}
