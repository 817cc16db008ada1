// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

// Package chat is the gateway-facing turn orchestrator: it accepts a
// chat.send request, persists the user message, drives the Agent Loop (or
// plain streaming when no tools are registered), relays runner events as
// broadcast frames, and commits the assistant reply on clean termination.
// Wire framing (WebSocket, JSON-RPC, auth) stays in the gateway layer;
// this package only implements the send/abort/history semantics.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/loomgate/loomgate/pkg/agent"
	"github.com/loomgate/loomgate/pkg/hooks"
	"github.com/loomgate/loomgate/pkg/logger"
	"github.com/loomgate/loomgate/pkg/providers"
	"github.com/loomgate/loomgate/pkg/session"
)

// DefaultSessionKey is the session used when a connection has not selected
// one.
const DefaultSessionKey = "main"

// Options carries the collaborators a Service is wired with. Providers and
// Store are required; a nil Meta skips the session-metadata upserts and
// touches, and everything else has a working default.
type Options struct {
	Providers *providers.Registry
	Tools     *agent.ToolRegistry
	Store     session.Store
	Meta      session.Meta
	Hooks     *hooks.Registry
	Broadcast Broadcaster

	// Preamble heads every system prompt built for a turn.
	Preamble string
	// ProjectDir, when set, is scanned for convention files
	// (AGENTS.md, PROJECT.md, ...) folded into the system prompt.
	ProjectDir string
	// DefaultProvider resolves bare model references with no
	// "provider/" prefix.
	DefaultProvider string
	// MaxToolResultBytes caps each tool-result envelope; zero uses the
	// loop's own default.
	MaxToolResultBytes int
}

// Service implements the chat.send / chat.abort / chat.history surface.
type Service struct {
	providers *providers.Registry
	tools     *agent.ToolRegistry
	store     session.Store
	meta      session.Meta
	hooks     *hooks.Registry
	runs      *agent.RunTable
	broadcast Broadcaster

	preamble           string
	projectDir         string
	defaultProvider    string
	maxToolResultBytes int

	mu             sync.RWMutex
	activeSessions map[string]string // conn id -> session key
}

// NewService wires a chat service from its collaborators.
func NewService(opts Options) *Service {
	tools := opts.Tools
	if tools == nil {
		tools = agent.NewToolRegistry()
	}
	hookRegistry := opts.Hooks
	if hookRegistry == nil {
		hookRegistry = hooks.NewRegistry()
	}
	broadcast := opts.Broadcast
	if broadcast == nil {
		broadcast = noopBroadcaster{}
	}
	return &Service{
		providers:          opts.Providers,
		tools:              tools,
		store:              opts.Store,
		meta:               opts.Meta,
		hooks:              hookRegistry,
		runs:               agent.NewRunTable(),
		broadcast:          broadcast,
		preamble:           opts.Preamble,
		projectDir:         opts.ProjectDir,
		defaultProvider:    opts.DefaultProvider,
		maxToolResultBytes: opts.MaxToolResultBytes,
		activeSessions:     make(map[string]string),
	}
}

// SendParams is the chat.send payload.
type SendParams struct {
	Text       string
	Model      string
	StreamOnly bool
	SessionKey string // explicit override, e.g. cron callbacks
	ConnID     string
}

// SetActiveSession binds a connection to a session key; subsequent sends
// and history reads on that connection resolve to it.
func (s *Service) SetActiveSession(connID, sessionKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionKey == "" {
		delete(s.activeSessions, connID)
		return
	}
	s.activeSessions[connID] = sessionKey
}

func (s *Service) sessionKeyFor(connID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.activeSessions[connID]; ok {
		return key
	}
	return DefaultSessionKey
}

func (s *Service) hasTools() bool {
	return len(s.tools.Names()) > 0
}

// Send starts one turn and returns its run id. The turn itself runs as an
// independently abortable task; progress reaches the caller through chat
// broadcast frames, never through this return value.
func (s *Service) Send(ctx context.Context, p SendParams) (string, error) {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return "", fmt.Errorf("missing 'text' parameter")
	}

	// Streaming-only when explicitly requested or when no tools exist to
	// loop over.
	streamOnly := p.StreamOnly || !s.hasTools()

	provider, err := s.resolveProvider(p.Model, streamOnly)
	if err != nil {
		return "", err
	}

	sessionKey := p.SessionKey
	if sessionKey == "" {
		sessionKey = s.sessionKeyFor(p.ConnID)
	}

	projectContext := ""
	if s.projectDir != "" {
		if pc, loadErr := agent.LoadProjectContext(s.projectDir); loadErr != nil {
			logger.WarnCF("chat", "failed to load project context", map[string]any{"error": loadErr.Error()})
		} else {
			projectContext = pc
		}
	}

	// Persist the user message first: an aborted turn keeps it even though
	// no assistant reply will pair with it.
	if err := s.store.Append(ctx, sessionKey, providers.Message{Role: "user", Content: text}); err != nil {
		logger.WarnCF("chat", "failed to persist user message", map[string]any{"error": err.Error()})
	}

	// History excludes the message just appended; both run modes add the
	// current user message themselves.
	history, err := s.store.Read(ctx, sessionKey)
	if err != nil {
		history = nil
	}
	if len(history) > 0 {
		history = history[:len(history)-1]
	}

	if s.meta != nil {
		if err := s.meta.Upsert(ctx, sessionKey, nil); err != nil {
			logger.WarnCF("chat", "session upsert failed", map[string]any{"error": err.Error()})
		}
		if err := s.meta.Touch(ctx, sessionKey, len(history)); err != nil {
			logger.WarnCF("chat", "session touch failed", map[string]any{"error": err.Error()})
		}
	}

	if !streamOnly && !provider.SupportsTools() {
		logger.WarnCF("chat", "selected provider does not support tool calling", map[string]any{
			"provider": provider.Name(),
		})
	}

	stats := sessionStats(sessionKey, history)
	runID := uuid.NewString()
	logger.InfoCF("chat", "chat.send", map[string]any{
		"runId":      runID,
		"model":      provider.ID(),
		"streamOnly": streamOnly,
		"session":    sessionKey,
	})

	// The turn outlives the request: it is registered in the run table
	// before Send returns so chat.abort can find it immediately. Context
	// values (sandbox manager, session key) survive; the request's own
	// cancellation does not propagate.
	runCtx, finish := s.runs.Begin(context.WithoutCancel(ctx), runID)
	go func() {
		defer finish()
		if streamOnly {
			s.runStreaming(runCtx, runID, provider, sessionKey, text, history, projectContext, stats)
		} else {
			s.runWithTools(runCtx, runID, provider, sessionKey, text, history, projectContext, stats)
		}
	}()

	return runID, nil
}

// Abort best-effort cancels the turn registered under runID.
func (s *Service) Abort(runID string) bool {
	return s.runs.Abort(runID)
}

// History returns the persisted messages of the connection's active
// session.
func (s *Service) History(ctx context.Context, connID string) ([]providers.Message, error) {
	return s.store.Read(ctx, s.sessionKeyFor(connID))
}

// ActiveRuns reports how many turns are currently in flight.
func (s *Service) ActiveRuns() int {
	return s.runs.Active()
}

func (s *Service) resolveProvider(model string, streamOnly bool) (providers.LLMProvider, error) {
	if model != "" {
		ref := providers.ParseModelRef(model, s.defaultProvider)
		if ref != nil {
			if p, ok := s.providers.Get(ref.Provider); ok {
				return p, nil
			}
		}
		return nil, fmt.Errorf("model %q not found. available: %v", model, s.providers.ListModels())
	}
	if !streamOnly {
		return s.providers.FirstWithTools()
	}
	return s.providers.First()
}

// sessionStats renders the one-line session summary folded into the
// system prompt's Current Session block.
func sessionStats(sessionKey string, history []providers.Message) string {
	msgCount := len(history) + 1 // the current user message
	var totalInput, totalOutput int
	for _, msg := range history {
		totalInput += msg.InputTokens
		totalOutput += msg.OutputTokens
	}
	return fmt.Sprintf("Session %q: %d messages, %d tokens used (%d input / %d output).",
		sessionKey, msgCount, totalInput+totalOutput, totalInput, totalOutput)
}

// runWithTools drives the Agent Loop for one turn, relaying runner events
// as chat frames and committing the assistant reply on success.
func (s *Service) runWithTools(ctx context.Context, runID string, provider providers.LLMProvider, sessionKey, text string, history []providers.Message, projectContext, stats string) {
	systemPrompt := agent.BuildSystemPrompt(agent.PromptContext{
		Preamble:       s.preamble,
		ProjectContext: projectContext,
		SessionStats:   stats,
		Tools:          s.tools.ListSchemas(),
		NativeTools:    provider.SupportsTools(),
	})

	sink := agent.EventSinkFunc(func(ev agent.RunnerEvent) {
		if frame := eventFrame(runID, sessionKey, ev); frame != nil {
			s.broadcast.Broadcast("chat", frame)
		}
	})

	result, err := agent.Run(ctx, agent.AgentRunInput{
		Provider:           provider,
		Registry:           s.tools,
		SystemPrompt:       systemPrompt,
		UserMessage:        text,
		SessionKey:         sessionKey,
		EventSink:          sink,
		History:            history,
		ToolContext:        map[string]any{"_session_key": sessionKey},
		Hooks:              s.hooks,
		MaxToolResultBytes: s.maxToolResultBytes,
	})
	if err != nil {
		logger.WarnCF("chat", "agent run error", map[string]any{"runId": runID, "error": err.Error()})
		s.broadcast.Broadcast("chat", map[string]any{
			"runId":      runID,
			"sessionKey": sessionKey,
			"state":      "error",
			"error":      ParseChatError(err.Error(), provider.Name()),
		})
		return
	}

	logger.InfoCF("chat", "agent run complete", map[string]any{
		"runId":      runID,
		"iterations": result.Iterations,
		"toolCalls":  result.ToolCallsMade,
	})
	// Commit before announcing: a client reacting to the final frame must
	// see the assistant message in history.
	s.commitAssistant(ctx, sessionKey, provider, result.Text, result.Usage)
	s.broadcast.Broadcast("chat", map[string]any{
		"runId":         runID,
		"sessionKey":    sessionKey,
		"state":         "final",
		"text":          result.Text,
		"iterations":    result.Iterations,
		"toolCallsMade": result.ToolCallsMade,
		"model":         provider.ID(),
		"provider":      provider.Name(),
		"inputTokens":   result.Usage.InputTokens,
		"outputTokens":  result.Usage.OutputTokens,
	})
}

// runStreaming is the no-tools path: one provider stream, deltas relayed
// as they arrive.
func (s *Service) runStreaming(ctx context.Context, runID string, provider providers.LLMProvider, sessionKey, text string, history []providers.Message, projectContext, stats string) {
	messages := make([]providers.Message, 0, len(history)+3)
	if stats != "" {
		messages = append(messages, providers.Message{Role: "system", Content: "## Current Session\n\n" + stats})
	}
	if projectContext != "" {
		messages = append(messages, providers.Message{Role: "system", Content: projectContext})
	}
	messages = append(messages, history...)
	messages = append(messages, providers.Message{Role: "user", Content: text})

	events, err := provider.Stream(ctx, messages)
	if err != nil {
		s.broadcast.Broadcast("chat", map[string]any{
			"runId":      runID,
			"sessionKey": sessionKey,
			"state":      "error",
			"error":      ParseChatError(err.Error(), provider.Name()),
		})
		return
	}

	var accumulated strings.Builder
	for ev := range events {
		switch ev.Kind {
		case providers.StreamDelta:
			accumulated.WriteString(ev.Delta)
			s.broadcast.Broadcast("chat", map[string]any{
				"runId":      runID,
				"sessionKey": sessionKey,
				"state":      "delta",
				"text":       ev.Delta,
			})
		case providers.StreamDone:
			s.commitAssistant(ctx, sessionKey, provider, accumulated.String(), ev.Usage)
			s.broadcast.Broadcast("chat", map[string]any{
				"runId":        runID,
				"sessionKey":   sessionKey,
				"state":        "final",
				"text":         accumulated.String(),
				"model":        provider.ID(),
				"provider":     provider.Name(),
				"inputTokens":  ev.Usage.InputTokens,
				"outputTokens": ev.Usage.OutputTokens,
			})
			return
		case providers.StreamError:
			logger.WarnCF("chat", "chat stream error", map[string]any{"runId": runID, "error": ev.Err})
			s.broadcast.Broadcast("chat", map[string]any{
				"runId":      runID,
				"sessionKey": sessionKey,
				"state":      "error",
				"error":      ParseChatError(ev.Err, provider.Name()),
			})
			return
		}
	}
}

// commitAssistant persists the assistant reply and refreshes the session
// metadata count. It runs before the final frame is broadcast; failures
// are warnings and the final frame is still broadcast afterwards.
func (s *Service) commitAssistant(ctx context.Context, sessionKey string, provider providers.LLMProvider, text string, usage providers.Usage) {
	err := s.store.Append(ctx, sessionKey, providers.Message{
		Role:         "assistant",
		Content:      text,
		Model:        provider.ID(),
		Provider:     provider.Name(),
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	})
	if err != nil {
		logger.WarnCF("chat", "failed to persist assistant message", map[string]any{"error": err.Error()})
		return
	}
	if s.meta == nil {
		return
	}
	if count, err := s.store.Count(ctx, sessionKey); err == nil {
		if err := s.meta.Touch(ctx, sessionKey, count); err != nil {
			logger.WarnCF("chat", "session touch failed", map[string]any{"error": err.Error()})
		}
	}
}
