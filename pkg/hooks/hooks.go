package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomgate/loomgate/pkg/logger"
)

// Handler is the callback signature for a hook subscribed to payload type T.
type Handler[T any] func(ctx context.Context, payload *T) (HookAction, error)

// registration tracks a handler with its priority and name. Lower priority
// values run first; ties keep registration order.
type registration[T any] struct {
	handler  Handler[T]
	priority int
	name     string
}

func insertSorted[T any](slice []registration[T], reg registration[T]) []registration[T] {
	i := 0
	for i < len(slice) && slice[i].priority <= reg.priority {
		i++
	}
	result := make([]registration[T], len(slice)+1)
	copy(result, slice[:i])
	result[i] = reg
	copy(result[i+1:], slice[i:])
	return result
}

// Registry holds the handlers for all seven Agent Loop hook events. Tool
// Registry-style: immutable after startup is not required here, registration
// is guarded by a mutex and dispatch reads a stable snapshot.
type Registry struct {
	mu sync.RWMutex

	beforeAgentStart  []registration[BeforeAgentStartPayload]
	messageSending    []registration[MessageSendingPayload]
	messageSent       []registration[MessageSentPayload]
	beforeToolCall    []registration[BeforeToolCallPayload]
	afterToolCall     []registration[AfterToolCallPayload]
	toolResultPersist []registration[ToolResultPersistPayload]
	agentEnd          []registration[AgentEndPayload]
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) OnBeforeAgentStart(name string, priority int, h Handler[BeforeAgentStartPayload]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeAgentStart = insertSorted(r.beforeAgentStart, registration[BeforeAgentStartPayload]{h, priority, name})
}

func (r *Registry) OnMessageSending(name string, priority int, h Handler[MessageSendingPayload]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageSending = insertSorted(r.messageSending, registration[MessageSendingPayload]{h, priority, name})
}

func (r *Registry) OnMessageSent(name string, priority int, h Handler[MessageSentPayload]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageSent = insertSorted(r.messageSent, registration[MessageSentPayload]{h, priority, name})
}

func (r *Registry) OnBeforeToolCall(name string, priority int, h Handler[BeforeToolCallPayload]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeToolCall = insertSorted(r.beforeToolCall, registration[BeforeToolCallPayload]{h, priority, name})
}

func (r *Registry) OnAfterToolCall(name string, priority int, h Handler[AfterToolCallPayload]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterToolCall = insertSorted(r.afterToolCall, registration[AfterToolCallPayload]{h, priority, name})
}

func (r *Registry) OnToolResultPersist(name string, priority int, h Handler[ToolResultPersistPayload]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolResultPersist = insertSorted(r.toolResultPersist, registration[ToolResultPersistPayload]{h, priority, name})
}

func (r *Registry) OnAgentEnd(name string, priority int, h Handler[AgentEndPayload]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agentEnd = insertSorted(r.agentEnd, registration[AgentEndPayload]{h, priority, name})
}

// dispatchDeciding runs handlers in priority order and stops at the first
// non-Continue action. Hook dispatch errors are logged and treated as
// Continue.
func dispatchDeciding[T any](ctx context.Context, hookName string, hooks []registration[T], payload *T) HookAction {
	for _, reg := range hooks {
		action, err := invoke(ctx, hookName, reg, payload)
		if err != nil {
			logger.WarnCF("hooks", "hook error, treated as continue", map[string]any{
				"hook": hookName, "handler": reg.name, "error": err.Error(),
			})
			continue
		}
		if !action.IsContinue() {
			return action
		}
	}
	return Continue()
}

// dispatchObserving runs every handler for a read-only event; return values
// are logged but never alter control flow.
func dispatchObserving[T any](ctx context.Context, hookName string, hooks []registration[T], payload *T) {
	for _, reg := range hooks {
		if _, err := invoke(ctx, hookName, reg, payload); err != nil {
			logger.WarnCF("hooks", "hook error on read-only event", map[string]any{
				"hook": hookName, "handler": reg.name, "error": err.Error(),
			})
		}
	}
}

func invoke[T any](ctx context.Context, hookName string, reg registration[T], payload *T) (action HookAction, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("hooks", "hook panic", map[string]any{
				"hook": hookName, "handler": reg.name, "panic": fmt.Sprintf("%v", r),
			})
			action, err = Continue(), nil
		}
	}()
	return reg.handler(ctx, payload)
}

func (r *Registry) DispatchBeforeAgentStart(ctx context.Context, p *BeforeAgentStartPayload) HookAction {
	r.mu.RLock()
	hooks := r.beforeAgentStart
	r.mu.RUnlock()
	return dispatchDeciding(ctx, "before_agent_start", hooks, p)
}

func (r *Registry) DispatchMessageSending(ctx context.Context, p *MessageSendingPayload) HookAction {
	r.mu.RLock()
	hooks := r.messageSending
	r.mu.RUnlock()
	return dispatchDeciding(ctx, "message_sending", hooks, p)
}

func (r *Registry) DispatchMessageSent(ctx context.Context, p *MessageSentPayload) {
	r.mu.RLock()
	hooks := r.messageSent
	r.mu.RUnlock()
	dispatchObserving(ctx, "message_sent", hooks, p)
}

func (r *Registry) DispatchBeforeToolCall(ctx context.Context, p *BeforeToolCallPayload) HookAction {
	r.mu.RLock()
	hooks := r.beforeToolCall
	r.mu.RUnlock()
	return dispatchDeciding(ctx, "before_tool_call", hooks, p)
}

func (r *Registry) DispatchAfterToolCall(ctx context.Context, p *AfterToolCallPayload) {
	r.mu.RLock()
	hooks := r.afterToolCall
	r.mu.RUnlock()
	dispatchObserving(ctx, "after_tool_call", hooks, p)
}

// DispatchToolResultPersist runs synchronously on the loop's critical path.
func (r *Registry) DispatchToolResultPersist(ctx context.Context, p *ToolResultPersistPayload) HookAction {
	r.mu.RLock()
	hooks := r.toolResultPersist
	r.mu.RUnlock()
	return dispatchDeciding(ctx, "tool_result_persist", hooks, p)
}

func (r *Registry) DispatchAgentEnd(ctx context.Context, p *AgentEndPayload) {
	r.mu.RLock()
	hooks := r.agentEnd
	r.mu.RUnlock()
	dispatchObserving(ctx, "agent_end", hooks, p)
}
