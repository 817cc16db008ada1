package hooks

import "context"

// Decision is a per-tool execution policy verdict.
type Decision int

const (
	Allow Decision = iota
	Deny
	Confirm
)

// ToolPolicy maps tool names to execution decisions. Tools absent from the
// map default to Allow.
type ToolPolicy map[string]Decision

// BuiltinPolicyHook returns a BeforeToolCall handler enforcing policy: Deny
// blocks the call outright; Confirm requires the arguments to carry
// "approved": true (set by the caller's UI layer, out of scope here);
// Allow and unlisted tools continue unmodified.
func BuiltinPolicyHook(policy ToolPolicy) Handler[BeforeToolCallPayload] {
	return func(_ context.Context, p *BeforeToolCallPayload) (HookAction, error) {
		decision, ok := policy[p.ToolName]
		if !ok {
			return Continue(), nil
		}
		switch decision {
		case Deny:
			return Block("tool denied by policy: " + p.ToolName), nil
		case Confirm:
			if approved, _ := p.Arguments["approved"].(bool); !approved {
				return Block("tool requires confirmation: " + p.ToolName), nil
			}
			return Continue(), nil
		default:
			return Continue(), nil
		}
	}
}
