package hooks

// ActionKind discriminates the HookAction closed sum.
type ActionKind int

const (
	ActionContinue ActionKind = iota
	ActionBlock
	ActionModify
)

// HookAction is the closed sum a hook handler returns: Continue, Block(reason),
// or ModifyPayload(value). Construct via the Continue/Block/ModifyPayload
// functions; the zero value is Continue.
type HookAction struct {
	kind    ActionKind
	reason  string
	payload any
}

// Continue returns the no-op action.
func Continue() HookAction { return HookAction{kind: ActionContinue} }

// Block returns an action that short-circuits the dispatching event with reason.
func Block(reason string) HookAction { return HookAction{kind: ActionBlock, reason: reason} }

// ModifyPayload returns an action that substitutes v for the event's mutable
// field. Honored only by BeforeToolCall and ToolResultPersist; ignored
// elsewhere.
func ModifyPayload(v any) HookAction { return HookAction{kind: ActionModify, payload: v} }

func (a HookAction) Kind() ActionKind { return a.kind }
func (a HookAction) Reason() string   { return a.reason }
func (a HookAction) Payload() any     { return a.payload }

func (a HookAction) IsContinue() bool { return a.kind == ActionContinue }
func (a HookAction) IsBlock() bool    { return a.kind == ActionBlock }
func (a HookAction) IsModify() bool   { return a.kind == ActionModify }
