// Package routing derives and parses the agent-scoped session keys used to
// route sandbox state, session history, and hook context to the right
// agent. A session key is either the bare alias "main" or a string of the
// form "agent:<agentID>:<rest>", where rest is opaque routing-specific
// detail (a channel, a user id, a sub-conversation marker, ...).
package routing

import "strings"

// DefaultAgentID is used when no agent identity is supplied by the caller.
const DefaultAgentID = "default"

const agentKeyPrefix = "agent:"

// NormalizeAgentID lowercases and trims an agent identifier, falling back
// to DefaultAgentID when empty.
func NormalizeAgentID(agentID string) string {
	id := strings.ToLower(strings.TrimSpace(agentID))
	if id == "" {
		return DefaultAgentID
	}
	return id
}

// BuildAgentMainSessionKey returns the canonical session key for an agent's
// primary (non-scoped) conversation.
func BuildAgentMainSessionKey(agentID string) string {
	return agentKeyPrefix + NormalizeAgentID(agentID) + ":main"
}

// ParsedSessionKey is the decomposed form of an "agent:<id>:<rest>" key.
type ParsedSessionKey struct {
	AgentID string
	Rest    string
}

// ParseAgentSessionKey splits a session key of the form "agent:<id>:<rest>"
// into its agent id and remainder. It returns nil when raw does not match
// that shape (e.g. the bare "main" alias or a key with no agent segment).
func ParseAgentSessionKey(raw string) *ParsedSessionKey {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, agentKeyPrefix) {
		return nil
	}
	rest := trimmed[len(agentKeyPrefix):]
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		return nil
	}
	return &ParsedSessionKey{AgentID: parts[0], Rest: parts[1]}
}
