// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package sandbox

import (
	"sync"

	"github.com/loomgate/loomgate/pkg/config"
)

// OverrideStore holds per-session sandbox on/off overrides that win over
// the process-wide mode regardless of what that mode is, until explicitly
// removed. It backs the router's is_sandboxed(session_key) decision.
type OverrideStore struct {
	mu        sync.RWMutex
	overrides map[string]bool
}

// NewOverrideStore builds an empty override store.
func NewOverrideStore() *OverrideStore {
	return &OverrideStore{overrides: make(map[string]bool)}
}

// SetOverride pins sessionKey's sandboxed decision to v, superseding mode.
// A nil receiver (a manager built without NewOverrideStore, e.g. in tests
// that construct scopedSandboxManager by hand) is a no-op.
func (s *OverrideStore) SetOverride(sessionKey string, v bool) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[sessionKey] = v
}

// RemoveOverride clears any pinned decision for sessionKey, reverting it to
// mode-derived behavior.
func (s *OverrideStore) RemoveOverride(sessionKey string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, sessionKey)
}

// Lookup reports the pinned override for sessionKey, if any. A nil receiver
// always reports no override.
func (s *OverrideStore) Lookup(sessionKey string) (v bool, ok bool) {
	if s == nil {
		return false, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok = s.overrides[sessionKey]
	return v, ok
}

// IsSandboxed implements the §4.4.1 decision: the per-session override wins
// when set; otherwise it derives from mode, treating sessionKey == "main"
// as the one session NonMain mode excludes.
func (s *OverrideStore) IsSandboxed(sessionKey string, mode config.SandboxMode) bool {
	if v, ok := s.Lookup(sessionKey); ok {
		return v
	}
	switch mode {
	case config.SandboxModeAll:
		return true
	case config.SandboxModeNonMain:
		return sessionKey != "main"
	default:
		return false
	}
}
