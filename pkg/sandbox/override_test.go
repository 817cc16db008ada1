package sandbox

import (
	"testing"

	"github.com/loomgate/loomgate/pkg/config"
)

func TestScopedSandboxManager_SetOverrideWinsOverMode(t *testing.T) {
	m := &scopedSandboxManager{
		mode:      config.SandboxModeOff,
		agentID:   "default",
		overrides: NewOverrideStore(),
	}

	m.SetOverride("agent:default:direct:user-1", true)
	if !m.IsSandboxed("agent:default:direct:user-1") {
		t.Fatal("expected override=true to win over mode=off")
	}

	m.RemoveOverride("agent:default:direct:user-1")
	if m.IsSandboxed("agent:default:direct:user-1") {
		t.Fatal("expected mode=off to govern again after override removal")
	}
}

func TestOverrideStore_WinsRegardlessOfMode(t *testing.T) {
	s := NewOverrideStore()
	s.SetOverride("session-a", true)

	for _, mode := range []config.SandboxMode{config.SandboxModeOff, config.SandboxModeNonMain, config.SandboxModeAll} {
		if !s.IsSandboxed("session-a", mode) {
			t.Fatalf("mode %q: expected override=true to win", mode)
		}
	}

	s.SetOverride("session-a", false)
	for _, mode := range []config.SandboxMode{config.SandboxModeOff, config.SandboxModeNonMain, config.SandboxModeAll} {
		if s.IsSandboxed("session-a", mode) {
			t.Fatalf("mode %q: expected override=false to win", mode)
		}
	}
}

func TestOverrideStore_RemoveOverrideRevertsToMode(t *testing.T) {
	s := NewOverrideStore()
	s.SetOverride("session-b", true)
	s.RemoveOverride("session-b")

	if s.IsSandboxed("session-b", config.SandboxModeOff) {
		t.Fatal("expected mode=off to govern after override removed")
	}
	if !s.IsSandboxed("session-b", config.SandboxModeAll) {
		t.Fatal("expected mode=all to govern after override removed")
	}
}

func TestOverrideStore_DefaultModeDerivation(t *testing.T) {
	s := NewOverrideStore()
	if s.IsSandboxed("main", config.SandboxModeNonMain) {
		t.Fatal("NonMain mode should not sandbox the main session")
	}
	if !s.IsSandboxed("other", config.SandboxModeNonMain) {
		t.Fatal("NonMain mode should sandbox non-main sessions")
	}
}
