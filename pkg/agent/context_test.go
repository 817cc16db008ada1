// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadProjectContext_MissingDirReturnsEmpty(t *testing.T) {
	out, err := LoadProjectContext(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestLoadProjectContext_EmptyDirReturnsEmpty(t *testing.T) {
	out, err := LoadProjectContext(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestLoadProjectContext_ReadsConventionFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "TOOLS.md"), []byte("tool notes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("agent notes"), 0o644))

	out, err := LoadProjectContext(dir)
	require.NoError(t, err)
	require.Contains(t, out, "### AGENTS.md")
	require.Contains(t, out, "agent notes")
	require.Contains(t, out, "### TOOLS.md")
	require.Less(t, indexOf(out, "AGENTS.md"), indexOf(out, "TOOLS.md"))
}

func TestLoadProjectContext_SkipsEmptyAndMissingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PROJECT.md"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SESSION.md"), []byte("label: demo"), 0o644))

	out, err := LoadProjectContext(dir)
	require.NoError(t, err)
	require.NotContains(t, out, "PROJECT.md")
	require.Contains(t, out, "SESSION.md")
}

func TestLoadProjectContext_ReadsConventionsDirectorySorted(t *testing.T) {
	dir := t.TempDir()
	conventionsDir := filepath.Join(dir, "conventions")
	require.NoError(t, os.MkdirAll(conventionsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(conventionsDir, "z-style.md"), []byte("z content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(conventionsDir, "a-style.md"), []byte("a content"), 0o644))

	out, err := LoadProjectContext(dir)
	require.NoError(t, err)
	require.Less(t, indexOf(out, "a-style.md"), indexOf(out, "z-style.md"))
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
