// Package infra resolves filesystem locations shared across the gateway:
// sandbox state, container registries, and anything else that needs a
// stable per-user directory outside the workspace tree.
package infra

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveHomeDir returns the directory the runtime stores its own state in
// (sandbox registries, prune bookkeeping). LOOMGATE_HOME overrides the
// default of "<user home>/.loomgate"; if the user's home directory can't be
// determined, it falls back to a directory under the OS temp dir so the
// runtime still works in minimal/containerized environments.
func ResolveHomeDir() string {
	if envHome := strings.TrimSpace(os.Getenv("LOOMGATE_HOME")); envHome != "" {
		return envHome
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return filepath.Join(os.TempDir(), ".loomgate")
	}
	return filepath.Join(home, ".loomgate")
}
