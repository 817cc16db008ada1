package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrOutsideWorkspace is returned by ValidatePath when a restricted-mode
// path, after joining and symlink resolution, falls outside the sandbox
// workspace root.
var ErrOutsideWorkspace = errors.New("sandbox: path escapes workspace")

// isWithinWorkspace reports whether path is workspace itself or a
// descendant of it, using pure lexical comparison (no filesystem access).
func isWithinWorkspace(path, workspace string) bool {
	if workspace == "" {
		return false
	}
	rel, err := filepath.Rel(workspace, path)
	if err != nil {
		return false
	}
	if rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return false
	}
	return true
}

// ValidatePath resolves p (relative to workspace when not absolute) and, in
// restricted mode, confirms the result stays inside workspace both
// lexically and after resolving symlinks on the longest existing prefix -
// catching a workspace-relative path that is itself a symlink escaping
// outside, not just a literal "..".
func ValidatePath(p string, workspace string, restrict bool) (string, error) {
	if restrict && workspace == "" {
		return "", fmt.Errorf("sandbox: restricted mode requires a workspace: %w", ErrOutsideWorkspace)
	}

	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(workspace, p)
	}

	if !restrict {
		return abs, nil
	}

	if !isWithinWorkspace(abs, workspace) {
		return "", ErrOutsideWorkspace
	}

	resolvedWorkspace, err := resolveSymlinkPrefix(workspace)
	if err != nil {
		return "", fmt.Errorf("sandbox: failed to resolve workspace: %w", err)
	}
	resolvedAbs, err := resolveSymlinkPrefix(abs)
	if err != nil {
		return "", err
	}
	if !isWithinWorkspace(resolvedAbs, resolvedWorkspace) {
		return "", ErrOutsideWorkspace
	}

	return abs, nil
}

// resolveSymlinkPrefix resolves symlinks along the longest existing
// ancestor prefix of p, then rejoins the non-existent suffix unresolved.
// This lets ValidatePath check a target path that doesn't exist yet (a
// file about to be created) while still catching an existing symlinked
// ancestor that escapes the workspace. A non-NotExist error (e.g. an
// ancestor component that is a regular file, not a directory) is
// propagated rather than tolerated.
func resolveSymlinkPrefix(p string) (string, error) {
	cur := p
	suffix := ""
	for {
		resolved, err := filepathEvalSymlinks(cur)
		if err == nil {
			if suffix == "" {
				return resolved, nil
			}
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		if suffix == "" {
			suffix = filepath.Base(cur)
		} else {
			suffix = filepath.Join(filepath.Base(cur), suffix)
		}
		cur = parent
	}
}
