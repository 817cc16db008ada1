package sandbox

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/loomgate/loomgate/pkg/logger"
)

// defaultSeedFiles names the project-context convention files a sandboxed
// tool invocation expects to find in its workspace: the same files
// pkg/agent.LoadProjectContext reads back into the Prompt Builder's
// "Project Context" section (spec §4.6, §6's load_context_files/
// to_prompt_section contract), so a tool that edits AGENTS.md or
// PROJECT.md changes what the model sees on its next turn.
var defaultSeedFiles = []string{
	"AGENTS.md",
	"PROJECT.md",
	"TOOLS.md",
	"SESSION.md",
}

// syncAgentWorkspace copies the project-context convention files and the
// conventions directory from the agent's canonical workspace into the
// isolated sandbox workspace for this session.
func syncAgentWorkspace(agentWorkspace, containerWorkspace string) error {
	if agentWorkspace == "" || containerWorkspace == "" {
		return nil
	}

	// 1. Seed the convention files the Prompt Builder reads back.
	for _, file := range defaultSeedFiles {
		src := filepath.Join(agentWorkspace, file)
		dst := filepath.Join(containerWorkspace, file)

		// Check if source exists
		if _, err := os.Stat(src); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			logger.WarnCF("sandbox", "failed to stat seed source file", map[string]any{"file": src, "error": err})
			continue
		}

		// Check if destination already exists. If yes, preserve it.
		if _, err := os.Stat(dst); err == nil {
			continue // preserved
		} else if !os.IsNotExist(err) {
			logger.WarnCF("sandbox", "failed to stat seed destination file", map[string]any{"file": dst, "error": err})
			continue
		}

		if err := copyFile(src, dst); err != nil {
			logger.WarnCF("sandbox", "failed to seed file", map[string]any{"file": file, "error": err})
		}
	}

	// 2. Sync the conventions directory (complete overwrite): supplementary
	// project-context docs too numerous or too specific for the top-level
	// files, also folded into the Prompt Builder's "Project Context" section.
	conventionsSrc := filepath.Join(agentWorkspace, "conventions")
	conventionsDst := filepath.Join(containerWorkspace, "conventions")

	if _, err := os.Stat(conventionsSrc); err == nil {
		// Remove existing destination to ensure clean sync
		_ = os.RemoveAll(conventionsDst)
		if errCopy := copyDir(conventionsSrc, conventionsDst); errCopy != nil {
			return fmt.Errorf("failed to sync conventions directory: %w", errCopy)
		}
	} else if !os.IsNotExist(err) {
		logger.WarnCF(
			"sandbox",
			"failed to stat conventions source directory",
			map[string]any{"dir": conventionsSrc, "error": err},
		)
	}

	return nil
}

// copyFile copies a single file from src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// copyDir recursively copies a directory tree, creating directories and copying files.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		targetPath := filepath.Join(dst, relPath)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(targetPath, info.Mode())
		}

		return copyFile(path, targetPath)
	})
}
