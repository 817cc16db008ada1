// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// projectContextFiles mirrors the convention files pkg/sandbox seeds into a
// session's sandbox workspace (see sandbox.syncAgentWorkspace), so editing
// AGENTS.md from inside a sandboxed tool call changes what the next turn's
// Prompt Builder sees.
var projectContextFiles = []string{
	"AGENTS.md",
	"PROJECT.md",
	"TOOLS.md",
	"SESSION.md",
}

// LoadProjectContext implements the "Project context" outbound capability
// of spec §6 (`load_context_files(dir)`, `to_prompt_section()`): it reads
// whichever convention files exist directly under dir, plus any file in
// dir/conventions, and folds them into a single string suitable for
// PromptContext.ProjectContext. A missing dir or missing individual files
// are not errors; only an unreadable existing file is.
func LoadProjectContext(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", nil
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	var sections []string

	for _, name := range projectContextFiles {
		section, err := readContextFile(filepath.Join(dir, name), name)
		if err != nil {
			return "", err
		}
		if section != "" {
			sections = append(sections, section)
		}
	}

	conventionsDir := filepath.Join(dir, "conventions")
	entries, err := os.ReadDir(conventionsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("reading conventions dir: %w", err)
		}
		entries = nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		section, err := readContextFile(filepath.Join(conventionsDir, name), filepath.Join("conventions", name))
		if err != nil {
			return "", err
		}
		if section != "" {
			sections = append(sections, section)
		}
	}

	return ToPromptSection(sections), nil
}

func readContextFile(path, label string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s: %w", label, err)
	}
	content := strings.TrimRight(string(raw), "\n")
	if content == "" {
		return "", nil
	}
	return fmt.Sprintf("### %s\n\n%s", label, content), nil
}

// ToPromptSection joins the per-file sections LoadProjectContext collects
// into the single block BuildSystemPrompt embeds under "## Project Context".
func ToPromptSection(sections []string) string {
	return strings.Join(sections, "\n\n")
}
