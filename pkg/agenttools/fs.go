// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package agenttools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loomgate/loomgate/pkg/sandbox"
)

func fsFromContext(ctx context.Context, tool string) (sandbox.FsBridge, error) {
	sb := sandbox.FromContext(ctx)
	if sb == nil {
		return nil, fmt.Errorf("%s: no sandbox available for this session", tool)
	}
	fs := sb.Fs()
	if fs == nil {
		return nil, fmt.Errorf("%s: sandbox has no filesystem bridge", tool)
	}
	return fs, nil
}

func requiredStringArg(args map[string]any, key, tool string) (string, error) {
	v, _ := args[key].(string)
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%s: %q is required", tool, key)
	}
	return v, nil
}

// ReadFileTool reads a file from the sandbox-visible workspace.
type ReadFileTool struct{}

func NewReadFileTool() *ReadFileTool { return &ReadFileTool{} }

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a file from the workspace." }
func (t *ReadFileTool) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Workspace-relative path to read."},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	fs, err := fsFromContext(ctx, t.Name())
	if err != nil {
		return nil, err
	}
	path, err := requiredStringArg(args, "path", t.Name())
	if err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read_file: %w", err)
	}
	return map[string]any{"content": string(data)}, nil
}

// WriteFileTool writes (overwriting) a file in the sandbox-visible
// workspace.
type WriteFileTool struct{}

func NewWriteFileTool() *WriteFileTool { return &WriteFileTool{} }

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write a file in the workspace, creating or overwriting it." }
func (t *WriteFileTool) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Workspace-relative path to write."},
			"content": map[string]any{"type": "string", "description": "Full file content."},
			"mkdir_parents": map[string]any{
				"type":        "boolean",
				"description": "Create missing parent directories. Defaults to true.",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	fs, err := fsFromContext(ctx, t.Name())
	if err != nil {
		return nil, err
	}
	path, err := requiredStringArg(args, "path", t.Name())
	if err != nil {
		return nil, err
	}
	content, _ := args["content"].(string)
	mkdir := true
	if v, ok := args["mkdir_parents"].(bool); ok {
		mkdir = v
	}
	if err := fs.WriteFile(ctx, path, []byte(content), mkdir); err != nil {
		return nil, fmt.Errorf("write_file: %w", err)
	}
	return map[string]any{"bytes_written": len(content)}, nil
}

// AppendFileTool appends to an existing file, treating a missing file as
// empty.
type AppendFileTool struct{}

func NewAppendFileTool() *AppendFileTool { return &AppendFileTool{} }

func (t *AppendFileTool) Name() string        { return "append_file" }
func (t *AppendFileTool) Description() string { return "Append content to a file in the workspace, creating it if missing." }
func (t *AppendFileTool) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Workspace-relative path to append to."},
			"content": map[string]any{"type": "string", "description": "Content to append."},
		},
		"required": []string{"path", "content"},
	}
}

func (t *AppendFileTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	fs, err := fsFromContext(ctx, t.Name())
	if err != nil {
		return nil, err
	}
	path, err := requiredStringArg(args, "path", t.Name())
	if err != nil {
		return nil, err
	}
	content, _ := args["content"].(string)

	existing, readErr := fs.ReadFile(ctx, path)
	if readErr != nil {
		if errors.Is(readErr, sandbox.ErrOutsideWorkspace) {
			return nil, fmt.Errorf("append_file: %w", readErr)
		}
		existing = nil
	}

	merged := append(existing, []byte(content)...)
	if err := fs.WriteFile(ctx, path, merged, true); err != nil {
		return nil, fmt.Errorf("append_file: %w", err)
	}
	return map[string]any{"bytes_written": len(content), "total_bytes": len(merged)}, nil
}

// EditFileTool replaces an exact substring match within a file.
type EditFileTool struct{}

func NewEditFileTool() *EditFileTool { return &EditFileTool{} }

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Replace an exact text match in a file. Fails if old_string is not found, or is ambiguous unless replace_all is set."
}
func (t *EditFileTool) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":        map[string]any{"type": "string", "description": "Workspace-relative path to edit."},
			"old_string":  map[string]any{"type": "string", "description": "Exact text to replace."},
			"new_string":  map[string]any{"type": "string", "description": "Replacement text."},
			"replace_all": map[string]any{"type": "boolean", "description": "Replace every occurrence instead of requiring exactly one."},
		},
		"required": []string{"path", "old_string", "new_string"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	fs, err := fsFromContext(ctx, t.Name())
	if err != nil {
		return nil, err
	}
	path, err := requiredStringArg(args, "path", t.Name())
	if err != nil {
		return nil, err
	}
	oldString, _ := args["old_string"].(string)
	newString, _ := args["new_string"].(string)
	replaceAll, _ := args["replace_all"].(bool)
	if oldString == "" {
		return nil, fmt.Errorf("edit_file: old_string must not be empty")
	}

	data, err := fs.ReadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("edit_file: %w", err)
	}
	content := string(data)

	count := strings.Count(content, oldString)
	if count == 0 {
		return nil, fmt.Errorf("edit_file: old_string not found in %s", path)
	}
	if count > 1 && !replaceAll {
		return nil, fmt.Errorf("edit_file: old_string matches %d times in %s; set replace_all or disambiguate", count, path)
	}

	var replaced string
	if replaceAll {
		replaced = strings.ReplaceAll(content, oldString, newString)
	} else {
		replaced = strings.Replace(content, oldString, newString, 1)
	}

	if err := fs.WriteFile(ctx, path, []byte(replaced), false); err != nil {
		return nil, fmt.Errorf("edit_file: %w", err)
	}
	return map[string]any{"replacements": count}, nil
}

// ListDirTool lists a directory's immediate entries.
type ListDirTool struct{}

func NewListDirTool() *ListDirTool { return &ListDirTool{} }

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List the immediate entries of a workspace directory." }
func (t *ListDirTool) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Workspace-relative directory to list."},
		},
		"required": []string{"path"},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	fs, err := fsFromContext(ctx, t.Name())
	if err != nil {
		return nil, err
	}
	path, err := requiredStringArg(args, "path", t.Name())
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("list_dir: %w", err)
	}

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{"name": e.Name(), "is_dir": e.IsDir()})
	}
	return map[string]any{"entries": out}, nil
}
