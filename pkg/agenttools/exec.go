// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

// Package agenttools provides the built-in AgentTool implementations that
// back the Agent Loop's default tool set: process execution and workspace
// file I/O, both routed through whatever sandbox.Sandbox the call's
// context carries.
package agenttools

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomgate/loomgate/pkg/sandbox"
)

// maxExecTimeoutMs caps a model-requested exec timeout; commands default
// to 30 s when no timeout is given and may stretch to 30 min, never more.
const maxExecTimeoutMs = 1800 * 1000

// ExecTool runs a shell command against the resolved sandbox for the
// current session.
type ExecTool struct {
	// maxOutputBytes caps stdout/stderr for every call this tool issues,
	// sourced from config.Config.MaxOutputBytes; zero defers to the
	// sandbox package's own default.
	maxOutputBytes int
}

// NewExecTool builds an ExecTool whose calls cap stdout/stderr at
// maxOutputBytes.
func NewExecTool(maxOutputBytes int) *ExecTool {
	return &ExecTool{maxOutputBytes: maxOutputBytes}
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Execute a shell command in the sandboxed workspace and return its stdout, stderr, and exit code."
}

func (t *ExecTool) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The command to run. Executed through a shell when args is omitted.",
			},
			"args": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional argv items; when present, command runs directly (no shell).",
			},
			"working_dir": map[string]any{
				"type":        "string",
				"description": "Optional path, relative to the workspace, to run the command from.",
			},
			"timeout_ms": map[string]any{
				"type":        "integer",
				"description": "Optional timeout in milliseconds.",
			},
			"env": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
				"description":          "Optional environment variables layered on top of the sandbox's defaults for this call.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	sb := sandbox.FromContext(ctx)
	if sb == nil {
		return nil, fmt.Errorf("exec: no sandbox available for this session")
	}

	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("exec: command is required")
	}

	var argv []string
	if raw, ok := args["args"].([]any); ok {
		argv = make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				argv = append(argv, s)
			}
		}
	}

	workingDir, _ := args["working_dir"].(string)
	timeoutMs := toInt64(args["timeout_ms"])
	if timeoutMs > maxExecTimeoutMs {
		timeoutMs = maxExecTimeoutMs
	}
	if timeoutMs <= 0 {
		timeoutMs = 30 * 1000
	}

	var env map[string]string
	if raw, ok := args["env"].(map[string]any); ok {
		env = make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				env[k] = s
			}
		}
	}

	res, err := sb.Exec(ctx, sandbox.ExecRequest{
		Command:        command,
		Args:           argv,
		WorkingDir:     workingDir,
		TimeoutMs:      timeoutMs,
		Env:            env,
		MaxOutputBytes: t.maxOutputBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}

	return map[string]any{
		"stdout":    res.Stdout,
		"stderr":    res.Stderr,
		"exit_code": res.ExitCode,
	}, nil
}

// toInt64 coerces the numeric types a JSON-decoded arguments map can carry
// (float64 from encoding/json, or an int a Go caller set directly) into an
// int64, defaulting to 0 for anything else.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}
