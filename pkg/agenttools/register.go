// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package agenttools

import (
	"context"

	"github.com/loomgate/loomgate/pkg/agent"
	"github.com/loomgate/loomgate/pkg/config"
	"github.com/loomgate/loomgate/pkg/sandbox"
)

// RegisterDefault wires the built-in tool set into registry. Tools whose
// name is not in the config's sandbox allow-list (sandbox.IsToolSandboxEnabled)
// are forced onto a plain host sandbox for every call, regardless of which
// backend the session's Manager would otherwise resolve - this is the
// host-vs-container split §4.4's Sandbox Router description calls out as a
// per-tool, not just per-session, decision.
func RegisterDefault(registry *agent.ToolRegistry, cfg *config.Config, host sandbox.Sandbox) {
	tools := []agent.AgentTool{
		NewExecTool(cfg.MaxOutputBytes),
		NewReadFileTool(),
		NewWriteFileTool(),
		NewAppendFileTool(),
		NewEditFileTool(),
		NewListDirTool(),
		NewEchoTool(),
	}

	for _, t := range tools {
		if host != nil && !sandbox.IsToolSandboxEnabled(cfg, t.Name()) {
			t = &hostGatedTool{AgentTool: t, host: host}
		}
		registry.Register(t)
	}
}

// hostGatedTool forces its wrapped tool to run against host unconditionally,
// bypassing whatever sandbox.Manager the call's context would otherwise
// resolve to.
type hostGatedTool struct {
	agent.AgentTool
	host sandbox.Sandbox
}

func (t *hostGatedTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return t.AgentTool.Execute(sandbox.WithSandbox(ctx, t.host), args)
}
