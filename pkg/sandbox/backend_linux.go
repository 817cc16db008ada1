// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

//go:build linux

package sandbox

import (
	"context"
	"os/exec"
)

func appleContainerRuntimeAvailable(ctx context.Context) bool { return false }

func newAppleScopedSandbox(image, prefix, name, workspace string) (Sandbox, bool) {
	return nil, false
}

func systemdRunAvailable(ctx context.Context) bool {
	return exec.CommandContext(ctx, "systemd-run", "--version").Run() == nil
}

func newCgroupScopedSandbox(prefix, workspace, memoryMax string, cpuQuota float64, pidsMax int64) (Sandbox, bool) {
	return NewCgroupSandbox(CgroupSandboxConfig{
		ScopePrefix: prefix,
		Workspace:   workspace,
		MemoryMax:   memoryMax,
		CPUQuota:    cpuQuota,
		PidsMax:     pidsMax,
	}), true
}
