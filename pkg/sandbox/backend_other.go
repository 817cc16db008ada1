// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

//go:build !darwin && !linux

package sandbox

import "context"

func appleContainerRuntimeAvailable(ctx context.Context) bool { return false }

func newAppleScopedSandbox(image, prefix, name, workspace string) (Sandbox, bool) {
	return nil, false
}

func systemdRunAvailable(ctx context.Context) bool { return false }

func newCgroupScopedSandbox(prefix, workspace, memoryMax string, cpuQuota float64, pidsMax int64) (Sandbox, bool) {
	return nil, false
}
