// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package sandbox

import (
	"context"
	"strings"
	"time"
)

// backendKind names the concrete execution driver a scoped sandbox is built
// on. "auto" resolves to a platform preference at provisioning time.
type backendKind string

const (
	backendAuto   backendKind = "auto"
	backendDocker backendKind = "docker"
	backendApple  backendKind = "apple"
	backendCgroup backendKind = "cgroup"
)

func normalizeBackend(raw string) backendKind {
	switch backendKind(strings.ToLower(strings.TrimSpace(raw))) {
	case backendDocker, backendApple, backendCgroup:
		return backendKind(strings.ToLower(strings.TrimSpace(raw)))
	default:
		return backendAuto
	}
}

// dockerDaemonReachable probes the Docker engine the manager's docker
// config points at, bounded so an absent daemon doesn't stall provisioning.
func dockerDaemonReachable(ctx context.Context, cfg ContainerSandboxConfig) bool {
	cli, err := newDockerClient(cfg)
	if err != nil {
		return false
	}
	defer cli.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = cli.Ping(pingCtx)
	return err == nil
}

// resolveBackend maps the configured backend to a concrete kind, applying
// the auto preference order: the Apple container CLI when its runtime
// responds, then the Docker engine, then systemd-run scopes.
func (m *scopedSandboxManager) resolveBackend(ctx context.Context) backendKind {
	kind := normalizeBackend(m.backend)
	if kind != backendAuto {
		return kind
	}
	if appleContainerRuntimeAvailable(ctx) {
		return backendApple
	}
	if dockerDaemonReachable(ctx, ContainerSandboxConfig{
		DockerHost:  m.dockerCfg.DockerHost,
		TLSCertPath: m.dockerCfg.TLSCertPath,
		TLSKeyPath:  m.dockerCfg.TLSKeyPath,
		TLSCAPath:   m.dockerCfg.TLSCAPath,
		TLSVerify:   m.dockerCfg.TLSVerify,
	}) {
		return backendDocker
	}
	if systemdRunAvailable(ctx) {
		return backendCgroup
	}
	return backendDocker
}
